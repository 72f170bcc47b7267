package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitize(t *testing.T) {
	sources := SourceMap{
		"vm:module/0": {Path: "/app/main.js", Offset: 1, Lines: 10},
		"vm:module/1": {Path: "/app/lib.js", Offset: 1, Lines: 2},
	}

	tests := []struct {
		name   string
		frames []Frame
		want   []Frame
	}{
		{
			name:   "remaps module frame",
			frames: []Frame{{Func: "run", File: "vm:module/0", Line: 4, Column: 7}},
			want:   []Frame{{Func: "run", File: "/app/main.js", Line: 3, Column: 7}},
		},
		{
			name: "drops wrapper lines",
			frames: []Frame{
				{File: "vm:module/1", Line: 1, Column: 2},
				{File: "vm:module/1", Line: 4, Column: 2},
				{File: "vm:module/1", Line: 3, Column: 2},
			},
			want: []Frame{{File: "/app/lib.js", Line: 2, Column: 2}},
		},
		{
			name:   "drops unmapped internal frames",
			frames: []Frame{{Func: "boot", File: "vm:bootstrap", Line: 9}},
			want:   []Frame{},
		},
		{
			name:   "keeps already sanitized frames",
			frames: []Frame{{Func: "x", File: "/app/main.js", Line: 3, Column: 1}},
			want:   []Frame{{Func: "x", File: "/app/main.js", Line: 3, Column: 1}},
		},
		{
			name:   "keeps named native frames",
			frames: []Frame{{Func: "require"}, {Func: "<native>"}, {}},
			want:   []Frame{{Func: "require"}},
		},
		{
			name: "drops Go host frames",
			frames: []Frame{
				{Func: "github.com/GriffinCanCode/nodebox/internal/guest/engine.(*Runtime).RequireFunc.func1"},
				{Func: "main.(*loader).load"},
				{Func: "engine.install.func3"},
				{Func: "JSON.parse"},
			},
			want: []Frame{{Func: "JSON.parse"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Sanitize(tt.frames, sources))
		})
	}
}

func TestFormatStack(t *testing.T) {
	frames := []Frame{
		{Func: "f", File: "/a.js", Line: 1, Column: 2},
		{File: "/b.js", Line: 3, Column: 4},
		{Func: "<anonymous>", File: "/c.js", Line: 5, Column: 6},
		{Func: "require"},
	}

	want := "Error: x\n" +
		"    at f (/a.js:1:2)\n" +
		"    at /b.js:3:4\n" +
		"    at /c.js:5:6\n" +
		"    at require (native)"
	assert.Equal(t, want, FormatStack("Error: x", frames))
	assert.Equal(t, "Error: x", FormatStack("Error: x", nil))
}

func TestGuestErrorSanitizesOnce(t *testing.T) {
	ge := &GuestError{Message: "Error: y", Frames: []Frame{{File: "vm:module/0", Line: 2, Column: 1}}}
	sources := SourceMap{"vm:module/0": {Path: "/m.js", Offset: 1, Lines: 5}}

	ge.Sanitize(sources)
	ge.Sanitize(SourceMap{"/m.js": {Path: "/other.js", Offset: 1}})

	assert.Equal(t, "Error: y\n    at /m.js:1:1", ge.Stack())
	assert.Equal(t, "Error: y", ge.Error())
}
