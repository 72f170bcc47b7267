package module

import (
	"strconv"
	"strings"
)

// InternalPrefix marks source names the engine assigns to code it compiled
// itself. Frames in such sources are hidden unless a Source maps them.
const InternalPrefix = "vm:"

// Frame is one structured stack frame as reported by the engine.
type Frame struct {
	Func   string
	File   string
	Line   int
	Column int
}

// Native reports whether the frame belongs to host code.
func (f Frame) Native() bool {
	return f.File == ""
}

func (f Frame) String() string {
	if f.Native() {
		if f.Func == "" {
			return "native"
		}
		return f.Func + " (native)"
	}
	loc := f.File + ":" + strconv.Itoa(f.Line) + ":" + strconv.Itoa(f.Column)
	if f.Func == "" || f.Func == "<anonymous>" {
		return loc
	}
	return f.Func + " (" + loc + ")"
}

// Source records how an engine source name maps back to a module file. It
// is captured when the module is registered, before its body runs.
type Source struct {
	Path   string
	Offset int // lines injected before the module body
	Lines  int // lines in the module body
}

// SourceMap indexes Sources by engine source name.
type SourceMap map[string]Source

// Sanitize rewrites frames in terms of module files: mapped frames get the
// module path and a body-relative line, frames that fall inside the injected
// wrapper are dropped, and so are unmapped engine-internal frames and native
// frames of Go functions. Frames that are already sanitized pass through
// unchanged.
func Sanitize(frames []Frame, sources SourceMap) []Frame {
	out := make([]Frame, 0, len(frames))
	for _, f := range frames {
		if f.Native() {
			if f.Func != "" && f.Func != "<native>" && !goSymbol(f.Func) {
				out = append(out, f)
			}
			continue
		}

		src, ok := sources[f.File]
		if !ok {
			if !strings.HasPrefix(f.File, InternalPrefix) {
				out = append(out, f)
			}
			continue
		}

		line := f.Line - src.Offset
		if line < 1 || (src.Lines > 0 && line > src.Lines) {
			continue
		}
		f.File = src.Path
		f.Line = line
		out = append(out, f)
	}
	return out
}

// goSymbol reports whether name is a Go function name as the engine reports
// it for host closures, e.g. "example.com/pkg.(*T).M.func1".
func goSymbol(name string) bool {
	return strings.Contains(name, "/") || strings.Contains(name, "(*") || strings.Contains(name, ".func")
}

// FormatStack renders message and frames the way guest code expects to see
// an Error's stack property.
func FormatStack(message string, frames []Frame) string {
	var b strings.Builder
	b.WriteString(message)
	for _, f := range frames {
		b.WriteString("\n    at ")
		b.WriteString(f.String())
	}
	return b.String()
}

// GuestError is a failure raised by guest code. Value is the engine's thrown
// value and is opaque to this package.
type GuestError struct {
	Message string
	Value   any
	Frames  []Frame

	sanitized bool
}

func (e *GuestError) Error() string {
	return e.Message
}

// Stack returns the stack text for the error.
func (e *GuestError) Stack() string {
	return FormatStack(e.Message, e.Frames)
}

// Sanitize applies Sanitize to the error's frames once.
func (e *GuestError) Sanitize(sources SourceMap) {
	if e.sanitized {
		return
	}
	e.Frames = Sanitize(e.Frames, sources)
	e.sanitized = true
}

func countLines(source string) int {
	if source == "" {
		return 1
	}
	return strings.Count(source, "\n") + 1
}
