package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestJoin(t *testing.T) {
	tests := []struct {
		base, rel, want string
	}{
		{"/a/b", "c.js", "/a/b/c.js"},
		{"/a/b", "./c.js", "/a/b/c.js"},
		{"/a/b", "../c.js", "/a/c.js"},
		{"/a/b", "../../../c.js", "/c.js"},
		{"/a/b", "/abs/x", "/abs/x"},
		{"/", "..", "/"},
		{"/a/", "b/", "/a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.base+"+"+tt.rel, func(t *testing.T) {
			assert.Equal(t, tt.want, Join(tt.base, tt.rel))
		})
	}
}

func TestDirAndBase(t *testing.T) {
	assert.Equal(t, "/a/b", Dir("/a/b/c.js"))
	assert.Equal(t, "/", Dir("/c.js"))
	assert.Equal(t, "/", Dir("/"))
	assert.Equal(t, "c.js", Base("/a/b/c.js"))
	assert.Equal(t, []string{"/a/b", "/a", "/"}, ancestors("/a/b/c"))
}
