package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsMatchesByKind(t *testing.T) {
	err := New(KindNotFound, "open", "/a/b")

	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrNotADirectory))

	wrapped := fmt.Errorf("loading: %w", err)
	assert.True(t, errors.Is(wrapped, ErrNotFound))
	assert.Equal(t, KindNotFound, KindOf(wrapped))
}

func TestErrorText(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"enoent", New(KindNotFound, "open", "/x"), "ENOENT: no such file or directory, open '/x'"},
		{"enotdir", New(KindNotADirectory, "scandir", "/f"), "ENOTDIR: not a directory, scandir '/f'"},
		{"message", Message(KindMissingBinding, "missing binding 'foo'"), "missing binding 'foo'"},
		{"cause", Wrap(KindEvaluation, "", "", errors.New("boom")), "evaluation failed: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestCodeAndErrno(t *testing.T) {
	tests := []struct {
		kind  Kind
		code  string
		errno int
	}{
		{KindNotFound, "ENOENT", -4058},
		{KindAlreadyExists, "EEXIST", -4075},
		{KindNotADirectory, "ENOTDIR", -4052},
		{KindIsDirectory, "EISDIR", -4068},
		{KindNotImplemented, "ENOSYS", -4054},
		{KindBadDescriptor, "EBADF", -4083},
		{KindProtocol, "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			err := New(tt.kind, "op", "/p")
			assert.Equal(t, tt.code, Code(err))
			assert.Equal(t, tt.errno, Errno(err))
		})
	}

	assert.Equal(t, "", Code(errors.New("plain")))
}
