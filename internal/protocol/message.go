package protocol

import (
	"github.com/GriffinCanCode/nodebox/internal/vfs"
)

// Type tags a message.
type Type string

const (
	TypeStart  Type = "start"
	TypeStdin  Type = "stdin"
	TypeStdout Type = "stdout"
	TypeStderr Type = "stderr"
	TypeError  Type = "error"
	TypeWrite  Type = "write"
	TypeExit   Type = "exit"
)

// Message is any protocol message.
type Message interface {
	Type() Type
}

// Env is the environment handed to a guest at start.
type Env struct {
	FS   vfs.Snapshot      `json:"fs"`
	Cwd  string            `json:"cwd"`
	Vars map[string]string `json:"vars,omitempty"`
}

// Start boots a guest.
type Start struct {
	Args []string `json:"args"`
	Env  Env      `json:"env"`
}

// Key decorates a single keypress.
type Key struct {
	Name  string `json:"name"`
	Ctrl  bool   `json:"ctrl"`
	Shift bool   `json:"shift"`
	Meta  bool   `json:"meta"`
	Alt   bool   `json:"alt"`
}

// Stdin carries pasted input, or one keypress when Key is set.
type Stdin struct {
	Data string `json:"data"`
	Key  *Key   `json:"key,omitempty"`
}

type Stdout struct {
	Text string `json:"text"`
}

type Stderr struct {
	Text string `json:"text"`
}

// Error reports an uncaught guest failure.
type Error struct {
	Value string `json:"value"`
	Stack string `json:"stack,omitempty"`
}

// Write mirrors one VFS change. A nil Content means confirmed absent.
type Write struct {
	Path    string     `json:"path"`
	Content *vfs.Entry `json:"content"`
}

type Exit struct {
	Code int `json:"code"`
}

func (Start) Type() Type  { return TypeStart }
func (Stdin) Type() Type  { return TypeStdin }
func (Stdout) Type() Type { return TypeStdout }
func (Stderr) Type() Type { return TypeStderr }
func (Error) Type() Type  { return TypeError }
func (Write) Type() Type  { return TypeWrite }
func (Exit) Type() Type   { return TypeExit }

// NewWrite builds the write-back message for an entry.
func NewWrite(p string, e vfs.Entry) Write {
	if e.Kind == vfs.Missing {
		return Write{Path: p}
	}
	return Write{Path: p, Content: &e}
}

// Entry returns the VFS entry the message describes.
func (w Write) Entry() vfs.Entry {
	if w.Content == nil {
		return vfs.MissingEntry()
	}
	return *w.Content
}
