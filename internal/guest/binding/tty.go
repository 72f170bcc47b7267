package binding

import (
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
)

// Terminal size reported to guests.
const (
	WindowCols = 80
	WindowRows = 24
)

// TTY binds handles to the standard streams. Output becomes protocol
// messages; an input handle receives every inbound stdin message for as long
// as it is open. A tty handle only keeps the guest alive while reading.
type TTY struct {
	handles *Handles
	out     protocol.Sender
}

func NewTTY(handles *Handles, out protocol.Sender) *TTY {
	return &TTY{handles: handles, out: out}
}

// Open creates a handle for stream. listener is only used for stream 0.
func (t *TTY) Open(stream int, listener func(protocol.Stdin)) Handle {
	h := t.handles.alloc(TTYHandle)
	st := &ttyState{stream: stream}
	if stream == 0 {
		st.listener = listener
	}
	t.handles.ttys[h] = st
	t.handles.setDormant(h, true)
	return h
}

func (t *TTY) Stream(h Handle) (int, error) {
	st, err := t.tty(h, "stream")
	if err != nil {
		return 0, err
	}
	return st.stream, nil
}

// Write sends text on the handle's stream: stderr for 2, stdout otherwise.
func (t *TTY) Write(h Handle, text string) error {
	st, err := t.tty(h, "write")
	if err != nil {
		return err
	}
	if st.stream == 2 {
		return t.out.Send(protocol.Stderr{Text: text})
	}
	return t.out.Send(protocol.Stdout{Text: text})
}

func (t *TTY) ReadStart(h Handle) error {
	st, err := t.tty(h, "read")
	if err != nil {
		return err
	}
	st.reading = true
	t.handles.setDormant(h, st.stream != 0)
	return nil
}

func (t *TTY) ReadStop(h Handle) error {
	st, err := t.tty(h, "read")
	if err != nil {
		return err
	}
	st.reading = false
	t.handles.setDormant(h, true)
	return nil
}

// Reading reports whether the guest asked for data on h.
func (t *TTY) Reading(h Handle) bool {
	st, ok := t.handles.ttys[h]
	return ok && st.reading
}

// Deliver forwards msg to every open input handle in creation order and
// returns how many received it.
func (t *TTY) Deliver(msg protocol.Stdin) int {
	n := 0
	for _, h := range t.inputs() {
		st := t.handles.ttys[h]
		if st == nil || st.listener == nil {
			continue
		}
		st.listener(msg)
		n++
	}
	return n
}

func (t *TTY) Close(h Handle) error {
	if _, err := t.tty(h, "close"); err != nil {
		return err
	}
	t.handles.release(h)
	return nil
}

func (t *TTY) inputs() []Handle {
	var out []Handle
	for h, st := range t.handles.ttys {
		if st.stream == 0 {
			out = append(out, h)
		}
	}
	sortHandles(out)
	return out
}

func (t *TTY) tty(h Handle, op string) (*ttyState, error) {
	st, ok := t.handles.ttys[h]
	if !ok {
		return nil, fault.New(fault.KindBadDescriptor, op, "")
	}
	return st, nil
}

// IsTTY reports whether fd is one of the standard streams.
func IsTTY(fd int) bool {
	return fd >= 0 && fd <= 2
}
