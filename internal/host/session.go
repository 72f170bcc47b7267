package host

import (
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/protocol"
)

// ErrExited is returned when input is sent to a guest that already exited.
var ErrExited = errors.New("guest has exited")

// Listener receives every guest message in order.
type Listener func(protocol.Message)

// Session is the host's view of one guest: what it printed, how it ended,
// and the channel for its input.
type Session struct {
	id      string
	args    []string
	started time.Time
	conn    *protocol.Endpoint
	kill    func()
	record  func(direction string, m protocol.Message)

	mu        sync.Mutex
	log       []protocol.Message
	lastErr   *protocol.Error
	exitCode  int
	exited    bool
	runErr    error
	listeners map[int]Listener
	nextID    int
	done      chan struct{}
}

// Info summarizes a session for listings.
type Info struct {
	ID       string    `json:"id"`
	Args     []string  `json:"args"`
	Started  time.Time `json:"started"`
	Running  bool      `json:"running"`
	ExitCode *int      `json:"exit_code,omitempty"`
	Error    string    `json:"error,omitempty"`
}

func newSession(id string, args []string, conn *protocol.Endpoint, kill func(), record func(string, protocol.Message)) *Session {
	return &Session{
		id:        id,
		args:      slices.Clone(args),
		started:   time.Now(),
		conn:      conn,
		kill:      kill,
		record:    record,
		listeners: make(map[int]Listener),
		done:      make(chan struct{}),
	}
}

func (s *Session) ID() string {
	return s.id
}

// Stdin forwards input to the guest. Input after exit is refused.
func (s *Session) Stdin(msg protocol.Stdin) error {
	s.mu.Lock()
	exited := s.exited
	s.mu.Unlock()
	if exited {
		return ErrExited
	}
	s.record("in", msg)
	return s.conn.Send(msg)
}

// Subscribe replays everything received so far to l and then delivers new
// messages as they arrive. Listeners run on the session's pump goroutine
// and must not block.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.log {
		l(m)
	}
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// deliver records m and hands it to subscribers.
func (s *Session) deliver(m protocol.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch m := m.(type) {
	case protocol.Error:
		s.lastErr = &m
	case protocol.Exit:
		if s.exited {
			return
		}
		s.exited = true
		s.exitCode = m.Code
	case protocol.Write:
		// Write-backs are host bookkeeping, not client output.
		return
	}
	s.log = append(s.log, m)
	for _, id := range s.listenerIDs() {
		s.listeners[id](m)
	}
}

func (s *Session) listenerIDs() []int {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// finish marks the guest goroutine as returned.
func (s *Session) finish(err error) {
	s.mu.Lock()
	s.runErr = err
	s.mu.Unlock()
	close(s.done)
}

// Done is closed once the guest has stopped and all its output has been
// delivered.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Kill stops the guest abruptly. No exit message is produced.
func (s *Session) Kill() {
	s.kill()
}

// Err is the guest's run error, available after Done.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runErr
}

// ExitCode reports the code from the guest's exit message, if any.
func (s *Session) ExitCode() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.exitCode, s.exited
}

// LastError returns the most recent uncaught error the guest reported.
func (s *Session) LastError() (protocol.Error, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastErr == nil {
		return protocol.Error{}, false
	}
	return *s.lastErr, true
}

// Transcript returns stdout and stderr messages in arrival order.
func (s *Session) Transcript() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Message
	for _, m := range s.log {
		switch m.(type) {
		case protocol.Stdout, protocol.Stderr:
			out = append(out, m)
		}
	}
	return out
}

// Output concatenates the transcript per stream.
func (s *Session) Output() (stdout, stderr string) {
	var o, e strings.Builder
	for _, m := range s.Transcript() {
		switch m := m.(type) {
		case protocol.Stdout:
			o.WriteString(m.Text)
		case protocol.Stderr:
			e.WriteString(m.Text)
		}
	}
	return o.String(), e.String()
}

func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := Info{ID: s.id, Args: slices.Clone(s.args), Started: s.started}
	select {
	case <-s.done:
	default:
		info.Running = true
	}
	if s.exited {
		code := s.exitCode
		info.ExitCode = &code
	}
	if s.lastErr != nil {
		info.Error = s.lastErr.Value
	}
	return info
}
