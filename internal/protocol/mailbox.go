package protocol

import (
	"context"
	"errors"
	"io"
	"sync"
)

// ErrClosed is returned when posting to a closed mailbox.
var ErrClosed = errors.New("mailbox closed")

// Mailbox is an unbounded FIFO with a readiness signal, so a single-threaded
// consumer can select on it alongside timers.
type Mailbox struct {
	mu     sync.Mutex
	queue  []Message
	ready  chan struct{}
	closed bool
}

func NewMailbox() *Mailbox {
	return &Mailbox{ready: make(chan struct{}, 1)}
}

// Post appends m. It never blocks.
func (b *Mailbox) Post(m Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrClosed
	}
	b.queue = append(b.queue, m)
	b.signal()
	return nil
}

// TryNext pops the oldest message if there is one.
func (b *Mailbox) TryNext() (Message, bool) {
	m, ok, _ := b.pop()
	return m, ok
}

func (b *Mailbox) pop() (Message, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queue) == 0 {
		return nil, false, b.closed
	}
	m := b.queue[0]
	b.queue[0] = nil
	b.queue = b.queue[1:]
	if len(b.queue) > 0 || b.closed {
		b.signal()
	}
	return m, true, b.closed
}

// Next blocks for the oldest message. It returns io.EOF once the mailbox is
// closed and drained.
func (b *Mailbox) Next(ctx context.Context) (Message, error) {
	for {
		m, ok, closed := b.pop()
		if ok {
			return m, nil
		}
		if closed {
			return nil, io.EOF
		}
		select {
		case <-b.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Ready fires whenever a message may be available.
func (b *Mailbox) Ready() <-chan struct{} {
	return b.ready
}

// Close stops further posts. Queued messages remain readable.
func (b *Mailbox) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.signal()
}

func (b *Mailbox) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

func (b *Mailbox) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

func (b *Mailbox) signal() {
	select {
	case b.ready <- struct{}{}:
	default:
	}
}

// Sender is the write half of a channel.
type Sender interface {
	Send(m Message) error
}

// Endpoint is one side of a Pipe.
type Endpoint struct {
	inbox  *Mailbox
	outbox *Mailbox
}

// Pipe connects two endpoints: what one sends the other receives, in order.
func Pipe() (host, guest *Endpoint) {
	toGuest, toHost := NewMailbox(), NewMailbox()
	return &Endpoint{inbox: toHost, outbox: toGuest}, &Endpoint{inbox: toGuest, outbox: toHost}
}

func (e *Endpoint) Send(m Message) error {
	return e.outbox.Post(m)
}

func (e *Endpoint) Recv(ctx context.Context) (Message, error) {
	return e.inbox.Next(ctx)
}

// Inbox exposes the receive queue for select-based consumers.
func (e *Endpoint) Inbox() *Mailbox {
	return e.inbox
}

// Close ends this side's outgoing stream; the peer drains then sees io.EOF.
func (e *Endpoint) Close() {
	e.outbox.Close()
}
