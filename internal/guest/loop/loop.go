// Package loop is the guest's cooperative scheduler. Everything a guest
// does runs on the goroutine that called Run; callbacks scheduled during a
// tick never run before the next one.
package loop

import (
	"container/heap"
	"context"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/protocol"
)

// Task is a unit of guest work. A returned error is reported through
// OnError and does not stop the loop.
type Task func() error

// TimerID names an armed timer.
type TimerID uint64

// Hooks connect the loop to the rest of the guest.
type Hooks struct {
	// Idle reports whether nothing keeps the guest alive.
	Idle func() bool
	// OnIdle is called when the loop is about to tick with an empty
	// immediate queue and Idle returns true.
	OnIdle func()
	// OnMessage receives inbound messages in arrival order.
	OnMessage func(protocol.Message) error
	// OnError receives errors returned by tasks.
	OnError func(error)
}

type timer struct {
	id       TimerID
	due      time.Time
	interval time.Duration
	repeat   bool
	task     Task
	index    int
}

type timerHeap []*timer

func (h timerHeap) Len() int { return len(h) }
func (h timerHeap) Less(i, j int) bool {
	if h[i].due.Equal(h[j].due) {
		return h[i].id < h[j].id
	}
	return h[i].due.Before(h[j].due)
}
func (h timerHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *timerHeap) Push(x any) {
	t := x.(*timer)
	t.index = len(*h)
	*h = append(*h, t)
}
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*h = old[:n-1]
	return t
}

// Loop schedules immediates, timers and inbound messages.
type Loop struct {
	start      time.Time
	hooks      Hooks
	inbox      *protocol.Mailbox
	immediates []Task
	timers     timerHeap
	byID       map[TimerID]*timer
	nextID     TimerID
	ticks      uint64
	stopped    bool
	now        func() time.Time
}

// New creates a loop. inbox may be nil.
func New(inbox *protocol.Mailbox, hooks Hooks) *Loop {
	l := &Loop{
		hooks: hooks,
		inbox: inbox,
		byID:  make(map[TimerID]*timer),
		now:   time.Now,
	}
	l.start = l.now()
	return l
}

// Now returns milliseconds elapsed since the loop was created.
func (l *Loop) Now() float64 {
	return float64(l.now().Sub(l.start).Microseconds()) / 1000
}

// Ticks returns how many ticks have completed.
func (l *Loop) Ticks() uint64 {
	return l.ticks
}

// Enqueue schedules task for the next tick.
func (l *Loop) Enqueue(task Task) {
	l.immediates = append(l.immediates, task)
}

// Pending reports how many immediates are queued.
func (l *Loop) Pending() int {
	return len(l.immediates)
}

// Arm schedules task after delay, repeating every delay when repeat is set.
func (l *Loop) Arm(delay time.Duration, repeat bool, task Task) TimerID {
	if delay < 0 {
		delay = 0
	}
	l.nextID++
	t := &timer{
		id:       l.nextID,
		due:      l.now().Add(delay),
		interval: delay,
		repeat:   repeat,
		task:     task,
	}
	heap.Push(&l.timers, t)
	l.byID[t.id] = t
	return t.id
}

// Disarm cancels a timer. Unknown ids are ignored.
func (l *Loop) Disarm(id TimerID) {
	t, ok := l.byID[id]
	if !ok {
		return
	}
	delete(l.byID, id)
	if t.index >= 0 {
		heap.Remove(&l.timers, t.index)
	}
}

// Armed reports whether id is still scheduled.
func (l *Loop) Armed(id TimerID) bool {
	_, ok := l.byID[id]
	return ok
}

// Stop makes Run return after the current task.
func (l *Loop) Stop() {
	l.stopped = true
}

func (l *Loop) Stopped() bool {
	return l.stopped
}

// Run ticks until Stop is called or ctx is done.
func (l *Loop) Run(ctx context.Context) error {
	wait := time.NewTimer(time.Hour)
	defer wait.Stop()

	for {
		if l.stopped {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		idle := len(l.immediates) == 0 && l.idle()
		if idle {
			l.hooks.OnIdle()
			if l.stopped {
				return nil
			}
		}

		l.tick()
		l.ticks++
		if l.stopped {
			return nil
		}

		if len(l.immediates) > 0 || l.inboxPending() || (!idle && l.idle()) {
			continue
		}

		var timerC <-chan time.Time
		if len(l.timers) > 0 {
			wait.Reset(max(l.timers[0].due.Sub(l.now()), 0))
			timerC = wait.C
		}
		var ready <-chan struct{}
		if l.inbox != nil {
			ready = l.inbox.Ready()
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timerC:
		case <-ready:
		}
		if !wait.Stop() {
			select {
			case <-wait.C:
			default:
			}
		}
	}
}

func (l *Loop) tick() {
	l.runTimers()

	batch := l.immediates
	l.immediates = nil
	for _, task := range batch {
		if l.stopped {
			return
		}
		l.report(task())
	}

	if l.inbox == nil || l.hooks.OnMessage == nil {
		return
	}
	for !l.stopped {
		m, ok := l.inbox.TryNext()
		if !ok {
			return
		}
		l.report(l.hooks.OnMessage(m))
	}
}

func (l *Loop) runTimers() {
	now := l.now()
	var due []*timer
	for len(l.timers) > 0 && !l.timers[0].due.After(now) {
		t := heap.Pop(&l.timers).(*timer)
		due = append(due, t)
	}

	for _, t := range due {
		if l.stopped {
			return
		}
		if _, live := l.byID[t.id]; !live {
			continue
		}
		if t.repeat {
			t.due = now.Add(max(t.interval, time.Millisecond))
			heap.Push(&l.timers, t)
		} else {
			delete(l.byID, t.id)
		}
		l.report(t.task())
	}
}

func (l *Loop) idle() bool {
	return l.hooks.Idle != nil && l.hooks.OnIdle != nil && l.hooks.Idle()
}

func (l *Loop) inboxPending() bool {
	return l.inbox != nil && l.inbox.Len() > 0
}

func (l *Loop) report(err error) {
	if err != nil && l.hooks.OnError != nil {
		l.hooks.OnError(err)
	}
}
