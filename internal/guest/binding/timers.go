package binding

import (
	"time"

	"github.com/GriffinCanCode/nodebox/internal/guest/loop"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
)

// Timers wraps repeating scheduler timers in handles. A timer handle is only
// active while armed.
type Timers struct {
	handles *Handles
	loop    *loop.Loop
}

func NewTimers(handles *Handles, l *loop.Loop) *Timers {
	return &Timers{handles: handles, loop: l}
}

// New creates a disarmed timer that runs fire on every expiry.
func (t *Timers) New(fire loop.Task) Handle {
	h := t.handles.alloc(TimerHandle)
	t.handles.timers[h] = &timerState{fire: fire}
	t.handles.setDormant(h, true)
	return h
}

// Start arms h to fire every delayMs. Starting an armed timer does nothing.
func (t *Timers) Start(h Handle, delayMs int64) error {
	st, err := t.timer(h, "start")
	if err != nil {
		return err
	}
	if st.armed {
		return nil
	}
	st.id = t.loop.Arm(time.Duration(delayMs)*time.Millisecond, true, st.fire)
	st.armed = true
	t.handles.setDormant(h, false)
	return nil
}

func (t *Timers) Stop(h Handle) error {
	st, err := t.timer(h, "stop")
	if err != nil {
		return err
	}
	if st.armed {
		t.loop.Disarm(st.id)
		st.armed = false
	}
	t.handles.setDormant(h, true)
	return nil
}

func (t *Timers) Close(h Handle) error {
	if err := t.Stop(h); err != nil {
		return err
	}
	t.handles.release(h)
	return nil
}

func (t *Timers) Armed(h Handle) bool {
	st, ok := t.handles.timers[h]
	return ok && st.armed
}

// Now is the monotonic time in milliseconds since the guest started.
func (t *Timers) Now() float64 {
	return t.loop.Now()
}

func (t *Timers) timer(h Handle, op string) (*timerState, error) {
	st, ok := t.handles.timers[h]
	if !ok {
		return nil, fault.New(fault.KindBadDescriptor, op, "")
	}
	return st, nil
}
