package binding

import (
	"slices"

	"github.com/GriffinCanCode/nodebox/internal/guest/loop"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
)

// Handle is an opaque reference into the handle arena. File handles double
// as descriptors, so numbering starts after the standard streams.
type Handle int32

const firstHandle Handle = 3

// HandleKind tags what a handle refers to.
type HandleKind uint8

const (
	FileHandle HandleKind = iota + 1
	TTYHandle
	TimerHandle
)

func (k HandleKind) String() string {
	switch k {
	case FileHandle:
		return "file"
	case TTYHandle:
		return "tty"
	case TimerHandle:
		return "timer"
	default:
		return "unknown"
	}
}

type fileState struct {
	path     string
	data     []byte
	pos      int
	dir      bool
	writable bool
	dirty    bool
}

type ttyState struct {
	stream   int
	reading  bool
	listener func(protocol.Stdin)
}

type timerState struct {
	id    loop.TimerID
	armed bool
	fire  loop.Task
}

// Handles is the per-guest arena of open resources. A handle is active while
// it is referenced and has something pending; the guest may exit once no
// handle is active.
type Handles struct {
	next    Handle
	kinds   map[Handle]HandleKind
	files   map[Handle]*fileState
	ttys    map[Handle]*ttyState
	timers  map[Handle]*timerState
	unref   map[Handle]bool
	dormant map[Handle]bool
	active  map[Handle]struct{}
}

func NewHandles() *Handles {
	return &Handles{
		next:    firstHandle,
		kinds:   make(map[Handle]HandleKind),
		files:   make(map[Handle]*fileState),
		ttys:    make(map[Handle]*ttyState),
		timers:  make(map[Handle]*timerState),
		unref:   make(map[Handle]bool),
		dormant: make(map[Handle]bool),
		active:  make(map[Handle]struct{}),
	}
}

func (hs *Handles) alloc(kind HandleKind) Handle {
	h := hs.next
	hs.next++
	hs.kinds[h] = kind
	hs.update(h)
	return h
}

func (hs *Handles) release(h Handle) {
	delete(hs.kinds, h)
	delete(hs.files, h)
	delete(hs.ttys, h)
	delete(hs.timers, h)
	delete(hs.unref, h)
	delete(hs.dormant, h)
	delete(hs.active, h)
}

func (hs *Handles) setDormant(h Handle, dormant bool) {
	if dormant {
		hs.dormant[h] = true
	} else {
		delete(hs.dormant, h)
	}
	hs.update(h)
}

func (hs *Handles) update(h Handle) {
	if _, ok := hs.kinds[h]; ok && !hs.unref[h] && !hs.dormant[h] {
		hs.active[h] = struct{}{}
		return
	}
	delete(hs.active, h)
}

// Kind reports what h refers to.
func (hs *Handles) Kind(h Handle) (HandleKind, bool) {
	k, ok := hs.kinds[h]
	return k, ok
}

// Ref makes h keep the guest alive again.
func (hs *Handles) Ref(h Handle) error {
	if _, ok := hs.kinds[h]; !ok {
		return fault.New(fault.KindBadDescriptor, "ref", "")
	}
	delete(hs.unref, h)
	hs.update(h)
	return nil
}

// Unref stops h from keeping the guest alive.
func (hs *Handles) Unref(h Handle) error {
	if _, ok := hs.kinds[h]; !ok {
		return fault.New(fault.KindBadDescriptor, "unref", "")
	}
	hs.unref[h] = true
	hs.update(h)
	return nil
}

// HasRef reports whether h is referenced.
func (hs *Handles) HasRef(h Handle) bool {
	_, ok := hs.kinds[h]
	return ok && !hs.unref[h]
}

// Active lists active handles in ascending order.
func (hs *Handles) Active() []Handle {
	out := make([]Handle, 0, len(hs.active))
	for h := range hs.active {
		out = append(out, h)
	}
	sortHandles(out)
	return out
}

func sortHandles(hs []Handle) {
	slices.Sort(hs)
}

// Idle reports whether no handle is active.
func (hs *Handles) Idle() bool {
	return len(hs.active) == 0
}

// Len returns the number of open handles, active or not.
func (hs *Handles) Len() int {
	return len(hs.kinds)
}
