package binding

import (
	"fmt"
	"maps"
	"slices"

	"github.com/GriffinCanCode/nodebox/internal/guest/loop"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
)

// Group identifies a binding's surface.
type Group uint8

const (
	GroupUnknown Group = iota
	GroupFS
	GroupTTY
	GroupTimer
	GroupCrypto
	GroupConstants
	GroupUV
	GroupNatives
	GroupContextify
	GroupStub
)

func (g Group) String() string {
	switch g {
	case GroupFS:
		return "fs"
	case GroupTTY:
		return "tty"
	case GroupTimer:
		return "timer"
	case GroupCrypto:
		return "crypto"
	case GroupConstants:
		return "constants"
	case GroupUV:
		return "uv"
	case GroupNatives:
		return "natives"
	case GroupContextify:
		return "contextify"
	case GroupStub:
		return "stub"
	default:
		return "unknown"
	}
}

var groups = map[string]Group{
	"fs":         GroupFS,
	"tty_wrap":   GroupTTY,
	"timer_wrap": GroupTimer,
	"crypto":     GroupCrypto,
	"constants":  GroupConstants,
	"uv":         GroupUV,
	"natives":    GroupNatives,
	"contextify": GroupContextify,
}

// Lookup resolves a binding name to its group.
func Lookup(name string) (Group, error) {
	if g, ok := groups[name]; ok {
		return g, nil
	}
	if _, ok := stubs[name]; ok {
		return GroupStub, nil
	}
	return GroupUnknown, fault.Message(fault.KindMissingBinding, fmt.Sprintf("missing binding '%s'", name))
}

// Names lists every binding name, sorted.
func Names() []string {
	names := slices.Collect(maps.Keys(groups))
	names = append(names, slices.Collect(maps.Keys(stubs))...)
	slices.Sort(names)
	return names
}

// Deps wires a registry to one guest.
type Deps struct {
	Store *vfs.Store
	Loop  *loop.Loop
	Out   protocol.Sender
	Start protocol.Start
	// Halt stops the calling guest for good once exit has been sent.
	Halt func()
}

// Registry holds one guest's binding services, built once at startup.
type Registry struct {
	Handles *Handles
	FS      *FS
	TTY     *TTY
	Timers  *Timers
	Crypto  *Crypto
	Process *Process

	natives map[string]string
}

func NewRegistry(d Deps) *Registry {
	handles := NewHandles()
	return &Registry{
		Handles: handles,
		FS:      NewFS(d.Store, handles),
		TTY:     NewTTY(handles, d.Out),
		Timers:  NewTimers(handles, d.Loop),
		Crypto:  NewCrypto(d.Loop),
		Process: NewProcess(d.Store, d.Out, d.Start, d.Halt),
		natives: map[string]string{},
	}
}

// SetNatives installs the bootstrap sources. The config pseudo-native is
// always added.
func (r *Registry) SetNatives(sources map[string]string) {
	r.natives = maps.Clone(sources)
	if r.natives == nil {
		r.natives = map[string]string{}
	}
	r.natives["config"] = ConfigSource()
}

// Natives returns the bootstrap sources by key.
func (r *Registry) Natives() map[string]string {
	return r.natives
}

// GuessHandleType names what kind of resource fd is.
func (r *Registry) GuessHandleType(fd int) string {
	if IsTTY(fd) {
		return "TTY"
	}
	if k, ok := r.Handles.Kind(Handle(fd)); ok && k == FileHandle {
		return "FILE"
	}
	return "UNKNOWN"
}
