package binding

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
)

// Identity the guest runtime reports about itself.
const (
	Pid         = 42
	ExecPath    = "/prefix/bin/node"
	Version     = "v8.0.0"
	Platform    = "linux"
	Arch        = "x64"
	ReleaseName = "node-box"
)

// Versions is the component version table.
var Versions = map[string]string{
	"http_parser": "2.7.0",
	"node":        "8.0.0",
	"v8":          "5.8.283.41",
	"uv":          "1.11.0",
	"zlib":        "1.2.11",
	"ares":        "1.10.1-DEV",
	"modules":     "57",
	"openssl":     "1.0.2k",
	"icu":         "59.1",
	"unicode":     "9.0",
	"cldr":        "31.0.1",
	"tz":          "2017b",
}

// Process holds the lifecycle state of one guest: its working directory,
// arguments, environment and termination.
type Process struct {
	store  *vfs.Store
	out    protocol.Sender
	halt   func()
	cwd    string
	args   []string
	env    map[string]string
	start  time.Time
	exited bool
	code   int
}

// NewProcess seeds a process from a start message. halt is called after the
// exit message is sent and must not return.
func NewProcess(store *vfs.Store, out protocol.Sender, start protocol.Start, halt func()) *Process {
	cwd := start.Env.Cwd
	if cwd == "" {
		cwd = "/"
	}
	return &Process{
		store: store,
		out:   out,
		halt:  halt,
		cwd:   vfs.Clean(cwd),
		args:  slices.Clone(start.Args),
		env:   maps.Clone(start.Env.Vars),
		start: time.Now(),
	}
}

func (p *Process) Cwd() string {
	return p.cwd
}

// Chdir moves to dir joined against the current directory.
func (p *Process) Chdir(ctx context.Context, dir string) error {
	next := vfs.Join(p.cwd, dir)
	if !p.store.ExistsDir(ctx, next) {
		return fault.New(fault.KindNotFound, "chdir", next)
	}
	p.cwd = next
	return nil
}

// Argv is the executable path followed by the start arguments.
func (p *Process) Argv() []string {
	return append([]string{ExecPath}, p.args...)
}

// Args returns the start arguments.
func (p *Process) Args() []string {
	return slices.Clone(p.args)
}

func (p *Process) Env() map[string]string {
	env := maps.Clone(p.env)
	if env == nil {
		env = map[string]string{}
	}
	return env
}

// Hrtime returns seconds and nanoseconds on a monotonic clock.
func (p *Process) Hrtime() (sec, nsec int64) {
	d := time.Since(p.start)
	return int64(d / time.Second), int64(d % time.Second)
}

// Uptime is the process age in seconds.
func (p *Process) Uptime() float64 {
	return time.Since(p.start).Seconds()
}

// Exit sends exit{code} once and halts the caller.
func (p *Process) Exit(code int) {
	p.Terminate(code)
	p.halt()
}

// Terminate records the exit code and sends the exit message once without
// unwinding the guest.
func (p *Process) Terminate(code int) {
	if p.exited {
		return
	}
	p.exited = true
	p.code = code
	_ = p.out.Send(protocol.Exit{Code: code})
}

// Exited reports whether Exit has been called and with which code.
func (p *Process) Exited() (int, bool) {
	return p.code, p.exited
}
