// Package guest runs one sandboxed program. A guest waits for start, builds
// its bindings over a private copy of the VFS and drives its event loop
// until the program exits or the context ends.
package guest

import (
	"context"
	"errors"
	"fmt"

	"github.com/GriffinCanCode/nodebox/internal/guest/binding"
	"github.com/GriffinCanCode/nodebox/internal/guest/engine"
	"github.com/GriffinCanCode/nodebox/internal/guest/loop"
	"github.com/GriffinCanCode/nodebox/internal/guest/module"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/config"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Config selects how a guest boots and what its VFS may fetch.
type Config struct {
	Mode       string
	NativesDir string
	MaxStack   int
	Allow      []string
	Offline    bool
}

// ConfigFrom derives a guest config from application settings.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Mode:       cfg.Guest.Mode,
		NativesDir: cfg.Guest.NativesDir,
		MaxStack:   cfg.Guest.MaxStack,
		Allow:      cfg.Remote.Allow,
		Offline:    cfg.Remote.NoNetwork,
	}
}

// Recorder receives guest-side counters.
type Recorder interface {
	vfs.Recorder
	module.Recorder
}

// Guest is one program run. It is not reusable.
type Guest struct {
	id       string
	config   Config
	fetcher  vfs.Fetcher
	recorder Recorder
	logger   *logging.Logger
}

// Option configures a Guest.
type Option func(*Guest)

func WithFetcher(f vfs.Fetcher) Option {
	return func(g *Guest) { g.fetcher = f }
}

func WithRecorder(r Recorder) Option {
	return func(g *Guest) { g.recorder = r }
}

func WithLogger(l *logging.Logger) Option {
	return func(g *Guest) { g.logger = l }
}

func New(id string, cfg Config, opts ...Option) *Guest {
	g := &Guest{id: id, config: cfg, logger: logging.Nop()}
	for _, opt := range opts {
		opt(g)
	}
	if g.config.NativesDir == "" {
		g.config.NativesDir = "/node"
	}
	if g.config.Mode == "" {
		g.config.Mode = config.ModeDirect
	}
	return g
}

func (g *Guest) ID() string {
	return g.id
}

// halted unwinds the guest goroutine once exit has been sent.
type halted struct{}

// Run serves one guest lifetime over conn. It returns nil after the guest
// sent exit, the context error when ctx ends first, and an error when the
// first message is not start or the runtime fails to boot. The outgoing
// side of conn is closed on return.
func (g *Guest) Run(ctx context.Context, conn *protocol.Endpoint) error {
	defer conn.Close()

	msg, err := conn.Recv(ctx)
	if err != nil {
		return fmt.Errorf("await start: %w", err)
	}
	start, ok := msg.(protocol.Start)
	if !ok {
		return fault.Message(fault.KindProtocol, fmt.Sprintf("first message must be start, got %s", msg.Type()))
	}

	in, err := g.newInstance(ctx, conn, start)
	if err != nil {
		return err
	}
	stop := in.rt.Watch(ctx)
	defer stop()

	g.logger.Info("guest started",
		zap.String("mode", g.config.Mode),
		zap.Strings("args", start.Args),
		zap.String("cwd", in.reg.Process.Cwd()))
	return in.run()
}

// instance is the state of a running guest. Everything in it belongs to the
// goroutine that called Run.
type instance struct {
	ctx    context.Context
	config Config
	out    protocol.Sender
	logger *logging.Logger

	store  *vfs.Store
	rt     *engine.Runtime
	loop   *loop.Loop
	loader *module.Loader
	reg    *binding.Registry

	bindings      map[string]*goja.Object
	stdio         map[int]binding.Handle
	process       *goja.Object
	tickCallback  goja.Value
	bufferCtor    goja.Value
	immediates    map[int64]bool
	nextImmediate int64
	exiting       bool
	failure       error
}

func (g *Guest) newInstance(ctx context.Context, conn *protocol.Endpoint, start protocol.Start) (*instance, error) {
	in := &instance{
		ctx:        ctx,
		config:     g.config,
		out:        conn,
		logger:     g.logger,
		bindings:   make(map[string]*goja.Object),
		stdio:      make(map[int]binding.Handle),
		immediates: make(map[int64]bool),
	}

	opts := []vfs.Option{
		vfs.WithObserver(in.writeBack),
		vfs.WithAllow(g.config.Allow),
		vfs.WithOffline(g.config.Offline),
		vfs.WithLogger(g.logger),
	}
	if g.fetcher != nil {
		opts = append(opts, vfs.WithFetcher(g.fetcher))
	}
	if g.recorder != nil {
		opts = append(opts, vfs.WithRecorder(g.recorder))
	}
	in.store = vfs.New(start.Env.FS, opts...)

	rt, err := engine.New(engine.Config{MaxCallStackSize: g.config.MaxStack})
	if err != nil {
		return nil, fmt.Errorf("create engine: %w", err)
	}
	in.rt = rt

	in.loop = loop.New(conn.Inbox(), loop.Hooks{
		Idle:      func() bool { return in.reg.Handles.Idle() },
		OnIdle:    func() { in.exit(in.exitCode()) },
		OnMessage: in.onMessage,
		OnError:   in.report,
	})
	in.reg = binding.NewRegistry(binding.Deps{
		Store: in.store,
		Loop:  in.loop,
		Out:   conn,
		Start: start,
		Halt:  func() { panic(halted{}) },
	})

	lopts := []module.LoaderOption{module.WithLogger(g.logger)}
	if g.recorder != nil {
		lopts = append(lopts, module.WithRecorder(g.recorder))
	}
	in.loader = module.NewLoader(in.store, rt, lopts...)
	return in, nil
}

func (in *instance) run() (err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if _, ok := r.(halted); !ok {
			in.logger.Error("guest runtime panic", zap.Any("panic", r), zap.Stack("stack"))
			err = fmt.Errorf("guest runtime panic: %v", r)
			in.report(err)
			in.reg.Process.Terminate(1)
			return
		}
		code, _ := in.reg.Process.Exited()
		in.logger.Info("guest exited", zap.Int("code", code))
		err = in.failure
	}()

	if err := in.boot(); err != nil {
		if engine.Interrupted(err) {
			return in.ctx.Err()
		}
		in.failure = err
		in.report(err)
		in.reg.Process.Exit(1)
	}

	if err := in.loop.Run(in.ctx); err != nil {
		return err
	}
	return in.ctx.Err()
}

func (in *instance) boot() error {
	if in.config.Mode == config.ModeBootstrap {
		return in.bootstrap()
	}
	return in.direct()
}

func (in *instance) writeBack(p string, e vfs.Entry) {
	if err := in.out.Send(protocol.NewWrite(p, e)); err != nil {
		in.logger.Warn("write-back dropped", zap.String("path", p), zap.Error(err))
	}
}

func (in *instance) onMessage(m protocol.Message) error {
	switch m := m.(type) {
	case protocol.Stdin:
		if in.reg.TTY.Deliver(m) == 0 {
			in.logger.Debug("stdin dropped", zap.Int("bytes", len(m.Data)))
		}
	default:
		in.logger.Warn("unexpected message", zap.String("type", string(m.Type())))
	}
	return nil
}

// report sends an uncaught failure to the host. Interrupts stop the loop
// instead.
func (in *instance) report(err error) {
	if engine.Interrupted(err) {
		in.loop.Stop()
		return
	}
	err = in.loader.Sanitize(err)
	msg := protocol.Error{Value: err.Error()}
	var ge *module.GuestError
	if errors.As(err, &ge) {
		msg.Stack = ge.Stack()
	}
	in.logger.Debug("guest.uncaught", zap.String("value", msg.Value))
	if serr := in.out.Send(msg); serr != nil {
		in.logger.Warn("error report dropped", zap.Error(serr))
	}
}

// exit emits the process exit event once, then sends exit and halts.
func (in *instance) exit(code int) {
	if !in.exiting && in.process != nil {
		in.exiting = true
		if emit := in.process.Get("emit"); isFunction(emit) {
			vm := in.rt.VM()
			if _, err := in.rt.Call(emit, in.process, vm.ToValue("exit"), vm.ToValue(code)); err != nil {
				in.report(err)
			}
		}
	}
	in.reg.Process.Exit(code)
}

func (in *instance) exitCode() int {
	if in.process == nil {
		return 0
	}
	v := in.process.Get("exitCode")
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return 0
	}
	return int(v.ToInteger())
}
