package module

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"go.uber.org/zap"
)

// Module is an engine-side module object. Code it runs may replace its
// exports, so callers must ask for them after evaluation.
type Module interface {
	Exports() any
}

// RequireFunc loads a specifier relative to the calling module.
type RequireFunc func(spec string) (any, error)

// ResolveFunc resolves a specifier relative to the calling module.
type ResolveFunc func(spec string) string

// Scope is what a module body sees besides the engine's globals.
type Scope struct {
	Filename string
	Dirname  string
	SourceID string // name the engine compiles the body under
	Module   Module
	Require  RequireFunc
	Resolve  ResolveFunc
}

// Evaluator runs module bodies. Implementations report guest exceptions as
// *GuestError.
type Evaluator interface {
	NewModule(filename string) Module
	Evaluate(source string, scope Scope) error
	ParseJSON(filename, text string) (any, error)
	// LineOffset is the number of lines the evaluator injects ahead of a
	// module body.
	LineOffset() int
}

// State is a cache record's lifecycle stage.
type State uint8

const (
	Pending State = iota
	Done
	Errored
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Done:
		return "done"
	default:
		return "errored"
	}
}

// Record is a module cache entry.
type Record struct {
	Path   string
	State  State
	Module Module
	Err    error
}

// Recorder counts module loads by outcome.
type Recorder interface {
	RecordModuleLoad(outcome string)
}

type staticModule struct{ value any }

func (m staticModule) Exports() any { return m.value }

// Loader resolves, evaluates and caches guest modules. Like the store it
// reads from, it belongs to the guest goroutine.
type Loader struct {
	store    *vfs.Store
	eval     Evaluator
	resolver *Resolver
	cache    map[string]*Record
	sources  SourceMap
	nextID   int
	recorder Recorder
	logger   *logging.Logger
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

func WithLogger(l *logging.Logger) LoaderOption {
	return func(ld *Loader) { ld.logger = l }
}

func WithRecorder(r Recorder) LoaderOption {
	return func(ld *Loader) { ld.recorder = r }
}

// WithCoreModules replaces the default core module names.
func WithCoreModules(names []string) LoaderOption {
	return func(ld *Loader) { ld.resolver = NewResolver(ld.store, names) }
}

// NewLoader creates a loader over store. Core modules are pre-seeded as
// shims that forward to CoreDir.
func NewLoader(store *vfs.Store, eval Evaluator, opts ...LoaderOption) *Loader {
	ld := &Loader{
		store:    store,
		eval:     eval,
		resolver: NewResolver(store, CoreModules),
		cache:    make(map[string]*Record),
		sources:  make(SourceMap),
		logger:   logging.Nop(),
	}
	for _, opt := range opts {
		opt(ld)
	}
	return ld
}

// Resolve resolves a specifier from base.
func (l *Loader) Resolve(ctx context.Context, base, spec string) string {
	return l.resolver.Resolve(ctx, base, spec)
}

// Require resolves a specifier from base and loads the result.
func (l *Loader) Require(ctx context.Context, base, spec string) (any, error) {
	return l.Load(ctx, l.Resolve(ctx, base, spec))
}

// Load returns the exports of the module at p, evaluating it on first use.
// A module that is still evaluating yields its partial exports.
func (l *Loader) Load(ctx context.Context, p string) (any, error) {
	if rec, ok := l.cache[p]; ok {
		return rec.Module.Exports(), nil
	}

	var (
		source   string
		filename = p
	)
	switch {
	case l.resolver.IsCore(p):
		source = shimSource(p)
	case strings.HasPrefix(p, "/"):
		data, err := l.store.Read(ctx, p)
		if err != nil {
			l.record("missing")
			return nil, notFound(p)
		}
		source = string(data)
	default:
		l.record("missing")
		return nil, notFound(p)
	}

	l.logger.Debug("module.require", zap.String("path", p))

	if strings.HasSuffix(p, ".json") {
		return l.loadJSON(p, source)
	}

	id := fmt.Sprintf("%smodule/%d", InternalPrefix, l.nextID)
	l.nextID++
	l.sources[id] = Source{Path: filename, Offset: l.eval.LineOffset(), Lines: countLines(source)}

	rec := &Record{Path: p, State: Pending, Module: l.eval.NewModule(filename)}
	l.cache[p] = rec

	dir := vfs.Dir(filename)
	err := l.eval.Evaluate(source, Scope{
		Filename: filename,
		Dirname:  dir,
		SourceID: id,
		Module:   rec.Module,
		Require: func(spec string) (any, error) {
			return l.Require(ctx, dir, spec)
		},
		Resolve: func(spec string) string {
			return l.Resolve(ctx, dir, spec)
		},
	})
	if err != nil {
		rec.State = Errored
		rec.Err = l.Sanitize(err)
		delete(l.cache, p)
		l.record("error")
		return nil, rec.Err
	}

	rec.State = Done
	l.record("loaded")
	return rec.Module.Exports(), nil
}

func (l *Loader) loadJSON(p, text string) (any, error) {
	v, err := l.eval.ParseJSON(p, text)
	if err != nil {
		l.record("error")
		return nil, l.Sanitize(err)
	}
	l.cache[p] = &Record{Path: p, State: Done, Module: staticModule{v}}
	l.record("loaded")
	return v, nil
}

// Sanitize rewrites the frames of a guest error against every module
// registered so far. Other errors are returned unchanged.
func (l *Loader) Sanitize(err error) error {
	var ge *GuestError
	if errors.As(err, &ge) {
		ge.Sanitize(l.sources)
	}
	return err
}

// Sources returns the source map for modules registered so far.
func (l *Loader) Sources() SourceMap {
	return l.sources
}

// Cached returns the record for p, if any.
func (l *Loader) Cached(p string) (Record, bool) {
	rec, ok := l.cache[p]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Paths lists cached module paths in sorted order.
func (l *Loader) Paths() []string {
	out := make([]string, 0, len(l.cache))
	for p := range l.cache {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

func (l *Loader) record(outcome string) {
	if l.recorder != nil {
		l.recorder.RecordModuleLoad(outcome)
	}
}

func notFound(p string) error {
	return fault.Message(fault.KindModuleNotFound, fmt.Sprintf("Cannot find module '%s'", p))
}
