package vfs

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/GriffinCanCode/nodebox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
)

// Fetcher is the synchronous remote fallback. An error matching
// fault.ErrNotFound confirms the path is absent remotely; any other error is
// treated as a transient miss and the path is asked for again next time.
type Fetcher interface {
	Fetch(ctx context.Context, p string) ([]byte, error)
}

// Observer is told about every entry the store memoizes from a remote
// result and every change made through Write or Mkdir, once each.
type Observer func(p string, e Entry)

// Recorder counts fetch outcomes.
type Recorder interface {
	RecordFetch(outcome string)
}

// Fetch outcomes passed to Recorder.
const (
	OutcomeFile    = "file"
	OutcomeIndex   = "index"
	OutcomeMiss    = "miss"
	OutcomeError   = "error"
	OutcomeOffline = "offline"
	OutcomeDenied  = "denied"
)

// Store is a path-addressed content store with lazy remote fallback. It is
// owned by a single goroutine; callers sharing one must serialize access.
type Store struct {
	entries  map[string]Entry
	fetcher  Fetcher
	allow    []string
	offline  bool
	sentinel bool
	passive  bool
	observer Observer
	recorder Recorder
	logger   *logging.Logger
}

// Option configures a Store.
type Option func(*Store)

func WithFetcher(f Fetcher) Option {
	return func(s *Store) { s.fetcher = f }
}

func WithObserver(o Observer) Option {
	return func(s *Store) { s.observer = o }
}

// WithAllow restricts remote fetches to paths matching one of the globs.
func WithAllow(patterns []string) Option {
	return func(s *Store) { s.allow = patterns }
}

// WithOffline disables the remote fallback regardless of the snapshot.
func WithOffline(offline bool) Option {
	return func(s *Store) { s.offline = s.offline || offline }
}

// WithPassive makes lookups side-effect free: nothing resolved through Read,
// Stat or ReadDir is memoized. Only Write, Mkdir and Apply change entries.
func WithPassive() Option {
	return func(s *Store) { s.passive = true }
}

func WithRecorder(r Recorder) Option {
	return func(s *Store) { s.recorder = r }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New builds a store seeded with a copy of snap.
func New(snap Snapshot, opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]Entry, len(snap)),
		logger:  logging.Nop(),
	}
	for p, e := range snap {
		if p == NoNetworkKey {
			s.sentinel = true
			continue
		}
		s.entries[Clean(p)] = e.clone()
	}
	s.offline = s.sentinel
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Offline reports whether the remote fallback is disabled.
func (s *Store) Offline() bool {
	return s.offline || s.fetcher == nil
}

// Lookup returns the explicit entry for p without any fallback.
func (s *Store) Lookup(p string) (Entry, bool) {
	e, ok := s.entries[Clean(p)]
	return e, ok
}

// Read returns the content of the file at p. The returned slice must not be
// modified.
func (s *Store) Read(ctx context.Context, p string) ([]byte, error) {
	p = Clean(p)
	e := s.resolve(ctx, p, false)
	switch e.Kind {
	case File:
		return e.Data, nil
	case Directory:
		return nil, fault.New(fault.KindIsDirectory, "read", p)
	default:
		return nil, fault.New(fault.KindNotFound, "open", p)
	}
}

// ReadDir returns the sorted, deduplicated child names of p, merging any
// known listing with locally written paths nested under p.
func (s *Store) ReadDir(ctx context.Context, p string) ([]string, error) {
	p = Clean(p)
	e := s.resolve(ctx, p, true)
	switch e.Kind {
	case File:
		return nil, fault.New(fault.KindNotADirectory, "scandir", p)
	case Missing:
		return nil, fault.New(fault.KindNotFound, "scandir", p)
	}

	names := append(slices.Clone(e.Children), s.nested(p)...)
	slices.Sort(names)
	return slices.Compact(names), nil
}

// Stat describes p.
func (s *Store) Stat(ctx context.Context, p string) (Info, error) {
	p = Clean(p)
	e := s.resolve(ctx, p, false)
	switch e.Kind {
	case File:
		return Info{Kind: File, Size: int64(len(e.Data))}, nil
	case Directory:
		return Info{Kind: Directory}, nil
	default:
		return Info{}, fault.New(fault.KindNotFound, "stat", p)
	}
}

// Exists reports whether p is a file or a directory.
func (s *Store) Exists(ctx context.Context, p string) bool {
	_, err := s.Stat(ctx, p)
	return err == nil
}

// ExistsFile reports whether p is a file.
func (s *Store) ExistsFile(ctx context.Context, p string) bool {
	info, err := s.Stat(ctx, p)
	return err == nil && info.Kind == File
}

// ExistsDir reports whether p is a directory.
func (s *Store) ExistsDir(ctx context.Context, p string) bool {
	info, err := s.Stat(ctx, p)
	return err == nil && info.IsDir()
}

// Write stores data as the file at p and reports it to the observer.
func (s *Store) Write(p string, data []byte) {
	p = Clean(p)
	e := FileEntry(slices.Clone(data))
	s.put(p, e)
	s.notify(p, e)
}

// Mkdir creates an empty directory at p. The parent must already exist.
func (s *Store) Mkdir(ctx context.Context, p string) error {
	p = Clean(p)
	if s.Exists(ctx, p) {
		return fault.New(fault.KindAlreadyExists, "mkdir", p)
	}
	if p != "/" && !s.ExistsDir(ctx, Dir(p)) {
		return fault.New(fault.KindNotFound, "mkdir", p)
	}
	e := DirEntry()
	s.put(p, e)
	s.notify(p, e)
	return nil
}

// Apply mirrors an entry reported by a guest. The observer is not called.
func (s *Store) Apply(p string, e Entry) {
	s.put(Clean(p), e.clone())
}

// Snapshot deep-copies the store's explicit entries.
func (s *Store) Snapshot() Snapshot {
	out := make(Snapshot, len(s.entries)+1)
	for p, e := range s.entries {
		out[p] = e.clone()
	}
	if s.sentinel {
		out[NoNetworkKey] = FileEntry(nil)
	}
	return out
}

// Len returns the number of explicit entries.
func (s *Store) Len() int {
	return len(s.entries)
}

func (s *Store) put(p string, e Entry) {
	s.entries[p] = e
	if e.Kind == Missing {
		return
	}
	for _, a := range ancestors(p) {
		if prev, ok := s.entries[a]; ok && prev.Kind == Missing {
			delete(s.entries, a)
		}
	}
}

func (s *Store) notify(p string, e Entry) {
	if s.observer != nil {
		s.observer(p, e.clone())
	}
}

// resolve finds what p is: the explicit entry, a directory implied by nested
// paths, or the memoized remote result. A listing request on an implied
// directory still consults the remote, but only an index result is merged;
// an implied directory never becomes a file or a miss.
func (s *Store) resolve(ctx context.Context, p string, listing bool) Entry {
	if e, ok := s.entries[p]; ok {
		return e
	}

	implied := p == "/" || s.hasNested(p)
	if implied && (!listing || s.Offline()) {
		return DirEntry()
	}

	e, remote, final := s.fetch(ctx, p)
	if implied {
		var names []string
		if e.Kind == Directory {
			names = e.Children
		}
		e = DirEntry(names...)
	}
	if ctx.Err() != nil || !final || s.passive {
		return e
	}

	s.entries[p] = e
	if remote {
		s.notify(p, e)
	}
	return e
}

// fetch consults the remote. remote is false when no request was allowed,
// in which case the result is a local miss. final is false for transient
// failures, which must not be memoized.
func (s *Store) fetch(ctx context.Context, p string) (e Entry, remote, final bool) {
	switch {
	case s.Offline():
		s.record(p, OutcomeOffline)
		return MissingEntry(), false, true
	case !s.allowed(p):
		s.record(p, OutcomeDenied)
		return MissingEntry(), false, true
	}

	body, err := s.fetcher.Fetch(ctx, p)
	switch {
	case errors.Is(err, fault.ErrNotFound):
		s.logger.Debug("vfs.fetch", zap.String("path", p), zap.String("outcome", OutcomeMiss))
		s.record(p, OutcomeMiss)
		return MissingEntry(), true, true
	case err != nil:
		s.logger.Warn("vfs.fetch", zap.String("path", p), zap.String("outcome", OutcomeError), zap.Error(err))
		s.record(p, OutcomeError)
		return MissingEntry(), true, false
	}

	if names, ok := ParseIndex(p, body); ok {
		s.record(p, OutcomeIndex)
		return DirEntry(names...), true, true
	}
	s.record(p, OutcomeFile)
	return FileEntry(body), true, true
}

func (s *Store) record(p, outcome string) {
	if outcome != OutcomeMiss && outcome != OutcomeError {
		s.logger.Debug("vfs.fetch", zap.String("path", p), zap.String("outcome", outcome))
	}
	if s.recorder != nil {
		s.recorder.RecordFetch(outcome)
	}
}

func (s *Store) allowed(p string) bool {
	if len(s.allow) == 0 {
		return true
	}
	for _, pattern := range s.allow {
		if ok, _ := doublestar.Match(pattern, p); ok {
			return true
		}
	}
	return false
}

func (s *Store) hasNested(dir string) bool {
	prefix := childPrefix(dir)
	for p, e := range s.entries {
		if e.Kind != Missing && p != dir && strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

func (s *Store) nested(dir string) []string {
	prefix := childPrefix(dir)
	var names []string
	for p, e := range s.entries {
		if e.Kind == Missing || p == dir || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			rest = rest[:i]
		}
		names = append(names, rest)
	}
	return names
}
