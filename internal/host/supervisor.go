package host

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/GriffinCanCode/nodebox/internal/guest"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/logging"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/id"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/puzpuzpuz/xsync/v4"
	"go.uber.org/zap"
)

// ErrClosed is returned by Start after Teardown.
var ErrClosed = errors.New("supervisor is torn down")

// StartRequest describes a guest to launch.
type StartRequest struct {
	Args []string
	Cwd  string
	Vars map[string]string
}

// Supervisor owns the authoritative VFS and the running guests. Each guest
// starts from a snapshot of the VFS and its write-backs are applied here.
type Supervisor struct {
	config       guest.Config
	cwd          string
	fetcher      vfs.Fetcher
	metrics      *monitoring.Metrics
	logger       *logging.Logger
	snapshotPath string

	mu sync.Mutex
	fs *vfs.Store

	sessions *xsync.Map[string, *Session]
	root     context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	closed   bool
}

// Option configures a Supervisor.
type Option func(*Supervisor)

func WithFetcher(f vfs.Fetcher) Option {
	return func(s *Supervisor) { s.fetcher = f }
}

func WithMetrics(m *monitoring.Metrics) Option {
	return func(s *Supervisor) { s.metrics = m }
}

func WithLogger(l *logging.Logger) Option {
	return func(s *Supervisor) { s.logger = l }
}

// WithSnapshotPath enables Save and Restore.
func WithSnapshotPath(p string) Option {
	return func(s *Supervisor) { s.snapshotPath = p }
}

// WithCwd sets the working directory for guests that do not name one.
func WithCwd(dir string) Option {
	return func(s *Supervisor) { s.cwd = dir }
}

// New creates a supervisor over an initial VFS snapshot.
func New(cfg guest.Config, snap vfs.Snapshot, opts ...Option) *Supervisor {
	root, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		config:   cfg,
		cwd:      "/",
		logger:   logging.Nop(),
		fs:       vfs.New(snap, vfs.WithPassive()),
		sessions: xsync.NewMap[string, *Session](),
		root:     root,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches a guest on its own goroutine and returns its session.
func (s *Supervisor) Start(req StartRequest) (*Session, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	snap := s.fs.Snapshot()
	s.wg.Add(1)
	s.mu.Unlock()

	gid := id.NewGuestID().String()
	cwd := req.Cwd
	if cwd == "" {
		cwd = s.cwd
	}
	logger := s.logger.ForGuest(gid)

	ctx, cancel := context.WithCancel(s.root)
	host, conn := protocol.Pipe()
	sess := newSession(gid, req.Args, host, cancel, s.recordMessage)

	start := protocol.Start{Args: req.Args, Env: protocol.Env{FS: snap, Cwd: cwd, Vars: req.Vars}}
	s.recordMessage("in", start)
	if err := host.Send(start); err != nil {
		cancel()
		s.wg.Done()
		return nil, fmt.Errorf("start guest: %w", err)
	}

	opts := []guest.Option{guest.WithLogger(logger)}
	if s.fetcher != nil {
		opts = append(opts, guest.WithFetcher(s.fetcher))
	}
	if s.metrics != nil {
		opts = append(opts, guest.WithRecorder(s.metrics))
	}
	g := guest.New(gid, s.config, opts...)

	var done func(string)
	if s.metrics != nil {
		done = s.metrics.GuestStarted()
	}

	s.sessions.Store(gid, sess)
	result := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("guest goroutine panic", zap.String("gid", gid), zap.Any("panic", r))
				result <- fmt.Errorf("guest panic: %v", r)
			}
		}()
		result <- g.Run(ctx, conn)
	}()
	go func() {
		defer s.wg.Done()
		defer cancel()
		s.pump(ctx, sess, host)
		err := <-result
		s.sessions.Delete(gid)
		sess.finish(err)

		outcome := "exit"
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			outcome = "killed"
		case err != nil:
			outcome = "failed"
		}
		if done != nil {
			done(outcome)
		}
		code, _ := sess.ExitCode()
		logger.Info("guest finished", zap.String("outcome", outcome), zap.Int("code", code), zap.Error(err))
	}()

	logger.Info("guest launched", zap.Strings("args", req.Args), zap.String("cwd", cwd))
	return sess, nil
}

// pump drains guest messages until the guest closes its side. Write-backs
// go to the authoritative VFS before the session sees them.
func (s *Supervisor) pump(ctx context.Context, sess *Session, host *protocol.Endpoint) {
	for {
		m, err := host.Recv(context.WithoutCancel(ctx))
		if err != nil {
			return
		}
		s.recordMessage("out", m)
		if w, ok := m.(protocol.Write); ok {
			s.Apply(w.Path, w.Entry())
		}
		sess.deliver(m)
	}
}

func (s *Supervisor) recordMessage(direction string, m protocol.Message) {
	if s.metrics != nil {
		s.metrics.RecordMessage(direction, string(m.Type()))
	}
}

// Get returns a running session.
func (s *Supervisor) Get(gid string) (*Session, bool) {
	return s.sessions.Load(gid)
}

// List describes running sessions in start order.
func (s *Supervisor) List() []Info {
	var out []Info
	s.sessions.Range(func(_ string, sess *Session) bool {
		out = append(out, sess.Info())
		return true
	})
	slices.SortFunc(out, func(a, b Info) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return out
}

// Kill stops a running guest and reports whether it existed.
func (s *Supervisor) Kill(gid string) bool {
	sess, ok := s.sessions.Load(gid)
	if !ok {
		return false
	}
	sess.Kill()
	return true
}

// Apply records an entry in the authoritative VFS.
func (s *Supervisor) Apply(p string, e vfs.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fs.Apply(p, e)
}

// WriteFile seeds a file host-side. Running guests do not see it.
func (s *Supervisor) WriteFile(p string, data []byte) {
	s.Apply(p, vfs.FileEntry(data))
}

// Seed merges snap into the authoritative VFS.
func (s *Supervisor) Seed(snap vfs.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p, e := range snap {
		if p == vfs.NoNetworkKey {
			continue
		}
		s.fs.Apply(p, e)
	}
}

// LoadDir seeds the VFS from a real directory mounted at prefix.
func (s *Supervisor) LoadDir(root, prefix string) (int, error) {
	snap, err := vfs.LoadDir(root, prefix)
	if err != nil {
		return 0, err
	}
	s.Seed(snap)
	return len(snap), nil
}

// Stat describes p in the authoritative VFS.
func (s *Supervisor) Stat(ctx context.Context, p string) (vfs.Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.Stat(ctx, p)
}

// ReadFile returns a copy of the file at p.
func (s *Supervisor) ReadFile(ctx context.Context, p string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := s.fs.Read(ctx, p)
	return slices.Clone(data), err
}

// ReadDir lists the directory at p.
func (s *Supervisor) ReadDir(ctx context.Context, p string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.ReadDir(ctx, p)
}

// Snapshot deep-copies the authoritative VFS.
func (s *Supervisor) Snapshot() vfs.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fs.Snapshot()
}

// Save persists the VFS to the configured snapshot path.
func (s *Supervisor) Save() error {
	if s.snapshotPath == "" {
		return nil
	}
	if err := vfs.SaveSnapshot(s.snapshotPath, s.Snapshot()); err != nil {
		return err
	}
	if s.metrics != nil {
		s.metrics.IncSnapshotsSaved()
	}
	s.logger.Info("snapshot saved", zap.String("path", s.snapshotPath))
	return nil
}

// Restore merges the persisted snapshot, if one exists, into the VFS.
func (s *Supervisor) Restore() (int, error) {
	if s.snapshotPath == "" {
		return 0, nil
	}
	snap, err := vfs.LoadSnapshot(s.snapshotPath)
	if err != nil {
		return 0, err
	}
	s.Seed(snap)
	s.logger.Info("snapshot restored", zap.String("path", s.snapshotPath), zap.Int("entries", len(snap)))
	return len(snap), nil
}

// Running counts live guests.
func (s *Supervisor) Running() int {
	return s.sessions.Size()
}

// Teardown kills every guest abruptly and waits for their goroutines. Later
// Start calls fail.
func (s *Supervisor) Teardown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}
