package host

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/nodebox/internal/guest"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/config"
	"github.com/GriffinCanCode/nodebox/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSupervisor(t *testing.T, files map[string]string, opts ...Option) *Supervisor {
	t.Helper()
	snap := vfs.Snapshot{}
	for p, src := range files {
		snap[p] = vfs.FileEntry([]byte(src))
	}
	s := New(guest.Config{Mode: config.ModeDirect, Offline: true}, snap, append([]Option{WithCwd("/cwd")}, opts...)...)
	t.Cleanup(s.Teardown)
	return s
}

func wait(t *testing.T, sess *Session) {
	t.Helper()
	select {
	case <-sess.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("guest did not finish")
	}
}

func TestRunToExit(t *testing.T) {
	s := newSupervisor(t, map[string]string{
		"/cwd/main.js": `console.log("out"); console.error("err"); throw new Error("late");`,
	})

	sess, err := s.Start(StartRequest{Args: []string{"main.js"}})
	require.NoError(t, err)
	wait(t, sess)

	require.NoError(t, sess.Err())
	stdout, stderr := sess.Output()
	assert.Equal(t, "out\n", stdout)
	assert.Equal(t, "err\n", stderr)

	code, ok := sess.ExitCode()
	assert.True(t, ok)
	assert.Equal(t, 0, code)

	last, ok := sess.LastError()
	require.True(t, ok)
	assert.Equal(t, "Error: late", last.Value)

	_, running := s.Get(sess.ID())
	assert.False(t, running)
	assert.Equal(t, 0, s.Running())
}

func TestWriteBackReachesHost(t *testing.T) {
	s := newSupervisor(t, map[string]string{
		"/cwd/main.js": `
var fs = process.binding("fs");
var fd = fs.open("/cwd/result.txt", 1 | 256 | 512, 438);
fs.writeString(fd, "computed", -1, "utf8");
fs.close(fd);
`,
	})

	sess, err := s.Start(StartRequest{Args: []string{"main.js"}})
	require.NoError(t, err)
	wait(t, sess)

	e, ok := s.Snapshot()["/cwd/result.txt"]
	require.True(t, ok)
	assert.Equal(t, "computed", string(e.Data))

	// The next guest starts from the updated VFS.
	s.WriteFile("/cwd/read.js", []byte(`
var fs = process.binding("fs");
var fd = fs.open("/cwd/result.txt", 0, 0);
var buf = new Uint8Array(32);
var n = fs.read(fd, buf, 0, 32, 0);
console.log(String.fromCharCode.apply(null, buf.subarray(0, n)));
`))
	next, err := s.Start(StartRequest{Args: []string{"read.js"}})
	require.NoError(t, err)
	wait(t, next)
	stdout, _ := next.Output()
	assert.Equal(t, "computed\n", stdout)
}

func TestStdinAndSubscribe(t *testing.T) {
	s := newSupervisor(t, map[string]string{
		"/cwd/main.js": `
process.stdin.on("data", function (d) {
	console.log("echo " + d);
	if (d === "bye") process.exit(4);
});
`,
	})

	sess, err := s.Start(StartRequest{Args: []string{"main.js"}})
	require.NoError(t, err)

	var (
		mu   sync.Mutex
		seen []protocol.Message
	)
	unsubscribe := sess.Subscribe(func(m protocol.Message) {
		mu.Lock()
		seen = append(seen, m)
		mu.Unlock()
	})
	defer unsubscribe()

	require.NoError(t, sess.Stdin(protocol.Stdin{Data: "hi"}))
	require.NoError(t, sess.Stdin(protocol.Stdin{Data: "bye"}))
	wait(t, sess)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []protocol.Message{
		protocol.Stdout{Text: "echo hi\n"},
		protocol.Stdout{Text: "echo bye\n"},
		protocol.Exit{Code: 4},
	}, seen)

	assert.ErrorIs(t, sess.Stdin(protocol.Stdin{Data: "late"}), ErrExited)
}

func TestKillAndTeardown(t *testing.T) {
	s := newSupervisor(t, map[string]string{
		"/cwd/main.js": `setInterval(function () {}, 1000);`,
	})

	a, err := s.Start(StartRequest{Args: []string{"main.js"}})
	require.NoError(t, err)
	b, err := s.Start(StartRequest{Args: []string{"main.js"}})
	require.NoError(t, err)

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, a.ID(), list[0].ID)
	assert.True(t, list[0].Running)
	assert.True(t, strings.HasPrefix(a.ID(), "guest_"))

	assert.True(t, s.Kill(a.ID()))
	wait(t, a)
	_, exited := a.ExitCode()
	assert.False(t, exited)
	assert.False(t, s.Kill(a.ID()))

	s.Teardown()
	wait(t, b)
	_, err = s.Start(StartRequest{Args: []string{"main.js"}})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := monitoring.NewMetrics(reg)
	s := newSupervisor(t, map[string]string{
		"/cwd/main.js": `require("./lib"); console.log("x");`,
		"/cwd/lib.js":  `module.exports = 1;`,
	}, WithMetrics(m))

	sess, err := s.Start(StartRequest{Args: []string{"main.js"}})
	require.NoError(t, err)
	wait(t, sess)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuestsTotal))
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.GuestsActive) == 0
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ModuleLoads.WithLabelValues("loaded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuestMessages.WithLabelValues("in", "start")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuestMessages.WithLabelValues("out", "stdout")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GuestMessages.WithLabelValues("out", "exit")))
}

func TestPersistence(t *testing.T) {
	dir := t.TempDir()
	seed := filepath.Join(dir, "seed")
	require.NoError(t, os.MkdirAll(filepath.Join(seed, "lib"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "main.js"), []byte(`console.log(require("./lib/x"));`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(seed, "lib", "x.js"), []byte(`module.exports = "seeded";`), 0o644))

	file := filepath.Join(dir, "fs.snap")
	s := newSupervisor(t, nil, WithSnapshotPath(file))
	n, err := s.LoadDir(seed, "/cwd")
	require.NoError(t, err)
	assert.Equal(t, 4, n)
	require.NoError(t, s.Save())

	restored := newSupervisor(t, nil, WithSnapshotPath(file))
	_, err = restored.Restore()
	require.NoError(t, err)
	assert.Equal(t, s.Snapshot(), restored.Snapshot())

	sess, err := restored.Start(StartRequest{Args: []string{"main.js"}})
	require.NoError(t, err)
	wait(t, sess)
	stdout, _ := sess.Output()
	assert.Equal(t, "seeded\n", stdout)
}

func TestHostFileAccess(t *testing.T) {
	s := newSupervisor(t, map[string]string{"/cwd/a/b.txt": "bee"})
	ctx := t.Context()

	info, err := s.Stat(ctx, "/cwd/a")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	names, err := s.ReadDir(ctx, "/cwd")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)

	data, err := s.ReadFile(ctx, "/cwd/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "bee", string(data))

	_, err = s.ReadFile(ctx, "/cwd/missing")
	assert.Error(t, err)
}

type staticFetcher map[string]string

func (f staticFetcher) Fetch(_ context.Context, p string) ([]byte, error) {
	if body, ok := f[p]; ok {
		return []byte(body), nil
	}
	return nil, fault.New(fault.KindNotFound, "fetch", p)
}

func TestHostReadsLeaveStoreUntouched(t *testing.T) {
	s := New(guest.Config{Mode: config.ModeDirect}, vfs.Snapshot{}, WithCwd("/cwd"),
		WithFetcher(staticFetcher{"/cwd/main.js": `console.log("fetched");`}))
	t.Cleanup(s.Teardown)
	ctx := t.Context()
	before := s.Snapshot()

	_, err := s.ReadFile(ctx, "/cwd/main.js")
	assert.ErrorIs(t, err, fault.ErrNotFound)
	_, err = s.Stat(ctx, "/cwd/nope")
	assert.ErrorIs(t, err, fault.ErrNotFound)
	_, err = s.ReadDir(ctx, "/cwd")
	assert.ErrorIs(t, err, fault.ErrNotFound)
	assert.Equal(t, before, s.Snapshot())

	sess, err := s.Start(StartRequest{Args: []string{"main.js"}})
	require.NoError(t, err)
	wait(t, sess)
	stdout, _ := sess.Output()
	assert.Equal(t, "fetched\n", stdout)
	assert.Equal(t, "console.log(\"fetched\");", string(s.Snapshot()["/cwd/main.js"].Data))
}
