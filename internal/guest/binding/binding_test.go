package binding

import (
	"context"
	"fmt"
	"math"
	"testing"

	"github.com/GriffinCanCode/nodebox/internal/guest/loop"
	"github.com/GriffinCanCode/nodebox/internal/protocol"
	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	msgs []protocol.Message
}

func (s *sink) Send(m protocol.Message) error {
	s.msgs = append(s.msgs, m)
	return nil
}

func newStore(files map[string]string, opts ...vfs.Option) *vfs.Store {
	snap := vfs.Snapshot{}
	for p, data := range files {
		snap[p] = vfs.FileEntry([]byte(data))
	}
	return vfs.New(snap, opts...)
}

func TestHandlesActiveSet(t *testing.T) {
	hs := NewHandles()
	assert.True(t, hs.Idle())

	a := hs.alloc(FileHandle)
	b := hs.alloc(TTYHandle)
	assert.Equal(t, Handle(3), a)
	assert.Equal(t, []Handle{a, b}, hs.Active())

	require.NoError(t, hs.Unref(b))
	assert.False(t, hs.HasRef(b))
	assert.Equal(t, []Handle{a}, hs.Active())

	require.NoError(t, hs.Ref(b))
	hs.release(a)
	assert.Equal(t, []Handle{b}, hs.Active())
	assert.Equal(t, 1, hs.Len())

	assert.ErrorIs(t, hs.Ref(a), fault.ErrBadDescriptor)
}

func TestFSReadWindow(t *testing.T) {
	fs := NewFS(newStore(map[string]string{"/a.txt": "hello world"}), NewHandles())
	ctx := context.Background()

	fd, err := fs.Open(ctx, "/a.txt", ORdonly)
	require.NoError(t, err)

	buf := make([]byte, 5)
	n, err := fs.Read(fd, buf, -1)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = fs.Read(fd, buf, -1)
	require.NoError(t, err)
	assert.Equal(t, " worl", string(buf[:n]))

	n, err = fs.Read(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	n, err = fs.Read(fd, buf, -1)
	require.NoError(t, err)
	assert.Equal(t, "d", string(buf[:n]))

	n, err = fs.Read(fd, buf, -1)
	require.NoError(t, err)
	assert.Zero(t, n)

	require.NoError(t, fs.Close(fd))
	_, err = fs.Read(fd, buf, -1)
	assert.ErrorIs(t, err, fault.ErrBadDescriptor)
}

func TestFSOpenErrors(t *testing.T) {
	fs := NewFS(newStore(map[string]string{"/d/f": "x"}), NewHandles())
	ctx := context.Background()

	tests := []struct {
		name  string
		path  string
		flags int
		want  string
	}{
		{"missing", "/nope", ORdonly, "ENOENT: no such file or directory, open '/nope'"},
		{"missing parent", "/no/dir/f", OWronly | OCreat, "ENOENT: no such file or directory, open '/no/dir/f'"},
		{"exclusive", "/d/f", OWronly | OCreat | OExcl, "EEXIST: file already exists, open '/d/f'"},
		{"write dir", "/d", OWronly, "EISDIR: illegal operation on a directory, open '/d'"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fs.Open(ctx, tt.path, tt.flags)
			assert.EqualError(t, err, tt.want)
		})
	}
}

func TestFSWriteFlushesOnClose(t *testing.T) {
	var written []string
	store := newStore(map[string]string{"/log": "abc"}, vfs.WithObserver(func(p string, e vfs.Entry) {
		written = append(written, p+"="+string(e.Data))
	}))
	fs := NewFS(store, NewHandles())
	ctx := context.Background()

	fd, err := fs.Open(ctx, "/new.txt", OWronly|OCreat|OTrunc)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("hi "), -1)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("there"), -1)
	require.NoError(t, err)
	assert.Empty(t, written)
	require.NoError(t, fs.Close(fd))

	fd, err = fs.Open(ctx, "/log", OWronly|OAppend)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("def"), -1)
	require.NoError(t, err)
	require.NoError(t, fs.Close(fd))

	fd, err = fs.Open(ctx, "/log", ORdonly)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("x"), -1)
	assert.ErrorIs(t, err, fault.ErrBadDescriptor)
	require.NoError(t, fs.Close(fd))

	assert.Equal(t, []string{"/new.txt=hi there", "/log=abcdef"}, written)
	data, err := store.Read(ctx, "/new.txt")
	require.NoError(t, err)
	assert.Equal(t, "hi there", string(data))
}

func TestFSWriteBeyondMaxLength(t *testing.T) {
	fs := NewFS(newStore(map[string]string{"/d/f": ""}), NewHandles())
	fd, err := fs.Open(context.Background(), "/d/big.bin", OWronly|OCreat)
	require.NoError(t, err)

	tests := []struct {
		name     string
		position int64
	}{
		{"far position", 1e18},
		{"just past the limit", MaxLength},
		{"wraps negative", math.MaxInt64},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fs.Write(fd, []byte("x"), tt.position)
			var re *RangeError
			require.ErrorAs(t, err, &re)
			assert.Equal(t, "position", re.Name)
		})
	}

	n, err := fs.Write(fd, []byte("ok"), 4)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, fs.Close(fd))
}

func TestCheckLength(t *testing.T) {
	tests := []struct {
		n    int64
		fail bool
	}{
		{0, false},
		{MaxLength, false},
		{MaxLength + 1, true},
		{-1, true},
		{1e18, true},
	}
	for _, tt := range tests {
		err := CheckLength("size", tt.n)
		if tt.fail {
			assert.EqualError(t, err, fmt.Sprintf(`The value of "size" is out of range. It must be >= 0 && <= 2147483647. Received %d`, tt.n))
		} else {
			assert.NoError(t, err)
		}
	}
}

func TestFSStat(t *testing.T) {
	fs := NewFS(newStore(map[string]string{"/d/f.js": "12345"}), NewHandles())
	ctx := context.Background()

	st, err := fs.Stat(ctx, "/d/f.js")
	require.NoError(t, err)
	assert.False(t, st.IsDir())
	assert.Equal(t, int64(5), st.Size)
	values := st.Values()
	assert.Equal(t, float64(SIfreg|0o644), values[1])
	assert.Equal(t, float64(5), values[8])

	st, err = fs.Lstat(ctx, "/d")
	require.NoError(t, err)
	assert.True(t, st.IsDir())

	_, err = fs.Lstat(ctx, "/d/missing")
	assert.EqualError(t, err, "ENOENT: no such file or directory, lstat '/d/missing'")
	assert.Equal(t, "ENOENT", fault.Code(err))

	fd, err := fs.Open(ctx, "/d/f.js", ORdwr)
	require.NoError(t, err)
	_, err = fs.Write(fd, []byte("1234567"), 0)
	require.NoError(t, err)
	st, err = fs.Fstat(fd)
	require.NoError(t, err)
	assert.Equal(t, int64(7), st.Size)

	assert.Equal(t, 0, fs.InternalModuleStat(ctx, "/d/f.js"))
	assert.Equal(t, 1, fs.InternalModuleStat(ctx, "/d"))
	assert.Equal(t, -4058, fs.InternalModuleStat(ctx, "/x"))

	src, ok := fs.InternalModuleReadFile(ctx, "/d/f.js")
	assert.True(t, ok)
	assert.Equal(t, "12345", src)
	_, ok = fs.InternalModuleReadFile(ctx, "/d")
	assert.False(t, ok)
}

func TestFSDirectories(t *testing.T) {
	fs := NewFS(newStore(map[string]string{"/d/a": "", "/d/b/c": ""}), NewHandles())
	ctx := context.Background()

	names, err := fs.ReadDir(ctx, "/d")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, names)

	require.NoError(t, fs.Mkdir(ctx, "/d/e"))
	assert.ErrorIs(t, fs.Mkdir(ctx, "/d/e"), fault.ErrAlreadyExists)

	fd, err := fs.Open(ctx, "/d", ORdonly)
	require.NoError(t, err)
	_, err = fs.Read(fd, make([]byte, 1), -1)
	assert.ErrorIs(t, err, fault.ErrIsDirectory)
}

func TestTTY(t *testing.T) {
	out := &sink{}
	hs := NewHandles()
	tty := NewTTY(hs, out)

	stdout := tty.Open(1, nil)
	stderr := tty.Open(2, nil)
	var got []protocol.Stdin
	stdin := tty.Open(0, func(m protocol.Stdin) { got = append(got, m) })

	require.NoError(t, tty.Write(stdout, "out"))
	require.NoError(t, tty.Write(stderr, "err"))
	assert.Equal(t, []protocol.Message{protocol.Stdout{Text: "out"}, protocol.Stderr{Text: "err"}}, out.msgs)

	key := &protocol.Key{Name: "c", Ctrl: true}
	assert.Equal(t, 1, tty.Deliver(protocol.Stdin{Data: "ab"}))
	assert.Equal(t, 1, tty.Deliver(protocol.Stdin{Data: "\x03", Key: key}))
	assert.Equal(t, []protocol.Stdin{{Data: "ab"}, {Data: "\x03", Key: key}}, got)

	assert.True(t, hs.Idle(), "open ttys keep nothing alive")
	require.NoError(t, tty.ReadStart(stdin))
	assert.True(t, tty.Reading(stdin))
	assert.Equal(t, []Handle{stdin}, hs.Active())
	require.NoError(t, tty.ReadStop(stdin))
	assert.False(t, tty.Reading(stdin))
	assert.True(t, hs.Idle())

	stream, err := tty.Stream(stderr)
	require.NoError(t, err)
	assert.Equal(t, 2, stream)

	require.NoError(t, tty.Close(stdin))
	assert.Zero(t, tty.Deliver(protocol.Stdin{Data: "lost"}))
	assert.ErrorIs(t, tty.Write(stdin, "x"), fault.ErrBadDescriptor)
}

func TestTimers(t *testing.T) {
	l := loop.New(protocol.NewMailbox(), loop.Hooks{})
	hs := NewHandles()
	timers := NewTimers(hs, l)

	h := timers.New(func() error { return nil })
	assert.True(t, hs.Idle(), "a disarmed timer keeps nothing alive")

	require.NoError(t, timers.Start(h, 10))
	assert.True(t, timers.Armed(h))
	assert.Equal(t, []Handle{h}, hs.Active())

	first := hs.timers[h].id
	require.NoError(t, timers.Start(h, 50))
	assert.Equal(t, first, hs.timers[h].id)

	require.NoError(t, hs.Unref(h))
	assert.True(t, hs.Idle())
	require.NoError(t, hs.Ref(h))

	require.NoError(t, timers.Stop(h))
	assert.False(t, timers.Armed(h))
	assert.False(t, l.Armed(first))
	assert.True(t, hs.Idle())

	require.NoError(t, timers.Close(h))
	assert.ErrorIs(t, timers.Start(h, 1), fault.ErrBadDescriptor)
	assert.GreaterOrEqual(t, timers.Now(), float64(0))
}

func TestCrypto(t *testing.T) {
	l := loop.New(protocol.NewMailbox(), loop.Hooks{})
	c := NewCrypto(l)

	b, err := c.RandomBytes(32)
	require.NoError(t, err)
	assert.Len(t, b, 32)

	_, err = c.RandomBytes(1e18)
	var re *RangeError
	assert.ErrorAs(t, err, &re)

	called := false
	c.FillLater(make([]byte, 8), func(err error) error {
		called = true
		return err
	})
	assert.False(t, called)
	assert.Equal(t, 1, l.Pending())
}

func TestProcess(t *testing.T) {
	out := &sink{}
	store := newStore(map[string]string{"/home/app/main.js": ""})
	halts := 0
	p := NewProcess(store, out, protocol.Start{
		Args: []string{"main.js", "--flag"},
		Env:  protocol.Env{Cwd: "/home", Vars: map[string]string{"A": "1"}},
	}, func() { halts++ })
	ctx := context.Background()

	assert.Equal(t, "/home", p.Cwd())
	assert.Equal(t, []string{ExecPath, "main.js", "--flag"}, p.Argv())
	assert.Equal(t, map[string]string{"A": "1"}, p.Env())

	require.NoError(t, p.Chdir(ctx, "app/../app/"))
	assert.Equal(t, "/home/app", p.Cwd())
	assert.EqualError(t, p.Chdir(ctx, "nope"), "ENOENT: no such file or directory, chdir '/home/app/nope'")
	assert.Equal(t, "/home/app", p.Cwd())

	p.Exit(3)
	p.Exit(4)
	code, exited := p.Exited()
	assert.True(t, exited)
	assert.Equal(t, 3, code)
	assert.Equal(t, 2, halts)
	assert.Equal(t, []protocol.Message{protocol.Exit{Code: 3}}, out.msgs)

	out = &sink{}
	halts = 0
	term := NewProcess(store, out, protocol.Start{}, func() { halts++ })
	term.Terminate(1)
	term.Exit(2)
	code, _ = term.Exited()
	assert.Equal(t, 1, code)
	assert.Equal(t, 1, halts)
	assert.Equal(t, []protocol.Message{protocol.Exit{Code: 1}}, out.msgs)

	empty := NewProcess(store, out, protocol.Start{}, func() {})
	assert.Equal(t, "/", empty.Cwd())
	assert.Equal(t, map[string]string{}, empty.Env())
}

func TestLookup(t *testing.T) {
	tests := []struct {
		name string
		want Group
	}{
		{"fs", GroupFS},
		{"tty_wrap", GroupTTY},
		{"timer_wrap", GroupTimer},
		{"crypto", GroupCrypto},
		{"constants", GroupConstants},
		{"uv", GroupUV},
		{"natives", GroupNatives},
		{"contextify", GroupContextify},
		{"tcp_wrap", GroupStub},
		{"async_wrap", GroupStub},
		{"config", GroupStub},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := Lookup(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, g)
			assert.Contains(t, Names(), tt.name)
		})
	}

	_, err := Lookup("bogus")
	assert.EqualError(t, err, "missing binding 'bogus'")
	assert.ErrorIs(t, err, fault.ErrMissingBinding)
}

func TestRegistry(t *testing.T) {
	l := loop.New(protocol.NewMailbox(), loop.Hooks{})
	store := newStore(map[string]string{"/f": "x"})
	r := NewRegistry(Deps{Store: store, Loop: l, Out: &sink{}, Halt: func() {}})

	r.SetNatives(map[string]string{"events": "module.exports = 1"})
	natives := r.Natives()
	assert.Equal(t, "module.exports = 1", natives["events"])
	assert.Equal(t, byte('\n'), natives["config"][0])
	assert.NotContains(t, natives["config"], `"`)
	assert.Contains(t, natives["config"], "'target_defaults'")

	fd, err := r.FS.Open(context.Background(), "/f", ORdonly)
	require.NoError(t, err)
	assert.Equal(t, "TTY", r.GuessHandleType(1))
	assert.Equal(t, "FILE", r.GuessHandleType(int(fd)))
	assert.Equal(t, "UNKNOWN", r.GuessHandleType(99))
}

func TestDataTables(t *testing.T) {
	constants, err := Constants()
	require.NoError(t, err)
	fs := constants["fs"].(map[string]any)
	assert.EqualValues(t, OCreat, fs["O_CREAT"])
	assert.EqualValues(t, SIfdir, fs["S_IFDIR"])

	uv := UVConstants()
	assert.Equal(t, -4058, uv["UV_ENOENT"])
	assert.Equal(t, -4031, uv["UV_EHOSTDOWN"])
	assert.Equal(t, "ENOENT", ErrName(-4058))
	assert.Equal(t, "Unknown system error 1", ErrName(1))

	stub, ok := StubFor("tcp_wrap")
	require.True(t, ok)
	assert.Contains(t, stub.Unsupported, "TCP")
}
