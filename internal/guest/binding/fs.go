package binding

import (
	"context"
	"errors"
	"slices"

	"github.com/GriffinCanCode/nodebox/internal/shared/fault"
	"github.com/GriffinCanCode/nodebox/internal/vfs"
)

// Open flags, matching the constants binding.
const (
	ORdonly = 0
	OWronly = 1
	ORdwr   = 2
	OAppend = 8
	OCreat  = 256
	OTrunc  = 512
	OExcl   = 1024

	accessMask = 3
)

// Mode bits reported by stat.
const (
	SIfmt  = 0o170000
	SIfreg = 0o100000
	SIfdir = 0o040000

	fileMode = SIfreg | 0o644
	dirMode  = SIfdir | 0o755
)

// StatSize is the number of slots in one stat record.
const StatSize = 14

const blockSize = 4096

// Stat is the fixed numeric record behind stat, lstat and fstat.
type Stat struct {
	Mode uint32
	Size int64
}

func (s Stat) IsDir() bool {
	return s.Mode&SIfmt == SIfdir
}

// Values lays the record out as dev, mode, nlink, uid, gid, rdev, blksize,
// ino, size, blocks, atime, mtime, ctime, birthtime.
func (s Stat) Values() [StatSize]float64 {
	var v [StatSize]float64
	v[1] = float64(s.Mode)
	v[2] = 1
	v[6] = blockSize
	v[8] = float64(s.Size)
	v[9] = float64((s.Size + 511) / 512)
	return v
}

func statOf(info vfs.Info) Stat {
	if info.IsDir() {
		return Stat{Mode: dirMode}
	}
	return Stat{Mode: fileMode, Size: info.Size}
}

// FS is the filesystem group over the guest's VFS. Writable descriptors
// buffer their content and flush it to the VFS on close.
type FS struct {
	store   *vfs.Store
	handles *Handles
}

func NewFS(store *vfs.Store, handles *Handles) *FS {
	return &FS{store: store, handles: handles}
}

// Open returns a descriptor for p. Read modes wrap the whole current
// content; creating or truncating starts from an empty buffer.
func (f *FS) Open(ctx context.Context, p string, flags int) (Handle, error) {
	p = vfs.Clean(p)
	writable := flags&accessMask != ORdonly

	info, err := f.store.Stat(ctx, p)
	exists := err == nil
	switch {
	case exists && flags&OCreat != 0 && flags&OExcl != 0:
		return 0, fault.New(fault.KindAlreadyExists, "open", p)
	case exists && info.IsDir() && writable:
		return 0, fault.New(fault.KindIsDirectory, "open", p)
	case !exists && flags&OCreat == 0:
		return 0, fault.New(fault.KindNotFound, "open", p)
	case !exists && !f.store.ExistsDir(ctx, vfs.Dir(p)):
		return 0, fault.New(fault.KindNotFound, "open", p)
	}

	st := &fileState{path: p, writable: writable, dir: exists && info.IsDir()}
	switch {
	case !exists || flags&OTrunc != 0:
		st.dirty = writable
	case !st.dir:
		data, err := f.store.Read(ctx, p)
		if err != nil {
			return 0, reop(err, "open", p)
		}
		st.data = slices.Clone(data)
	}
	if flags&OAppend != 0 {
		st.pos = len(st.data)
	}

	h := f.handles.alloc(FileHandle)
	f.handles.files[h] = st
	return h, nil
}

// Close releases fd, writing buffered content back to the VFS.
func (f *FS) Close(fd Handle) error {
	st, err := f.file(fd, "close")
	if err != nil {
		return err
	}
	if st.dirty {
		f.store.Write(st.path, st.data)
	}
	f.handles.release(fd)
	return nil
}

// Read copies up to len(buf) bytes. A negative position reads from the
// descriptor's window and advances it.
func (f *FS) Read(fd Handle, buf []byte, position int64) (int, error) {
	st, err := f.file(fd, "read")
	if err != nil {
		return 0, err
	}
	if st.dir {
		return 0, fault.New(fault.KindIsDirectory, "read", "")
	}

	pos := st.pos
	if position >= 0 {
		pos = int(min(position, int64(len(st.data))))
	}
	if pos >= len(st.data) {
		return 0, nil
	}
	n := copy(buf, st.data[pos:])
	if position < 0 {
		st.pos += n
	}
	return n, nil
}

// Write stores data at position, or at the descriptor's cursor when
// position is negative.
func (f *FS) Write(fd Handle, data []byte, position int64) (int, error) {
	st, err := f.file(fd, "write")
	if err != nil {
		return 0, err
	}
	if !st.writable {
		return 0, fault.New(fault.KindBadDescriptor, "write", "")
	}

	pos := int64(st.pos)
	if position >= 0 {
		pos = position
	}
	if err := CheckLength("position", pos+int64(len(data))); err != nil {
		return 0, err
	}
	if end := int(pos) + len(data); end > len(st.data) {
		st.data = append(st.data, make([]byte, end-len(st.data))...)
	}
	copy(st.data[pos:], data)
	if position < 0 {
		st.pos = int(pos) + len(data)
	}
	st.dirty = true
	return len(data), nil
}

func (f *FS) ReadDir(ctx context.Context, p string) ([]string, error) {
	return f.store.ReadDir(ctx, p)
}

func (f *FS) Mkdir(ctx context.Context, p string) error {
	return f.store.Mkdir(ctx, p)
}

func (f *FS) Stat(ctx context.Context, p string) (Stat, error) {
	return f.stat(ctx, p, "stat")
}

// Lstat is Stat: the VFS has no links.
func (f *FS) Lstat(ctx context.Context, p string) (Stat, error) {
	return f.stat(ctx, p, "lstat")
}

func (f *FS) Fstat(fd Handle) (Stat, error) {
	st, err := f.file(fd, "fstat")
	if err != nil {
		return Stat{}, err
	}
	if st.dir {
		return Stat{Mode: dirMode}, nil
	}
	return Stat{Mode: fileMode, Size: int64(len(st.data))}, nil
}

// InternalModuleStat returns 0 for a file, 1 for a directory and a negative
// uv code otherwise.
func (f *FS) InternalModuleStat(ctx context.Context, p string) int {
	info, err := f.store.Stat(ctx, p)
	switch {
	case err != nil:
		return fault.UVErrors["ENOENT"]
	case info.IsDir():
		return 1
	default:
		return 0
	}
}

// InternalModuleReadFile returns the text of p, or false when it is not a
// readable file.
func (f *FS) InternalModuleReadFile(ctx context.Context, p string) (string, bool) {
	data, err := f.store.Read(ctx, p)
	if err != nil {
		return "", false
	}
	return string(data), true
}

func (f *FS) stat(ctx context.Context, p, op string) (Stat, error) {
	info, err := f.store.Stat(ctx, p)
	if err != nil {
		return Stat{}, reop(err, op, vfs.Clean(p))
	}
	return statOf(info), nil
}

func (f *FS) file(fd Handle, op string) (*fileState, error) {
	st, ok := f.handles.files[fd]
	if !ok {
		return nil, fault.New(fault.KindBadDescriptor, op, "")
	}
	return st, nil
}

// reop restates a VFS error as failing in op, the way guests expect.
func reop(err error, op, p string) error {
	var fe *fault.Error
	if errors.As(err, &fe) {
		return fault.New(fe.Kind, op, p)
	}
	return err
}
