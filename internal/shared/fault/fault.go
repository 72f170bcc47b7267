package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure independent of where it occurred.
type Kind uint8

const (
	KindUnknown Kind = iota
	KindNotFound
	KindNotADirectory
	KindIsDirectory
	KindAlreadyExists
	KindBadDescriptor
	KindModuleNotFound
	KindEvaluation
	KindNotImplemented
	KindMissingBinding
	KindMissingNative
	KindProtocol
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindNotADirectory:
		return "not_a_directory"
	case KindIsDirectory:
		return "is_directory"
	case KindAlreadyExists:
		return "already_exists"
	case KindBadDescriptor:
		return "bad_descriptor"
	case KindModuleNotFound:
		return "module_not_found"
	case KindEvaluation:
		return "evaluation"
	case KindNotImplemented:
		return "not_implemented"
	case KindMissingBinding:
		return "missing_binding"
	case KindMissingNative:
		return "missing_native"
	case KindProtocol:
		return "protocol"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is. Matching is by Kind only.
var (
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrNotADirectory  = &Error{Kind: KindNotADirectory}
	ErrIsDirectory    = &Error{Kind: KindIsDirectory}
	ErrAlreadyExists  = &Error{Kind: KindAlreadyExists}
	ErrBadDescriptor  = &Error{Kind: KindBadDescriptor}
	ErrModuleNotFound = &Error{Kind: KindModuleNotFound}
	ErrEvaluation     = &Error{Kind: KindEvaluation}
	ErrNotImplemented = &Error{Kind: KindNotImplemented}
	ErrMissingBinding = &Error{Kind: KindMissingBinding}
	ErrMissingNative  = &Error{Kind: KindMissingNative}
	ErrProtocol       = &Error{Kind: KindProtocol}
)

// Error is the structured error shared by the VFS, the loader and the bindings.
type Error struct {
	Kind   Kind
	Op     string
	Path   string
	Detail string
	Cause  error
}

func (e *Error) Error() string {
	if e.Detail != "" && e.Op == "" {
		return e.Detail
	}

	var b strings.Builder
	if code := codeFor(e.Kind); code != "" {
		b.WriteString(code)
		b.WriteString(": ")
	}
	b.WriteString(describe(e.Kind))
	if e.Op != "" {
		b.WriteString(", ")
		b.WriteString(e.Op)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " '%s'", e.Path)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds an error of the given kind for an operation on a path.
func New(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Wrap builds an error of the given kind around a cause.
func Wrap(kind Kind, op, path string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Path: path, Cause: cause}
}

// Message builds an error whose text is exactly msg.
func Message(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Detail: msg}
}

// KindOf extracts the Kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnknown
}

// Code returns the errno-style code guests see for err ("ENOENT", ...).
func Code(err error) string {
	return codeFor(KindOf(err))
}

// Errno returns the negative uv error number for err, or 0.
func Errno(err error) int {
	if n, ok := UVErrors[Code(err)]; ok {
		return n
	}
	return 0
}

func codeFor(k Kind) string {
	switch k {
	case KindNotFound, KindModuleNotFound:
		return "ENOENT"
	case KindNotADirectory:
		return "ENOTDIR"
	case KindIsDirectory:
		return "EISDIR"
	case KindAlreadyExists:
		return "EEXIST"
	case KindBadDescriptor:
		return "EBADF"
	case KindNotImplemented:
		return "ENOSYS"
	default:
		return ""
	}
}

func describe(k Kind) string {
	switch k {
	case KindNotFound, KindModuleNotFound:
		return "no such file or directory"
	case KindNotADirectory:
		return "not a directory"
	case KindIsDirectory:
		return "illegal operation on a directory"
	case KindAlreadyExists:
		return "file already exists"
	case KindBadDescriptor:
		return "bad file descriptor"
	case KindNotImplemented:
		return "function not implemented"
	case KindMissingBinding:
		return "missing binding"
	case KindMissingNative:
		return "missing native"
	case KindEvaluation:
		return "evaluation failed"
	case KindProtocol:
		return "protocol violation"
	default:
		return "unknown error"
	}
}

// UVErrors maps errno names to the values exposed through the uv binding.
var UVErrors = map[string]int{
	"E2BIG":           -4093,
	"EACCES":          -4092,
	"EADDRINUSE":      -4091,
	"EADDRNOTAVAIL":   -4090,
	"EAFNOSUPPORT":    -4089,
	"EAGAIN":          -4088,
	"EAI_ADDRFAMILY":  -3000,
	"EAI_AGAIN":       -3001,
	"EAI_BADFLAGS":    -3002,
	"EAI_BADHINTS":    -3013,
	"EAI_CANCELED":    -3003,
	"EAI_FAIL":        -3004,
	"EAI_FAMILY":      -3005,
	"EAI_MEMORY":      -3006,
	"EAI_NODATA":      -3007,
	"EAI_NONAME":      -3008,
	"EAI_OVERFLOW":    -3009,
	"EAI_PROTOCOL":    -3014,
	"EAI_SERVICE":     -3010,
	"EAI_SOCKTYPE":    -3011,
	"EALREADY":        -4084,
	"EBADF":           -4083,
	"EBUSY":           -4082,
	"ECANCELED":       -4081,
	"ECHARSET":        -4080,
	"ECONNABORTED":    -4079,
	"ECONNREFUSED":    -4078,
	"ECONNRESET":      -4077,
	"EDESTADDRREQ":    -4076,
	"EEXIST":          -4075,
	"EFAULT":          -4074,
	"EFBIG":           -4036,
	"EHOSTUNREACH":    -4073,
	"EINTR":           -4072,
	"EINVAL":          -4071,
	"EIO":             -4070,
	"EISCONN":         -4069,
	"EISDIR":          -4068,
	"ELOOP":           -4067,
	"EMFILE":          -4066,
	"EMSGSIZE":        -4065,
	"ENAMETOOLONG":    -4064,
	"ENETDOWN":        -4063,
	"ENETUNREACH":     -4062,
	"ENFILE":          -4061,
	"ENOBUFS":         -4060,
	"ENODEV":          -4059,
	"ENOENT":          -4058,
	"ENOMEM":          -4057,
	"ENONET":          -4056,
	"ENOPROTOOPT":     -4035,
	"ENOSPC":          -4055,
	"ENOSYS":          -4054,
	"ENOTCONN":        -4053,
	"ENOTDIR":         -4052,
	"ENOTEMPTY":       -4051,
	"ENOTSOCK":        -4050,
	"ENOTSUP":         -4049,
	"EPERM":           -4048,
	"EPIPE":           -4047,
	"EPROTO":          -4046,
	"EPROTONOSUPPORT": -4045,
	"EPROTOTYPE":      -4044,
	"ERANGE":          -4034,
	"EROFS":           -4043,
	"ESHUTDOWN":       -4042,
	"ESPIPE":          -4041,
	"ESRCH":           -4040,
	"ETIMEDOUT":       -4039,
	"ETXTBSY":         -4038,
	"EXDEV":           -4037,
	"UNKNOWN":         -4094,
	"EOF":             -4095,
	"ENXIO":           -4033,
	"EMLINK":          -4032,
	"EHOSTDOWN":       -4031,
}
