package dbspgraph

import "golang.org/x/xerrors"

// ErrKind classifies the failures the engine can surface, mirroring the
// three-way split the original implementation uses for its error enum.
type ErrKind int

const (
	// KindInvalidArgument covers malformed input: parse failures, unknown
	// algorithm names, missing required metadata. The caller can recover by
	// fixing its request.
	KindInvalidArgument ErrKind = iota
	// KindIO covers file or network read/write failure. Propagated as-is
	// to the operation boundary.
	KindIO
	// KindInternal covers codec failures, protocol mismatches, state-store
	// errors and unexpected frame kinds. Fatal to the current job.
	KindInternal
)

func (k ErrKind) String() string {
	switch k {
	case KindInvalidArgument:
		return "invalid_argument"
	case KindIO:
		return "io"
	case KindInternal:
		return "internal"
	default:
		return "unknown"
	}
}

// Error is the engine's structured error type. It wraps an underlying cause
// (if any) and tags it with the ErrKind that determines how the caller
// should react.
type Error struct {
	Kind ErrKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Kind.String() + ": " + e.Msg + ": " + e.Err.Error()
	}
	return e.Kind.String() + ": " + e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Invalid constructs a KindInvalidArgument error.
func Invalid(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidArgument, Msg: xerrors.Errorf(format, args...).Error()}
}

// IOErr constructs a KindIO error wrapping cause.
func IOErr(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindIO, Msg: xerrors.Errorf(format, args...).Error(), Err: cause}
}

// Internal constructs a KindInternal error wrapping cause.
func Internal(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindInternal, Msg: xerrors.Errorf(format, args...).Error(), Err: cause}
}

// IsKind reports whether err (or any error it wraps) is a *Error of kind k.
func IsKind(err error, k ErrKind) bool {
	var e *Error
	if xerrors.As(err, &e) {
		return e.Kind == k
	}
	return false
}
