// Package errno translates between the kqueue runtime's BSD-flavored
// error taxonomy (§7 of the design) and concrete syscall.Errno values,
// the way tnet's netError wraps connection errors with a fixed type.
package errno

import (
	"syscall"

	"github.com/pkg/errors"
)

// Error wraps a syscall.Errno so callers can both treat it as a plain
// error and recover the numeric errno for EV_ERROR/EV_RECEIPT copyout.
type Error struct {
	Errno syscall.Errno
	msg   string
}

// New builds an Error for errno with additional context.
func New(e syscall.Errno, context string) *Error {
	return &Error{Errno: e, msg: context}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.msg == "" {
		return e.Errno.Error()
	}
	return e.msg + ": " + e.Errno.Error()
}

// Unwrap lets errors.Is(err, syscall.EBADF) and friends work.
func (e *Error) Unwrap() error {
	return e.Errno
}

var (
	// ErrBadFileDescriptor is returned when the kqueue descriptor is invalid
	// or has already been closed.
	ErrBadFileDescriptor = New(syscall.EBADF, "kqueue: bad descriptor")
	// ErrInvalid is returned for an unknown filter, contradictory flags, a
	// malformed timer spec, or an ident out of range for the filter.
	ErrInvalid = New(syscall.EINVAL, "kqueue: invalid argument")
	// ErrNotFound is returned when EV_ENABLE/EV_DISABLE/EV_DELETE targets a
	// knote that does not exist.
	ErrNotFound = New(syscall.ENOENT, "kqueue: no such knote")
	// ErrNoMemory is returned when a knote or its backing OS resource
	// could not be allocated.
	ErrNoMemory = New(syscall.ENOMEM, "kqueue: cannot allocate resource")
	// ErrInterrupted is returned when a wait is interrupted before any
	// event was produced.
	ErrInterrupted = New(syscall.EINTR, "kqueue: interrupted")
	// ErrFault is returned when the caller supplied an unusable buffer.
	ErrFault = New(syscall.EFAULT, "kqueue: bad address")
	// ErrExists is returned when EV_ADD targets a knote that already
	// exists for a filter that does not treat ADD as an idempotent merge.
	ErrExists = New(syscall.EEXIST, "kqueue: knote already exists")
	// ErrNotSupported is returned for filter/fflag combinations the
	// platform cannot express (e.g. every EVFILT_PROC sub-note other than
	// NOTE_EXIT). A filter not implemented on the current platform fails
	// with ErrInvalid instead.
	ErrNotSupported = New(syscall.ENOTSUP, "kqueue: not supported on this platform")
)

// FromSyscall wraps a raw syscall error (e.g. returned by a unix.* call)
// with context, preserving the underlying errno for EV_ERROR reporting.
func FromSyscall(err error, context string) error {
	if err == nil {
		return nil
	}
	if errno, ok := err.(syscall.Errno); ok {
		return errors.Wrap(New(errno, context), context)
	}
	return errors.Wrap(err, context)
}

// ToErrno extracts the syscall.Errno carried by err, if any, defaulting
// to EINVAL so a copyout always has a concrete number to report.
func ToErrno(err error) syscall.Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Errno
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EINVAL
}
