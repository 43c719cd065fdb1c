package netlink

import (
	"errors"
	"fmt"

	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

var (
	// ErrConnectionClosed is returned by every operation on a connection
	// whose transport failed or which was closed.
	ErrConnectionClosed = errors.New("netlink connection closed")

	// ErrDumpInterrupted ends a dump during which the kernel flagged
	// NLM_F_DUMP_INTR: the fragments already yielded may be inconsistent.
	ErrDumpInterrupted = errors.New("netlink dump interrupted, results may be inconsistent")

	// ErrOverrun signals the kernel dropped messages because the socket's
	// receive buffer filled up.
	ErrOverrun = errors.New("netlink receive buffer overrun")
)

// EncodeError is returned when a request's body cannot be serialised. The
// request never reaches the wire.
type EncodeError struct {
	Kind Kind
	Err  error
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("couldn't encode %s request: %v", e.Kind, e.Err)
}

func (e *EncodeError) Unwrap() error { return e.Err }

// TransportError wraps a failure of the underlying socket.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("netlink %s failed: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// DecodeError reports an inbound message we couldn't make sense of. When the
// sequence number could still be read Resolved is set and the matching
// exchange is failed with this error.
type DecodeError struct {
	Sequence uint32
	Resolved bool
	Err      error
}

func (e *DecodeError) Error() string {
	if e.Resolved {
		return fmt.Sprintf("couldn't decode netlink message with sequence %d: %v", e.Sequence, e.Err)
	}
	return fmt.Sprintf("couldn't decode netlink message: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Error is a failure reported by the kernel in an NLMSG_ERROR frame or at the
// end of a dump. Code is the positive errno value so that
//
//	errors.Is(err, unix.EEXIST)
//
// works as expected.
type Error struct {
	Code  int32
	Name  string
	Class Class

	// Message and Offset are filled in from extended acknowledgements.
	Message string
	Offset  uint32

	// Request is the header of the request the kernel rejected, when echoed.
	Request netlink.Header
}

func (e *Error) Error() string {
	s := fmt.Sprintf("netlink error %d (%s)", e.Code, e.Name)
	if e.Message != "" {
		s += ": " + e.Message
	}
	return s
}

func (e *Error) Errno() unix.Errno {
	return unix.Errno(e.Code)
}

func (e *Error) Is(target error) bool {
	errno, ok := target.(unix.Errno)
	return ok && int32(errno) == e.Code
}

// IsNotExist reports whether err is a kernel error meaning the object is
// missing.
func IsNotExist(err error) bool {
	return hasClass(err, ClassNotFound)
}

// IsExist reports whether err is a kernel error meaning the object is
// already there.
func IsExist(err error) bool {
	return hasClass(err, ClassExists)
}

func IsPermission(err error) bool {
	return hasClass(err, ClassPermission)
}

func hasClass(err error, c Class) bool {
	var nerr *Error
	if !errors.As(err, &nerr) {
		return false
	}
	return nerr.Class == c
}
