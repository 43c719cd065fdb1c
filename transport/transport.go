// Package transport provides the datagram channel the connection driver
// talks to the kernel through. The Linux implementation is a thin layer on
// top of github.com/mdlayher/socket; any other platform gets a stub whose
// Dial always fails.
//
// Be sure to check netlink(7) for the semantics of the socket options we
// set, most notably NETLINK_PKTINFO which lets us tell unicast replies apart
// from multicast notifications carrying the same sequence number.
package transport

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"
)

var ErrNotSupported = errors.New("netlink sockets are not supported on this platform")

// A Datagram is the unit returned by a single receive call. It can carry
// several netlink messages back to back.
type Datagram struct {
	Data []byte

	// Group is the multicast group the datagram was delivered on. It's 0
	// for unicast traffic (i.e. replies to our own requests).
	Group uint32
}

// Transport is an addressable datagram channel bound to the kernel's netlink
// subsystem. Receive is only ever called from a single goroutine and so is
// Send: implementations need not be safe for concurrent use of the same
// method, but Close must be callable while Receive is blocked.
type Transport interface {
	Send(ctx context.Context, b []byte) error
	Receive(ctx context.Context) (Datagram, error)
	JoinGroup(group uint32) error
	LeaveGroup(group uint32) error
	PID() uint32
	Close() error
}

// IsTemporary reports whether a receive error is worth retrying.
func IsTemporary(err error) bool {
	return errors.Is(err, unix.EINTR) || errors.Is(err, unix.EAGAIN)
}

// IsOverrun reports whether the kernel dropped messages because our receive
// buffer was full. The socket is still usable after this happens.
func IsOverrun(err error) bool {
	return errors.Is(err, unix.ENOBUFS)
}
