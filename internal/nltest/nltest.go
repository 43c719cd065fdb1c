// Package nltest provides an in-memory transport.Transport for tests. Tests
// inspect what the connection sent with Request and script the kernel's side
// with Deliver, or install a Func answering every request automatically.
package nltest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/josharian/native"
	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"

	"github.com/scitags/nlmux/transport"
)

// PID is the port ID the fake socket claims to be bound to.
const PID = 4242

// Func answers a request. Whatever it returns is delivered as one datagram.
type Func func(req netlink.Message) []netlink.Message

type rx struct {
	dg  transport.Datagram
	err error
}

type Transport struct {
	fn Func

	mu      sync.Mutex
	sent    []netlink.Message
	groups  map[uint32]bool
	sendErr error

	requests  chan netlink.Message
	rx        chan rx
	closed    chan struct{}
	closeOnce sync.Once
}

func New() *Transport {
	return &Transport{
		groups:   map[uint32]bool{},
		requests: make(chan netlink.Message, 1024),
		rx:       make(chan rx, 1024),
		closed:   make(chan struct{}),
	}
}

// NewFunc returns a Transport answering every request with fn.
func NewFunc(fn Func) *Transport {
	t := New()
	t.fn = fn
	return t
}

func (t *Transport) PID() uint32 {
	return PID
}

func (t *Transport) Send(ctx context.Context, b []byte) error {
	t.mu.Lock()
	err := t.sendErr
	t.mu.Unlock()
	if err != nil {
		return err
	}

	select {
	case <-t.closed:
		return net.ErrClosed
	default:
	}

	var m netlink.Message
	if err := m.UnmarshalBinary(b); err != nil {
		return fmt.Errorf("fake transport got a malformed request: %w", err)
	}

	t.mu.Lock()
	t.sent = append(t.sent, m)
	t.mu.Unlock()

	if t.fn != nil {
		if replies := t.fn(m); len(replies) > 0 {
			t.Deliver(0, replies...)
		}
		return nil
	}

	t.requests <- m

	return nil
}

func (t *Transport) Receive(ctx context.Context) (transport.Datagram, error) {
	select {
	case r := <-t.rx:
		return r.dg, r.err
	case <-t.closed:
		return transport.Datagram{}, net.ErrClosed
	case <-ctx.Done():
		return transport.Datagram{}, ctx.Err()
	}
}

func (t *Transport) JoinGroup(group uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.groups[group] = true
	return nil
}

func (t *Transport) LeaveGroup(group uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.groups, group)
	return nil
}

func (t *Transport) Close() error {
	t.closeOnce.Do(func() { close(t.closed) })
	return nil
}

// Joined reports whether group is currently joined.
func (t *Transport) Joined(group uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.groups[group]
}

// Sent returns every request sent so far.
func (t *Transport) Sent() []netlink.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]netlink.Message(nil), t.sent...)
}

// SetSendError makes every following Send fail with err.
func (t *Transport) SetSendError(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sendErr = err
}

var ErrTimeout = errors.New("timed out waiting for a request")

// Request waits for the next request sent through the transport. Requests
// answered by a Func are not reported here.
func (t *Transport) Request(timeout time.Duration) (netlink.Message, error) {
	select {
	case m := <-t.requests:
		return m, nil
	case <-time.After(timeout):
		return netlink.Message{}, ErrTimeout
	}
}

// Deliver packs msgs into a single datagram. A group other than 0 makes it
// look like a multicast delivery.
func (t *Transport) Deliver(group uint32, msgs ...netlink.Message) {
	t.DeliverRaw(group, Marshal(msgs...))
}

func (t *Transport) DeliverRaw(group uint32, b []byte) {
	t.rx <- rx{dg: transport.Datagram{Data: b, Group: group}}
}

// Fail makes the pending or next Receive call return err.
func (t *Transport) Fail(err error) {
	t.rx <- rx{err: err}
}

// Marshal lays out msgs back to back, fixing up their lengths.
func Marshal(msgs ...netlink.Message) []byte {
	var out []byte
	for _, m := range msgs {
		m.Header.Length = uint32(align(16 + len(m.Data)))
		b, err := m.MarshalBinary()
		if err != nil {
			panic(fmt.Sprintf("couldn't marshal test message: %v", err))
		}
		out = append(out, b...)
	}
	return out
}

func align(n int) int {
	return (n + 3) &^ 3
}

// Reply builds a message answering req.
func Reply(req netlink.Message, typ netlink.HeaderType, flags netlink.HeaderFlags, data []byte) netlink.Message {
	return netlink.Message{
		Header: netlink.Header{
			Type:     typ,
			Flags:    flags,
			Sequence: req.Header.Sequence,
			PID:      PID,
		},
		Data: data,
	}
}

// Fragment builds one part of a multipart reply.
func Fragment(req netlink.Message, typ netlink.HeaderType, data []byte) netlink.Message {
	return Reply(req, typ, netlink.Multi, data)
}

// Done terminates a multipart reply.
func Done(req netlink.Message) netlink.Message {
	return Reply(req, netlink.Done, netlink.Multi, nlenc.Int32Bytes(0))
}

// DoneError terminates a dump with an error code.
func DoneError(req netlink.Message, errno unix.Errno) netlink.Message {
	return Reply(req, netlink.Done, netlink.Multi, nlenc.Int32Bytes(-int32(errno)))
}

// Ack acknowledges req.
func Ack(req netlink.Message) netlink.Message {
	return Error(req, 0)
}

// Error rejects req with errno, echoing its header like the kernel does when
// NETLINK_CAP_ACK is set.
func Error(req netlink.Message, errno unix.Errno) netlink.Message {
	data := make([]byte, 4+16)
	native.Endian.PutUint32(data[0:4], uint32(-int32(errno)))
	nlenc.PutUint32(data[4:8], req.Header.Length)
	nlenc.PutUint16(data[8:10], uint16(req.Header.Type))
	nlenc.PutUint16(data[10:12], uint16(req.Header.Flags))
	nlenc.PutUint32(data[12:16], req.Header.Sequence)
	nlenc.PutUint32(data[16:20], req.Header.PID)

	flags := netlink.Capped
	if errno == 0 {
		flags = 0
	}

	return Reply(req, netlink.Error, flags, data)
}

// ExtError is like Error but carries an extended acknowledgement message.
func ExtError(req netlink.Message, errno unix.Errno, msg string, offset uint32) netlink.Message {
	m := Error(req, errno)
	m.Header.Flags |= netlink.AcknowledgeTLVs

	ae := netlink.NewAttributeEncoder()
	ae.String(unix.NLMSGERR_ATTR_MSG, msg)
	ae.Uint32(unix.NLMSGERR_ATTR_OFFS, offset)
	tlvs, err := ae.Encode()
	if err != nil {
		panic(fmt.Sprintf("couldn't encode ext ack attributes: %v", err))
	}
	m.Data = append(m.Data, tlvs...)

	return m
}
