//go:build linux

package transport

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/josharian/native"
	"github.com/mdlayher/socket"
	"golang.org/x/sys/unix"
)

var logger = slog.Default().With("t", "transport")

// Socket is a raw AF_NETLINK socket. Reads are sized by peeking at the
// pending datagram first so that we never truncate a large dump fragment.
type Socket struct {
	c   *socket.Conn
	pid uint32

	buf []byte
	oob []byte
}

func Dial(conf *Config) (*Socket, error) {
	if conf == nil {
		def := DefaultConfig
		conf = &def
	}

	c, err := socket.Socket(unix.AF_NETLINK, unix.SOCK_RAW, conf.Protocol, "netlink", &socket.Config{NetNS: conf.NetNS})
	if err != nil {
		return nil, fmt.Errorf("couldn't open the netlink socket: %w", err)
	}

	if err := c.Bind(&unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		c.Close()
		return nil, fmt.Errorf("couldn't bind the netlink socket: %w", err)
	}

	sa, err := c.Getsockname()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("couldn't get the socket's address: %w", err)
	}
	nlsa, ok := sa.(*unix.SockaddrNetlink)
	if !ok {
		c.Close()
		return nil, fmt.Errorf("unexpected socket address type %T", sa)
	}

	s := &Socket{
		c:   c,
		pid: nlsa.Pid,
		buf: make([]byte, os.Getpagesize()),
		oob: make([]byte, unix.CmsgSpace(4)),
	}

	if err := s.configure(conf); err != nil {
		c.Close()
		return nil, err
	}

	logger.Debug("netlink socket ready", "pid", s.pid, "protocol", conf.Protocol, "netns", conf.NetNS)

	return s, nil
}

func (s *Socket) configure(conf *Config) error {
	if err := s.c.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_PKTINFO, 1); err != nil {
		return fmt.Errorf("couldn't enable NETLINK_PKTINFO: %w", err)
	}

	// Older kernels lack some of these options: we just carry on without them.
	opts := []struct {
		name    string
		opt     int
		enabled bool
	}{
		{"NETLINK_EXT_ACK", unix.NETLINK_EXT_ACK, conf.ExtendedAck},
		{"NETLINK_CAP_ACK", unix.NETLINK_CAP_ACK, conf.CapAck},
		{"NETLINK_GET_STRICT_CHK", unix.NETLINK_GET_STRICT_CHK, conf.StrictCheck},
	}
	for _, o := range opts {
		if !o.enabled {
			continue
		}
		if err := s.c.SetsockoptInt(unix.SOL_NETLINK, o.opt, 1); err != nil {
			logger.Warn("couldn't set socket option", "opt", o.name, "err", err)
		}
	}

	if conf.ReadBuffer > 0 {
		if err := s.c.SetReadBuffer(conf.ReadBuffer); err != nil {
			return fmt.Errorf("couldn't set the read buffer size: %w", err)
		}
	}

	if conf.WriteBuffer > 0 {
		if err := s.c.SetWriteBuffer(conf.WriteBuffer); err != nil {
			return fmt.Errorf("couldn't set the write buffer size: %w", err)
		}
	}

	for _, g := range conf.Groups {
		if err := s.JoinGroup(g); err != nil {
			return err
		}
	}

	return nil
}

func (s *Socket) PID() uint32 {
	return s.pid
}

func (s *Socket) Send(ctx context.Context, b []byte) error {
	if _, err := s.c.Sendmsg(ctx, b, nil, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}, 0); err != nil {
		return err
	}
	return nil
}

// Receive blocks until a datagram arrives, the context is cancelled or the
// socket is closed. The returned slice is owned by the caller.
func (s *Socket) Receive(ctx context.Context) (Datagram, error) {
	for {
		n, _, _, _, err := s.c.Recvmsg(ctx, s.buf, nil, unix.MSG_PEEK|unix.MSG_TRUNC)
		if err != nil {
			return Datagram{}, err
		}
		if n <= len(s.buf) {
			break
		}
		s.buf = make([]byte, n)
	}

	n, oobn, _, _, err := s.c.Recvmsg(ctx, s.buf, s.oob, 0)
	if err != nil {
		return Datagram{}, err
	}

	dg := Datagram{Data: make([]byte, n)}
	copy(dg.Data, s.buf[:n])

	if oobn > 0 {
		cmsgs, err := unix.ParseSocketControlMessage(s.oob[:oobn])
		if err != nil {
			logger.Warn("couldn't parse control messages", "err", err)
			return dg, nil
		}
		for _, m := range cmsgs {
			if m.Header.Level == unix.SOL_NETLINK && m.Header.Type == unix.NETLINK_PKTINFO && len(m.Data) >= 4 {
				dg.Group = native.Endian.Uint32(m.Data[:4])
			}
		}
	}

	return dg, nil
}

// JoinGroup relies on NETLINK_ADD_MEMBERSHIP rather than the bind-time
// bitmask, which only covers groups 1 through 32.
func (s *Socket) JoinGroup(group uint32) error {
	if err := s.c.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_ADD_MEMBERSHIP, int(group)); err != nil {
		return fmt.Errorf("couldn't join multicast group %d: %w", group, err)
	}
	return nil
}

func (s *Socket) LeaveGroup(group uint32) error {
	if err := s.c.SetsockoptInt(unix.SOL_NETLINK, unix.NETLINK_DROP_MEMBERSHIP, int(group)); err != nil {
		return fmt.Errorf("couldn't leave multicast group %d: %w", group, err)
	}
	return nil
}

func (s *Socket) Close() error {
	return s.c.Close()
}
