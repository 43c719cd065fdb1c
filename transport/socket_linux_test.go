//go:build linux

package transport

import (
	"context"
	"testing"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/mdlayher/netlink/nlenc"
	"golang.org/x/sys/unix"
)

func dialOrSkip(t *testing.T) *Socket {
	t.Helper()

	s, err := Dial(nil)
	if err != nil {
		t.Skipf("couldn't open a netlink socket: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	return s
}

func TestDialAndDump(t *testing.T) {
	s := dialOrSkip(t)

	if s.PID() == 0 {
		t.Errorf("the kernel should have assigned us a port ID")
	}

	// struct ifinfomsg is 16 bytes, all zeroes means every family.
	req := netlink.Message{
		Header: netlink.Header{
			Length:   32,
			Type:     unix.RTM_GETLINK,
			Flags:    netlink.Request | netlink.Dump,
			Sequence: 1,
		},
		Data: make([]byte, 16),
	}
	b, err := req.MarshalBinary()
	if err != nil {
		t.Fatalf("error marshalling the request: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.Send(ctx, b); err != nil {
		t.Fatalf("error sending: %v", err)
	}

	dg, err := s.Receive(ctx)
	if err != nil {
		t.Fatalf("error receiving: %v", err)
	}

	if dg.Group != 0 {
		t.Errorf("a reply should be unicast, got group %d", dg.Group)
	}
	if len(dg.Data) < 16 {
		t.Fatalf("datagram too short: %d bytes", len(dg.Data))
	}
	if seq := nlenc.Uint32(dg.Data[8:12]); seq != 1 {
		t.Errorf("unexpected sequence number %d", seq)
	}
}

func TestGroupMembership(t *testing.T) {
	s := dialOrSkip(t)

	// Group 39 can't be expressed in the bind-time bitmask.
	for _, g := range []uint32{unix.RTNLGRP_LINK, 39} {
		if err := s.JoinGroup(g); err != nil {
			t.Errorf("error joining group %d: %v", g, err)
			continue
		}
		if err := s.LeaveGroup(g); err != nil {
			t.Errorf("error leaving group %d: %v", g, err)
		}
	}
}

func TestReceiveHonoursContext(t *testing.T) {
	s := dialOrSkip(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := s.Receive(ctx); err == nil {
		t.Errorf("receiving on an idle socket should time out")
	}
}
