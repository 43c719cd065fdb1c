package rtnl

import (
	"context"
	"iter"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	nl "github.com/scitags/nlmux/netlink"
)

type NeighService struct {
	h nl.Handle
}

func (s *NeighService) List(ctx context.Context, family uint8) iter.Seq2[rtnetlink.NeighMessage, error] {
	return dump[rtnetlink.NeighMessage](ctx, s.h, nl.Request{
		Kind:      nl.KindNeighbour,
		Type:      unix.RTM_GETNEIGH,
		Flags:     netlink.Dump,
		Body:      &rtnetlink.NeighMessage{Family: uint16(family)},
		Multipart: true,
	}, unix.RTM_NEWNEIGH)
}

// Add installs a permanent entry, replacing any existing one for addr.
func (s *NeighService) Add(ctx context.Context, index uint32, addr netip.Addr, lladdr net.HardwareAddr) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind:  nl.KindNeighbour,
		Type:  unix.RTM_NEWNEIGH,
		Flags: netlink.Create | netlink.Replace,
		Body:  neighMessage(index, addr, lladdr, unix.NUD_PERMANENT),
	})
}

func (s *NeighService) Delete(ctx context.Context, index uint32, addr netip.Addr) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindNeighbour,
		Type: unix.RTM_DELNEIGH,
		Body: neighMessage(index, addr, nil, 0),
	})
}

func neighMessage(index uint32, addr netip.Addr, lladdr net.HardwareAddr, state uint16) *rtnetlink.NeighMessage {
	addr = addr.Unmap()

	return &rtnetlink.NeighMessage{
		Family: uint16(familyOf(addr)),
		Index:  index,
		State:  state,
		Attributes: &rtnetlink.NeighAttributes{
			Address:   net.IP(addr.AsSlice()),
			LLAddress: lladdr,
			IfIndex:   index,
		},
	}
}
