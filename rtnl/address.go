package rtnl

import (
	"context"
	"fmt"
	"iter"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	nl "github.com/scitags/nlmux/netlink"
)

type AddressService struct {
	h nl.Handle
}

// List dumps addresses of the given family. unix.AF_UNSPEC returns all of
// them.
func (s *AddressService) List(ctx context.Context, family uint8) iter.Seq2[rtnetlink.AddressMessage, error] {
	return dump[rtnetlink.AddressMessage](ctx, s.h, nl.Request{
		Kind:      nl.KindAddress,
		Type:      unix.RTM_GETADDR,
		Flags:     netlink.Dump,
		Body:      &rtnetlink.AddressMessage{Family: family},
		Multipart: true,
	}, unix.RTM_NEWADDR)
}

func (s *AddressService) Add(ctx context.Context, index uint32, prefix netip.Prefix) error {
	m, err := addressMessage(index, prefix)
	if err != nil {
		return err
	}

	return s.h.Acknowledge(ctx, nl.Request{
		Kind:  nl.KindAddress,
		Type:  unix.RTM_NEWADDR,
		Flags: netlink.Create | netlink.Excl,
		Body:  m,
	})
}

func (s *AddressService) Delete(ctx context.Context, index uint32, prefix netip.Prefix) error {
	m, err := addressMessage(index, prefix)
	if err != nil {
		return err
	}

	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindAddress,
		Type: unix.RTM_DELADDR,
		Body: m,
	})
}

func addressMessage(index uint32, prefix netip.Prefix) (*rtnetlink.AddressMessage, error) {
	if !prefix.IsValid() {
		return nil, fmt.Errorf("invalid prefix %s", prefix)
	}

	addr := prefix.Addr().Unmap()
	ip := net.IP(addr.AsSlice())

	m := &rtnetlink.AddressMessage{
		Family:       familyOf(addr),
		PrefixLength: uint8(prefix.Bits()),
		Scope:        unix.RT_SCOPE_UNIVERSE,
		Index:        index,
		Attributes: &rtnetlink.AddressAttributes{
			Address: ip,
			Local:   ip,
		},
	}

	if addr.Is4() && prefix.Bits() < 31 {
		m.Attributes.Broadcast = broadcast(netip.PrefixFrom(addr, prefix.Bits()))
	}

	return m, nil
}

func familyOf(addr netip.Addr) uint8 {
	if addr.Is4() || addr.Is4In6() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// broadcast returns the last address of an IPv4 prefix.
func broadcast(p netip.Prefix) net.IP {
	b := p.Masked().Addr().As4()
	hostBits := 32 - p.Bits()
	for i := 3; i >= 0 && hostBits > 0; i-- {
		n := min(hostBits, 8)
		b[i] |= byte(1<<n - 1)
		hostBits -= n
	}
	return net.IP(b[:])
}
