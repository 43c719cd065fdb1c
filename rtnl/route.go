package rtnl

import (
	"context"
	"errors"
	"iter"
	"net"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	nl "github.com/scitags/nlmux/netlink"
)

var errNoDestination = errors.New("a route needs either a destination or a gateway")

// Route describes a unicast route. When adding, zero values get sensible
// defaults: the main table, RTPROT_BOOT and universe scope (link scope when
// there's no gateway). When deleting, a zero Protocol or Scope matches any
// route. An invalid Dst means the default route of the gateway's family.
type Route struct {
	Dst      netip.Prefix
	Gateway  netip.Addr
	Src      netip.Addr
	OutIface uint32
	Table    uint32
	Priority uint32
	Protocol uint8
	Scope    uint8
}

// message builds the body of an RTM_NEWROUTE or RTM_DELROUTE request.
func (r Route) message(typ netlink.HeaderType) (*rtnetlink.RouteMessage, error) {
	dst := r.Dst
	if !dst.IsValid() {
		if !r.Gateway.IsValid() {
			return nil, errNoDestination
		}
		dst = netip.PrefixFrom(netip.IPv4Unspecified(), 0)
		if r.Gateway.Unmap().Is6() {
			dst = netip.PrefixFrom(netip.IPv6Unspecified(), 0)
		}
	}
	dst = dst.Masked()

	m := &rtnetlink.RouteMessage{
		Family:    familyOf(dst.Addr()),
		DstLength: uint8(dst.Bits()),
		Protocol:  r.Protocol,
		Scope:     r.Scope,
		Type:      unix.RTN_UNICAST,
		Attributes: rtnetlink.RouteAttributes{
			OutIface: r.OutIface,
			Priority: r.Priority,
		},
	}

	if typ == unix.RTM_DELROUTE {
		// The kernel only skips comparing protocol and type when they're 0,
		// and scope when it's RT_SCOPE_NOWHERE.
		m.Type = unix.RTN_UNSPEC
		if m.Scope == 0 {
			m.Scope = unix.RT_SCOPE_NOWHERE
		}
	} else {
		if m.Protocol == 0 {
			m.Protocol = unix.RTPROT_BOOT
		}
		if m.Scope == 0 && !r.Gateway.IsValid() {
			m.Scope = unix.RT_SCOPE_LINK
		}
	}

	// The header only fits 8-bit table IDs, the attribute carries the rest.
	table := r.Table
	if table == 0 {
		table = unix.RT_TABLE_MAIN
	}
	if table < 256 {
		m.Table = uint8(table)
	} else {
		m.Table = unix.RT_TABLE_UNSPEC
	}
	m.Attributes.Table = table

	if dst.Bits() > 0 {
		m.Attributes.Dst = net.IP(dst.Addr().Unmap().AsSlice())
	}
	if r.Gateway.IsValid() {
		m.Attributes.Gateway = net.IP(r.Gateway.Unmap().AsSlice())
	}
	if r.Src.IsValid() {
		m.Attributes.Src = net.IP(r.Src.Unmap().AsSlice())
	}

	return m, nil
}

type RouteService struct {
	h nl.Handle
}

func (s *RouteService) List(ctx context.Context, family uint8) iter.Seq2[rtnetlink.RouteMessage, error] {
	return dump[rtnetlink.RouteMessage](ctx, s.h, nl.Request{
		Kind:      nl.KindRoute,
		Type:      unix.RTM_GETROUTE,
		Flags:     netlink.Dump,
		Body:      &rtnetlink.RouteMessage{Family: family},
		Multipart: true,
	}, unix.RTM_NEWROUTE)
}

// Get asks the kernel which route it would use to reach dst.
func (s *RouteService) Get(ctx context.Context, dst netip.Addr) (rtnetlink.RouteMessage, error) {
	dst = dst.Unmap()

	return get[rtnetlink.RouteMessage](ctx, s.h, nl.Request{
		Kind: nl.KindRoute,
		Type: unix.RTM_GETROUTE,
		Body: &rtnetlink.RouteMessage{
			Family:    familyOf(dst),
			DstLength: uint8(dst.BitLen()),
			Attributes: rtnetlink.RouteAttributes{
				Dst: net.IP(dst.AsSlice()),
			},
		},
	}, unix.RTM_NEWROUTE)
}

func (s *RouteService) Add(ctx context.Context, r Route) error {
	return s.modify(ctx, unix.RTM_NEWROUTE, netlink.Create|netlink.Excl, r)
}

// Replace adds r or overwrites the route with the same destination.
func (s *RouteService) Replace(ctx context.Context, r Route) error {
	return s.modify(ctx, unix.RTM_NEWROUTE, netlink.Create|netlink.Replace, r)
}

func (s *RouteService) Delete(ctx context.Context, r Route) error {
	return s.modify(ctx, unix.RTM_DELROUTE, 0, r)
}

func (s *RouteService) modify(ctx context.Context, typ netlink.HeaderType, flags netlink.HeaderFlags, r Route) error {
	m, err := r.message(typ)
	if err != nil {
		return err
	}

	return s.h.Acknowledge(ctx, nl.Request{
		Kind:  nl.KindRoute,
		Type:  typ,
		Flags: flags,
		Body:  m,
	})
}
