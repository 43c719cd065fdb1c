package rtnl

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/netip"

	"github.com/josharian/native"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	nl "github.com/scitags/nlmux/netlink"
)

const (
	// sizeof(struct nhmsg)
	nhMsgLen = 8

	// sizeof(struct nexthop_grp)
	nhGroupLen = 8
)

var (
	errShortNhMsg     = errors.New("nexthop message shorter than struct nhmsg")
	errBadNexthopGrp  = errors.New("NHA_GROUP isn't a whole number of struct nexthop_grp")
	ErrNoNexthopID    = errors.New("nexthop objects need an ID")
	ErrNexthopMissing = errors.New("a nexthop needs a gateway, an output link, a group or to be a blackhole")
)

// NexthopGroupMember is one entry of a multipath group. Weight is stored the
// way the kernel does: one less than the actual weight.
type NexthopGroupMember struct {
	ID     uint32
	Weight uint8
}

// Nexthop is a standalone nexthop object (RTM_*NEXTHOP, Linux 5.3+) that
// routes can refer to by ID.
type Nexthop struct {
	ID        uint32
	Family    uint8
	Protocol  uint8
	Flags     uint32
	OutIface  uint32
	Gateway   netip.Addr
	Blackhole bool
	Group     []NexthopGroupMember
}

// MarshalBinary encodes the struct nhmsg header plus whatever attributes are
// set. Nothing is defaulted here: get and delete requests must carry a
// zeroed header.
func (n Nexthop) MarshalBinary() ([]byte, error) {
	b := make([]byte, nhMsgLen)
	b[0] = n.Family
	b[2] = n.Protocol
	native.Endian.PutUint32(b[4:8], n.Flags)

	ae := netlink.NewAttributeEncoder()
	if n.ID != 0 {
		ae.Uint32(unix.NHA_ID, n.ID)
	}
	if n.Blackhole {
		ae.Flag(unix.NHA_BLACKHOLE, true)
	}
	if n.OutIface != 0 {
		ae.Uint32(unix.NHA_OIF, n.OutIface)
	}
	if n.Gateway.IsValid() {
		ae.Bytes(unix.NHA_GATEWAY, n.Gateway.Unmap().AsSlice())
	}
	if len(n.Group) > 0 {
		grp := make([]byte, nhGroupLen*len(n.Group))
		for i, m := range n.Group {
			native.Endian.PutUint32(grp[i*nhGroupLen:], m.ID)
			grp[i*nhGroupLen+4] = m.Weight
		}
		ae.Bytes(unix.NHA_GROUP, grp)
	}

	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}

	return append(b, attrs...), nil
}

func (n *Nexthop) UnmarshalBinary(b []byte) error {
	if len(b) < nhMsgLen {
		return errShortNhMsg
	}

	*n = Nexthop{
		Family:   b[0],
		Protocol: b[2],
		Flags:    native.Endian.Uint32(b[4:8]),
	}

	if len(b) == nhMsgLen {
		return nil
	}

	ad, err := netlink.NewAttributeDecoder(b[nhMsgLen:])
	if err != nil {
		return err
	}

	for ad.Next() {
		switch ad.Type() {
		case unix.NHA_ID:
			n.ID = ad.Uint32()
		case unix.NHA_BLACKHOLE:
			n.Blackhole = true
		case unix.NHA_OIF:
			n.OutIface = ad.Uint32()
		case unix.NHA_GATEWAY:
			addr, ok := netip.AddrFromSlice(ad.Bytes())
			if !ok {
				return fmt.Errorf("bad NHA_GATEWAY length %d", len(ad.Bytes()))
			}
			n.Gateway = addr
		case unix.NHA_GROUP:
			grp := ad.Bytes()
			if len(grp)%nhGroupLen != 0 {
				return errBadNexthopGrp
			}
			for i := 0; i < len(grp); i += nhGroupLen {
				n.Group = append(n.Group, NexthopGroupMember{
					ID:     native.Endian.Uint32(grp[i : i+4]),
					Weight: grp[i+4],
				})
			}
		}
	}

	return ad.Err()
}

// withDefaults fills in what the kernel insists on when creating nexthops:
// a family matching the gateway (AF_UNSPEC only for groups) and a protocol.
func (n Nexthop) withDefaults() (Nexthop, error) {
	if n.ID == 0 {
		return n, ErrNoNexthopID
	}
	if !n.Blackhole && n.OutIface == 0 && !n.Gateway.IsValid() && len(n.Group) == 0 {
		return n, ErrNexthopMissing
	}

	if n.Family == 0 && len(n.Group) == 0 {
		n.Family = unix.AF_INET
		if n.Gateway.IsValid() {
			n.Family = familyOf(n.Gateway)
		}
	}
	if n.Protocol == 0 {
		n.Protocol = unix.RTPROT_BOOT
	}

	return n, nil
}

type NexthopService struct {
	h nl.Handle
}

// List dumps nexthop objects. unix.AF_UNSPEC returns all of them.
func (s *NexthopService) List(ctx context.Context, family uint8) iter.Seq2[Nexthop, error] {
	return dump[Nexthop](ctx, s.h, nl.Request{
		Kind:      nl.KindNexthop,
		Type:      unix.RTM_GETNEXTHOP,
		Flags:     netlink.Dump,
		Body:      Nexthop{Family: family},
		Multipart: true,
	}, unix.RTM_NEWNEXTHOP)
}

func (s *NexthopService) Get(ctx context.Context, id uint32) (Nexthop, error) {
	if id == 0 {
		return Nexthop{}, ErrNoNexthopID
	}

	return get[Nexthop](ctx, s.h, nl.Request{
		Kind: nl.KindNexthop,
		Type: unix.RTM_GETNEXTHOP,
		Body: Nexthop{ID: id},
	}, unix.RTM_NEWNEXTHOP)
}

func (s *NexthopService) Add(ctx context.Context, n Nexthop) error {
	return s.modify(ctx, netlink.Create|netlink.Excl, n)
}

// Replace adds n or overwrites the nexthop with the same ID.
func (s *NexthopService) Replace(ctx context.Context, n Nexthop) error {
	return s.modify(ctx, netlink.Create|netlink.Replace, n)
}

func (s *NexthopService) Delete(ctx context.Context, id uint32) error {
	if id == 0 {
		return ErrNoNexthopID
	}

	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindNexthop,
		Type: unix.RTM_DELNEXTHOP,
		Body: Nexthop{ID: id},
	})
}

func (s *NexthopService) modify(ctx context.Context, flags netlink.HeaderFlags, n Nexthop) error {
	n, err := n.withDefaults()
	if err != nil {
		return err
	}

	return s.h.Acknowledge(ctx, nl.Request{
		Kind:  nl.KindNexthop,
		Type:  unix.RTM_NEWNEXTHOP,
		Flags: flags,
		Body:  n,
	})
}
