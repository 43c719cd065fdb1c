package rtnl

import (
	"errors"
	"fmt"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"
)

// VETH_INFO_PEER from include/uapi/linux/veth.h
const vethInfoPeer = 1

var (
	ErrNoParent      = errors.New("a vlan needs a parent link")
	ErrInvalidVlanID = errors.New("vlan IDs go from 0 to 4094")
	ErrNoPeer        = errors.New("a veth pair needs a name for its peer")
)

// A LinkKind fills in the driver specific parts of an RTM_NEWLINK request.
type LinkKind interface {
	Kind() string
	apply(attrs *rtnetlink.LinkAttributes) error
}

type Dummy struct{}

func (Dummy) Kind() string { return "dummy" }

func (Dummy) apply(attrs *rtnetlink.LinkAttributes) error {
	attrs.Info = &rtnetlink.LinkInfo{Kind: "dummy"}
	return nil
}

type Bridge struct {
	// STP turns the spanning tree protocol on.
	STP bool
}

func (Bridge) Kind() string { return "bridge" }

func (b Bridge) apply(attrs *rtnetlink.LinkAttributes) error {
	attrs.Info = &rtnetlink.LinkInfo{Kind: "bridge"}
	if !b.STP {
		return nil
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(unix.IFLA_BR_STP_STATE, 1)
	data, err := ae.Encode()
	if err != nil {
		return err
	}
	attrs.Info.Data = data

	return nil
}

type Vlan struct {
	Parent uint32
	ID     uint16
}

func (Vlan) Kind() string { return "vlan" }

func (v Vlan) apply(attrs *rtnetlink.LinkAttributes) error {
	if v.Parent == 0 {
		return ErrNoParent
	}
	if v.ID >= 4095 {
		return fmt.Errorf("%w: got %d", ErrInvalidVlanID, v.ID)
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint16(unix.IFLA_VLAN_ID, v.ID)
	data, err := ae.Encode()
	if err != nil {
		return err
	}

	// rtnetlink encodes Type as IFLA_LINK, which is what the kernel reads
	// the lower device from.
	attrs.Type = v.Parent
	attrs.Info = &rtnetlink.LinkInfo{Kind: "vlan", Data: data}

	return nil
}

type Veth struct {
	Peer string
}

func (Veth) Kind() string { return "veth" }

// apply nests a whole struct ifinfomsg describing the peer inside
// VETH_INFO_PEER.
func (v Veth) apply(attrs *rtnetlink.LinkAttributes) error {
	if v.Peer == "" {
		return ErrNoPeer
	}

	peer, err := (&rtnetlink.LinkMessage{
		Family:     unix.AF_UNSPEC,
		Attributes: &rtnetlink.LinkAttributes{Name: v.Peer},
	}).MarshalBinary()
	if err != nil {
		return err
	}

	ae := netlink.NewAttributeEncoder()
	ae.Bytes(vethInfoPeer, peer)
	data, err := ae.Encode()
	if err != nil {
		return err
	}
	attrs.Info = &rtnetlink.LinkInfo{Kind: "veth", Data: data}

	return nil
}

// ParseLinkKind maps the kinds the CLI knows about to an empty LinkKind.
// Vlans and veths still need their fields filled in.
func ParseLinkKind(s string) (LinkKind, error) {
	switch s {
	case "dummy":
		return Dummy{}, nil
	case "bridge":
		return Bridge{}, nil
	case "vlan":
		return Vlan{}, nil
	case "veth":
		return Veth{}, nil
	}
	return nil, fmt.Errorf("unsupported link kind %q", s)
}
