package rtnl

import (
	"context"
	"errors"
	"iter"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	nl "github.com/scitags/nlmux/netlink"
)

var ErrNoName = errors.New("a new link needs a name")

type LinkService struct {
	h nl.Handle
}

func (s *LinkService) List(ctx context.Context) iter.Seq2[rtnetlink.LinkMessage, error] {
	return dump[rtnetlink.LinkMessage](ctx, s.h, nl.Request{
		Kind:      nl.KindLink,
		Type:      unix.RTM_GETLINK,
		Flags:     netlink.Dump,
		Body:      &rtnetlink.LinkMessage{},
		Multipart: true,
	}, unix.RTM_NEWLINK)
}

func (s *LinkService) Get(ctx context.Context, index uint32) (rtnetlink.LinkMessage, error) {
	return get[rtnetlink.LinkMessage](ctx, s.h, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_GETLINK,
		Body: &rtnetlink.LinkMessage{Index: index},
	}, unix.RTM_NEWLINK)
}

func (s *LinkService) ByName(ctx context.Context, name string) (rtnetlink.LinkMessage, error) {
	return get[rtnetlink.LinkMessage](ctx, s.h, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_GETLINK,
		Body: &rtnetlink.LinkMessage{Attributes: &rtnetlink.LinkAttributes{Name: name}},
	}, unix.RTM_NEWLINK)
}

// SetUp flips IFF_UP on. Only the bits set in Change are touched by the
// kernel.
func (s *LinkService) SetUp(ctx context.Context, index uint32) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_SETLINK,
		Body: &rtnetlink.LinkMessage{
			Family: unix.AF_UNSPEC,
			Index:  index,
			Flags:  unix.IFF_UP,
			Change: unix.IFF_UP,
		},
	})
}

func (s *LinkService) SetDown(ctx context.Context, index uint32) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_SETLINK,
		Body: &rtnetlink.LinkMessage{
			Family: unix.AF_UNSPEC,
			Index:  index,
			Flags:  0,
			Change: unix.IFF_UP,
		},
	})
}

func (s *LinkService) SetMTU(ctx context.Context, index, mtu uint32) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_SETLINK,
		Body: &rtnetlink.LinkMessage{
			Family:     unix.AF_UNSPEC,
			Index:      index,
			Attributes: &rtnetlink.LinkAttributes{MTU: mtu},
		},
	})
}

func (s *LinkService) Delete(ctx context.Context, index uint32) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_DELLINK,
		Body: &rtnetlink.LinkMessage{Family: unix.AF_UNSPEC, Index: index},
	})
}

// Add creates a virtual link of the given kind. It fails with EEXIST when
// the name is taken.
func (s *LinkService) Add(ctx context.Context, name string, kind LinkKind) error {
	if name == "" {
		return ErrNoName
	}

	attrs := &rtnetlink.LinkAttributes{Name: name}
	if err := kind.apply(attrs); err != nil {
		return err
	}

	return s.h.Acknowledge(ctx, nl.Request{
		Kind:  nl.KindLink,
		Type:  unix.RTM_NEWLINK,
		Flags: netlink.Create | netlink.Excl,
		Body:  &rtnetlink.LinkMessage{Family: unix.AF_UNSPEC, Attributes: attrs},
	})
}

// SetMaster enslaves a link to a bridge or bond. A master of 0 releases it.
func (s *LinkService) SetMaster(ctx context.Context, index, master uint32) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_SETLINK,
		Body: &rtnetlink.LinkMessage{
			Family:     unix.AF_UNSPEC,
			Index:      index,
			Attributes: &rtnetlink.LinkAttributes{Master: &master},
		},
	})
}

// SetName renames a link. The kernel refuses to rename links that are up.
func (s *LinkService) SetName(ctx context.Context, index uint32, name string) error {
	if name == "" {
		return ErrNoName
	}

	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_SETLINK,
		Body: &rtnetlink.LinkMessage{
			Family:     unix.AF_UNSPEC,
			Index:      index,
			Attributes: &rtnetlink.LinkAttributes{Name: name},
		},
	})
}

// SetNetNS moves a link into the network namespace fd refers to. The link
// disappears from the namespace the connection lives in.
func (s *LinkService) SetNetNS(ctx context.Context, index uint32, fd int) error {
	return s.h.Acknowledge(ctx, nl.Request{
		Kind: nl.KindLink,
		Type: unix.RTM_SETLINK,
		Body: netnsBody{
			msg: &rtnetlink.LinkMessage{Family: unix.AF_UNSPEC, Index: index},
			fd:  uint32(fd),
		},
	})
}

// netnsBody appends IFLA_NET_NS_FD, which rtnetlink.LinkAttributes can't
// express, to an encoded link message.
type netnsBody struct {
	msg *rtnetlink.LinkMessage
	fd  uint32
}

func (b netnsBody) MarshalBinary() ([]byte, error) {
	head, err := b.msg.MarshalBinary()
	if err != nil {
		return nil, err
	}

	ae := netlink.NewAttributeEncoder()
	ae.Uint32(unix.IFLA_NET_NS_FD, b.fd)
	tail, err := ae.Encode()
	if err != nil {
		return nil, err
	}

	return append(head, tail...), nil
}
