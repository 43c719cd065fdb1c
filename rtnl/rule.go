package rtnl

import (
	"context"
	"iter"

	"github.com/jsimonetti/rtnetlink"
	"github.com/mdlayher/netlink"
	"golang.org/x/sys/unix"

	nl "github.com/scitags/nlmux/netlink"
)

type RuleService struct {
	h nl.Handle
}

func (s *RuleService) List(ctx context.Context, family uint8) iter.Seq2[rtnetlink.RuleMessage, error] {
	return dump[rtnetlink.RuleMessage](ctx, s.h, nl.Request{
		Kind:      nl.KindRule,
		Type:      unix.RTM_GETRULE,
		Flags:     netlink.Dump,
		Body:      &rtnetlink.RuleMessage{Family: family},
		Multipart: true,
	}, unix.RTM_NEWRULE)
}
