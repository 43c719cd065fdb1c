package rtnl

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/jsimonetti/rtnetlink"
	"golang.org/x/sys/unix"
)

// Addresses known to be public (Quad9's resolvers). Asking for the route to
// them yields the link traffic leaves through by default.
var (
	publicIPv4 = netip.MustParseAddr("9.9.9.9")
	publicIPv6 = netip.MustParseAddr("2620:fe::fe")
)

// DefaultLink returns the link the default route of family goes through.
func (c *Client) DefaultLink(ctx context.Context, family uint8) (rtnetlink.LinkMessage, error) {
	dst := publicIPv4
	if family == unix.AF_INET6 {
		dst = publicIPv6
	}

	r, err := c.Route.Get(ctx, dst)
	if err != nil {
		return rtnetlink.LinkMessage{}, fmt.Errorf("couldn't get the route to %s: %w", dst, err)
	}

	if r.Attributes.OutIface == 0 {
		return rtnetlink.LinkMessage{}, fmt.Errorf("%w: the route to %s has no output link", ErrNotFound, dst)
	}

	return c.Link.Get(ctx, r.Attributes.OutIface)
}
