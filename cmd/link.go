package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/scitags/nlmux/api"
	"github.com/scitags/nlmux/rtnl"
)

func init() {
	linkSetCmd.AddCommand(linkSetUpCmd, linkSetDownCmd, linkSetMTUCmd)
	linkDefaultCmd.Flags().StringVar(&defaultFamilyFlag, "family", "inet", "address family of the default route: inet or inet6")
	linkCmd.AddCommand(linkShowCmd, linkDefaultCmd, linkSetCmd, linkDelCmd)

	addrCmd.AddCommand(addrAddCmd, addrDelCmd)

	for _, c := range []*cobra.Command{routeAddCmd, routeDelCmd} {
		c.Flags().StringVar(&gatewayFlag, "via", "", "gateway address")
		c.Flags().StringVar(&routeDevFlag, "dev", "", "output link")
		c.Flags().Uint32Var(&tableFlag, "table", 0, "routing table (defaults to main)")
		c.Flags().Uint32Var(&metricFlag, "metric", 0, "route priority")
	}
	routeAddCmd.Flags().BoolVar(&replaceFlag, "replace", false, "replace a matching route instead of failing")
	routeCmd.AddCommand(routeGetCmd, routeAddCmd, routeDelCmd)

	qdiscCmd.AddCommand(qdiscAddCmd, qdiscDelCmd)
	linkCmd.AddCommand(qdiscCmd)
}

var (
	defaultFamilyFlag string

	gatewayFlag  string
	routeDevFlag string
	tableFlag    uint32
	metricFlag   uint32
	replaceFlag  bool

	linkCmd = &cobra.Command{
		Use:   "link",
		Short: "Inspect and modify network interfaces.",
	}

	linkShowCmd = &cobra.Command{
		Use:   "show <link>",
		Short: "Show a single link.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}

			m, err := c.Link.Get(ctx, index)
			if err != nil {
				return err
			}

			return printView(os.Stdout, "", api.NewLink(m))
		}),
	}

	linkDefaultCmd = &cobra.Command{
		Use:   "default",
		Short: "Show the link the default route goes through.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			family, err := parseFamily(defaultFamilyFlag)
			if err != nil {
				return err
			}

			m, err := c.DefaultLink(ctx, family)
			if err != nil {
				return err
			}

			return printView(os.Stdout, "", api.NewLink(m))
		}),
	}

	linkSetCmd = &cobra.Command{
		Use:   "set",
		Short: "Change link attributes.",
	}

	linkSetUpCmd = &cobra.Command{
		Use:   "up <link>",
		Short: "Bring a link up.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}
			return c.Link.SetUp(ctx, index)
		}),
	}

	linkSetDownCmd = &cobra.Command{
		Use:   "down <link>",
		Short: "Bring a link down.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}
			return c.Link.SetDown(ctx, index)
		}),
	}

	linkSetMTUCmd = &cobra.Command{
		Use:   "mtu <link> <mtu>",
		Short: "Change a link's MTU.",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			mtu, err := strconv.ParseUint(args[1], 10, 32)
			if err != nil {
				return fmt.Errorf("bad mtu %q: %w", args[1], err)
			}

			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}

			return c.Link.SetMTU(ctx, index, uint32(mtu))
		}),
	}

	linkDelCmd = &cobra.Command{
		Use:   "del <link>",
		Short: "Delete a (virtual) link.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}
			return c.Link.Delete(ctx, index)
		}),
	}

	qdiscCmd = &cobra.Command{
		Use:   "clsact",
		Short: "Manage a link's clsact qdisc.",
	}

	qdiscAddCmd = &cobra.Command{
		Use:   "add <link>",
		Short: "Attach a clsact qdisc to a link.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}
			return c.Qdisc.AddClsact(ctx, index)
		}),
	}

	qdiscDelCmd = &cobra.Command{
		Use:   "del <link>",
		Short: "Remove a link's clsact qdisc along with its filters.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}
			return c.Qdisc.DeleteClsact(ctx, index)
		}),
	}

	addrCmd = &cobra.Command{
		Use:   "addr",
		Short: "Manage interface addresses.",
	}

	addrAddCmd = &cobra.Command{
		Use:   "add <prefix> <link>",
		Short: "Add an address, e.g. 192.0.2.10/24, to a link.",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			prefix, index, err := prefixAndLink(ctx, c, args)
			if err != nil {
				return err
			}
			return c.Address.Add(ctx, index, prefix)
		}),
	}

	addrDelCmd = &cobra.Command{
		Use:   "del <prefix> <link>",
		Short: "Remove an address from a link.",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			prefix, index, err := prefixAndLink(ctx, c, args)
			if err != nil {
				return err
			}
			return c.Address.Delete(ctx, index, prefix)
		}),
	}

	routeCmd = &cobra.Command{
		Use:   "route",
		Short: "Query and manage routes.",
	}

	routeGetCmd = &cobra.Command{
		Use:   "get <address>",
		Short: "Show the route the kernel would use to reach an address.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			dst, err := netip.ParseAddr(args[0])
			if err != nil {
				return err
			}

			m, err := c.Route.Get(ctx, dst)
			if err != nil {
				return err
			}

			return printView(os.Stdout, "", api.NewRoute(m))
		}),
	}

	routeAddCmd = &cobra.Command{
		Use:   "add <prefix>",
		Short: "Add a route to a prefix (or default).",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			r, err := routeFromFlags(ctx, c, args[0])
			if err != nil {
				return err
			}
			if replaceFlag {
				return c.Route.Replace(ctx, r)
			}
			return c.Route.Add(ctx, r)
		}),
	}

	routeDelCmd = &cobra.Command{
		Use:   "del <prefix>",
		Short: "Delete a route.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			r, err := routeFromFlags(ctx, c, args[0])
			if err != nil {
				return err
			}
			return c.Route.Delete(ctx, r)
		}),
	}
)

func prefixAndLink(ctx context.Context, c *rtnl.Client, args []string) (netip.Prefix, uint32, error) {
	prefix, err := netip.ParsePrefix(args[0])
	if err != nil {
		return netip.Prefix{}, 0, err
	}

	index, err := linkIndex(ctx, c, args[1])
	if err != nil {
		return netip.Prefix{}, 0, err
	}

	return prefix, index, nil
}

func routeFromFlags(ctx context.Context, c *rtnl.Client, dst string) (rtnl.Route, error) {
	r := rtnl.Route{Table: tableFlag, Priority: metricFlag}

	if dst != "default" {
		p, err := netip.ParsePrefix(dst)
		if err != nil {
			return r, err
		}
		r.Dst = p
	}

	if gatewayFlag != "" {
		gw, err := netip.ParseAddr(gatewayFlag)
		if err != nil {
			return r, err
		}
		r.Gateway = gw
	}

	if routeDevFlag != "" {
		index, err := linkIndex(ctx, c, routeDevFlag)
		if err != nil {
			return r, err
		}
		r.OutIface = index
	}

	slog.Debug("built route", "dst", r.Dst, "via", r.Gateway, "dev", r.OutIface, "table", r.Table)

	return r, nil
}
