package main

import (
	"context"
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/scitags/nlmux/api"
	"github.com/scitags/nlmux/rtnl"
)

func init() {
	nexthopAddCmd.Flags().StringVar(&gatewayFlag, "via", "", "gateway address")
	nexthopAddCmd.Flags().StringVar(&routeDevFlag, "dev", "", "output link")
	nexthopAddCmd.Flags().BoolVar(&blackholeFlag, "blackhole", false, "drop everything sent through this nexthop")
	nexthopAddCmd.Flags().StringVar(&groupFlag, "group", "", "multipath group, e.g. 1,2/3 for IDs 1 (weight 2) and 3")
	nexthopAddCmd.Flags().BoolVar(&replaceFlag, "replace", false, "replace a nexthop with the same ID instead of failing")
	nexthopListCmd.Flags().StringVar(&nexthopFamilyFlag, "family", "all", "address family: all, inet or inet6")

	nexthopCmd.AddCommand(nexthopListCmd, nexthopGetCmd, nexthopAddCmd, nexthopDelCmd)
	rootCmd.AddCommand(nexthopCmd)
}

var (
	blackholeFlag     bool
	groupFlag         string
	nexthopFamilyFlag string

	nexthopCmd = &cobra.Command{
		Use:   "nexthop",
		Short: "Manage nexthop objects.",
	}

	nexthopListCmd = &cobra.Command{
		Use:   "list",
		Short: "Dump nexthop objects.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			family, err := parseFamily(nexthopFamilyFlag)
			if err != nil {
				return err
			}
			return printAll(c.Nexthop.List(ctx, family), api.NewNexthop)
		}),
	}

	nexthopGetCmd = &cobra.Command{
		Use:   "get <id>",
		Short: "Show a single nexthop.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			id, err := nexthopID(args[0])
			if err != nil {
				return err
			}

			n, err := c.Nexthop.Get(ctx, id)
			if err != nil {
				return err
			}

			return printView(os.Stdout, "", api.NewNexthop(n))
		}),
	}

	nexthopAddCmd = &cobra.Command{
		Use:   "add <id>",
		Short: "Create a nexthop.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			id, err := nexthopID(args[0])
			if err != nil {
				return err
			}

			n := rtnl.Nexthop{ID: id, Blackhole: blackholeFlag}

			if gatewayFlag != "" {
				if n.Gateway, err = netip.ParseAddr(gatewayFlag); err != nil {
					return err
				}
			}
			if routeDevFlag != "" {
				if n.OutIface, err = linkIndex(ctx, c, routeDevFlag); err != nil {
					return err
				}
			}
			if groupFlag != "" {
				if n.Group, err = parseNexthopGroup(groupFlag); err != nil {
					return err
				}
			}

			if replaceFlag {
				return c.Nexthop.Replace(ctx, n)
			}
			return c.Nexthop.Add(ctx, n)
		}),
	}

	nexthopDelCmd = &cobra.Command{
		Use:   "del <id>",
		Short: "Delete a nexthop.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			id, err := nexthopID(args[0])
			if err != nil {
				return err
			}
			return c.Nexthop.Delete(ctx, id)
		}),
	}
)

func nexthopID(s string) (uint32, error) {
	id, err := strconv.ParseUint(s, 10, 32)
	if err != nil || id == 0 {
		return 0, fmt.Errorf("bad nexthop id %q", s)
	}
	return uint32(id), nil
}

// parseNexthopGroup reads groups written the way ip-nexthop(8) takes them:
// id[,weight] entries separated by slashes. Weights go from 1 to 256.
func parseNexthopGroup(s string) ([]rtnl.NexthopGroupMember, error) {
	var members []rtnl.NexthopGroupMember

	for _, entry := range strings.Split(s, "/") {
		idStr, weightStr, hasWeight := strings.Cut(entry, ",")

		id, err := nexthopID(idStr)
		if err != nil {
			return nil, err
		}

		m := rtnl.NexthopGroupMember{ID: id}
		if hasWeight {
			w, err := strconv.ParseUint(weightStr, 10, 16)
			if err != nil || w == 0 || w > 256 {
				return nil, fmt.Errorf("bad weight %q for nexthop %d", weightStr, id)
			}
			m.Weight = uint8(w - 1)
		}

		members = append(members, m)
	}

	return members, nil
}
