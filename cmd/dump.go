package main

import (
	"context"
	"fmt"
	"iter"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/scitags/nlmux/api"
	"github.com/scitags/nlmux/rtnl"
)

func init() {
	dumpCmd.PersistentFlags().StringVar(&familyFlag, "family", "all", "address family: all, inet or inet6")
	dumpFiltersCmd.Flags().StringVar(&hookFlag, "hook", "ingress", "clsact hook: ingress or egress")

	dumpCmd.AddCommand(
		dumpLinksCmd, dumpAddrsCmd, dumpRoutesCmd, dumpNeighsCmd,
		dumpRulesCmd, dumpQdiscsCmd, dumpFiltersCmd,
	)
}

var (
	familyFlag string
	hookFlag   string

	dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Dump kernel networking objects.",
	}

	dumpLinksCmd = &cobra.Command{
		Use:   "links",
		Short: "Dump network interfaces.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			return printAll(c.Link.List(ctx), api.NewLink)
		}),
	}

	dumpAddrsCmd = &cobra.Command{
		Use:   "addrs",
		Short: "Dump interface addresses.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			family, err := parseFamily(familyFlag)
			if err != nil {
				return err
			}
			return printAll(c.Address.List(ctx, family), api.NewAddress)
		}),
	}

	dumpRoutesCmd = &cobra.Command{
		Use:   "routes",
		Short: "Dump routes of every table.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			family, err := parseFamily(familyFlag)
			if err != nil {
				return err
			}
			return printAll(c.Route.List(ctx, family), api.NewRoute)
		}),
	}

	dumpNeighsCmd = &cobra.Command{
		Use:   "neighs",
		Short: "Dump the neighbour tables.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			family, err := parseFamily(familyFlag)
			if err != nil {
				return err
			}
			return printAll(c.Neigh.List(ctx, family), api.NewNeighbour)
		}),
	}

	dumpRulesCmd = &cobra.Command{
		Use:   "rules",
		Short: "Dump policy routing rules.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			family, err := parseFamily(familyFlag)
			if err != nil {
				return err
			}
			return printAll(c.Rule.List(ctx, family), api.NewRule)
		}),
	}

	dumpQdiscsCmd = &cobra.Command{
		Use:   "qdiscs",
		Short: "Dump queueing disciplines.",
		Args:  cobra.NoArgs,
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			return printAll(c.Qdisc.List(ctx), api.NewTrafficControl)
		}),
	}

	dumpFiltersCmd = &cobra.Command{
		Use:   "filters <link>",
		Short: "Dump the tc filters hooked on a link's clsact qdisc.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}

			parent, err := hookParent(hookFlag)
			if err != nil {
				return err
			}

			return printAll(c.Filter.List(ctx, index, parent), api.NewTrafficControl)
		}),
	}
)

// withClient runs fn with a client over a fresh connection which is closed
// once fn returns. The context is cancelled on SIGINT.
func withClient(fn func(ctx context.Context, c *rtnl.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		conn, err := connect(nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		return fn(ctx, rtnl.New(conn.Handle()), args)
	}
}

func printAll[M, V any](seq iter.Seq2[M, error], view func(M) V) error {
	for m, err := range seq {
		if err != nil {
			return err
		}
		if err := printView(os.Stdout, "", view(m)); err != nil {
			return err
		}
	}
	return nil
}

func parseFamily(s string) (uint8, error) {
	switch s {
	case "", "all":
		return unix.AF_UNSPEC, nil
	case "inet", "4":
		return unix.AF_INET, nil
	case "inet6", "6":
		return unix.AF_INET6, nil
	default:
		return 0, fmt.Errorf("unknown family %q", s)
	}
}

// hookParent maps a clsact hook name to the parent its filters hang from.
func hookParent(hook string) (uint32, error) {
	switch hook {
	case "", "ingress":
		return rtnl.IngressParent, nil
	case "egress":
		return rtnl.EgressParent, nil
	}
	return 0, fmt.Errorf("unknown hook %q", hook)
}

// linkIndex resolves a link given either its index or its name.
func linkIndex(ctx context.Context, c *rtnl.Client, link string) (uint32, error) {
	if index, err := strconv.ParseUint(link, 10, 32); err == nil {
		return uint32(index), nil
	}

	m, err := c.Link.ByName(ctx, link)
	if err != nil {
		return 0, fmt.Errorf("couldn't find link %q: %w", link, err)
	}

	return m.Index, nil
}
