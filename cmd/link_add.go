package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/scitags/nlmux/netns"
	"github.com/scitags/nlmux/rtnl"
)

func init() {
	linkAddCmd.Flags().StringVar(&kindFlag, "type", "dummy", "one of dummy, bridge, vlan or veth")
	linkAddCmd.Flags().StringVar(&parentFlag, "link", "", "parent link of a vlan")
	linkAddCmd.Flags().Uint16Var(&vlanIDFlag, "id", 0, "vlan ID")
	linkAddCmd.Flags().StringVar(&peerFlag, "peer", "", "name of the other end of a veth pair")
	linkAddCmd.Flags().BoolVar(&stpFlag, "stp", false, "enable STP on a bridge")
	linkCmd.AddCommand(linkAddCmd)

	linkSetCmd.AddCommand(linkSetMasterCmd, linkSetNoMasterCmd, linkSetNameCmd, linkSetNetNSCmd)
}

var (
	kindFlag   string
	parentFlag string
	vlanIDFlag uint16
	peerFlag   string
	stpFlag    bool

	linkAddCmd = &cobra.Command{
		Use:   "add <name>",
		Short: "Create a virtual link.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			kind, err := linkKind(ctx, c)
			if err != nil {
				return err
			}
			return c.Link.Add(ctx, args[0], kind)
		}),
	}

	linkSetMasterCmd = &cobra.Command{
		Use:   "master <link> <master>",
		Short: "Enslave a link to a bridge or bond.",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}

			master, err := linkIndex(ctx, c, args[1])
			if err != nil {
				return err
			}

			return c.Link.SetMaster(ctx, index, master)
		}),
	}

	linkSetNoMasterCmd = &cobra.Command{
		Use:   "nomaster <link>",
		Short: "Release a link from its master.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}
			return c.Link.SetMaster(ctx, index, 0)
		}),
	}

	linkSetNameCmd = &cobra.Command{
		Use:   "name <link> <new name>",
		Short: "Rename a link.",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}
			return c.Link.SetName(ctx, index, args[1])
		}),
	}

	linkSetNetNSCmd = &cobra.Command{
		Use:   "netns <link> <namespace>",
		Short: "Move a link into a named network namespace.",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}

			h, err := netns.Open(args[1])
			if err != nil {
				return err
			}
			defer h.Close()

			return c.Link.SetNetNS(ctx, index, int(h))
		}),
	}
)

// linkKind builds the rtnl.LinkKind described by the link add flags.
func linkKind(ctx context.Context, c *rtnl.Client) (rtnl.LinkKind, error) {
	kind, err := rtnl.ParseLinkKind(kindFlag)
	if err != nil {
		return nil, err
	}

	switch kind.(type) {
	case rtnl.Bridge:
		return rtnl.Bridge{STP: stpFlag}, nil
	case rtnl.Veth:
		return rtnl.Veth{Peer: peerFlag}, nil
	case rtnl.Vlan:
		if parentFlag == "" {
			return nil, fmt.Errorf("--link is required for a vlan: %w", rtnl.ErrNoParent)
		}
		parent, err := linkIndex(ctx, c, parentFlag)
		if err != nil {
			return nil, err
		}
		return rtnl.Vlan{Parent: parent, ID: vlanIDFlag}, nil
	}

	return kind, nil
}
