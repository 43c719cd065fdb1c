//go:build linux

package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/cilium/ebpf"
	"github.com/spf13/cobra"

	"github.com/scitags/nlmux/rtnl"
)

func init() {
	for _, c := range []*cobra.Command{filterAddCmd, filterDelCmd} {
		c.Flags().StringVar(&filterHookFlag, "hook", "ingress", "clsact hook: ingress or egress")
		c.Flags().Uint16Var(&filterPrioFlag, "prio", 0, "filter priority (0 means 1 on add and every filter on del)")
	}
	filterCmd.AddCommand(filterAddCmd, filterDelCmd)
	linkCmd.AddCommand(filterCmd)
}

var (
	filterHookFlag string
	filterPrioFlag uint16

	filterCmd = &cobra.Command{
		Use:   "filter",
		Short: "Manage BPF filters hanging from a link's clsact qdisc.",
	}

	filterAddCmd = &cobra.Command{
		Use:   "add <link> <pinned program>",
		Short: "Attach a pinned SchedCLS program in direct-action mode.",
		Args:  cobra.ExactArgs(2),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			parent, err := hookParent(filterHookFlag)
			if err != nil {
				return err
			}

			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}

			prog, err := ebpf.LoadPinnedProgram(args[1], nil)
			if err != nil {
				return fmt.Errorf("couldn't load the program pinned at %s: %w", args[1], err)
			}
			defer prog.Close()

			if prog.Type() != ebpf.SchedCLS {
				return fmt.Errorf("%s is a %s program, a filter needs %s", args[1], prog.Type(), ebpf.SchedCLS)
			}

			slog.Debug("loaded program", "path", args[1], "type", prog.Type(), "fd", prog.FD())

			return c.Filter.AddBPF(ctx, rtnl.BPFFilter{
				Ifindex:  index,
				Parent:   parent,
				Priority: filterPrioFlag,
				FD:       uint32(prog.FD()),
				Name:     filepath.Base(args[1]),
			})
		}),
	}

	filterDelCmd = &cobra.Command{
		Use:   "del <link>",
		Short: "Remove filters from a clsact hook.",
		Args:  cobra.ExactArgs(1),
		RunE: withClient(func(ctx context.Context, c *rtnl.Client, args []string) error {
			parent, err := hookParent(filterHookFlag)
			if err != nil {
				return err
			}

			index, err := linkIndex(ctx, c, args[0])
			if err != nil {
				return err
			}

			return c.Filter.Delete(ctx, index, parent, filterPrioFlag)
		}),
	}
)
