package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mdlayher/netlink"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/scitags/nlmux/api"
	nl "github.com/scitags/nlmux/netlink"
)

var defaultMonitorGroups = []string{"link", "ipv4-ifaddr", "ipv6-ifaddr", "ipv4-route", "ipv6-route", "neigh"}

var monitorCmd = &cobra.Command{
	Use:   "monitor [group...]",
	Short: "Print rtnetlink notifications as they arrive.",
	Long: "Subscribe to the given multicast groups (by name or number) and print\n" +
		"every notification until interrupted. Defaults to " + strings.Join(defaultMonitorGroups, ", ") + ".",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 0 {
			args = defaultMonitorGroups
		}

		groups := make([]uint32, 0, len(args))
		for _, a := range args {
			g, err := nl.ParseGroup(a)
			if err != nil {
				return err
			}
			groups = append(groups, g)
		}

		ctx, cancel := signalContext()
		defer cancel()

		conn, err := connect(nil)
		if err != nil {
			return err
		}
		defer conn.Close()

		sub, err := conn.Handle().Subscribe(ctx, groups...)
		if err != nil {
			return err
		}

		slog.Info("monitoring", GroupsKey, sub.Groups())

		return monitor(ctx, os.Stdout, sub)
	},
}

func monitor(ctx context.Context, w io.Writer, sub *nl.Subscription) error {
	for m, err := range sub.All(ctx) {
		if errors.Is(err, nl.ErrOverrun) {
			slog.Warn("notifications were lost")
			continue
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		if err != nil {
			return err
		}

		v, err := api.View(m)
		if err != nil {
			slog.Debug("skipping notification", "err", err)
			continue
		}

		if err := printView(w, action(m.Header.Type)+" ", v); err != nil {
			return err
		}
	}

	return nil
}

// action tells additions from removals: every RTM_DEL* type is its RTM_NEW*
// counterpart plus one.
func action(t netlink.HeaderType) string {
	if t >= unix.RTM_BASE && (t-unix.RTM_BASE)%4 == 1 {
		return "[del]"
	}
	return "[new]"
}
