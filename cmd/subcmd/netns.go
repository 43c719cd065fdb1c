package subcmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/scitags/nlmux/netns"
)

func init() {
	NetnsList.Flags().StringVar(&netnsDir, "dir", netns.Dir, "directory holding the namespace bind mounts")
	NetnsWatch.Flags().StringVar(&netnsDir, "dir", netns.Dir, "directory holding the namespace bind mounts")
	NetnsID.Flags().IntVar(&netnsPid, "pid", 0, "process whose namespace to identify (0 is ourselves)")
}

var (
	netnsDir string
	netnsPid int

	NetnsAdd = &cobra.Command{
		Use:   "add <name>",
		Short: "Create a named network namespace.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return netns.Add(args[0])
		},
	}

	NetnsDel = &cobra.Command{
		Use:   "del <name>",
		Short: "Delete a named network namespace.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return netns.Delete(args[0])
		},
	}

	NetnsList = &cobra.Command{
		Use:   "list",
		Short: "List named network namespaces.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			names, err := netns.List(netnsDir)
			if err != nil {
				return err
			}
			for _, n := range names {
				fmt.Println(n)
			}
			return nil
		},
	}

	NetnsWatch = &cobra.Command{
		Use:   "watch",
		Short: "Print named network namespaces as they come and go.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := os.MkdirAll(netnsDir, 0o755); err != nil {
				return fmt.Errorf("couldn't create %s: %w", netnsDir, err)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			events, err := netns.Watch(ctx, netnsDir)
			if err != nil {
				return err
			}

			slog.Info("watching for namespaces", "dir", netnsDir)

			for ev := range events {
				fmt.Printf("[%s] %s\n", ev.Op, ev.Name)
			}

			return nil
		},
	}

	NetnsID = &cobra.Command{
		Use:   "id",
		Short: "Print the inode identifying a process' network namespace.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			inode, err := netns.Inode(netnsPid)
			if err != nil {
				return err
			}
			fmt.Printf("net:[%d]\n", inode)
			return nil
		},
	}
)
