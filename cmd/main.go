package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/scitags/nlmux/cmd/subcmd"
)

func init() {
	rootCmd.PersistentFlags().StringVar(&confPathFlag, "conf", "", "path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "info", "one of trace, debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&logTimeFlag, "log-time", false, "include timestamps in log lines")
	rootCmd.PersistentFlags().StringVar(&netnsFlag, "netns", "", "named network namespace to open the socket in")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "text", "one of text, json or yaml")
}

var (
	rootCmd = &cobra.Command{
		Use:   "nlmux",
		Short: "Talk rtnetlink over a single multiplexed socket.",
		Long: "nlmux keeps a single NETLINK_ROUTE socket open and lets any number of\n" +
			"concurrent requests and multicast subscriptions share it.",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := parseLogLevel(logLevelFlag)
			if err != nil {
				return err
			}

			logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
				Level:       level,
				AddSource:   level <= slog.LevelDebug,
				ReplaceAttr: logReplacements,
			}))
			slog.SetDefault(logger)

			conf, err = ReadConf(confPathFlag)
			if err != nil {
				return err
			}

			if netnsFlag != "" {
				conf.Namespace = netnsFlag
			}

			slog.Debug("loaded configuration", "path", confPathFlag)

			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Get the built version.",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("built commit: %s\n", builtCommit)
		},
	}

	netnsCmd = &cobra.Command{
		Use:   "netns",
		Short: "Manage named network namespaces.",
	}

	confPathFlag string
	logLevelFlag string
	logTimeFlag  bool
	netnsFlag    string

	conf        *Config
	builtCommit = "dev"
)

func init() {
	// Disable completion please!
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	netnsCmd.AddCommand(subcmd.NetnsAdd, subcmd.NetnsDel, subcmd.NetnsList, subcmd.NetnsWatch, subcmd.NetnsID)

	// Add the different sub-commands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(linkCmd)
	rootCmd.AddCommand(addrCmd)
	rootCmd.AddCommand(routeCmd)
	rootCmd.AddCommand(netnsCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(confCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
