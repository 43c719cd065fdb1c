package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/scitags/nlmux/api"
	nl "github.com/scitags/nlmux/netlink"
	"github.com/scitags/nlmux/prometheus"
	"github.com/scitags/nlmux/rtnl"
)

var (
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and the prometheus metrics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, err := prometheus.New(conf.Prometheus)
			if err != nil {
				return err
			}

			conn, err := connect(exporter.Metrics())
			if err != nil {
				return err
			}
			defer conn.Close()

			a := api.New(conf.Api, rtnl.New(conn.Handle()), exporter.Handler())

			ctx, cancel := signalContext()
			defer cancel()

			done := make(chan struct{})
			go exporter.Run(done)
			go a.Run(done)

			slog.Info("serving", "api", fmt.Sprintf("%s:%d", a.BindAddress, a.BindPort), "metricsPort", exporter.Port)

			<-ctx.Done()
			slog.Info("shutting down")
			close(done)

			var errs error
			for _, cleaner := range []interface{ Cleanup() error }{a, exporter} {
				if err := cleaner.Cleanup(); err != nil {
					errs = errors.Join(errs, err)
				}
			}

			return errs
		},
	}

	statsCmd = &cobra.Command{
		Use:   "stats",
		Short: "Query a running server for its connection statistics.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := http.Client{Timeout: 5 * time.Second}

			resp, err := client.Get(fmt.Sprintf("http://%s:%d/stats", conf.Api.BindAddress, conf.Api.BindPort))
			if err != nil {
				return fmt.Errorf("couldn't reach the server: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unexpected status %s", resp.Status)
			}

			var stats nl.Stats
			if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
				return fmt.Errorf("couldn't decode the stats: %w", err)
			}

			return printView(os.Stdout, "", stats)
		},
	}

	confCmd = &cobra.Command{
		Use:   "conf",
		Short: "Print the effective configuration.",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Print(conf)
		},
	}
)
