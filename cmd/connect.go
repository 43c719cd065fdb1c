package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	nl "github.com/scitags/nlmux/netlink"
	"github.com/scitags/nlmux/netns"
)

// connect opens the multiplexed netlink connection described by the loaded
// configuration. The observer may be nil.
func connect(observer nl.Observer) (*nl.Conn, error) {
	nConf := *conf.Netlink
	tConf := *conf.Transport

	if conf.ErrorTable != "" {
		table, err := nl.LoadErrorTable(conf.ErrorTable)
		if err != nil {
			return nil, err
		}
		nConf.ErrorTable = table
	}

	if observer != nil {
		nConf.Observer = observer
	}

	if conf.Namespace != "" {
		h, err := netns.Open(conf.Namespace)
		if err != nil {
			return nil, err
		}
		// The socket keeps the namespace alive once created.
		defer h.Close()

		tConf.NetNS = int(h)
		slog.Debug("opening the socket in a named namespace", "netns", conf.Namespace)
	}

	c, err := nl.Dial(&nConf, &tConf)
	if err != nil {
		return nil, fmt.Errorf("couldn't open the netlink connection: %w", err)
	}

	return c, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
