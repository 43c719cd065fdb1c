// Package api serves the state of the kernel's networking stack as JSON. Each
// request is answered with a fresh netlink dump multiplexed over a single
// shared connection.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/scitags/nlmux/rtnl"
)

var logger = slog.Default().With("t", "api")

type Api struct {
	Config

	server  *echo.Echo
	client  *rtnl.Client
	metrics http.Handler
}

// New builds the API on top of client. The metrics handler is optional: when
// nil the /metrics route isn't registered.
func New(conf *Config, client *rtnl.Client, metrics http.Handler) *Api {
	if conf == nil {
		conf = &DefaultConfig
	}

	a := &Api{Config: *conf, client: client, metrics: metrics}
	a.init()

	return a
}

func (a *Api) String() string {
	return "api"
}

func (a *Api) init() {
	logger.Debug("initialising the api")
	a.server = echo.New()

	// Prevent the banner from showing up in the log
	a.server.HideBanner = true
	a.server.HidePort = true

	// Extend the context of every handler with the netlink client.
	a.server.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&extendedContext{c, a.server.Routes(), a.client})
		}
	})

	// Configure the methods for each path
	a.server.GET("/", handleRoot)
	a.server.GET("/stats", handleStats)
	a.server.GET("/links", handleLinks)
	a.server.GET("/links/:link", handleLink)
	a.server.GET("/addresses", handleAddresses)
	a.server.GET("/routes", handleRoutes)
	a.server.GET("/routes/:dst", handleRouteGet)
	a.server.GET("/neighbours", handleNeighbours)
	a.server.GET("/rules", handleRules)
	a.server.GET("/qdiscs", handleQdiscs)
	a.server.GET("/filters/:link", handleFilters)
	a.server.GET("/nexthops", handleNexthops)
	a.server.GET("/nexthops/:id", handleNexthop)

	if a.metrics != nil {
		a.server.GET("/metrics", echo.WrapHandler(a.metrics))
	}
}

// ServeHTTP lets the api be mounted or tested without listening.
func (a *Api) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.server.ServeHTTP(w, r)
}

// Run serves the api until done is closed.
func (a *Api) Run(done <-chan struct{}) {
	logger.Debug("running the api", "addr", a.BindAddress, "port", a.BindPort)

	go func() {
		if err := a.server.Start(fmt.Sprintf("%s:%d", a.BindAddress, a.BindPort)); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("couldn't start the API server", "err", err)
		}
	}()

	// Simply wait until we're done
	<-done
	logger.Debug("cleanly exiting the api")
}

func (a *Api) Cleanup() error {
	logger.Debug("cleaning up the api")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("error shutting down the API server: %w", err)
	}
	return nil
}

type extendedContext struct {
	echo.Context
	apiRoutes []*echo.Route
	client    *rtnl.Client
}
