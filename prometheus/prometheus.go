// Package prometheus exposes the activity of a netlink connection as
// prometheus metrics. Metrics implements the connection's Observer and the
// Exporter serves them over HTTP.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var logger = slog.New(slog.DiscardHandler)

type Exporter struct {
	Config

	m       *Metrics
	reg     *prometheus.Registry
	handler http.Handler
	server  *http.Server
}

func (e *Exporter) String() string {
	return "Prometheus"
}

func New(c *Config) (*Exporter, error) {
	if c == nil {
		c = &DefaultConfig
	}

	if c.Log {
		logger = slog.Default().With("t", "prometheus")
	}

	logger.Debug("initialising the prometheus exporter")

	e := Exporter{Config: *c}

	// Create a non-global registry.
	e.reg = prometheus.NewRegistry()

	e.m = NewMetrics()
	if err := e.m.Register(e.reg); err != nil {
		return nil, fmt.Errorf("error registering the metrics: %w", err)
	}

	e.handler = promhttp.HandlerFor(e.reg, promhttp.HandlerOpts{Registry: e.reg})

	if e.Port == 0 {
		logger.Warn("no port configured: metrics will only be served through the api")
		return &e, nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", e.handler)

	e.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", e.BindAddress, e.Port),
		Handler: mux,
	}

	return &e, nil
}

// Metrics returns the observer to hand over to the netlink connection.
func (e *Exporter) Metrics() *Metrics {
	return e.m
}

func (e *Exporter) Registry() *prometheus.Registry {
	return e.reg
}

// Handler serves the metrics in the text exposition format.
func (e *Exporter) Handler() http.Handler {
	return e.handler
}

// Run serves the metrics until done is closed. It returns straight away if
// no port has been configured.
func (e *Exporter) Run(done <-chan struct{}) {
	if e.server == nil {
		return
	}

	logger.Debug("running the prometheus exporter", "addr", e.server.Addr)

	go func() {
		if err := e.server.ListenAndServe(); err != nil {
			logger.Info("stopped listening", "err", err)
		}
	}()

	<-done
	logger.Debug("cleanly exiting the prometheus exporter")
}

func (e *Exporter) Cleanup() error {
	logger.Debug("cleaning up the prometheus exporter")

	if e.server == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("error shutting down the metrics server: %w", err)
	}

	return nil
}
