package prometheus

import (
	"context"
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/mdlayher/netlink"
	"github.com/prometheus/client_golang/prometheus"

	nl "github.com/scitags/nlmux/netlink"
	"github.com/scitags/nlmux/types"
)

// Metric labels (note these are **always** strings):
//
//	kind: the resource family of the request (link, route, ...)
//	outcome: how the exchange ended (ok, error, cancelled, ...)
//	type: the numeric netlink header type of an inbound message
//	reason: why an inbound message was dropped (stray, decode, ...)
var (
	kindLabels    = []string{"kind"}
	outcomeLabels = []string{"kind", "outcome"}
	reasonLabels  = []string{"reason"}
)

// Metrics is an nl.Observer backed by prometheus collectors. Every field must
// be a prometheus.Collector: they're registered through reflection.
type Metrics struct {
	Requests *prometheus.CounterVec
	Outcomes *prometheus.CounterVec
	Latency  *prometheus.HistogramVec

	Messages *prometheus.CounterVec
	Drops    *prometheus.CounterVec

	InFlight prometheus.Gauge
}

func NewMetrics() *Metrics {
	return &Metrics{
		Requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlmux_requests_submitted_total",
			Help: "Requests written to the netlink socket",
		}, kindLabels),
		Outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlmux_requests_completed_total",
			Help: "Exchanges that reached a terminal state",
		}, outcomeLabels),
		Latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "nlmux_request_duration_seconds",
			Help:    "Time from submission to the terminal message [s]",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, kindLabels),

		Messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlmux_messages_received_total",
			Help: "Inbound netlink messages by header type",
		}, []string{"type"}),
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "nlmux_messages_discarded_total",
			Help: "Inbound netlink messages nobody was waiting for",
		}, reasonLabels),

		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "nlmux_requests_pending",
			Help: "Exchanges awaiting their terminal message",
		}),
	}
}

// (Nastily) use reflection to avoid having to manually register everything.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	v := reflect.ValueOf(*m)

	i := 0
	for i = 0; i < v.NumField(); i++ {
		vv, ok := v.Field(i).Interface().(prometheus.Collector)
		if !ok {
			return fmt.Errorf("error casting the interface for index %d", i)
		}
		if err := reg.Register(vv); err != nil {
			return fmt.Errorf("error registering index %d: %w", i, err)
		}
	}
	logger.Log(context.Background(), types.LevelTrace, "registered collectors", "i", i)

	return nil
}

func (m *Metrics) Submitted(kind nl.Kind) {
	m.Requests.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) Completed(kind nl.Kind, outcome nl.Outcome, elapsed time.Duration) {
	m.Outcomes.WithLabelValues(kind.String(), string(outcome)).Inc()
	m.Latency.WithLabelValues(kind.String()).Observe(elapsed.Seconds())
}

func (m *Metrics) Received(t netlink.HeaderType) {
	m.Messages.WithLabelValues(strconv.Itoa(int(t))).Inc()
}

func (m *Metrics) Discarded(reason string) {
	m.Drops.WithLabelValues(reason).Inc()
}

func (m *Metrics) Pending(n int) {
	m.InFlight.Set(float64(n))
}
