// Package metrics holds the prometheus collectors exported by long-running
// commands. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "suits"

// Metrics groups every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	publishPhase    *prometheus.HistogramVec
	publishOutcomes *prometheus.CounterVec
	feedPages       *prometheus.CounterVec
	feedItemErrors  prometheus.Counter
	channelOps      *prometheus.CounterVec
	polls           *prometheus.CounterVec
	invalidations   *prometheus.CounterVec
}

// New registers all collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		publishPhase: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "phase_duration_seconds",
			Help:      "Duration of blob publish phases.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"phase", "result"}),
		publishOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "sessions_total",
			Help:      "Blob publish sessions by final outcome.",
		}, []string{"outcome"}),
		feedPages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "pages_total",
			Help:      "Registry page fetches by result.",
		}, []string{"result"}),
		feedItemErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "item_fetch_failures_total",
			Help:      "Registry items omitted because their fetch failed.",
		}),
		channelOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "operations_total",
			Help:      "Channel operations by kind and result.",
		}, []string{"op", "result"}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "polls_total",
			Help:      "Poller refreshes by subscription kind and result.",
		}, []string{"kind", "result"}),
		invalidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "watch",
			Name:      "invalidations_total",
			Help:      "Subscription invalidations by kind.",
		}, []string{"kind"}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.publishPhase, m.publishOutcomes, m.feedPages, m.feedItemErrors,
		m.channelOps, m.polls, m.invalidations,
	)
	return m
}

// Handler serves the registry in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and custom exporters.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

func (m *Metrics) ObservePublishPhase(phase string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.publishPhase.WithLabelValues(phase, result(err)).Observe(d.Seconds())
}

func (m *Metrics) PublishOutcome(outcome string) {
	if m == nil {
		return
	}
	m.publishOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) FeedPage(err error) {
	if m == nil {
		return
	}
	m.feedPages.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) FeedItemFailed() {
	if m == nil {
		return
	}
	m.feedItemErrors.Inc()
}

func (m *Metrics) ChannelOp(op string, err error) {
	if m == nil {
		return
	}
	m.channelOps.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) Poll(kind string, err error) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(kind, result(err)).Inc()
}

func (m *Metrics) Invalidated(kind string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(kind).Inc()
}
