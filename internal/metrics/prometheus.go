// Package metrics wraps the Prometheus collectors the coordinator daemon
// exposes: tick latency and outcome, leadership and peer
// counts, and the store/bus error counters that feed alerting.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the registered collectors. A nil *Metrics is safe to call
// every method on; callers that don't configure metrics get silent no-ops
// rather than nil-pointer panics.
type Metrics struct {
	registry *prometheus.Registry

	tickDuration    *prometheus.HistogramVec
	ticksTotal      *prometheus.CounterVec
	isLeader        prometheus.Gauge
	activePeers     prometheus.Gauge
	evictionsTotal  prometheus.Counter
	publishTotal    *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	busErrors       *prometheus.CounterVec
	uptime          prometheus.GaugeFunc
}

var defaultTickBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000}

var startedAt = struct{ t time.Time }{}

// Init builds and registers the collector set under namespace. Call once
// per process before Handler is served.
func Init(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,

		tickDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tick_duration_milliseconds",
				Help:      "Duration of a coordinator election/liveness tick in milliseconds",
				Buckets:   defaultTickBuckets,
			},
			[]string{"state"},
		),

		ticksTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ticks_total",
				Help:      "Total coordinator ticks by resulting state",
			},
			[]string{"state"},
		),

		isLeader: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "is_leader",
				Help:      "1 if this coordinator instance currently holds leadership, else 0",
			},
		),

		activePeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_peers",
				Help:      "Number of distinct addresses currently registered in the store",
			},
		),

		evictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "evictions_total",
				Help:      "Total stale peers evicted for exceeding the grace period",
			},
		),

		publishTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_total",
				Help:      "Total bus publishes by status message kind and outcome",
			},
			[]string{"status", "outcome"},
		),

		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_errors_total",
				Help:      "Total store operation failures by operation",
			},
			[]string{"operation"},
		),

		busErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bus_errors_total",
				Help:      "Total bus operation failures by operation",
			},
			[]string{"operation"},
		),
	}

	m.uptime = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "uptime_seconds",
			Help:      "Time since this daemon started",
		},
		func() float64 {
			if startedAt.t.IsZero() {
				return 0
			}
			return time.Since(startedAt.t).Seconds()
		},
	)

	registry.MustRegister(
		m.tickDuration,
		m.ticksTotal,
		m.isLeader,
		m.activePeers,
		m.evictionsTotal,
		m.publishTotal,
		m.storeErrors,
		m.busErrors,
		m.uptime,
	)

	return m
}

// MarkStart records the process start time used by the uptime gauge. Call
// once, before Init or immediately after.
func MarkStart(t time.Time) {
	startedAt.t = t
}

// ObserveTick records a tick's duration and resulting state.
func (m *Metrics) ObserveTick(state string, d time.Duration) {
	if m == nil {
		return
	}
	m.tickDuration.WithLabelValues(state).Observe(float64(d.Milliseconds()))
	m.ticksTotal.WithLabelValues(state).Inc()
}

// SetLeader sets whether this instance currently holds leadership.
func (m *Metrics) SetLeader(leader bool) {
	if m == nil {
		return
	}
	if leader {
		m.isLeader.Set(1)
	} else {
		m.isLeader.Set(0)
	}
}

// SetActivePeers records the current distinct-address count.
func (m *Metrics) SetActivePeers(n int) {
	if m == nil {
		return
	}
	m.activePeers.Set(float64(n))
}

// IncEvictions records a stale-peer eviction.
func (m *Metrics) IncEvictions() {
	if m == nil {
		return
	}
	m.evictionsTotal.Inc()
}

// RecordPublish records a bus publish attempt for a status kind.
func (m *Metrics) RecordPublish(status string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.publishTotal.WithLabelValues(status, outcome).Inc()
}

// RecordStoreError records a store operation failure.
func (m *Metrics) RecordStoreError(operation string) {
	if m == nil {
		return
	}
	m.storeErrors.WithLabelValues(operation).Inc()
}

// RecordBusError records a bus operation failure.
func (m *Metrics) RecordBusError(operation string) {
	if m == nil {
		return
	}
	m.busErrors.WithLabelValues(operation).Inc()
}

// Handler returns an HTTP handler for Prometheus scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("metrics not initialized"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for custom collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}
