// Package metrics defines the Prometheus collectors exported by the
// scheduling core.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/hazz-dev/upwatch/internal/monitor"
)

// Metrics groups every collector.
type Metrics struct {
	Ticks        prometheus.Counter
	Due          prometheus.Counter
	Dispatched   prometheus.Counter
	Deferred     prometheus.Counter
	Contention   prometheus.Counter
	InFlight     prometheus.Gauge
	TickDuration prometheus.Histogram

	Probes       *prometheus.CounterVec
	ProbeLatency prometheus.Histogram

	SinkRetries   prometheus.Counter
	SinkDropped   prometheus.Counter
	SinkDiscarded prometheus.Counter
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Name: "upwatch_scheduler_ticks_total", Help: "Scheduler ticks",
		}),
		Due: f.NewCounter(prometheus.CounterOpts{
			Name: "upwatch_scheduler_due_total", Help: "Monitors found due",
		}),
		Dispatched: f.NewCounter(prometheus.CounterOpts{
			Name: "upwatch_scheduler_dispatched_total", Help: "Probes handed to the worker pool",
		}),
		Deferred: f.NewCounter(prometheus.CounterOpts{
			Name: "upwatch_scheduler_deferred_total", Help: "Due monitors deferred because the pool was full",
		}),
		Contention: f.NewCounter(prometheus.CounterOpts{
			Name: "upwatch_scheduler_contention_total", Help: "Dispatches rejected by the admission gate",
		}),
		InFlight: f.NewGauge(prometheus.GaugeOpts{
			Name: "upwatch_scheduler_in_flight", Help: "Probes currently holding a pool slot",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name: "upwatch_scheduler_tick_duration_seconds", Help: "Time spent selecting and dispatching",
			Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
		}),
		Probes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "upwatch_probes_total", Help: "Probe outcomes by reason",
		}, []string{"up", "reason"}),
		ProbeLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name: "upwatch_probe_latency_seconds", Help: "Probe response time",
			Buckets: prometheus.DefBuckets,
		}),
		SinkRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "upwatch_sink_retries_total", Help: "Failed append attempts that were retried",
		}),
		SinkDropped: f.NewCounter(prometheus.CounterOpts{
			Name: "upwatch_sink_dropped_total", Help: "Results dropped after exhausting append attempts",
		}),
		SinkDiscarded: f.NewCounter(prometheus.CounterOpts{
			Name: "upwatch_sink_discarded_total", Help: "Results discarded for monitors no longer tracked",
		}),
	}
}

// ObserveProbe records one probe outcome. It is a no-op on a nil *Metrics.
func (m *Metrics) ObserveProbe(r monitor.ProbeResult) {
	if m == nil {
		return
	}
	up := "false"
	reason := string(r.Reason)
	if r.IsUp {
		up = "true"
	}
	if r.Reason.IsHTTPError() {
		// keep label cardinality bounded
		reason = "http_error"
	}
	m.Probes.WithLabelValues(up, reason).Inc()
	m.ProbeLatency.Observe(float64(r.ResponseTime) / 1000)
}
