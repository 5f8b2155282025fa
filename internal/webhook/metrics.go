package webhook

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the prometheus collectors served on /metrics.
type Metrics struct {
	registry *prometheus.Registry

	// EventsTotal counts accepted deliveries. Labels: event, action.
	EventsTotal *prometheus.CounterVec
	// RunsTotal counts finished pipeline runs. Labels: outcome.
	RunsTotal *prometheus.CounterVec
	// QueueDepth is the number of pull requests waiting for the worker.
	QueueDepth prometheus.Gauge
	// RunDuration observes pipeline run wall time.
	RunDuration prometheus.Histogram
}

// NewMetrics registers the collectors on a private registry, together with
// the Go runtime and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		EventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autodevops",
				Subsystem: "webhook",
				Name:      "events_total",
				Help:      "Webhook deliveries by event type and action",
			},
			[]string{"event", "action"},
		),
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "autodevops",
				Name:      "runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"outcome"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "autodevops",
				Name:      "queue_depth",
				Help:      "Pull requests waiting to be reviewed",
			},
		),
		RunDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "autodevops",
				Name:      "run_duration_seconds",
				Help:      "Duration of pipeline runs in seconds",
				Buckets:   []float64{5, 15, 30, 60, 120, 300, 600},
			},
		),
	}
}

// Registry exposes the registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
