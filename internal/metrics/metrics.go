// Package metrics exposes Prometheus instrumentation for the rollup
// pipeline.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/stratahq/strata/internal/audit"
	"github.com/stratahq/strata/internal/models"
	"github.com/stratahq/strata/internal/queue"
)

// Metrics holds the Prometheus instruments of one strata server.
type Metrics struct {
	ExecutionsTotal  *prometheus.CounterVec // by terminal phase
	ExecutionSeconds prometheus.Histogram
	MergedNodes      prometheus.Histogram
	QueueDepth       prometheus.Gauge
	QueueInFlight    prometheus.Gauge
	BlastQueries     *prometheus.CounterVec // by risk level
	AuditEvents      *prometheus.CounterVec // by action
}

// New creates and registers the instruments. The registerer parameter allows
// flexible registration (global registry, test registry).
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_executions_total",
			Help: "Total rollup executions by terminal phase",
		}, []string{"phase"}),
		ExecutionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strata_execution_duration_seconds",
			Help:    "Wall-clock duration of rollup executions",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		MergedNodes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "strata_execution_merged_nodes",
			Help:    "Merged node count per completed execution",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_queue_depth",
			Help: "Buffered executions waiting for a worker",
		}),
		QueueInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_queue_inflight",
			Help: "Executions currently running on workers",
		}),
		BlastQueries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_blast_queries_total",
			Help: "Blast-radius queries by computed risk level",
		}, []string{"risk"}),
		AuditEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "strata_audit_events_total",
			Help: "Audit events by action",
		}, []string{"action"}),
	}
	reg.MustRegister(
		m.ExecutionsTotal,
		m.ExecutionSeconds,
		m.MergedNodes,
		m.QueueDepth,
		m.QueueInFlight,
		m.BlastQueries,
		m.AuditEvents,
	)
	return m
}

// ObserveExecution records a terminal execution. Wire it as the executor's
// completion callback.
func (m *Metrics) ObserveExecution(execution models.RollupExecution) {
	m.ExecutionsTotal.WithLabelValues(string(execution.Phase)).Inc()
	if execution.FinishedAt > execution.StartedAt {
		m.ExecutionSeconds.Observe(float64(execution.FinishedAt-execution.StartedAt) / 1e9)
	}
	if execution.Phase == models.PhaseCompleted {
		m.MergedNodes.Observe(float64(execution.Stats.MergedNodes))
	}
}

// ObserveQueue records a queue snapshot.
func (m *Metrics) ObserveQueue(stats queue.Stats) {
	m.QueueDepth.Set(float64(stats.Depth))
	m.QueueInFlight.Set(float64(stats.InFlight))
}

// EventSink decorates an audit sink with per-action counters and blast risk
// levels.
type EventSink struct {
	metrics *Metrics
	next    audit.Sink
}

// Sink wraps next with metric counting. next may be nil.
func (m *Metrics) Sink(next audit.Sink) *EventSink {
	return &EventSink{metrics: m, next: next}
}

// Record implements audit.Sink.
func (s *EventSink) Record(ctx context.Context, event audit.Event) {
	s.metrics.AuditEvents.WithLabelValues(event.Action).Inc()
	if event.Action == "rollup.blast_radius" && event.Details != nil {
		if risk, ok := event.Details["riskLevel"].(string); ok {
			s.metrics.BlastQueries.WithLabelValues(risk).Inc()
		}
	}
	if s.next != nil {
		s.next.Record(ctx, event)
	}
}
