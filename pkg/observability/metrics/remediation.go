package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nimburion/dlqmanager/pkg/remediation"
)

// RemediationMetrics records controller lifecycle events.
type RemediationMetrics struct {
	actions      *prometheus.CounterVec
	queueResults *prometheus.CounterVec
	rejections   *prometheus.CounterVec
	stale        prometheus.Counter
	inFlight     prometheus.Gauge
	duration     *prometheus.HistogramVec
}

var _ remediation.Observer = (*RemediationMetrics)(nil)

func newRemediationMetrics() *RemediationMetrics {
	return &RemediationMetrics{
		actions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlqmanager_actions_total",
				Help: "Total number of dispatched actions by kind and outcome",
			},
			[]string{"kind", "outcome"},
		),
		queueResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlqmanager_action_queue_results_total",
				Help: "Total number of per-queue action results by kind and status",
			},
			[]string{"kind", "status"},
		),
		rejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "dlqmanager_action_rejections_total",
				Help: "Total number of actions rejected before dispatch by reason",
			},
			[]string{"kind", "reason"},
		),
		stale: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "dlqmanager_stale_discards_total",
				Help: "Total number of action results discarded because a later action completed first",
			},
		),
		inFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "dlqmanager_actions_inflight",
				Help: "Current number of actions waiting for the backend",
			},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "dlqmanager_action_duration_seconds",
				Help:    "Backend round-trip time of dispatched actions",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"kind"},
		),
	}
}

func (m *RemediationMetrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{m.actions, m.queueResults, m.rejections, m.stale, m.inFlight, m.duration}
}

// ActionRejected counts a busy or validation rejection.
func (m *RemediationMetrics) ActionRejected(kind remediation.ActionKind, reason string) {
	m.rejections.WithLabelValues(kind.String(), normalizeMetricLabel(reason, "unknown")).Inc()
}

// ActionStarted marks an action as in flight.
func (m *RemediationMetrics) ActionStarted(remediation.ActionKind) {
	m.inFlight.Inc()
}

// ActionFinished records the outcome of an accepted action.
func (m *RemediationMetrics) ActionFinished(outcome remediation.Outcome, elapsed time.Duration) {
	m.inFlight.Dec()
	kind := outcome.Request.Kind.String()
	m.duration.WithLabelValues(kind).Observe(elapsed.Seconds())

	result := "applied"
	switch {
	case outcome.Err != nil:
		result = "transport_error"
	case outcome.Failures() > 0:
		result = "partial_failure"
	}
	m.actions.WithLabelValues(kind, result).Inc()
	if outcome.Stale {
		m.stale.Inc()
	}
	if outcome.Err != nil {
		return
	}
	for _, r := range outcome.Results {
		status := "success"
		if r.Failed {
			status = "failure"
		}
		m.queueResults.WithLabelValues(kind, status).Inc()
	}
}

func normalizeMetricLabel(value, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	return trimmed
}
