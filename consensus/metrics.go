package consensus

import (
	"github.com/go-kit/kit/metrics"
	"github.com/go-kit/kit/metrics/discard"
	prometheus "github.com/go-kit/kit/metrics/prometheus"
	stdprometheus "github.com/prometheus/client_golang/prometheus"
)

const (
	// MetricsSubsystem is a subsystem shared by all metrics exposed by
	// this package.
	MetricsSubsystem = "consensus"
)

// Metrics contains metrics exposed by this package.
type Metrics struct {
	// Current raft term of the replica.
	CurrentTerm metrics.Gauge
	// Number of operations admitted but not yet committed.
	PendingOps metrics.Gauge
	// Number of applies triggered by commit advances.
	TriggeredApplies metrics.Counter
	// Number of pending operations aborted at shutdown.
	AbortedOps metrics.Counter
}

// PrometheusMetrics returns Metrics built using Prometheus client library.
// Optionally, labels can be provided along with their values ("foo",
// "fooValue").
func PrometheusMetrics(namespace string, labelsAndValues ...string) *Metrics {
	labels := []string{}
	for i := 0; i < len(labelsAndValues); i += 2 {
		labels = append(labels, labelsAndValues[i])
	}
	return &Metrics{
		CurrentTerm: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "current_term",
			Help:      "Current raft term of the replica.",
		}, labels).With(labelsAndValues...),
		PendingOps: prometheus.NewGaugeFrom(stdprometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "pending_ops",
			Help:      "Number of operations admitted but not yet committed.",
		}, labels).With(labelsAndValues...),
		TriggeredApplies: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "triggered_applies",
			Help:      "Number of applies triggered by commit advances.",
		}, labels).With(labelsAndValues...),
		AbortedOps: prometheus.NewCounterFrom(stdprometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: MetricsSubsystem,
			Name:      "aborted_ops",
			Help:      "Number of pending operations aborted at shutdown.",
		}, labels).With(labelsAndValues...),
	}
}

// NopMetrics returns no-op Metrics.
func NopMetrics() *Metrics {
	return &Metrics{
		CurrentTerm:      discard.NewGauge(),
		PendingOps:       discard.NewGauge(),
		TriggeredApplies: discard.NewCounter(),
		AbortedOps:       discard.NewCounter(),
	}
}
