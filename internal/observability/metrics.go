// Package observability provides Prometheus metrics for the training job.
package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "txn_anomaly_lab"

// Metrics holds all Prometheus metrics for one job execution. Each instance
// owns a private registry so batch runs and tests do not share state.
type Metrics struct {
	registry *prometheus.Registry

	// Pipeline metrics
	PhaseRunsTotal *prometheus.CounterVec
	PhaseDuration  *prometheus.HistogramVec

	// Data metrics
	TransactionsLoaded prometheus.Gauge
	AccountsSeen       prometheus.Gauge
	ReorderedAccounts  prometheus.Gauge
	FeatureRows        prometheus.Gauge

	// Model metrics
	TreesFitted         prometheus.Gauge
	FlaggedTransactions prometheus.Gauge
	ScoreOffset         prometheus.Gauge
	ArtifactBytes       prometheus.Gauge

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulRun prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered on
// a fresh registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}

	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		PhaseRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "phase_runs_total",
			Help:      "Total number of pipeline phase executions by outcome",
		}, []string{"phase", "status"}),
		PhaseDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "phase_duration_seconds",
			Help:      "Pipeline phase duration in seconds",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		}, []string{"phase"}),

		TransactionsLoaded: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "transactions_loaded",
			Help:      "Transactions read by the loader",
		}),
		AccountsSeen: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "accounts",
			Help:      "Distinct accounts in the input",
		}),
		ReorderedAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "reordered_accounts",
			Help:      "Accounts whose transactions arrived out of timestamp order",
		}),
		FeatureRows: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "features",
			Name:      "matrix_rows",
			Help:      "Rows in the assembled feature matrix",
		}),

		TreesFitted: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "trees",
			Help:      "Isolation trees in the fitted forest",
		}),
		FlaggedTransactions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "flagged_transactions",
			Help:      "Training transactions labelled anomalous",
		}),
		ScoreOffset: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "score_offset",
			Help:      "Decision threshold on score_samples",
		}),
		ArtifactBytes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "model",
			Name:      "artifact_bytes",
			Help:      "Size of the exported ONNX artifact",
		}),

		DBQueryDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_duration_seconds",
			Help:      "Database operation duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "db",
			Name:      "query_errors_total",
			Help:      "Total number of failed database operations",
		}, []string{"database", "operation"}),

		LastSuccessfulRun: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "last_successful_run_timestamp",
			Help:      "Unix timestamp of the last successful training run",
		}),
	}
}

// Registry returns the registry holding these metrics.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordPhase records one phase execution.
func (m *Metrics) RecordPhase(phase string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.PhaseRunsTotal.WithLabelValues(phase, status).Inc()
	m.PhaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// RecordDBQuery records database operation metrics.
func (m *Metrics) RecordDBQuery(database, operation string, d time.Duration, err error) {
	m.DBQueryDuration.WithLabelValues(database, operation).Observe(d.Seconds())
	if err != nil {
		m.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}

// MarkSuccess stamps the last successful run time.
func (m *Metrics) MarkSuccess(at time.Time) {
	m.LastSuccessfulRun.Set(float64(at.Unix()))
}

// Push sends all metrics to a Prometheus Pushgateway under job, replacing
// the job's previous group. Batch jobs exit before a scrape could happen.
func (m *Metrics) Push(ctx context.Context, gatewayURL, job string) error {
	if err := push.New(gatewayURL, job).Gatherer(m.registry).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics to %s: %w", gatewayURL, err)
	}
	return nil
}
