package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "course_chatbot"

// Result labels for a drift check
const (
	ResultInSync = "in_sync"
	ResultDrift  = "drift"
	ResultError  = "error"
)

// Metrics holds the Prometheus metrics of the drift watcher
type Metrics struct {
	// Drift check metrics
	DriftChecksTotal *prometheus.CounterVec
	DriftFindings    prometheus.Gauge
	CheckDuration    prometheus.Histogram

	// AWS API metrics
	AWSAPICallsTotal *prometheus.CounterVec
	AWSAPIErrors     *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg. Tests pass a
// fresh prometheus.NewRegistry() so repeated construction does not collide.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		DriftChecksTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "drift_checks_total",
				Help:      "Total number of drift checks by result",
			},
			[]string{"result"},
		),

		DriftFindings: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "drift_findings",
				Help:      "Number of drift findings reported by the last completed check",
			},
		),

		CheckDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "drift_check_duration_seconds",
				Help:      "Duration of drift checks in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),

		AWSAPICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aws_api_calls_total",
				Help:      "Total number of AWS API calls",
			},
			[]string{"operation"},
		),

		AWSAPIErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "aws_api_errors_total",
				Help:      "Total number of failed AWS API calls",
			},
			[]string{"operation"},
		),
	}
}

// RecordDriftCheck records a completed check. findings is ignored for failed checks.
func (m *Metrics) RecordDriftCheck(result string, findings int, duration time.Duration) {
	m.DriftChecksTotal.WithLabelValues(result).Inc()
	m.CheckDuration.Observe(duration.Seconds())
	if result != ResultError {
		m.DriftFindings.Set(float64(findings))
	}
}

// ObserveAPICall counts an AWS call and its failure
func (m *Metrics) ObserveAPICall(operation string, err error) {
	m.AWSAPICallsTotal.WithLabelValues(operation).Inc()
	if err != nil {
		m.AWSAPIErrors.WithLabelValues(operation).Inc()
	}
}
