// Package metrics exports the bot's Prometheus metrics.
package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics holds all Prometheus metrics for the bot. It implements
// the retry, faucet and chain observers.
type PrometheusMetrics struct {
	RetryAttempts  *prometheus.CounterVec
	RetryExhausted *prometheus.CounterVec
	FaucetClaims   *prometheus.CounterVec
	Transactions   *prometheus.CounterVec
	ConfirmLatency *prometheus.HistogramVec
	Runs           *prometheus.CounterVec
	BatchItems     *prometheus.CounterVec
	ActiveRun      prometheus.Gauge
}

// NewPrometheusMetrics creates and registers all Prometheus metrics.
func NewPrometheusMetrics(reg prometheus.Registerer) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)

	return &PrometheusMetrics{
		RetryAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testnetbot_retry_attempts_total",
				Help: "Failed attempts that were retried, by operation",
			},
			[]string{"operation"},
		),

		RetryExhausted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testnetbot_retry_exhausted_total",
				Help: "Operations that failed every attempt",
			},
			[]string{"operation"},
		),

		FaucetClaims: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testnetbot_faucet_claims_total",
				Help: "Faucet claims by final status",
			},
			[]string{"status"},
		),

		Transactions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testnetbot_chain_transactions_total",
				Help: "Signed transactions by contract method and status",
			},
			[]string{"method", "status"},
		),

		ConfirmLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "testnetbot_chain_confirm_seconds",
				Help:    "Time from submission to confirmation",
				Buckets: []float64{1, 2, 5, 10, 20, 30, 60, 120, 180},
			},
			[]string{"method"},
		),

		Runs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testnetbot_runs_total",
				Help: "Command runs by final status",
			},
			[]string{"command", "status"},
		),

		BatchItems: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "testnetbot_batch_items_total",
				Help: "Batch items by outcome",
			},
			[]string{"status"},
		),

		ActiveRun: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "testnetbot_active_run",
				Help: "1 while a command is running",
			},
		),
	}
}

// operationLabel drops addresses from an operation name so the label set
// stays bounded ("faucet claim 0xabc" -> "faucet claim").
func operationLabel(op string) string {
	fields := strings.Fields(op)
	kept := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "0x") {
			continue
		}
		kept = append(kept, f)
	}
	if len(kept) == 0 {
		return "other"
	}
	return strings.Join(kept, " ")
}

func statusLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}

// Retrying records a failed attempt that will be retried.
func (m *PrometheusMetrics) Retrying(op string, _ int, _ time.Duration, _ error) {
	m.RetryAttempts.WithLabelValues(operationLabel(op)).Inc()
}

// Exhausted records an operation that ran out of attempts.
func (m *PrometheusMetrics) Exhausted(op string, _ int, _ error) {
	m.RetryExhausted.WithLabelValues(operationLabel(op)).Inc()
}

// ClaimFinished records the final outcome of one faucet claim.
func (m *PrometheusMetrics) ClaimFinished(success bool) {
	m.FaucetClaims.WithLabelValues(statusLabel(success)).Inc()
}

// TransactionFinished records a confirmed or failed transaction.
func (m *PrometheusMetrics) TransactionFinished(method string, success bool, confirm time.Duration) {
	m.Transactions.WithLabelValues(method, statusLabel(success)).Inc()
	if success {
		m.ConfirmLatency.WithLabelValues(method).Observe(confirm.Seconds())
	}
}

// RunStarted marks a command as active.
func (m *PrometheusMetrics) RunStarted() {
	m.ActiveRun.Set(1)
}

// RunFinished records a completed run.
func (m *PrometheusMetrics) RunFinished(command, status string) {
	m.ActiveRun.Set(0)
	m.Runs.WithLabelValues(command, status).Inc()
}

// BatchItem records the outcome of one batch item.
func (m *PrometheusMetrics) BatchItem(success bool) {
	m.BatchItems.WithLabelValues(statusLabel(success)).Inc()
}
