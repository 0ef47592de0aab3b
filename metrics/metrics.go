// Package metrics provides Prometheus metrics for the scheduler.
package metrics

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/VanDung-dev/Seamless-Engine/engine"
)

// Outcome label values of SchedulesTotal.
const (
	OutcomeCommitted    = "committed"
	OutcomeInvalid      = "invalid_block"
	OutcomeMaxRetries   = "max_retries"
	OutcomeStateFailure = "state_error"
	OutcomeAborted      = "aborted"
)

// Metrics holds all Prometheus metrics for the scheduler.
type Metrics struct {
	// Block metrics
	SchedulesTotal   *prometheus.CounterVec
	ScheduleLatency  prometheus.Histogram
	BlockSize        prometheus.Histogram
	ResolutionRounds prometheus.Histogram

	// Dependency metrics
	DependencyEdges  prometheus.Histogram
	ExecutionBatches prometheus.Histogram
	MaxParallelism   prometheus.Histogram
	ParallelismRatio prometheus.Gauge

	// Transaction metrics
	TransactionsConfirmed prometheus.Counter
	TransactionsFailed    prometheus.Counter
	Executions            prometheus.Counter
	Aborts                prometheus.Counter

	// System metrics
	MempoolSize       prometheus.Gauge
	WorkerPoolActive  prometheus.Gauge
	WorkerPoolPending prometheus.Gauge
}

// NewMetrics creates metrics with the given namespace, registered on reg.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		SchedulesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedules_total",
			Help:      "Total number of scheduled blocks by outcome",
		}, []string{"outcome"}),
		ScheduleLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "schedule_latency_seconds",
			Help:      "Time to schedule and commit one block in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),
		BlockSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "block_size",
			Help:      "Number of transactions per scheduled block",
			Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 5000},
		}),
		ResolutionRounds: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resolution_rounds",
			Help:      "Re-execution rounds needed per block",
			Buckets:   []float64{0, 1, 2, 3, 5, 10, 25, 50, 100},
		}),

		DependencyEdges: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "dependency_edges",
			Help:      "Read-write dependency edges between confirmed transactions per block",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		ExecutionBatches: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "execution_batches",
			Help:      "Dependency levels per block",
			Buckets:   []float64{1, 2, 3, 5, 10, 25, 50, 100, 250, 1000},
		}),
		MaxParallelism: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "max_parallelism",
			Help:      "Size of the widest dependency level per block",
			Buckets:   []float64{1, 2, 4, 8, 16, 32, 64, 128, 256, 512, 1024},
		}),
		ParallelismRatio: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "parallelism_ratio",
			Help:      "Transactions per dependency level of the last committed block",
		}),

		TransactionsConfirmed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_confirmed_total",
			Help:      "Total number of confirmed transactions",
		}),
		TransactionsFailed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_failed_total",
			Help:      "Total number of confirmed transactions with a failed result",
		}),
		Executions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "executions_total",
			Help:      "Total number of transaction executions, including re-executions",
		}),
		Aborts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "aborts_total",
			Help:      "Total number of transactions aborted by conflict checks",
		}),

		MempoolSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "mempool_size",
			Help:      "Current number of pending transactions in mempool",
		}),
		WorkerPoolActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_active",
			Help:      "Number of active workers",
		}),
		WorkerPoolPending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "worker_pool_pending",
			Help:      "Number of pending tasks in worker pool",
		}),
	}
}

// RecordSchedule implements engine.Recorder.
func (m *Metrics) RecordSchedule(stats engine.ScheduleStats, err error) {
	m.SchedulesTotal.WithLabelValues(Outcome(err)).Inc()
	m.ScheduleLatency.Observe(stats.Duration.Seconds())
	m.Executions.Add(float64(stats.Executions))
	m.Aborts.Add(float64(stats.Aborts))
	if err != nil {
		return
	}
	m.BlockSize.Observe(float64(stats.Transactions))
	m.ResolutionRounds.Observe(float64(stats.Rounds))
	m.TransactionsConfirmed.Add(float64(stats.Transactions))
	m.TransactionsFailed.Add(float64(stats.Failed))
	m.DependencyEdges.Observe(float64(stats.Dependencies.Edges))
	m.ExecutionBatches.Observe(float64(stats.Dependencies.Batches))
	m.MaxParallelism.Observe(float64(stats.Dependencies.MaxParallelism))
	m.ParallelismRatio.Set(stats.ParallelismRatio())
}

// Outcome maps a Schedule error to its label value.
func Outcome(err error) string {
	if err == nil {
		return OutcomeCommitted
	}
	var se *engine.StateError
	switch {
	case errors.Is(err, engine.ErrInvalidBlock):
		return OutcomeInvalid
	case errors.Is(err, engine.ErrMaxRetriesExceeded):
		return OutcomeMaxRetries
	case errors.As(err, &se):
		return OutcomeStateFailure
	default:
		return OutcomeAborted
	}
}

// UpdateMempoolSize updates the mempool gauge.
func (m *Metrics) UpdateMempoolSize(size int) {
	m.MempoolSize.Set(float64(size))
}

// UpdateWorkerPool updates worker pool gauges.
func (m *Metrics) UpdateWorkerPool(stats engine.PoolStats) {
	m.WorkerPoolActive.Set(float64(stats.Active))
	m.WorkerPoolPending.Set(float64(stats.Pending))
}
