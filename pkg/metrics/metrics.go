// Package metrics exposes healsink's Prometheus metrics. Collectors are
// registered on the default registry at init through promauto and served by
// Handler.
//
// # Basic Usage
//
//	metrics.Writes.WithLabelValues("mysql", metrics.OutcomeSuccess).Inc()
//	metrics.Remediations.WithLabelValues("mysql", "unknown_column").Inc()
//
//	timer := metrics.NewTimer()
//	err := writer.Write(ctx, exec, rec)
//	metrics.WriteLatency.WithLabelValues("mysql").Observe(timer.Stop().Seconds())
//
// # Metric Types
//
// Counter: writes, store errors by kind, remediations, swallowed DDL,
// connection attempts
// Gauge: queue depth, open handles
// Histogram: write latency, remediation cycles per write
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Write outcomes.
const (
	OutcomeSuccess       = "success"
	OutcomeUnrecoverable = "unrecoverable"
	OutcomeNotConverged  = "not_converged"
	OutcomeError         = "error"
)

var (
	// Writes counts completed writes.
	// Labels: dialect, outcome (success/unrecoverable/not_converged/error)
	Writes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healsink_writes_total",
			Help: "Total number of record writes by outcome",
		},
		[]string{"dialect", "outcome"},
	)

	// StoreErrors counts failed write attempts by classification kind.
	// Labels: dialect, kind (unknown_column/missing_table/.../unrecoverable)
	StoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healsink_store_errors_total",
			Help: "Failed write attempts by error classification",
		},
		[]string{"dialect", "kind"},
	)

	// Remediations counts corrective DDL applied per classification kind.
	Remediations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healsink_remediations_total",
			Help: "Total number of schema remediations applied",
		},
		[]string{"dialect", "kind"},
	)

	// SwallowedDDL counts DDL that failed because a concurrent writer
	// applied the same change first.
	SwallowedDDL = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healsink_ddl_already_applied_total",
			Help: "DDL failures treated as success because the change already existed",
		},
		[]string{"dialect"},
	)

	// RemediationCycles is the number of corrective cycles each write needed.
	RemediationCycles = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healsink_write_remediation_cycles",
			Help:    "Remediation cycles per write",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21},
		},
		[]string{"dialect"},
	)

	// WriteLatency tracks the end-to-end duration of a write in seconds,
	// including remediation.
	WriteLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "healsink_write_duration_seconds",
			Help:    "Write duration including schema remediation",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 10),
		},
		[]string{"dialect"},
	)

	// QueueDepth tracks pending writes in the queued strategy.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healsink_queue_depth",
			Help: "Current number of pending queued writes",
		},
		[]string{"pipeline"},
	)

	// ConnectionAttempts counts pool open attempts by result.
	ConnectionAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "healsink_connection_attempts_total",
			Help: "Connection attempts by result",
		},
		[]string{"dialect", "result"},
	)

	// OpenHandles tracks dedicated connections held by strategies.
	OpenHandles = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healsink_open_handles",
			Help: "Dedicated connections currently held",
		},
		[]string{"dialect"},
	)

	// Throughput tracks records per second as last sampled.
	Throughput = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "healsink_throughput_records_per_second",
			Help: "Current throughput in records per second",
		},
		[]string{"pipeline"},
	)
)

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the elapsed time since the timer started. It may be called
// more than once.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}

// ThroughputTracker samples records per second for a pipeline. Safe for
// concurrent use.
type ThroughputTracker struct {
	mu        sync.Mutex
	count     int64
	lastReset time.Time
	pipeline  string
}

// NewThroughputTracker creates a tracker labelled with the pipeline name.
func NewThroughputTracker(pipeline string) *ThroughputTracker {
	return &ThroughputTracker{
		lastReset: time.Now(),
		pipeline:  pipeline,
	}
}

// Increment adds n to the record count.
func (t *ThroughputTracker) Increment(n int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count += n
}

// GetAndReset computes the throughput since the last reset, publishes it to
// the Throughput gauge and starts a new window.
func (t *ThroughputTracker) GetAndReset() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	elapsed := time.Since(t.lastReset).Seconds()
	if elapsed == 0 {
		return 0
	}

	throughput := float64(t.count) / elapsed
	t.count = 0
	t.lastReset = time.Now()

	Throughput.WithLabelValues(t.pipeline).Set(throughput)
	return throughput
}
