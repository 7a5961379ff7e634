package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry-level (component A) metrics
	TabletsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tablet_registry_tablets_total",
			Help: "Total number of published tablets by status",
		},
		[]string{"status"},
	)

	TabletsPinned = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablet_registry_pinned_total",
			Help: "Number of tablets currently pinned by an open lifecycle transaction",
		},
	)

	TabletCASConflicts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablet_registry_cas_conflicts_total",
			Help: "Total number of compare_and_swap_tablet calls that lost the race",
		},
	)

	// Memtable manager (component C) metrics
	MemtablesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tablet_memtable_active_total",
			Help: "Total number of active (unfrozen) memtables across all tablets",
		},
	)

	MemtableFreezeBackpressure = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablet_memtable_freeze_backpressure_total",
			Help: "Total number of create_memtable calls rejected with MINOR_FREEZE_NOT_ALLOW",
		},
	)

	MemtableReleaseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablet_memtable_release_duration_seconds",
			Help:    "Time taken to release flushed memtables",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Transaction context (component D) metrics
	TxCommitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablet_tx_commit_duration_seconds",
			Help:    "Time taken by trans_end to finalize a transaction",
			Buckets: prometheus.DefBuckets,
		},
	)

	TxOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablet_tx_outcomes_total",
			Help: "Total number of transactions finalized by end_code",
		},
		[]string{"end_code"},
	)

	TxPartialRollbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablet_tx_partial_rollbacks_total",
			Help: "Total number of partial rollback() calls",
		},
	)

	RedoLogBytesGenerated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tablet_redo_log_bytes_generated_total",
			Help: "Total bytes packed into redo log records by fill_redo_log",
		},
	)

	// SLOG (component E) metrics
	SLOGWriteDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablet_slog_write_duration_seconds",
			Help:    "Time taken for a SLOG batch to be durably appended",
			Buckets: prometheus.DefBuckets,
		},
	)

	SLOGEntriesWrittenTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablet_slog_entries_written_total",
			Help: "Total number of SLOG entries written by command code",
		},
		[]string{"cmd"},
	)

	// Tablet service (component E) DML metrics
	DMLOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablet_dml_outcomes_total",
			Help: "Total number of DML calls by operation and outcome",
		},
		[]string{"op", "outcome"},
	)

	DMLDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablet_dml_duration_seconds",
			Help:    "DML call duration in seconds by operation",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	ScanDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tablet_scan_duration_seconds",
			Help:    "Time taken to resolve read tables and open a scan",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Logical plan (component F) traversal metrics
	PlanTraversalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tablet_plan_traversals_total",
			Help: "Total number of do_plan_tree_traverse runs by traversal name",
		},
		[]string{"traversal"},
	)

	PlanTraversalDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tablet_plan_traversal_duration_seconds",
			Help:    "Traversal duration in seconds by traversal name",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"traversal"},
	)
)

func init() {
	prometheus.MustRegister(TabletsTotal)
	prometheus.MustRegister(TabletsPinned)
	prometheus.MustRegister(TabletCASConflicts)

	prometheus.MustRegister(MemtablesActive)
	prometheus.MustRegister(MemtableFreezeBackpressure)
	prometheus.MustRegister(MemtableReleaseDuration)

	prometheus.MustRegister(TxCommitDuration)
	prometheus.MustRegister(TxOutcomesTotal)
	prometheus.MustRegister(TxPartialRollbacksTotal)
	prometheus.MustRegister(RedoLogBytesGenerated)

	prometheus.MustRegister(SLOGWriteDuration)
	prometheus.MustRegister(SLOGEntriesWrittenTotal)

	prometheus.MustRegister(DMLOutcomesTotal)
	prometheus.MustRegister(DMLDuration)
	prometheus.MustRegister(ScanDuration)

	prometheus.MustRegister(PlanTraversalsTotal)
	prometheus.MustRegister(PlanTraversalDuration)
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
