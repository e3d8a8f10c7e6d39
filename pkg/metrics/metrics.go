package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Staging cache metrics
	CacheSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "binlogtap_cache_rows_total",
			Help: "Total number of rows currently staged in the cache",
		},
	)

	CacheTablesTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "binlogtap_cache_tables_total",
			Help: "Total number of distinct tables currently staged in the cache",
		},
	)

	RowsMergedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlogtap_rows_merged_total",
			Help: "Total number of row mutations merged into the cache by resulting action",
		},
		[]string{"table", "action"},
	)

	RowsIgnoredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlogtap_rows_ignored_total",
			Help: "Total number of row mutations dropped (missing key, inconsistent delete-then-update)",
		},
		[]string{"table", "reason"},
	)

	BackendFullTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "binlogtap_backend_full_total",
			Help: "Total number of times the cache backend reported it was full",
		},
	)

	LeaseAcquireFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "binlogtap_lease_acquire_failures_total",
			Help: "Total number of failed attempts to acquire the cache lease",
		},
	)

	// Producer metrics
	ProducerEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlogtap_producer_events_total",
			Help: "Total number of binlog events processed by kind",
		},
		[]string{"kind"},
	)

	ProducerLagSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "binlogtap_producer_lag_seconds",
			Help: "Estimated seconds between a row event's timestamp and its processing time",
		},
	)

	ProducerEventLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "binlogtap_producer_event_latency_seconds",
			Help:    "Time taken to process a single binlog event in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Dumper metrics
	DumpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "binlogtap_dump_duration_seconds",
			Help:    "Time taken to dump a table's staged rows to CSV in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"table"},
	)

	DumpRowsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlogtap_dump_rows_total",
			Help: "Total number of rows written to CSV by table",
		},
		[]string{"table"},
	)

	DumpFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlogtap_dump_failures_total",
			Help: "Total number of dump attempts that failed by table",
		},
		[]string{"table"},
	)

	// Uploader metrics
	UploadBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "binlogtap_upload_batches_total",
			Help: "Total number of upload batches attempted by outcome",
		},
		[]string{"outcome"},
	)

	UploadRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "binlogtap_upload_retries_total",
			Help: "Total number of upload batch retries",
		},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "binlogtap_upload_batch_duration_seconds",
			Help:    "Time taken to upload one batch of files in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120},
		},
	)
)

func init() {
	prometheus.MustRegister(CacheSize)
	prometheus.MustRegister(CacheTablesTotal)
	prometheus.MustRegister(RowsMergedTotal)
	prometheus.MustRegister(RowsIgnoredTotal)
	prometheus.MustRegister(BackendFullTotal)
	prometheus.MustRegister(LeaseAcquireFailuresTotal)

	prometheus.MustRegister(ProducerEventsTotal)
	prometheus.MustRegister(ProducerLagSeconds)
	prometheus.MustRegister(ProducerEventLatency)

	prometheus.MustRegister(DumpDuration)
	prometheus.MustRegister(DumpRowsTotal)
	prometheus.MustRegister(DumpFailuresTotal)

	prometheus.MustRegister(UploadBatchesTotal)
	prometheus.MustRegister(UploadRetriesTotal)
	prometheus.MustRegister(UploadDuration)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	duration := time.Since(t.start).Seconds()
	histogram.Observe(duration)
}

// ObserveDurationVec records the duration to a histogram vec with labels
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	duration := time.Since(t.start).Seconds()
	histogram.WithLabelValues(labels...).Observe(duration)
}

// Duration returns the elapsed time since timer started
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}
