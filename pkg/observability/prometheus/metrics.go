package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the default Prometheus registry
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer is the default Prometheus registerer
	DefaultRegisterer = prometheus.WrapRegistererWith(prometheus.Labels{"service": "fluxsink"}, DefaultRegistry)

	// Metrics collection
	metricsOnce sync.Once
	metrics     *Metrics
)

// Flush results used as the "result" label.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics holds all Prometheus metrics of a sink. A nil *Metrics records nothing.
type Metrics struct {
	// Ingest metrics
	RecordsEmitted *prometheus.CounterVec
	RecordsDropped *prometheus.CounterVec

	// Buffer metrics
	PendingChunks prometheus.Gauge
	PendingBytes  prometheus.Gauge

	// Flush metrics
	FlushesTotal  *prometheus.CounterVec
	FlushDuration prometheus.Histogram
	BytesWritten  prometheus.Counter
	PayloadBytes  prometheus.Counter

	// Side effects
	SymlinkFailures prometheus.Counter
	JournalErrors   prometheus.Counter
}

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = NewMetrics(DefaultRegisterer)
	})
	return metrics
}

// NewMetrics creates a new metrics collection
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = DefaultRegisterer
	}
	factory := promauto.With(registerer)

	return &Metrics{
		RecordsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxsink_records_emitted_total",
				Help: "Total number of records accepted into chunk buffers",
			},
			[]string{"tag"},
		),
		RecordsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxsink_records_dropped_total",
				Help: "Total number of records rejected before buffering",
			},
			[]string{"reason"},
		),

		PendingChunks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxsink_pending_chunks",
				Help: "Number of bucket keys holding unflushed data",
			},
		),
		PendingBytes: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "fluxsink_pending_bytes",
				Help: "Unflushed bytes across all chunks",
			},
		),

		FlushesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fluxsink_flushes_total",
				Help: "Total number of chunk flushes by result",
			},
			[]string{"result"},
		),
		FlushDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fluxsink_flush_duration_seconds",
				Help:    "Chunk flush duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		BytesWritten: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxsink_bytes_written_total",
				Help: "Bytes written to output files after compression",
			},
		),
		PayloadBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxsink_payload_bytes_total",
				Help: "Chunk bytes flushed before compression",
			},
		),

		SymlinkFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxsink_symlink_failures_total",
				Help: "Total number of failed symlink updates",
			},
		),
		JournalErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fluxsink_journal_errors_total",
				Help: "Total number of staging journal failures",
			},
		),
	}
}

// RecordEmit counts one buffered record for tag
func (m *Metrics) RecordEmit(tag string) {
	if m == nil {
		return
	}
	m.RecordsEmitted.WithLabelValues(tag).Inc()
}

// RecordDrop counts one rejected record
func (m *Metrics) RecordDrop(reason string) {
	if m == nil {
		return
	}
	m.RecordsDropped.WithLabelValues(reason).Inc()
}

// UpdatePending sets the buffer gauges
func (m *Metrics) UpdatePending(chunks int, bytes int64) {
	if m == nil {
		return
	}
	m.PendingChunks.Set(float64(chunks))
	m.PendingBytes.Set(float64(bytes))
}

// RecordFlush records one flush attempt
func (m *Metrics) RecordFlush(err error, duration time.Duration, written, payload int64) {
	if m == nil {
		return
	}
	m.FlushDuration.Observe(duration.Seconds())
	if err != nil {
		m.FlushesTotal.WithLabelValues(ResultError).Inc()
		return
	}
	m.FlushesTotal.WithLabelValues(ResultOK).Inc()
	m.BytesWritten.Add(float64(written))
	m.PayloadBytes.Add(float64(payload))
}

// RecordSymlinkFailure counts a failed symlink update
func (m *Metrics) RecordSymlinkFailure() {
	if m == nil {
		return
	}
	m.SymlinkFailures.Inc()
}

// RecordJournalError counts a staging journal failure
func (m *Metrics) RecordJournalError() {
	if m == nil {
		return
	}
	m.JournalErrors.Inc()
}
