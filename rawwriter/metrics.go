package rawwriter

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by a Writer.
type Metrics struct {
	BytesAppended     prometheus.Counter
	BlocksSubmitted   *prometheus.CounterVec
	Errors            *prometheus.CounterVec
	Barriers          prometheus.Counter
	BarrierWait       prometheus.Histogram
	OutstandingWrites prometheus.Gauge
	FinalFlushBytes   prometheus.Counter
	FileSize          prometheus.Histogram
	DirectIOFallbacks prometheus.Counter
}

// NewMetrics creates and registers the writer metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		BytesAppended: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rawwriter_bytes_appended_total",
				Help: "Total number of bytes accepted by Append",
			},
		),
		BlocksSubmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rawwriter_buffers_submitted_total",
				Help: "Total number of full buffers submitted to the async engine",
			},
			[]string{"engine"},
		),
		Errors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rawwriter_errors_total",
				Help: "Total number of unrecoverable writer errors",
			},
			[]string{"kind"},
		),
		Barriers: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rawwriter_completion_barriers_total",
				Help: "Total number of completion barriers taken",
			},
		),
		BarrierWait: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rawwriter_barrier_wait_seconds",
				Help:    "Time the producer spent blocked in completion barriers",
				Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		),
		OutstandingWrites: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "rawwriter_outstanding_writes",
				Help: "Number of asynchronous writes currently in flight",
			},
		),
		FinalFlushBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rawwriter_final_flush_bytes_total",
				Help: "Bytes written synchronously by the final partial-buffer flush, including padding",
			},
		),
		FileSize: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rawwriter_file_size_bytes",
				Help:    "Logical size of closed raw data files",
				Buckets: prometheus.ExponentialBuckets(1024*1024, 4, 10), // 1MB to 256GB
			},
		),
		DirectIOFallbacks: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rawwriter_direct_io_fallbacks_total",
				Help: "Files opened buffered because the filesystem rejected O_DIRECT",
			},
		),
	}
}

func (m *Metrics) addAppended(n int) {
	if m == nil {
		return
	}
	m.BytesAppended.Add(float64(n))
}

func (m *Metrics) incSubmitted(engine string) {
	if m == nil {
		return
	}
	m.BlocksSubmitted.WithLabelValues(engine).Inc()
	m.OutstandingWrites.Inc()
}

func (m *Metrics) observeBarrier(completed int, seconds float64) {
	if m == nil {
		return
	}
	m.Barriers.Inc()
	m.BarrierWait.Observe(seconds)
	m.OutstandingWrites.Sub(float64(completed))
}

func (m *Metrics) incError(kind Kind) {
	if m == nil {
		return
	}
	m.Errors.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) observeClose(finalFlush int, size int64) {
	if m == nil {
		return
	}
	m.FinalFlushBytes.Add(float64(finalFlush))
	m.FileSize.Observe(float64(size))
}

func (m *Metrics) incDirectIOFallback() {
	if m == nil {
		return
	}
	m.DirectIOFallbacks.Inc()
}
