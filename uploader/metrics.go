package uploader

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors updated by an Uploader.
type Metrics struct {
	Uploads        *prometheus.CounterVec
	UploadedBytes  prometheus.Counter
	UploadDuration prometheus.Histogram
}

// NewMetrics creates and registers the uploader metrics.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		Uploads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rawwriter_uploads_total",
				Help: "Total number of raw data file uploads",
			},
			[]string{"status"},
		),
		UploadedBytes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "rawwriter_uploaded_bytes_total",
				Help: "Total bytes uploaded to object storage",
			},
		),
		UploadDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "rawwriter_upload_duration_seconds",
				Help:    "Duration of successful uploads",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
			},
		),
	}
}

func (m *Metrics) incUploads(status string) {
	if m == nil {
		return
	}
	m.Uploads.WithLabelValues(status).Inc()
}

func (m *Metrics) observeUpload(size int64, d time.Duration) {
	if m == nil {
		return
	}
	m.UploadedBytes.Add(float64(size))
	m.UploadDuration.Observe(d.Seconds())
}
