package handler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zynqcloud/go-attachments/internal/compress"
)

const metricsNamespace = "attachd"

// Metrics holds the Prometheus collectors exposed at GET /metrics.
type Metrics struct {
	uploads       prometheus.Counter
	uploadsFailed *prometheus.CounterVec
	bytesWritten  prometheus.Counter
	downloads     *prometheus.CounterVec
	compressions  *prometheus.CounterVec
	bytesSaved    prometheus.Counter
}

// MustNewMetrics registers the handler collectors with reg. Registration
// errors panic, as with promauto.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		uploads: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "uploads",
			Name:      "total",
			Help:      "Attachment uploads attempted.",
		}),
		uploadsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "uploads",
			Name:      "failed_total",
			Help:      "Attachment uploads rejected or failed, by reason.",
		}, []string{"reason"}),
		bytesWritten: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "uploads",
			Name:      "bytes_total",
			Help:      "Bytes committed to storage after compression.",
		}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "downloads",
			Name:      "total",
			Help:      "Attachment lookups, by result.",
		}, []string{"result"}),
		compressions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "compression",
			Name:      "runs_total",
			Help:      "Compression pipeline runs, by file kind and outcome.",
		}, []string{"kind", "outcome"}),
		bytesSaved: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "compression",
			Name:      "saved_bytes_total",
			Help:      "Bytes reclaimed by compression.",
		}),
	}
}

func (m *Metrics) observeCompression(res compress.Result) {
	m.compressions.WithLabelValues(string(res.Kind), string(res.Outcome)).Inc()
	if res.Outcome == compress.OutcomeCompressed {
		m.bytesSaved.Add(float64(res.Saved()))
	}
}
