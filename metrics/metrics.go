package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/indieinfra/mediavault/config"
)

// Metrics defines counters for the asset lifecycle.
type Metrics interface {
	IncUploads(status string)
	IncUploadRetries()
	IncReferenceSyncs(contentType string)
	IncCleanupItems(outcome string)
	AddFreedBytes(n int64)
}

// Noop implements Metrics without emitting anything.
type Noop struct{}

func (Noop) IncUploads(string)        {}
func (Noop) IncUploadRetries()        {}
func (Noop) IncReferenceSyncs(string) {}
func (Noop) IncCleanupItems(string)   {}
func (Noop) AddFreedBytes(int64)      {}

// Prom implements Metrics backed by Prometheus counters.
type Prom struct {
	uploads        *prometheus.CounterVec
	uploadRetries  prometheus.Counter
	referenceSyncs *prometheus.CounterVec
	cleanupItems   *prometheus.CounterVec
	freedBytes     prometheus.Counter
	once           sync.Once
}

func NewProm(namespace string) *Prom {
	p := &Prom{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Uploads by terminal status",
		}, []string{"status"}),
		uploadRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "upload_retries_total",
			Help:      "Object store upload attempts after the first",
		}),
		referenceSyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reference_syncs_total",
			Help:      "Reference syncs by content type",
		}, []string{"content_type"}),
		cleanupItems: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_items_total",
			Help:      "Cleanup candidates by outcome",
		}, []string{"outcome"}),
		freedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_freed_bytes_total",
			Help:      "Bytes released by non-dry-run cleanups",
		}),
	}
	p.register()
	return p
}

func (p *Prom) register() {
	p.once.Do(func() {
		prometheus.MustRegister(p.uploads, p.uploadRetries, p.referenceSyncs, p.cleanupItems, p.freedBytes)
	})
}

func (p *Prom) IncUploads(status string) {
	p.uploads.WithLabelValues(status).Inc()
}

func (p *Prom) IncUploadRetries() {
	p.uploadRetries.Inc()
}

func (p *Prom) IncReferenceSyncs(contentType string) {
	p.referenceSyncs.WithLabelValues(contentType).Inc()
}

func (p *Prom) IncCleanupItems(outcome string) {
	p.cleanupItems.WithLabelValues(outcome).Inc()
}

func (p *Prom) AddFreedBytes(n int64) {
	if n > 0 {
		p.freedBytes.Add(float64(n))
	}
}

// New returns Prometheus metrics when enabled, Noop otherwise.
func New(cfg config.Metrics) Metrics {
	if !cfg.Enabled {
		return Noop{}
	}
	return NewProm(cfg.Namespace)
}

// Handler returns an HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
