// Package metrics exposes the pipeline's prometheus instrumentation.
//
// Grounded on the pack's internal/metrics/metrics.go (package-level
// collector vars registered once at construction), adapted from global
// vars + init() registration to an instance-owned prometheus.Registry so
// tests can build independent Collectors without colliding on the default
// registerer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector owns every metric the pipeline emits and the registry they're
// registered against.
type Collector struct {
	registry *prometheus.Registry

	segmentsIngestedTotal prometheus.Counter
	segmentsEvictedTotal  prometheus.Counter
	bytesIngestedTotal    prometheus.Counter
	downloadFailuresTotal *prometheus.CounterVec
	discontinuitiesTotal  prometheus.Counter
}

// New builds a Collector with its own registry and registers every
// metric against it.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		segmentsIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timeshift",
			Name:      "segments_ingested_total",
			Help:      "Total number of segments successfully added to the cache.",
		}),
		segmentsEvictedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timeshift",
			Name:      "segments_evicted_total",
			Help:      "Total number of segments evicted from the cache by age.",
		}),
		bytesIngestedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timeshift",
			Name:      "bytes_ingested_total",
			Help:      "Total bytes of segment data ingested into the cache.",
		}),
		downloadFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "timeshift",
			Name:      "download_failures_total",
			Help:      "Total download failures by error category.",
		}, []string{"category"}),
		discontinuitiesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "timeshift",
			Name:      "discontinuities_total",
			Help:      "Total upstream media-sequence discontinuities detected.",
		}),
	}

	c.registry.MustRegister(
		c.segmentsIngestedTotal,
		c.segmentsEvictedTotal,
		c.bytesIngestedTotal,
		c.downloadFailuresTotal,
		c.discontinuitiesTotal,
	)

	return c
}

// Registry returns the prometheus registry the HTTP layer should serve at
// /metrics.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// SegmentIngested records one successfully-cached segment of size bytes.
func (c *Collector) SegmentIngested(size int64) {
	c.segmentsIngestedTotal.Inc()
	c.bytesIngestedTotal.Add(float64(size))
}

// SegmentEvicted records one segment aged out of the cache.
func (c *Collector) SegmentEvicted() {
	c.segmentsEvictedTotal.Inc()
}

// DownloadFailure records a failed download in the given error category.
func (c *Collector) DownloadFailure(category string) {
	c.downloadFailuresTotal.WithLabelValues(category).Inc()
}

// Discontinuity records a detected upstream media-sequence gap.
func (c *Collector) Discontinuity() {
	c.discontinuitiesTotal.Inc()
}
