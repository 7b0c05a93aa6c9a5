// Package metrics exposes pool allocator counters and gauges to Prometheus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Allocation paths reported in the "path" label.
const (
	PathReuse = "reuse"
	PathRaw   = "raw"
)

// Failure reasons reported in the "reason" label.
const (
	ReasonOutOfMemory    = "out_of_memory"
	ReasonOverflow       = "overflow"
	ReasonInvalidAddress = "invalid_address"
	ReasonDoubleFree     = "double_free"
)

// Registry holds all pool metrics.
type Registry struct {
	// Pool state, refreshed after every mutation
	PoolBlocks     *prometheus.GaugeVec
	PoolFreeBlocks *prometheus.GaugeVec
	PoolBytes      *prometheus.GaugeVec

	// Operations
	AllocationsTotal    *prometheus.CounterVec
	DeallocationsTotal  *prometheus.CounterVec
	ReleasedBlocksTotal *prometheus.CounterVec
	ReleasedBytesTotal  *prometheus.CounterVec
	FailuresTotal       *prometheus.CounterVec
	GCRunsTotal         *prometheus.CounterVec

	// Raw allocation latency
	RawAllocDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

var (
	defaultRegistry     *Registry
	defaultRegistryOnce sync.Once
)

// DefaultRegistry returns the process-wide registry.
func DefaultRegistry() *Registry {
	defaultRegistryOnce.Do(func() {
		defaultRegistry = NewRegistry()
	})
	return defaultRegistry
}

// NewRegistry creates a registry with all metrics initialized.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),
	}
	r.initPoolMetrics()
	r.initOperationMetrics()
	return r
}

// GetPrometheusRegistry returns the underlying Prometheus registry.
func (r *Registry) GetPrometheusRegistry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
