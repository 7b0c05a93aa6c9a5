package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

func (r *Registry) initPoolMetrics() {
	r.PoolBlocks = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolalloc_pool_blocks",
			Help: "Blocks tracked by the pool (in use and free)",
		},
		[]string{"allocator", "space"},
	)

	r.PoolFreeBlocks = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolalloc_pool_free_blocks",
			Help: "Blocks held by the pool for reuse",
		},
		[]string{"allocator", "space"},
	)

	r.PoolBytes = promauto.With(r.registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "poolalloc_pool_bytes",
			Help: "Bytes held by the pool (in use and free)",
		},
		[]string{"allocator", "space"},
	)
}

func (r *Registry) initOperationMetrics() {
	r.AllocationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolalloc_allocations_total",
			Help: "Successful allocations by path (reuse or raw)",
		},
		[]string{"allocator", "space", "path"},
	)

	r.DeallocationsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolalloc_deallocations_total",
			Help: "Blocks returned to the pool",
		},
		[]string{"allocator", "space"},
	)

	r.ReleasedBlocksTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolalloc_released_blocks_total",
			Help: "Blocks physically released by garbage collection or close",
		},
		[]string{"allocator", "space"},
	)

	r.ReleasedBytesTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolalloc_released_bytes_total",
			Help: "Bytes physically released by garbage collection or close",
		},
		[]string{"allocator", "space"},
	)

	r.FailuresTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolalloc_failures_total",
			Help: "Failed pool operations by reason",
		},
		[]string{"allocator", "space", "reason"},
	)

	r.GCRunsTotal = promauto.With(r.registry).NewCounterVec(
		prometheus.CounterOpts{
			Name: "poolalloc_gc_runs_total",
			Help: "Garbage collection passes",
		},
		[]string{"allocator"},
	)

	r.RawAllocDuration = promauto.With(r.registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poolalloc_raw_alloc_duration_seconds",
			Help:    "Time spent in the backend's raw allocation",
			Buckets: []float64{0.00001, 0.0001, 0.001, 0.01, 0.1, 1.0},
		},
		[]string{"allocator", "space"},
	)
}
