package metrics

import "time"

// SetPoolState publishes a snapshot of one space's pool.
func (r *Registry) SetPoolState(allocator, space string, blocks, freeBlocks int, bytes int64) {
	r.PoolBlocks.WithLabelValues(allocator, space).Set(float64(blocks))
	r.PoolFreeBlocks.WithLabelValues(allocator, space).Set(float64(freeBlocks))
	r.PoolBytes.WithLabelValues(allocator, space).Set(float64(bytes))
}

// RecordAllocation records a successful allocation.
func (r *Registry) RecordAllocation(allocator, space, path string) {
	r.AllocationsTotal.WithLabelValues(allocator, space, path).Inc()
}

// RecordRawAllocation records the duration of a backend allocation.
func (r *Registry) RecordRawAllocation(allocator, space string, duration time.Duration) {
	r.RawAllocDuration.WithLabelValues(allocator, space).Observe(duration.Seconds())
}

// RecordDeallocation records a block returned to the pool.
func (r *Registry) RecordDeallocation(allocator, space string) {
	r.DeallocationsTotal.WithLabelValues(allocator, space).Inc()
}

// RecordRelease records blocks physically released.
func (r *Registry) RecordRelease(allocator, space string, blocks int, bytes int64) {
	if blocks == 0 {
		return
	}
	r.ReleasedBlocksTotal.WithLabelValues(allocator, space).Add(float64(blocks))
	r.ReleasedBytesTotal.WithLabelValues(allocator, space).Add(float64(bytes))
}

// RecordFailure records a failed operation.
func (r *Registry) RecordFailure(allocator, space, reason string) {
	r.FailuresTotal.WithLabelValues(allocator, space, reason).Inc()
}

// RecordGC records a garbage collection pass.
func (r *Registry) RecordGC(allocator string) {
	r.GCRunsTotal.WithLabelValues(allocator).Inc()
}
