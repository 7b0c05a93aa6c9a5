package pool

// SpaceStats is a snapshot of one memory space's pool.
type SpaceStats struct {
	Blocks     int   // tracked blocks, in use and free
	FreeBlocks int   // blocks waiting for reuse
	Bytes      int64 // bytes of all tracked blocks
	FreeBytes  int64 // bytes of free blocks

	Reuses    uint64 // allocations served from the free index
	RawAllocs uint64 // allocations served by the backend
	Deallocs  uint64 // blocks returned to the pool
	Released  uint64 // blocks given back to the backend
}

// InUse returns the number of blocks held by callers.
func (s SpaceStats) InUse() int {
	return s.Blocks - s.FreeBlocks
}

// ReuseRatio returns the fraction of allocations served without the backend.
func (s SpaceStats) ReuseRatio() float64 {
	total := s.Reuses + s.RawAllocs
	if total == 0 {
		return 0
	}
	return float64(s.Reuses) / float64(total)
}

func (s SpaceStats) add(o SpaceStats) SpaceStats {
	return SpaceStats{
		Blocks:     s.Blocks + o.Blocks,
		FreeBlocks: s.FreeBlocks + o.FreeBlocks,
		Bytes:      s.Bytes + o.Bytes,
		FreeBytes:  s.FreeBytes + o.FreeBytes,
		Reuses:     s.Reuses + o.Reuses,
		RawAllocs:  s.RawAllocs + o.RawAllocs,
		Deallocs:   s.Deallocs + o.Deallocs,
		Released:   s.Released + o.Released,
	}
}

// Stats is a consistent snapshot of all memory spaces.
type Stats struct {
	Name   string
	Closed bool
	spaces [numSpaces]SpaceStats
}

// Space returns the snapshot of one memory space.
func (s Stats) Space(space Space) SpaceStats {
	if !space.valid() {
		return SpaceStats{}
	}
	return s.spaces[space]
}

// Total sums all memory spaces.
func (s Stats) Total() SpaceStats {
	var t SpaceStats
	for _, sp := range s.spaces {
		t = t.add(sp)
	}
	return t
}
