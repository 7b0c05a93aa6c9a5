package pool

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/poolalloc/memspace"
)

// registry is the block bookkeeping of one memory space.
// It is not synchronized; the Allocator's mutex guards it.
type registry struct {
	// blocks holds every tracked block, in use or free.
	blocks map[memspace.Addr]*block

	// free is the exact-size free index. Each bucket is a stack; the most
	// recently freed block sits at the end. Empty buckets are deleted.
	free map[int][]*block

	freeCount int
	bytes     int64
	freeBytes int64

	// Lifetime counters
	reuses    uint64
	rawAllocs uint64
	deallocs  uint64
	released  uint64
}

func newRegistry() *registry {
	return &registry{
		blocks: make(map[memspace.Addr]*block),
		free:   make(map[int][]*block),
	}
}

// takeFree moves a free block of exactly size bytes to the in-use state.
// Returns nil if there is none.
func (r *registry) takeFree(size int) *block {
	bucket := r.free[size]
	n := len(bucket)
	if n == 0 {
		return nil
	}
	b := bucket[n-1]
	bucket[n-1] = nil
	if n == 1 {
		delete(r.free, size)
	} else {
		r.free[size] = bucket[:n-1]
	}

	b.state = stateInUse
	r.freeCount--
	r.freeBytes -= int64(b.size)
	r.reuses++
	return b
}

// track registers a freshly allocated block as in use.
func (r *registry) track(addr memspace.Addr, size int) (*block, error) {
	if addr == memspace.Nil {
		return nil, fmt.Errorf("%w: backend returned nil", ErrInvalidAddress)
	}
	if _, dup := r.blocks[addr]; dup {
		return nil, fmt.Errorf("%w: %s is already tracked", ErrInvalidAddress, addr)
	}
	b := &block{addr: addr, size: size, state: stateInUse}
	r.blocks[addr] = b
	r.bytes += int64(size)
	r.rawAllocs++
	return b, nil
}

// markFree moves an in-use block to the free index.
func (r *registry) markFree(addr memspace.Addr) (*block, error) {
	b, ok := r.blocks[addr]
	if !ok {
		return nil, fmt.Errorf("%w: %s is not tracked", ErrInvalidAddress, addr)
	}
	if b.state == stateFree {
		return nil, fmt.Errorf("%w: %s", ErrDoubleFree, addr)
	}
	b.state = stateFree
	r.free[b.size] = append(r.free[b.size], b)
	r.freeCount++
	r.freeBytes += int64(b.size)
	r.deallocs++
	return b, nil
}

// forget drops a block from the registry without releasing it.
func (r *registry) forget(b *block) {
	delete(r.blocks, b.addr)
	r.bytes -= int64(b.size)
	r.released++
}

// sweep releases every free block and empties the free index. A failed release
// is reported but the block is still dropped: the backend contract says release
// of a valid address succeeds, so retrying would only repeat the failure.
func (r *registry) sweep(release func(memspace.Addr) error) (int, int64, error) {
	var (
		result *multierror.Error
		blocks int
		bytes  int64
	)
	for size, bucket := range r.free {
		for _, b := range bucket {
			if err := release(b.addr); err != nil {
				result = multierror.Append(result, fmt.Errorf("release %s (%d bytes): %w", b.addr, b.size, err))
			}
			r.forget(b)
			blocks++
			bytes += int64(b.size)
		}
		delete(r.free, size)
	}
	r.freeCount = 0
	r.freeBytes = 0
	return blocks, bytes, result.ErrorOrNil()
}

// drain releases every block, free or in use. Returns the number of blocks
// that were still in use.
func (r *registry) drain(release func(memspace.Addr) error) (int, int64, int, error) {
	var (
		result *multierror.Error
		bytes  int64
		inUse  int
	)
	blocks := len(r.blocks)
	for _, b := range r.blocks {
		if b.state == stateInUse {
			inUse++
		}
		if err := release(b.addr); err != nil {
			result = multierror.Append(result, fmt.Errorf("release %s (%d bytes): %w", b.addr, b.size, err))
		}
		bytes += int64(b.size)
		r.forget(b)
	}
	clear(r.free)
	r.freeCount = 0
	r.freeBytes = 0
	return blocks, bytes, inUse, result.ErrorOrNil()
}

func (r *registry) snapshot() SpaceStats {
	return SpaceStats{
		Blocks:     len(r.blocks),
		FreeBlocks: r.freeCount,
		Bytes:      r.bytes,
		FreeBytes:  r.freeBytes,
		Reuses:     r.reuses,
		RawAllocs:  r.rawAllocs,
		Deallocs:   r.deallocs,
		Released:   r.released,
	}
}

// checkInvariants recomputes the counters from the block set and cross-checks
// the free index.
func (r *registry) checkInvariants() error {
	var (
		free      int
		bytes     int64
		freeBytes int64
	)
	for addr, b := range r.blocks {
		if b.addr != addr {
			return fmt.Errorf("block keyed %s has address %s", addr, b.addr)
		}
		bytes += int64(b.size)
		if b.state == stateFree {
			free++
			freeBytes += int64(b.size)
		}
	}

	indexed := 0
	seen := make(map[memspace.Addr]struct{}, r.freeCount)
	for size, bucket := range r.free {
		if len(bucket) == 0 {
			return fmt.Errorf("empty free bucket for %d bytes", size)
		}
		for _, b := range bucket {
			if b.size != size {
				return fmt.Errorf("block %s of %d bytes in %d-byte bucket", b.addr, b.size, size)
			}
			if b.state != stateFree {
				return fmt.Errorf("block %s in free index is %s", b.addr, b.state)
			}
			if tracked, ok := r.blocks[b.addr]; !ok || tracked != b {
				return fmt.Errorf("free block %s is not tracked", b.addr)
			}
			if _, dup := seen[b.addr]; dup {
				return fmt.Errorf("block %s indexed twice", b.addr)
			}
			seen[b.addr] = struct{}{}
			indexed++
		}
	}

	switch {
	case indexed != free:
		return fmt.Errorf("free index holds %d blocks, %d blocks are free", indexed, free)
	case free != r.freeCount:
		return fmt.Errorf("freeCount=%d, recomputed %d", r.freeCount, free)
	case bytes != r.bytes:
		return fmt.Errorf("bytes=%d, recomputed %d", r.bytes, bytes)
	case freeBytes != r.freeBytes:
		return fmt.Errorf("freeBytes=%d, recomputed %d", r.freeBytes, freeBytes)
	}
	return nil
}
