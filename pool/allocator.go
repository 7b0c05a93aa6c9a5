package pool

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/bits"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pkg/metrics"
)

// Allocator pools host and device memory blocks for exact-size reuse.
type Allocator struct {
	mu     sync.Mutex
	spaces [numSpaces]spaceState
	closed bool

	name           string
	lockedRawAlloc bool
	log            *slog.Logger
	metrics        *metrics.Registry
}

// spaceState pairs a memory space's registry with its raw allocator.
type spaceState struct {
	reg     *registry
	backend memspace.Backend
}

// New creates an allocator. Spaces without an explicit backend get the default
// host and device backends.
func New(opts ...Option) (*Allocator, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.err != nil {
		return nil, o.err
	}

	if o.backends[Host] == nil {
		o.backends[Host] = memspace.NewHost()
	}
	if o.backends[Device] == nil {
		dev, err := memspace.NewDevice(o.device)
		if err != nil {
			return nil, fmt.Errorf("pool: device backend: %w", err)
		}
		o.backends[Device] = dev
	}

	a := &Allocator{
		name:           o.name,
		lockedRawAlloc: o.lockedRawAlloc,
		log:            o.log,
		metrics:        o.metrics,
	}
	for i := range a.spaces {
		a.spaces[i] = spaceState{reg: newRegistry(), backend: o.backends[i]}
	}
	if o.name != "" {
		a.log = a.log.With("allocator", o.name)
	}
	for _, sp := range Spaces() {
		a.publish(sp)
	}
	return a, nil
}

// Name returns the diagnostic name given with WithName.
func (a *Allocator) Name() string {
	return a.name
}

func (a *Allocator) String() string {
	if a.name == "" {
		return "pool.Allocator"
	}
	return "pool.Allocator(" + a.name + ")"
}

// Backend returns the raw allocator of a memory space, or nil for an unknown space.
func (a *Allocator) Backend(space Space) memspace.Backend {
	if !space.valid() {
		return nil
	}
	return a.spaces[space].backend
}

// Allocate returns a block of count*elemSize bytes in the given space. A free block
// of exactly that size is reused when one exists; otherwise the backend allocates.
// The content of the block is undefined.
func (a *Allocator) Allocate(count, elemSize int, space Space) (memspace.Addr, error) {
	if !space.valid() {
		return memspace.Nil, fmt.Errorf("%w: %d", ErrUnknownSpace, space)
	}
	size, err := totalBytes(count, elemSize)
	if err != nil {
		if errors.Is(err, ErrOverflow) {
			a.recordFailure(space, metrics.ReasonOverflow)
		}
		return memspace.Nil, err
	}
	s := &a.spaces[space]

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return memspace.Nil, ErrClosed
	}
	if b := s.reg.takeFree(size); b != nil {
		a.publish(space)
		a.mu.Unlock()
		if a.metrics != nil {
			a.metrics.RecordAllocation(a.label(), space.String(), metrics.PathReuse)
		}
		return b.addr, nil
	}

	if a.lockedRawAlloc {
		defer a.mu.Unlock()
		addr, err := a.rawAllocate(space, size)
		if err != nil {
			return memspace.Nil, err
		}
		return a.insert(space, addr, size)
	}

	a.mu.Unlock()
	addr, err := a.rawAllocate(space, size)
	if err != nil {
		return memspace.Nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		// Close drained the registry while the backend was busy; this block was
		// never tracked, so it is ours to give back.
		if rerr := s.backend.Release(addr); rerr != nil {
			a.log.Error("release after close", "space", space, "addr", addr, "err", rerr)
		}
		return memspace.Nil, ErrClosed
	}
	return a.insert(space, addr, size)
}

// AllocateInto is Allocate writing the address to *dst. *dst is left untouched on error.
func (a *Allocator) AllocateInto(dst *memspace.Addr, count, elemSize int, space Space) error {
	if dst == nil {
		return fmt.Errorf("%w: nil destination", ErrInvalidAddress)
	}
	addr, err := a.Allocate(count, elemSize, space)
	if err != nil {
		return err
	}
	*dst = addr
	return nil
}

// rawAllocate calls the backend. Any failure is reported as ErrOutOfMemory.
func (a *Allocator) rawAllocate(space Space, size int) (memspace.Addr, error) {
	start := time.Now()
	addr, err := a.spaces[space].backend.Allocate(size)
	elapsed := time.Since(start)
	if err != nil {
		a.recordFailure(space, metrics.ReasonOutOfMemory)
		a.log.Warn("raw allocation failed", "space", space, "bytes", size, "err", err)
		if !errors.Is(err, ErrOutOfMemory) {
			err = fmt.Errorf("%w: %w", ErrOutOfMemory, err)
		}
		return memspace.Nil, fmt.Errorf("pool: %s allocation of %d bytes: %w", space, size, err)
	}
	a.log.Debug("raw allocation", "space", space, "bytes", size, "addr", addr, "elapsed", elapsed)
	if a.metrics != nil {
		a.metrics.RecordRawAllocation(a.label(), space.String(), elapsed)
	}
	return addr, nil
}

// insert tracks a raw allocation. Must hold a.mu.
func (a *Allocator) insert(space Space, addr memspace.Addr, size int) (memspace.Addr, error) {
	if _, err := a.spaces[space].reg.track(addr, size); err != nil {
		a.log.Error("backend returned a tracked address", "space", space, "addr", addr, "err", err)
		a.recordFailure(space, metrics.ReasonInvalidAddress)
		return memspace.Nil, err
	}
	a.publish(space)
	if a.metrics != nil {
		a.metrics.RecordAllocation(a.label(), space.String(), metrics.PathRaw)
	}
	return addr, nil
}

// Deallocate returns the block at *addr to the pool and sets *addr to memspace.Nil.
// The memory stays reserved for a later Allocate of the same size.
//
// Deallocating an address the pool does not track in this space returns
// ErrInvalidAddress; deallocating a free block returns ErrDoubleFree. Both are
// caller bugs and leave the pool unchanged.
func (a *Allocator) Deallocate(addr *memspace.Addr, space Space) error {
	if !space.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSpace, space)
	}
	if addr == nil {
		return fmt.Errorf("%w: nil address pointer", ErrInvalidAddress)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	if _, err := a.spaces[space].reg.markFree(*addr); err != nil {
		reason := metrics.ReasonInvalidAddress
		if errors.Is(err, ErrDoubleFree) {
			reason = metrics.ReasonDoubleFree
		}
		a.log.Error("invalid deallocation", "space", space, "addr", *addr, "err", err)
		a.recordFailure(space, reason)
		return fmt.Errorf("%s: %w", space, err)
	}
	*addr = memspace.Nil

	a.publish(space)
	if a.metrics != nil {
		a.metrics.RecordDeallocation(a.label(), space.String())
	}
	return nil
}

// GarbageCollect physically releases every free block in every memory space.
// In-use blocks are untouched. Release failures are collected and returned after
// the pass; the failed blocks are no longer tracked.
func (a *Allocator) GarbageCollect() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}

	var result *multierror.Error
	for _, sp := range Spaces() {
		if err := a.sweep(sp); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if a.metrics != nil {
		a.metrics.RecordGC(a.label())
	}
	return result.ErrorOrNil()
}

// GarbageCollectSpace releases the free blocks of one memory space.
func (a *Allocator) GarbageCollectSpace(space Space) error {
	if !space.valid() {
		return fmt.Errorf("%w: %d", ErrUnknownSpace, space)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return ErrClosed
	}
	err := a.sweep(space)
	if a.metrics != nil {
		a.metrics.RecordGC(a.label())
	}
	return err
}

// sweep releases one space's free blocks. Must hold a.mu.
func (a *Allocator) sweep(space Space) error {
	s := &a.spaces[space]
	blocks, bytes, err := s.reg.sweep(s.backend.Release)
	if blocks > 0 {
		a.log.Info("garbage collection", "space", space, "released_blocks", blocks, "released_bytes", bytes,
			"remaining_blocks", len(s.reg.blocks))
	}
	if a.metrics != nil {
		a.metrics.RecordRelease(a.label(), space.String(), blocks, bytes)
	}
	a.publish(space)
	if err != nil {
		return fmt.Errorf("pool: %s garbage collection: %w", space, err)
	}
	return nil
}

// Close releases every block, including blocks still in use, and disables the
// allocator. Addresses handed out earlier must not be used afterwards.
// Closing twice is a no-op.
func (a *Allocator) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.closed {
		return nil
	}
	a.closed = true

	var result *multierror.Error
	for _, sp := range Spaces() {
		s := &a.spaces[sp]
		blocks, bytes, inUse, err := s.reg.drain(s.backend.Release)
		if inUse > 0 {
			a.log.Warn("closing with blocks in use", "space", sp, "in_use", inUse)
		}
		if blocks > 0 {
			a.log.Info("released pool", "space", sp, "blocks", blocks, "bytes", bytes)
		}
		if a.metrics != nil {
			a.metrics.RecordRelease(a.label(), sp.String(), blocks, bytes)
		}
		a.publish(sp)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("pool: %s close: %w", sp, err))
		}
	}
	return result.ErrorOrNil()
}

// PoolCount returns the number of tracked blocks (in use and free) in a space.
func (a *Allocator) PoolCount(space Space) int {
	return a.spaceStats(space).Blocks
}

// PoolFreeCount returns the number of free blocks in a space.
func (a *Allocator) PoolFreeCount(space Space) int {
	return a.spaceStats(space).FreeBlocks
}

// PoolSize returns the bytes of all tracked blocks in a space.
func (a *Allocator) PoolSize(space Space) int64 {
	return a.spaceStats(space).Bytes
}

// TotalPoolCount is PoolCount summed over all spaces.
func (a *Allocator) TotalPoolCount() int {
	return a.Stats().Total().Blocks
}

// TotalPoolFreeCount is PoolFreeCount summed over all spaces.
func (a *Allocator) TotalPoolFreeCount() int {
	return a.Stats().Total().FreeBlocks
}

// TotalPoolSize is PoolSize summed over all spaces.
func (a *Allocator) TotalPoolSize() int64 {
	return a.Stats().Total().Bytes
}

// Stats returns a snapshot of every space taken in one critical section.
func (a *Allocator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{Name: a.name, Closed: a.closed}
	for i := range a.spaces {
		st.spaces[i] = a.spaces[i].reg.snapshot()
	}
	return st
}

func (a *Allocator) spaceStats(space Space) SpaceStats {
	if !space.valid() {
		return SpaceStats{}
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.spaces[space].reg.snapshot()
}

// Verify recomputes the bookkeeping of every space from its block set and
// reports the first inconsistency.
func (a *Allocator) Verify() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, sp := range Spaces() {
		if err := a.spaces[sp].reg.checkInvariants(); err != nil {
			return fmt.Errorf("%s: %w", sp, err)
		}
	}
	return nil
}

// publish pushes one space's counters to the metrics registry. Must hold a.mu
// (or own a not yet shared allocator).
func (a *Allocator) publish(space Space) {
	if a.metrics == nil {
		return
	}
	r := a.spaces[space].reg
	a.metrics.SetPoolState(a.label(), space.String(), len(r.blocks), r.freeCount, r.bytes)
}

func (a *Allocator) recordFailure(space Space, reason string) {
	if a.metrics != nil {
		a.metrics.RecordFailure(a.label(), space.String(), reason)
	}
}

func (a *Allocator) label() string {
	if a.name == "" {
		return "default"
	}
	return a.name
}

// totalBytes returns count*elemSize, rejecting non-positive inputs and overflow.
func totalBytes(count, elemSize int) (int, error) {
	if count <= 0 || elemSize <= 0 {
		return 0, fmt.Errorf("%w: count=%d element size=%d", ErrInvalidSize, count, elemSize)
	}
	hi, lo := bits.Mul64(uint64(count), uint64(elemSize))
	if hi != 0 || lo > math.MaxInt {
		return 0, fmt.Errorf("%w: %d elements of %d bytes", ErrOverflow, count, elemSize)
	}
	return int(lo), nil
}
