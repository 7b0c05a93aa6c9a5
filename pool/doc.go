// Package pool implements a pooling allocator for host and device memory.
//
// # Overview
//
// Raw device allocation is orders of magnitude slower than a map lookup. Code that
// allocates and frees many buffers of the same size in a loop pays that cost on
// every iteration unless freed buffers are kept around. The Allocator keeps them:
// Deallocate only marks a block free, and the next Allocate of exactly the same
// byte size hands the block back out without touching the backend.
//
// Memory is returned to the backend only by GarbageCollect (free blocks) and Close
// (all blocks). Nothing else shrinks the pool.
//
// # Usage Example
//
//	a, err := pool.New(pool.WithName("conv-layers"))
//	if err != nil {
//	    return err
//	}
//	defer a.Close()
//
//	addr, err := a.Allocate(10000, 4, pool.Device)
//	if err != nil {
//	    return err
//	}
//
//	// ... use addr through the ref package ...
//
//	if err := a.Deallocate(&addr, pool.Device); err != nil {
//	    return err // ErrInvalidAddress or ErrDoubleFree
//	}
//	// addr == memspace.Nil here; the memory is still reserved by the pool.
//
//	err = a.GarbageCollect() // physically release every free block
//
// # Reuse Policy
//
// Reuse is exact-size only. A free block of 4096 bytes never serves a 4000 byte
// request; there are no size classes, no splitting and no coalescing. Among free
// blocks of the requested size the most recently freed one is reused first.
//
// # Block States
//
// Every tracked block is either in use or free:
//
//	           Allocate (raw)
//	               │
//	               ▼
//	   ┌────── in use ◄──────┐
//	   │                     │ Allocate (reuse)
//	   │ Deallocate          │
//	   └──────► free ────────┘
//	               │
//	               ▼ GarbageCollect
//	           released
//
// # Thread Safety
//
// An Allocator is safe for concurrent use. A single mutex guards the registries of
// all memory spaces, so every counter read by PoolCount, PoolFreeCount, PoolSize and
// Stats reflects one consistent instant.
//
// By default the mutex is released while the backend performs a raw allocation, so
// a slow device allocation does not stall host allocations or reuse hits. The new
// block is inserted after the mutex is reacquired. WithLockedRawAlloc(true) keeps the
// mutex held instead. GarbageCollect and Close hold the mutex while releasing.
package pool
