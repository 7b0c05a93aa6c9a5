// Package memspace provides the raw memory primitives that back a pooled allocator.
//
// # Overview
//
// A Backend hands out and takes back whole regions of physical memory. It knows
// nothing about pooling: every Allocate call maps fresh memory and every Release
// call returns it to the operating system (or the GPU driver). The pool package
// sits on top and decides when a Release actually happens.
//
// # Backends
//
// Host: anonymous private mappings obtained with mmap(2) through golang.org/x/sys/unix.
// On platforms without mmap the backend falls back to Go heap slices that are kept
// reachable until released.
//
// Device: with the "cuda" build tag, memory comes from cudaMalloc and is copied with
// cudaMemcpy. Without it the device is simulated on host pages, with an optional
// capacity and an optional per-allocation latency so that slow device allocation
// can be reproduced on machines without a GPU.
//
// Limited: wraps any Backend with a byte budget.
//
// # Addresses
//
// Addresses are plain integers (Addr). The zero value Nil never refers to live
// memory. Backends never dereference an address on behalf of the caller except
// through the optional Copier interface, which the ref package uses to read and
// write single elements.
//
// # Thread Safety
//
// All backends in this package are safe for concurrent use.
package memspace
