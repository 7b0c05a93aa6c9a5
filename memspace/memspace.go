package memspace

import (
	"fmt"
	"unsafe"
)

// Addr is the address of a raw memory region. It is an opaque handle for device
// memory and a real virtual address for host memory.
type Addr uintptr

// Nil is the empty address sentinel.
const Nil Addr = 0

// String formats the address in hex.
func (a Addr) String() string {
	return fmt.Sprintf("%#x", uintptr(a))
}

// Add returns the address off bytes past a.
func (a Addr) Add(off int) Addr {
	return a + Addr(off)
}

// Backend is a raw allocator for one memory space.
type Backend interface {
	// Allocate reserves size bytes. Content is undefined.
	// Returns an error wrapping ErrOutOfMemory when the space is exhausted.
	Allocate(size int) (Addr, error)

	// Release gives a region previously returned by Allocate back to the system.
	Release(addr Addr) error
}

// Copier moves bytes between Go memory and a backend's memory.
// Backends whose memory is not directly addressable by the CPU implement it.
type Copier interface {
	CopyIn(dst Addr, src []byte) error
	CopyOut(dst []byte, src Addr) error
}

// hostBytes views n bytes of CPU-addressable memory at addr.
// The memory is owned by a backend (mmap or a pinned heap slice), not by the Go heap.
func hostBytes(addr Addr, n int) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(uintptr(addr))), n) //nolint:govet // address of non-GC memory
}

// addrOf returns the address of the first byte of data.
func addrOf(data []byte) Addr {
	return Addr(uintptr(unsafe.Pointer(&data[0])))
}
