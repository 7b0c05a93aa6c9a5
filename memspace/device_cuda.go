//go:build cuda

package memspace

/*
#cgo LDFLAGS: -lcudart
#include <cuda_runtime.h>
*/
import "C"

import (
	"fmt"
	"sync"
	"unsafe"
)

// Device allocates memory on the current CUDA device.
type Device struct {
	opts DeviceOptions

	mu       sync.Mutex
	live     map[Addr]int
	reserved int64
}

// NewDevice checks that a CUDA device is present and returns its backend.
func NewDevice(opts DeviceOptions) (*Device, error) {
	if opts.Capacity < 0 {
		return nil, fmt.Errorf("memspace: invalid device options %+v", opts)
	}
	var n C.int
	if rc := C.cudaGetDeviceCount(&n); rc != C.cudaSuccess || n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoDevice, cudaError(rc))
	}
	return &Device{opts: opts, live: make(map[Addr]int)}, nil
}

// Allocate calls cudaMalloc.
func (d *Device) Allocate(size int) (Addr, error) {
	if size <= 0 {
		return Nil, ErrBadSize
	}
	d.mu.Lock()
	if d.opts.Capacity > 0 && d.reserved+int64(size) > d.opts.Capacity {
		d.mu.Unlock()
		return Nil, fmt.Errorf("%w: device capacity %d exceeded", ErrOutOfMemory, d.opts.Capacity)
	}
	d.reserved += int64(size)
	d.mu.Unlock()

	var ptr unsafe.Pointer
	rc := C.cudaMalloc(&ptr, C.size_t(size))
	if rc != C.cudaSuccess {
		d.mu.Lock()
		d.reserved -= int64(size)
		d.mu.Unlock()
		if rc == C.cudaErrorMemoryAllocation {
			return Nil, fmt.Errorf("%w: cudaMalloc %d bytes", ErrOutOfMemory, size)
		}
		return Nil, fmt.Errorf("memspace: cudaMalloc %d bytes: %s", size, cudaError(rc))
	}

	addr := Addr(uintptr(ptr))
	d.mu.Lock()
	d.live[addr] = size
	d.mu.Unlock()
	return addr, nil
}

// Release calls cudaFree.
func (d *Device) Release(addr Addr) error {
	d.mu.Lock()
	size, ok := d.live[addr]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}
	delete(d.live, addr)
	d.reserved -= int64(size)
	d.mu.Unlock()

	if rc := C.cudaFree(devicePtr(addr)); rc != C.cudaSuccess {
		return fmt.Errorf("memspace: cudaFree %s: %s", addr, cudaError(rc))
	}
	return nil
}

// CopyIn uploads src to dst.
func (d *Device) CopyIn(dst Addr, src []byte) error {
	if dst == Nil {
		return ErrUnknownAddress
	}
	if len(src) == 0 {
		return nil
	}
	rc := C.cudaMemcpy(devicePtr(dst), unsafe.Pointer(&src[0]), C.size_t(len(src)), C.cudaMemcpyHostToDevice)
	if rc != C.cudaSuccess {
		return fmt.Errorf("memspace: upload to %s: %s", dst, cudaError(rc))
	}
	return nil
}

// CopyOut downloads src into dst.
func (d *Device) CopyOut(dst []byte, src Addr) error {
	if src == Nil {
		return ErrUnknownAddress
	}
	if len(dst) == 0 {
		return nil
	}
	rc := C.cudaMemcpy(unsafe.Pointer(&dst[0]), devicePtr(src), C.size_t(len(dst)), C.cudaMemcpyDeviceToHost)
	if rc != C.cudaSuccess {
		return fmt.Errorf("memspace: download from %s: %s", src, cudaError(rc))
	}
	return nil
}

// Live returns the number of device regions and their total size.
func (d *Device) Live() (int, int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.live), d.reserved
}

func devicePtr(addr Addr) unsafe.Pointer {
	return unsafe.Pointer(uintptr(addr)) //nolint:govet // device pointer, never dereferenced on the host
}

func cudaError(rc C.cudaError_t) string {
	return C.GoString(C.cudaGetErrorString(rc))
}
