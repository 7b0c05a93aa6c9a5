//go:build !cuda

package memspace

import (
	"fmt"
	"sync"
	"time"
)

// Device is a simulated compute device backed by host pages.
type Device struct {
	pages *pageTable
	opts  DeviceOptions

	mu       sync.Mutex
	reserved int64
}

// NewDevice creates the simulated device backend. It never fails; the error is
// kept for parity with the CUDA build.
func NewDevice(opts DeviceOptions) (*Device, error) {
	if opts.Capacity < 0 || opts.Latency < 0 {
		return nil, fmt.Errorf("memspace: invalid device options %+v", opts)
	}
	return &Device{pages: newPageTable(), opts: opts}, nil
}

// Allocate reserves size bytes of device memory.
func (d *Device) Allocate(size int) (Addr, error) {
	if size <= 0 {
		return Nil, ErrBadSize
	}
	if d.opts.Latency > 0 {
		time.Sleep(d.opts.Latency)
	}

	d.mu.Lock()
	if d.opts.Capacity > 0 && d.reserved+int64(size) > d.opts.Capacity {
		free := d.opts.Capacity - d.reserved
		d.mu.Unlock()
		return Nil, fmt.Errorf("%w: device needs %d bytes, %d available", ErrOutOfMemory, size, free)
	}
	d.reserved += int64(size)
	d.mu.Unlock()

	addr, err := d.pages.allocate(size)
	if err != nil {
		d.mu.Lock()
		d.reserved -= int64(size)
		d.mu.Unlock()
		return Nil, err
	}
	return addr, nil
}

// Release frees device memory returned by Allocate.
func (d *Device) Release(addr Addr) error {
	d.pages.mu.Lock()
	data, ok := d.pages.live[addr]
	d.pages.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}
	if err := d.pages.release(addr); err != nil {
		return err
	}
	d.mu.Lock()
	d.reserved -= int64(len(data))
	d.mu.Unlock()
	return nil
}

// CopyIn uploads src to device memory at dst.
func (d *Device) CopyIn(dst Addr, src []byte) error {
	if dst == Nil {
		return ErrUnknownAddress
	}
	if len(src) > 0 {
		copy(hostBytes(dst, len(src)), src)
	}
	return nil
}

// CopyOut downloads device memory at src into dst.
func (d *Device) CopyOut(dst []byte, src Addr) error {
	if src == Nil {
		return ErrUnknownAddress
	}
	if len(dst) > 0 {
		copy(dst, hostBytes(src, len(dst)))
	}
	return nil
}

// Live returns the number of device regions and their total size.
func (d *Device) Live() (int, int64) {
	return d.pages.usage()
}
