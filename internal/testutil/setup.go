// Package testutil holds fakes and setup helpers shared by the package tests.
package testutil

import (
	"testing"

	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pool"
)

// FakeAllocator is an allocator wired to fake backends.
type FakeAllocator struct {
	*pool.Allocator
	Host   *FakeBackend
	Device *FakeBackend
}

// SetupFakeAllocator creates an allocator on fake backends and closes it when the
// test ends.
//
// Example:
//
//	fa := testutil.SetupFakeAllocator(t, pool.WithName("t"))
//	addr, err := fa.Allocate(16, 4, pool.Host)
func SetupFakeAllocator(t testing.TB, opts ...pool.Option) *FakeAllocator {
	t.Helper()
	host := NewFakeBackend(0x1000_0000)
	dev := NewFakeBackend(0x7000_0000)
	opts = append([]pool.Option{
		pool.WithBackend(pool.Host, host),
		pool.WithBackend(pool.Device, dev),
	}, opts...)
	a, err := pool.New(opts...)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return &FakeAllocator{Allocator: a, Host: host, Device: dev}
}

// SetupAllocator creates an allocator on the real host and device backends and
// closes it when the test ends.
func SetupAllocator(t testing.TB, opts ...pool.Option) *pool.Allocator {
	t.Helper()
	a, err := pool.New(opts...)
	if err != nil {
		t.Fatalf("pool.New: %v", err)
	}
	t.Cleanup(func() {
		if err := a.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	})
	return a
}

// Fake returns the fake backend of a space.
func (f *FakeAllocator) Fake(space pool.Space) *FakeBackend {
	if space == pool.Device {
		return f.Device
	}
	return f.Host
}

// MustAllocate allocates or fails the test.
func MustAllocate(t testing.TB, a *pool.Allocator, count, elemSize int, space pool.Space) memspace.Addr {
	t.Helper()
	addr, err := a.Allocate(count, elemSize, space)
	if err != nil {
		t.Fatalf("Allocate(%d, %d, %s): %v", count, elemSize, space, err)
	}
	return addr
}
