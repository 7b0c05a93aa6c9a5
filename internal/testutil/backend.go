package testutil

import (
	"errors"
	"fmt"
	"sync"

	"github.com/joshuapare/poolalloc/memspace"
)

// ErrInjected is returned by FakeBackend when a failure is injected.
var ErrInjected = errors.New("testutil: injected failure")

// FakeBackend hands out synthetic addresses without mapping memory.
// It records every call so tests can see what reached the raw allocator.
type FakeBackend struct {
	mu sync.Mutex

	next     memspace.Addr
	live     map[memspace.Addr]int
	allocs   int
	releases int

	// failAfter fails every Allocate once allocs reaches it (0 = never).
	failAfter int
	// failNow fails every Allocate with failAllocErr.
	failNow      bool
	failAllocErr error
	// failRelease makes Release report an error (after forgetting the address).
	failRelease bool
	// repeat makes the next Allocate return this address again.
	repeat memspace.Addr
}

// NewFakeBackend returns a backend whose addresses start at base.
func NewFakeBackend(base memspace.Addr) *FakeBackend {
	if base == memspace.Nil {
		base = 0x10000
	}
	return &FakeBackend{next: base, live: make(map[memspace.Addr]int)}
}

// Allocate returns the next synthetic address.
func (f *FakeBackend) Allocate(size int) (memspace.Addr, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNow {
		return memspace.Nil, f.failAllocErr
	}
	if f.failAfter > 0 && f.allocs >= f.failAfter {
		return memspace.Nil, fmt.Errorf("%w: fake backend exhausted after %d allocations",
			memspace.ErrOutOfMemory, f.allocs)
	}
	f.allocs++
	if f.repeat != memspace.Nil {
		addr := f.repeat
		f.repeat = memspace.Nil
		return addr, nil
	}
	addr := f.next
	// Keep addresses aligned and never adjacent so an overlap would show up.
	f.next += memspace.Addr((size+4095)&^4095) + 4096
	f.live[addr] = size
	return addr, nil
}

// Release forgets a synthetic address.
func (f *FakeBackend) Release(addr memspace.Addr) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.live[addr]; !ok {
		return fmt.Errorf("%w: %s", memspace.ErrUnknownAddress, addr)
	}
	delete(f.live, addr)
	f.releases++
	if f.failRelease {
		return ErrInjected
	}
	return nil
}

// FailAfter makes every Allocate fail with ErrOutOfMemory once n allocations succeeded.
func (f *FakeBackend) FailAfter(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAfter = n
}

// FailWith makes every Allocate fail with err from now on.
func (f *FakeBackend) FailWith(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAllocErr = err
	f.failNow = true
}

// FailReleases makes Release return ErrInjected.
func (f *FakeBackend) FailReleases(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRelease = fail
}

// RepeatNext makes the next Allocate return addr instead of a fresh address.
func (f *FakeBackend) RepeatNext(addr memspace.Addr) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.repeat = addr
}

// Calls returns the number of successful Allocate and Release calls.
func (f *FakeBackend) Calls() (allocs, releases int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allocs, f.releases
}

// Live returns the number of addresses handed out and not yet released.
func (f *FakeBackend) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live)
}
