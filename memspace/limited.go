package memspace

import (
	"fmt"
	"sync"
)

// Limited caps the bytes a Backend may hold at once.
type Limited struct {
	inner    Backend
	capacity int64

	mu    sync.Mutex
	sizes map[Addr]int
	used  int64
}

// NewLimited wraps b with a byte budget. A capacity of zero or less means no limit.
func NewLimited(b Backend, capacity int64) *Limited {
	return &Limited{inner: b, capacity: capacity, sizes: make(map[Addr]int)}
}

// Allocate fails with ErrOutOfMemory once the budget would be exceeded.
func (l *Limited) Allocate(size int) (Addr, error) {
	if size <= 0 {
		return Nil, ErrBadSize
	}
	l.mu.Lock()
	if l.capacity > 0 && l.used+int64(size) > l.capacity {
		used := l.used
		l.mu.Unlock()
		return Nil, fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrOutOfMemory, size, used, l.capacity)
	}
	l.used += int64(size)
	l.mu.Unlock()

	addr, err := l.inner.Allocate(size)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err != nil {
		l.used -= int64(size)
		return Nil, err
	}
	l.sizes[addr] = size
	return addr, nil
}

// Release forwards to the wrapped backend and returns the bytes to the budget.
func (l *Limited) Release(addr Addr) error {
	l.mu.Lock()
	size, ok := l.sizes[addr]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}
	delete(l.sizes, addr)
	l.used -= int64(size)
	l.mu.Unlock()

	return l.inner.Release(addr)
}

// Used returns the bytes currently held.
func (l *Limited) Used() int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.used
}

// CopyIn forwards to the wrapped backend if it is a Copier.
func (l *Limited) CopyIn(dst Addr, src []byte) error {
	c, ok := l.inner.(Copier)
	if !ok {
		return fmt.Errorf("memspace: %T cannot copy", l.inner)
	}
	return c.CopyIn(dst, src)
}

// CopyOut forwards to the wrapped backend if it is a Copier.
func (l *Limited) CopyOut(dst []byte, src Addr) error {
	c, ok := l.inner.(Copier)
	if !ok {
		return fmt.Errorf("memspace: %T cannot copy", l.inner)
	}
	return c.CopyOut(dst, src)
}
