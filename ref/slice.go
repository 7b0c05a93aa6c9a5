package ref

import (
	"fmt"

	"github.com/joshuapare/poolalloc/internal/bounds"
	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pool"
)

// Slice is a bounds-checked view of n consecutive elements in pooled memory.
type Slice[T Scalar] struct {
	base Ref[T]
	n    int
}

// Make allocates n elements of T from the pool.
func Make[T Scalar](a *pool.Allocator, n int, space pool.Space) (Slice[T], error) {
	addr, err := a.Allocate(n, sizeOf[T](), space)
	if err != nil {
		return Slice[T]{}, err
	}
	s, err := NewSlice[T](a, addr, n, space)
	if err != nil {
		_ = a.Deallocate(&addr, space)
		return Slice[T]{}, err
	}
	return s, nil
}

// NewSlice views n elements of T starting at addr.
func NewSlice[T Scalar](a *pool.Allocator, addr memspace.Addr, n int, space pool.Space) (Slice[T], error) {
	if n < 0 {
		return Slice[T]{}, fmt.Errorf("ref: negative length %d", n)
	}
	base, err := New[T](a, addr, space)
	if err != nil {
		return Slice[T]{}, err
	}
	return Slice[T]{base: base, n: n}, nil
}

// Len returns the number of elements.
func (s Slice[T]) Len() int { return s.n }

// Addr returns the address of the first element.
func (s Slice[T]) Addr() memspace.Addr { return s.base.addr }

// Space returns the memory space of the elements.
func (s Slice[T]) Space() pool.Space { return s.base.space }

// At returns element i.
func (s Slice[T]) At(i int) (Ref[T], error) {
	off, err := bounds.Offset(s.n, i, sizeOf[T]())
	if err != nil {
		return Ref[T]{}, fmt.Errorf("ref: %w", err)
	}
	r := s.base
	r.addr = r.addr.Add(off)
	return r, nil
}

// Write copies vals into the slice starting at element start.
func (s Slice[T]) Write(start int, vals []T) error {
	off, n, err := bounds.Window(s.n, start, len(vals), sizeOf[T]())
	if err != nil {
		return fmt.Errorf("ref: %w", err)
	}
	if n == 0 {
		return nil
	}
	dst := s.base.addr.Add(off)
	if err := s.base.mem.CopyIn(dst, sliceBytes(vals)); err != nil {
		return fmt.Errorf("ref: write %d elements to %s at %s: %w", len(vals), s.base.space, dst, err)
	}
	return nil
}

// Read copies count elements starting at element start out of the slice.
func (s Slice[T]) Read(start, count int) ([]T, error) {
	off, n, err := bounds.Window(s.n, start, count, sizeOf[T]())
	if err != nil {
		return nil, fmt.Errorf("ref: %w", err)
	}
	out := make([]T, count)
	if n == 0 {
		return out, nil
	}
	src := s.base.addr.Add(off)
	if err := s.base.mem.CopyOut(sliceBytes(out), src); err != nil {
		return nil, fmt.Errorf("ref: read %d elements from %s at %s: %w", count, s.base.space, src, err)
	}
	return out, nil
}

// Fill sets every element to v.
func (s Slice[T]) Fill(v T) error {
	vals := make([]T, s.n)
	for i := range vals {
		vals[i] = v
	}
	return s.Write(0, vals)
}

// Values returns a copy of every element.
func (s Slice[T]) Values() ([]T, error) {
	return s.Read(0, s.n)
}

// Release hands the slice's block back to the pool.
func (s Slice[T]) Release(a *pool.Allocator) error {
	addr := s.base.addr
	return a.Deallocate(&addr, s.base.space)
}
