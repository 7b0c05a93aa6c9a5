package ref

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/joshuapare/poolalloc/memspace"
	"github.com/joshuapare/poolalloc/pool"
)

var (
	// ErrNoCopier indicates that the backend of a space cannot move bytes in or out.
	ErrNoCopier = errors.New("ref: backend cannot copy")

	// ErrNilAddress indicates a reference to memspace.Nil.
	ErrNilAddress = errors.New("ref: nil address")
)

// Scalar is the set of element types a Ref can hold.
type Scalar interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// Ref is a typed view of one element in pooled memory.
type Ref[T Scalar] struct {
	addr  memspace.Addr
	space pool.Space
	mem   memspace.Copier
}

// New binds addr in space to a Ref using the allocator's backend for that space.
func New[T Scalar](a *pool.Allocator, addr memspace.Addr, space pool.Space) (Ref[T], error) {
	if addr == memspace.Nil {
		return Ref[T]{}, ErrNilAddress
	}
	mem, err := copierFor(a, space)
	if err != nil {
		return Ref[T]{}, err
	}
	return Ref[T]{addr: addr, space: space, mem: mem}, nil
}

func copierFor(a *pool.Allocator, space pool.Space) (memspace.Copier, error) {
	b := a.Backend(space)
	if b == nil {
		return nil, fmt.Errorf("%w: %s", pool.ErrUnknownSpace, space)
	}
	c, ok := b.(memspace.Copier)
	if !ok {
		return nil, fmt.Errorf("%w: %s backend %T", ErrNoCopier, space, b)
	}
	return c, nil
}

// Addr returns the address of the element.
func (r Ref[T]) Addr() memspace.Addr { return r.addr }

// Space returns the memory space of the element.
func (r Ref[T]) Space() pool.Space { return r.space }

// Get reads the element.
func (r Ref[T]) Get() (T, error) {
	var v T
	if r.mem == nil {
		return v, ErrNilAddress
	}
	if err := r.mem.CopyOut(bytesOf(&v), r.addr); err != nil {
		return v, fmt.Errorf("ref: read %s at %s: %w", r.space, r.addr, err)
	}
	return v, nil
}

// Set writes the element.
func (r Ref[T]) Set(v T) error {
	if r.mem == nil {
		return ErrNilAddress
	}
	if err := r.mem.CopyIn(r.addr, bytesOf(&v)); err != nil {
		return fmt.Errorf("ref: write %s at %s: %w", r.space, r.addr, err)
	}
	return nil
}

// At returns the Ref i elements past r. It does not check bounds; use Slice.At
// for checked access.
func (r Ref[T]) At(i int) Ref[T] {
	r.addr = r.addr.Add(i * sizeOf[T]())
	return r
}

func sizeOf[T Scalar]() int {
	var v T
	return int(unsafe.Sizeof(v))
}

// bytesOf views the storage of *v as bytes.
func bytesOf[T Scalar](v *T) []byte {
	return unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))
}

// sliceBytes views the backing array of vals as bytes.
func sliceBytes[T Scalar](vals []T) []byte {
	if len(vals) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(vals))), len(vals)*sizeOf[T]())
}
