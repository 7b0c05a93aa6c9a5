package pool

import (
	"errors"
	"fmt"

	"github.com/joshuapare/poolalloc/memspace"
)

var (
	// ErrOutOfMemory indicates that the backend could not provide a new block.
	// It is the same value as memspace.ErrOutOfMemory.
	ErrOutOfMemory = memspace.ErrOutOfMemory

	// ErrInvalidAddress indicates a deallocation of an address the pool does not track
	// in the given memory space.
	ErrInvalidAddress = errors.New("pool: invalid address")

	// ErrDoubleFree indicates a deallocation of a block that is already free.
	// errors.Is(ErrDoubleFree, ErrInvalidAddress) holds.
	ErrDoubleFree = fmt.Errorf("%w: double free", ErrInvalidAddress)

	// ErrOverflow indicates that count*elemSize does not fit in an int.
	ErrOverflow = errors.New("pool: allocation size overflows")

	// ErrInvalidSize indicates a non-positive element count or element size.
	ErrInvalidSize = errors.New("pool: count and element size must be greater than zero")

	// ErrUnknownSpace indicates a memory space outside Host and Device.
	ErrUnknownSpace = errors.New("pool: unknown memory space")

	// ErrClosed indicates an operation on a closed allocator.
	ErrClosed = errors.New("pool: allocator closed")
)
