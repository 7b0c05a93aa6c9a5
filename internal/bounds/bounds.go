// Package bounds contains overflow-checked offset arithmetic for element ranges.
package bounds

import (
	"errors"
	"fmt"
	"math"
)

var (
	// ErrOverflow indicates that an offset or length does not fit in an int.
	ErrOverflow = errors.New("bounds: overflow")

	// ErrOutOfRange indicates an index outside a range.
	ErrOutOfRange = errors.New("bounds: out of range")
)

// Add adds a and b, returning ok = false when the result would overflow int.
func Add(a, b int) (int, bool) {
	switch {
	case b > 0 && a > math.MaxInt-b:
		return 0, false
	case b < 0 && a < math.MinInt-b:
		return 0, false
	default:
		return a + b, true
	}
}

// Mul multiplies two non-negative ints, returning ok = false on overflow or a
// negative operand.
func Mul(a, b int) (int, bool) {
	if a < 0 || b < 0 {
		return 0, false
	}
	if a == 0 || b == 0 {
		return 0, true
	}
	if a > math.MaxInt/b {
		return 0, false
	}
	return a * b, true
}

// Offset returns the byte offset of element index in a range of length elements
// of elemSize bytes each.
//
//	off, err := bounds.Offset(r.Len(), i, size)
//	if err != nil {
//	    return fmt.Errorf("ref: %w", err)
//	}
func Offset(length, index, elemSize int) (int, error) {
	if index < 0 || index >= length {
		return 0, fmt.Errorf("%w: index %d, length %d", ErrOutOfRange, index, length)
	}
	off, ok := Mul(index, elemSize)
	if !ok {
		return 0, fmt.Errorf("%w: index=%d * elemSize=%d", ErrOverflow, index, elemSize)
	}
	return off, nil
}

// Window validates that count elements starting at element start fit in a range
// of length elements, and returns the byte offset and byte length of the window.
func Window(length, start, count, elemSize int) (int, int, error) {
	if start < 0 || count < 0 {
		return 0, 0, fmt.Errorf("%w: start=%d count=%d", ErrOutOfRange, start, count)
	}
	end, ok := Add(start, count)
	if !ok {
		return 0, 0, fmt.Errorf("%w: start=%d + count=%d", ErrOverflow, start, count)
	}
	if end > length {
		return 0, 0, fmt.Errorf("%w: end=%d > length=%d", ErrOutOfRange, end, length)
	}
	off, ok := Mul(start, elemSize)
	if !ok {
		return 0, 0, fmt.Errorf("%w: start=%d * elemSize=%d", ErrOverflow, start, elemSize)
	}
	n, ok := Mul(count, elemSize)
	if !ok {
		return 0, 0, fmt.Errorf("%w: count=%d * elemSize=%d", ErrOverflow, count, elemSize)
	}
	return off, n, nil
}
