package memspace

import "errors"

var (
	// ErrOutOfMemory indicates that the backend could not satisfy a raw allocation.
	ErrOutOfMemory = errors.New("memspace: out of memory")

	// ErrUnknownAddress indicates a Release or copy on an address the backend never handed out.
	ErrUnknownAddress = errors.New("memspace: unknown address")

	// ErrBadSize indicates a non-positive allocation size.
	ErrBadSize = errors.New("memspace: size must be greater than zero")

	// ErrNoDevice indicates that no compute device is available.
	ErrNoDevice = errors.New("memspace: no device available")
)
