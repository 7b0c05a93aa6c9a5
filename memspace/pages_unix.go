//go:build linux || darwin || freebsd

package memspace

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// mapPages returns size bytes of anonymous, private, read-write memory.
func mapPages(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		if errors.Is(err, unix.ENOMEM) {
			return nil, fmt.Errorf("%w: mmap %d bytes", ErrOutOfMemory, size)
		}
		return nil, fmt.Errorf("memspace: mmap %d bytes: %w", size, err)
	}
	return data, nil
}

// unmapPages returns a mapping obtained from mapPages.
func unmapPages(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("memspace: munmap %d bytes: %w", len(data), err)
	}
	return nil
}
