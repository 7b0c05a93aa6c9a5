//go:build !linux && !darwin && !freebsd

package memspace

// mapPages allocates from the Go heap when mmap is not available.
// The page table keeps the slice reachable until unmapPages.
func mapPages(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapPages(_ []byte) error {
	return nil
}
