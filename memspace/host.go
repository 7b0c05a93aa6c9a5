package memspace

// Host allocates CPU memory.
type Host struct {
	pages *pageTable
}

// NewHost creates a host backend.
func NewHost() *Host {
	return &Host{pages: newPageTable()}
}

// Allocate maps size bytes of host memory.
func (h *Host) Allocate(size int) (Addr, error) {
	return h.pages.allocate(size)
}

// Release unmaps a region returned by Allocate.
func (h *Host) Release(addr Addr) error {
	return h.pages.release(addr)
}

// CopyIn copies src into host memory at dst.
func (h *Host) CopyIn(dst Addr, src []byte) error {
	if dst == Nil {
		return ErrUnknownAddress
	}
	if len(src) == 0 {
		return nil
	}
	copy(hostBytes(dst, len(src)), src)
	return nil
}

// CopyOut copies host memory at src into dst.
func (h *Host) CopyOut(dst []byte, src Addr) error {
	if src == Nil {
		return ErrUnknownAddress
	}
	if len(dst) == 0 {
		return nil
	}
	copy(dst, hostBytes(src, len(dst)))
	return nil
}

// Live returns the number of mapped regions and their total size.
func (h *Host) Live() (int, int64) {
	return h.pages.usage()
}
