package memspace

import (
	"fmt"
	"sync"
)

// pageTable owns the live mappings of a page-backed space.
// Release needs the original slice to unmap it, and the slice also keeps heap
// fallback memory reachable.
type pageTable struct {
	mu    sync.Mutex
	live  map[Addr][]byte
	bytes int64
}

func newPageTable() *pageTable {
	return &pageTable{live: make(map[Addr][]byte)}
}

func (p *pageTable) allocate(size int) (Addr, error) {
	if size <= 0 {
		return Nil, ErrBadSize
	}
	data, err := mapPages(size)
	if err != nil {
		return Nil, err
	}
	addr := addrOf(data)

	p.mu.Lock()
	p.live[addr] = data
	p.bytes += int64(size)
	p.mu.Unlock()
	return addr, nil
}

func (p *pageTable) release(addr Addr) error {
	p.mu.Lock()
	data, ok := p.live[addr]
	if !ok {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}
	delete(p.live, addr)
	p.bytes -= int64(len(data))
	p.mu.Unlock()

	return unmapPages(data)
}

// usage returns the number of live mappings and their total size.
func (p *pageTable) usage() (int, int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live), p.bytes
}
