package disk

import (
	"sync"

	"github.com/hkishida/pagepool/storage/page"
)

// MemManager is an in-memory stand-in for Manager, the same role
// ppdb's bufferStorage plays next to fileStorage: tests exercise buffer
// pool logic without touching a real filesystem.
type MemManager struct {
	mu     sync.Mutex
	pages  map[page.PageID]*page.Payload
	writes []page.PageID // in call order, duplicates included
}

// NewMemManager returns an empty in-memory disk collaborator.
func NewMemManager() *MemManager {
	return &MemManager{pages: make(map[page.PageID]*page.Payload)}
}

// ReadPage implements Manager. An id never written returns a zero payload.
func (m *MemManager) ReadPage(id page.PageID, buf *page.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if stored, ok := m.pages[id]; ok {
		*buf = *stored
		return nil
	}
	buf.Zero()
	return nil
}

// WritePage implements Manager.
func (m *MemManager) WritePage(id page.PageID, buf *page.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *buf
	m.pages[id] = &cp
	m.writes = append(m.writes, id)
	return nil
}

// DeallocatePage implements Manager, dropping the stored page entirely.
func (m *MemManager) DeallocatePage(id page.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.pages, id)
	return nil
}

// WriteCount returns how many times WritePage was called for id, letting
// tests assert eviction of a dirty page actually triggered a flush.
func (m *MemManager) WriteCount(id page.PageID) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, w := range m.writes {
		if w == id {
			n++
		}
	}
	return n
}
