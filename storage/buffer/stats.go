package buffer

import "github.com/hkishida/pagepool/storage/page"

// Stats is a point-in-time snapshot of pool occupancy, useful for
// tuning PoolSize and watching for pin leaks.
type Stats struct {
	PoolSize  int
	Pinned    int
	Dirty     int
	Evictable int
	Free      int
}

// Stats returns a snapshot of the pool's current state.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := Stats{PoolSize: len(m.slots), Free: len(m.freeList)}
	for i := range m.slots {
		s := &m.slots[i]
		if s.pageID == page.InvalidPageID {
			continue
		}
		if s.pinCount > 0 {
			st.Pinned++
		}
		if s.dirty {
			st.Dirty++
		}
	}
	st.Evictable = m.replacer.Size()
	return st
}
