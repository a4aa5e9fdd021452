/*
Package buffer implements the shared buffer pool manager: the cache
sitting between callers and the disk collaborator in storage/disk.
Disk IO is expensive, so pages are kept in a fixed-size pool of slots
and only written back when evicted or explicitly flushed.

Unlike ppdb's clock-sweep buffer manager, this pool uses LRU-K
replacement (storage/replacer) and an extendible hash directory
(storage/hashdir) for its page table, and protects all of its state
with a single mutex rather than per-buffer header locks and content
locks. The simpler locking model trades the ability for two goroutines
to read different pages concurrently for a much smaller surface to get
wrong; every exported method here takes the lock for its entire body.
*/
package buffer

import (
	"io"
	"log"
	"sync"

	"github.com/pkg/errors"

	"github.com/hkishida/pagepool/storage/disk"
	"github.com/hkishida/pagepool/storage/hashdir"
	"github.com/hkishida/pagepool/storage/page"
	"github.com/hkishida/pagepool/storage/replacer"
)

// pageTableBucketSize is the extendible hash directory's bucket
// capacity for the page table. It has no bearing on pool correctness,
// only on how often a bucket splits under a full pool.
const pageTableBucketSize = 4

// slot is one frame of the buffer pool: a fixed spot in the pool that
// holds at most one page's contents at a time.
type slot struct {
	pageID   page.PageID
	payload  *page.Payload
	pinCount int
	dirty    bool
}

// Config configures a Manager.
type Config struct {
	// PoolSize is the number of page-sized slots held in memory.
	PoolSize int
	// ReplacerK is the K in LRU-K; must be >= 1.
	ReplacerK int
	// Disk is the collaborator pages are read from and written to on
	// a miss or eviction.
	Disk disk.Manager
	// Log receives diagnostic output. Defaults to a logger that
	// discards everything.
	Log *log.Logger
}

// Manager is the shared buffer pool manager.
type Manager struct {
	mu sync.Mutex

	disk disk.Manager
	log  *log.Logger

	replacer  *replacer.Replacer
	pageTable *hashdir.Directory[page.PageID, int] // page id -> slot index
	slots     []slot
	freeList  []int

	clock      int64 // logical clock handed to the replacer on each access
	nextPageID page.PageID
}

// New validates cfg and returns a Manager with every slot initially free.
func New(cfg Config) (*Manager, error) {
	if cfg.PoolSize < 1 {
		return nil, errors.Errorf("buffer: PoolSize must be >= 1, got %d", cfg.PoolSize)
	}
	if cfg.Disk == nil {
		return nil, errors.New("buffer: Disk collaborator must not be nil")
	}
	r, err := replacer.New(cfg.PoolSize, cfg.ReplacerK)
	if err != nil {
		return nil, errors.Wrap(err, "replacer.New failed")
	}
	pt, err := hashdir.New[page.PageID, int](pageTableBucketSize, func(id page.PageID) uint64 {
		return id.Hash()
	})
	if err != nil {
		return nil, errors.Wrap(err, "hashdir.New failed")
	}

	l := cfg.Log
	if l == nil {
		l = log.New(io.Discard, "", 0)
	}

	slots := make([]slot, cfg.PoolSize)
	freeList := make([]int, cfg.PoolSize)
	for i := range slots {
		slots[i] = slot{pageID: page.InvalidPageID, payload: page.NewPayload()}
		freeList[i] = i
	}

	return &Manager{
		disk:      cfg.Disk,
		log:       l,
		replacer:  r,
		pageTable: pt,
		slots:     slots,
		freeList:  freeList,
	}, nil
}

// NewPage allocates a fresh page id, pins it into a slot, and returns
// the id together with its (zeroed) payload for the caller to fill in.
// It fails only when every slot is pinned and none can be evicted.
func (m *Manager) NewPage() (page.PageID, *page.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, err := m.allocateSlot()
	if err != nil {
		return page.InvalidPageID, nil, err
	}

	id := m.nextPageID
	m.nextPageID++

	s := &m.slots[idx]
	s.pageID = id
	s.payload.Zero()
	s.pinCount = 1
	s.dirty = false

	m.clock++
	m.replacer.RecordAccess(idx, m.clock)
	m.replacer.SetEvictable(idx, false)

	if err := m.pageTable.Insert(id, idx); err != nil {
		return page.InvalidPageID, nil, errors.Wrap(err, "pageTable.Insert failed")
	}

	m.log.Printf("buffer: new page %d in slot %d", id, idx)
	return id, s.payload, nil
}

// FetchPage returns the payload for id, pinning it in place. Callers
// must call UnpinPage exactly once for each successful FetchPage (and
// each NewPage) once done with the payload.
func (m *Manager) FetchPage(id page.PageID) (*page.Payload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id == page.InvalidPageID {
		return nil, errors.New("buffer: cannot fetch the invalid page id")
	}

	if idx, ok := m.pageTable.Find(id); ok {
		s := &m.slots[idx]
		s.pinCount++
		m.clock++
		m.replacer.RecordAccess(idx, m.clock)
		m.replacer.SetEvictable(idx, false)
		return s.payload, nil
	}

	idx, err := m.allocateSlot()
	if err != nil {
		return nil, err
	}

	s := &m.slots[idx]
	if err := m.disk.ReadPage(id, s.payload); err != nil {
		return nil, errors.Wrapf(err, "disk.ReadPage failed for page %d", id)
	}
	s.pageID = id
	s.pinCount = 1
	s.dirty = false

	m.clock++
	m.replacer.RecordAccess(idx, m.clock)
	m.replacer.SetEvictable(idx, false)

	if err := m.pageTable.Insert(id, idx); err != nil {
		return nil, errors.Wrap(err, "pageTable.Insert failed")
	}

	return s.payload, nil
}

// UnpinPage decrements the pin count for id. isDirty, if true, marks
// the page dirty; a page is never un-marked dirty except by a
// successful flush. Once the pin count reaches zero the slot becomes
// eligible for eviction. It returns an error if id is not currently
// resident or was not pinned.
func (m *Manager) UnpinPage(id page.PageID, isDirty bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.pageTable.Find(id)
	if !ok {
		return errors.Errorf("buffer: page %d is not in the pool", id)
	}
	s := &m.slots[idx]
	if s.pinCount <= 0 {
		return errors.Errorf("buffer: page %d is not pinned", id)
	}
	if isDirty {
		s.dirty = true
	}
	s.pinCount--
	if s.pinCount == 0 {
		m.replacer.SetEvictable(idx, true)
	}
	return nil
}

// FlushPage writes id's current contents to disk regardless of pin
// state and clears its dirty bit. The write happens even when the page
// is already clean. It returns an error for a page that is not resident,
// the same directory-miss outcome UnpinPage reports.
func (m *Manager) FlushPage(id page.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushLocked(id)
}

func (m *Manager) flushLocked(id page.PageID) error {
	idx, ok := m.pageTable.Find(id)
	if !ok {
		return errors.Errorf("buffer: page %d is not in the pool", id)
	}
	s := &m.slots[idx]
	if err := m.disk.WritePage(id, s.payload); err != nil {
		return errors.Wrapf(err, "disk.WritePage failed for page %d", id)
	}
	s.dirty = false
	return nil
}

// FlushAllPages flushes every resident page, dirty or not.
func (m *Manager) FlushAllPages() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.slots {
		if m.slots[i].pageID == page.InvalidPageID {
			continue
		}
		if err := m.flushLocked(m.slots[i].pageID); err != nil {
			return err
		}
	}
	return nil
}

// DeletePage removes id from the pool and asks the disk collaborator
// to reclaim its space. It fails if the page is currently pinned. A
// page that is not resident is treated as already deleted.
func (m *Manager) DeletePage(id page.PageID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx, ok := m.pageTable.Find(id)
	if !ok {
		return nil
	}
	s := &m.slots[idx]
	if s.pinCount > 0 {
		return errors.Errorf("buffer: page %d is pinned, cannot delete", id)
	}

	m.pageTable.Remove(id)
	m.replacer.Remove(idx)

	s.payload.Zero()
	s.pageID = page.InvalidPageID
	s.pinCount = 0
	s.dirty = false
	m.freeList = append(m.freeList, idx)

	if err := m.disk.DeallocatePage(id); err != nil {
		return errors.Wrapf(err, "disk.DeallocatePage failed for page %d", id)
	}
	return nil
}

// allocateSlot returns the index of a slot ready to receive a new
// page, evicting and (if dirty) flushing a victim if the free list is
// empty. Caller must hold m.mu.
func (m *Manager) allocateSlot() (int, error) {
	if n := len(m.freeList); n > 0 {
		idx := m.freeList[n-1]
		m.freeList = m.freeList[:n-1]
		return idx, nil
	}

	idx, err := m.replacer.Evict()
	if err != nil {
		return -1, errors.New("buffer: no free slot and nothing evictable")
	}

	victim := &m.slots[idx]
	if victim.dirty {
		if err := m.disk.WritePage(victim.pageID, victim.payload); err != nil {
			return -1, errors.Wrapf(err, "disk.WritePage failed while evicting page %d", victim.pageID)
		}
		m.log.Printf("buffer: flushed dirty page %d before eviction from slot %d", victim.pageID, idx)
	}
	m.pageTable.Remove(victim.pageID)
	return idx, nil
}
