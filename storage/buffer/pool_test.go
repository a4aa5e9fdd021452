package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hkishida/pagepool/storage/disk"
	"github.com/hkishida/pagepool/storage/page"
)

func newTestManager(t *testing.T, poolSize, replacerK int) (*Manager, *disk.MemManager) {
	t.Helper()
	dm := disk.NewMemManager()
	m, err := New(Config{PoolSize: poolSize, ReplacerK: replacerK, Disk: dm})
	require.NoError(t, err)
	return m, dm
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	dm := disk.NewMemManager()
	_, err := New(Config{PoolSize: 0, ReplacerK: 2, Disk: dm})
	assert.Error(t, err)

	_, err = New(Config{PoolSize: 1, ReplacerK: 2, Disk: nil})
	assert.Error(t, err)
}

func TestNewPageIsPinnedAndZeroed(t *testing.T) {
	m, _ := newTestManager(t, 2, 2)

	id, buf, err := m.NewPage()
	require.NoError(t, err)
	for _, b := range buf {
		require.Equal(t, byte(0), b)
	}

	// pinned pages cannot be evicted: a second NewPage should still
	// succeed by using the remaining free slot, and a third should fail
	// once the pool is exhausted and everything is pinned.
	_, _, err = m.NewPage()
	require.NoError(t, err)

	_, _, err = m.NewPage()
	assert.Error(t, err, "no free slot and nothing evictable since both pages are pinned")

	require.NoError(t, m.UnpinPage(id, false))
}

func TestFetchPageCacheHitDoesNotTouchDisk(t *testing.T) {
	m, dm := newTestManager(t, 2, 2)

	id, buf, err := m.NewPage()
	require.NoError(t, err)
	buf[0] = 0x7
	require.NoError(t, m.UnpinPage(id, true))

	got, err := m.FetchPage(id)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7), got[0])
	assert.Equal(t, 0, dm.WriteCount(id), "a cache hit must not flush the page")
}

func TestUnpinUnknownPageIsError(t *testing.T) {
	m, _ := newTestManager(t, 1, 2)
	assert.Error(t, m.UnpinPage(page.PageID(99), false))
}

func TestUnpinNotPinnedIsError(t *testing.T) {
	m, _ := newTestManager(t, 1, 2)
	id, _, err := m.NewPage()
	require.NoError(t, err)
	require.NoError(t, m.UnpinPage(id, false))
	assert.Error(t, m.UnpinPage(id, false), "unpinning below zero must fail")
}

// TestEvictionFlushesDirtyVictim checks that evicting a dirty, unpinned
// page writes it to disk exactly once before its slot is reused.
func TestEvictionFlushesDirtyVictim(t *testing.T) {
	m, dm := newTestManager(t, 1, 2)

	id1, buf, err := m.NewPage()
	require.NoError(t, err)
	buf[0] = 0x1
	require.NoError(t, m.UnpinPage(id1, true))

	assert.Equal(t, 0, dm.WriteCount(id1))

	// the pool has only one slot; a second NewPage must evict id1.
	_, _, err = m.NewPage()
	require.NoError(t, err)

	assert.Equal(t, 1, dm.WriteCount(id1), "eviction of a dirty page must flush it exactly once")
}

func TestEvictionSkipsCleanVictim(t *testing.T) {
	m, dm := newTestManager(t, 1, 2)

	id1, _, err := m.NewPage()
	require.NoError(t, err)
	require.NoError(t, m.UnpinPage(id1, false))

	_, _, err = m.NewPage()
	require.NoError(t, err)

	assert.Equal(t, 0, dm.WriteCount(id1), "eviction of a clean page must not flush it")
}

func TestFlushPageClearsDirtyBit(t *testing.T) {
	m, dm := newTestManager(t, 2, 2)

	id, buf, err := m.NewPage()
	require.NoError(t, err)
	buf[0] = 0x9
	require.NoError(t, m.UnpinPage(id, true))

	require.NoError(t, m.FlushPage(id))
	assert.Equal(t, 1, dm.WriteCount(id))
	assert.Equal(t, 0, m.Stats().Dirty, "an explicit flush must clear the dirty bit")

	require.NoError(t, m.FlushPage(id))
	assert.Equal(t, 2, dm.WriteCount(id), "FlushPage writes even when the page is already clean")
}

func TestFlushUnknownPageIsError(t *testing.T) {
	m, _ := newTestManager(t, 1, 2)
	assert.Error(t, m.FlushPage(page.PageID(123)))
}

func TestDeletePinnedPageIsError(t *testing.T) {
	m, _ := newTestManager(t, 1, 2)
	id, _, err := m.NewPage()
	require.NoError(t, err)
	assert.Error(t, m.DeletePage(id))
}

func TestDeletePageFreesSlotForReuse(t *testing.T) {
	m, dm := newTestManager(t, 1, 2)

	id, _, err := m.NewPage()
	require.NoError(t, err)
	require.NoError(t, m.UnpinPage(id, false))
	require.NoError(t, m.DeletePage(id))

	_, ok := m.pageTable.Find(id)
	assert.False(t, ok)

	// the freed slot should be usable without needing to evict anything.
	newID, _, err := m.NewPage()
	require.NoError(t, err)
	// unpin the new page so the pool's only slot can be evicted for the
	// fetch below.
	require.NoError(t, m.UnpinPage(newID, false))

	_, err = m.FetchPage(id)
	assert.NoError(t, err, "a deleted page's id is unknown, so refetching it re-reads a zero page from disk")
	_ = dm
}

func TestFlushAllPagesFlushesEveryDirtyResidentPage(t *testing.T) {
	m, dm := newTestManager(t, 3, 2)

	var ids []page.PageID
	for i := 0; i < 3; i++ {
		id, buf, err := m.NewPage()
		require.NoError(t, err)
		buf[0] = byte(i + 1)
		require.NoError(t, m.UnpinPage(id, true))
		ids = append(ids, id)
	}

	require.NoError(t, m.FlushAllPages())
	for _, id := range ids {
		assert.Equal(t, 1, dm.WriteCount(id))
	}
}

func TestStatsReflectsPoolOccupancy(t *testing.T) {
	m, _ := newTestManager(t, 2, 2)

	id1, _, err := m.NewPage()
	require.NoError(t, err)
	_, _, err = m.NewPage()
	require.NoError(t, err)

	st := m.Stats()
	assert.Equal(t, 2, st.PoolSize)
	assert.Equal(t, 2, st.Pinned)
	assert.Equal(t, 0, st.Free)

	require.NoError(t, m.UnpinPage(id1, true))
	st = m.Stats()
	assert.Equal(t, 1, st.Pinned)
	assert.Equal(t, 1, st.Dirty)
	assert.Equal(t, 1, st.Evictable)
}
