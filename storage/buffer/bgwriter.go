package buffer

import (
	"context"
	"time"

	"github.com/hkishida/pagepool/storage/page"
)

// BackgroundWriter periodically flushes dirty, unpinned pages ahead of
// eviction, the same way ppdb's background writer spares FetchPage the
// cost of a synchronous write on a cache miss.
type BackgroundWriter struct {
	m        *Manager
	interval time.Duration
}

// NewBackgroundWriter returns a writer that sweeps m's slots every
// interval. It does nothing until Run is called.
func NewBackgroundWriter(m *Manager, interval time.Duration) *BackgroundWriter {
	return &BackgroundWriter{m: m, interval: interval}
}

// Run sweeps the pool on a fixed interval until ctx is cancelled.
func (bw *BackgroundWriter) Run(ctx context.Context) error {
	ticker := time.NewTicker(bw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			bw.sweep()
		}
	}
}

// sweep flushes every dirty, unpinned page once. It never blocks
// waiting for a pinned page to be released.
func (bw *BackgroundWriter) sweep() {
	bw.m.mu.Lock()
	var toFlush []page.PageID
	for i := range bw.m.slots {
		s := &bw.m.slots[i]
		if s.pageID != page.InvalidPageID && s.dirty && s.pinCount == 0 {
			toFlush = append(toFlush, s.pageID)
		}
	}
	bw.m.mu.Unlock()

	for _, id := range toFlush {
		if err := bw.m.FlushPage(id); err != nil {
			bw.m.log.Printf("buffer: background flush of page %d failed: %v", id, err)
		}
	}
}
