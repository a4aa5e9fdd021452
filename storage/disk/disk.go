/*
Package disk is the buffer pool's external collaborator for durability.
Everything in this package is deliberately outside the buffer pool core:
the manager only ever talks to the Manager interface below, never to a
concrete file or byte slice, so the core's invariants never depend on how
bytes actually reach a backing store.
*/
package disk

import (
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"

	"github.com/hkishida/pagepool/storage/page"
)

// Manager is the disk collaborator injected into the buffer pool manager.
// Implementations must be safe for concurrent use; the buffer pool manager
// calls these while holding its own lock, so a slow implementation
// serialises every other pool operation behind it.
type Manager interface {
	// ReadPage fills buf with the on-disk contents of id. Reading a page
	// that was never written returns a zero-filled buffer, not an error,
	// matching a freshly-extended file being implicitly zero-filled.
	ReadPage(id page.PageID, buf *page.Payload) error
	// WritePage durably persists buf as the contents of id.
	WritePage(id page.PageID, buf *page.Payload) error
	// DeallocatePage advises the disk layer that id may be reclaimed. It
	// is advisory: an implementation with no segment/free-space
	// management may treat this as a no-op.
	DeallocatePage(id page.PageID) error
}

// FileManager is the production Manager: one backing file addressed at
// page-size-aligned offsets. It does not implement segmentation the way a
// full storage manager would (see the smgr note this project already
// carries elsewhere) — one file grows without bound.
type FileManager struct {
	mu   sync.Mutex
	file *os.File
}

// NewFileManager opens (creating if necessary) the backing file at path.
func NewFileManager(path string) (*FileManager, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "os.OpenFile failed")
	}
	return &FileManager{file: f}, nil
}

func (m *FileManager) offset(id page.PageID) int64 {
	return int64(id) * page.PageSize
}

// ReadPage implements Manager.
func (m *FileManager) ReadPage(id page.PageID, buf *page.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	n, err := m.file.ReadAt(buf[:], m.offset(id))
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			// reading past the end of an implicitly-extended file: the
			// tail is conceptually zero-filled.
			for i := n; i < len(buf); i++ {
				buf[i] = 0
			}
			return nil
		}
		return errors.Wrapf(err, "ReadAt failed for page %d", id)
	}
	return nil
}

// WritePage implements Manager.
func (m *FileManager) WritePage(id page.PageID, buf *page.Payload) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.file.WriteAt(buf[:], m.offset(id)); err != nil {
		return errors.Wrapf(err, "WriteAt failed for page %d", id)
	}
	return nil
}

// DeallocatePage implements Manager. FileManager keeps no free-space map,
// so this is advisory only: the file never shrinks.
func (m *FileManager) DeallocatePage(page.PageID) error {
	return nil
}

// Close releases the backing file descriptor.
func (m *FileManager) Close() error {
	return m.file.Close()
}
