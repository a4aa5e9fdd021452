package page

import "github.com/cespare/xxhash/v2"

// Hash returns a well-distributed 64-bit hash of the page identifier,
// used as the default hash function for the buffer pool's page table
// (an extendible hash directory keyed on PageID).
func (id PageID) Hash() uint64 {
	b := id.Bytes()
	return xxhash.Sum64(b[:])
}
