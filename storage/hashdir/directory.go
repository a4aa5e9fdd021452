/*
Package hashdir implements an extendible hash directory: a concurrent
associative container that grows by doubling a directory of bucket
pointers rather than by rehashing every key, the same structure the
buffer pool manager's page table (page id -> slot index) is built on.

Extendible hashing gives O(1) expected Find/Insert/Remove and only ever
touches the bucket(s) involved in a split, which matters because the
page table sees an insert or remove on essentially every buffer pool
miss.
*/
package hashdir

import (
	"sync"

	"github.com/pkg/errors"
)

// maxGlobalDepth bounds directory doubling. It is the bit width of the
// hash function's output: beyond this, no additional low-order bit
// exists to distinguish keys, so any further "split" would be unable to
// make progress. Hitting it means the hash function or key distribution
// is pathological for this workload.
const maxGlobalDepth = 64

// HashFunc computes a hash for a directory key. Go's comparable
// constraint gives equality for free but not a hash operator, so — the
// same way a generic ordered container takes an explicit less func —
// the directory takes an explicit hash func at construction.
type HashFunc[K comparable] func(K) uint64

type entry[K comparable, V any] struct {
	key K
	val V
}

type bucket[K comparable, V any] struct {
	localDepth uint
	items      []entry[K, V]
}

func (b *bucket[K, V]) find(key K) (V, bool) {
	for _, e := range b.items {
		if e.key == key {
			return e.val, true
		}
	}
	var zero V
	return zero, false
}

// Directory is an extendible hash table mapping K to V.
type Directory[K comparable, V any] struct {
	mu         sync.Mutex
	hash       HashFunc[K]
	bucketSize int

	globalDepth uint
	dir         []*bucket[K, V]
	numBuckets  int
}

// New returns an empty directory with one bucket, global depth 0, whose
// buckets hold up to bucketSize entries before splitting. hash must be
// deterministic and should distribute keys uniformly over 64 bits.
func New[K comparable, V any](bucketSize int, hash HashFunc[K]) (*Directory[K, V], error) {
	if bucketSize < 1 {
		return nil, errors.Errorf("hashdir: bucketSize must be >= 1, got %d", bucketSize)
	}
	if hash == nil {
		return nil, errors.New("hashdir: hash function must not be nil")
	}
	first := &bucket[K, V]{localDepth: 0}
	return &Directory[K, V]{
		hash:       hash,
		bucketSize: bucketSize,
		dir:        []*bucket[K, V]{first},
		numBuckets: 1,
	}, nil
}

func dirIndex(h uint64, depth uint) int {
	if depth == 0 {
		return 0
	}
	mask := (uint64(1) << depth) - 1
	return int(h & mask)
}

// Find returns the value associated with key and whether it was present.
func (d *Directory[K, V]) Find(key K) (V, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := dirIndex(d.hash(key), d.globalDepth)
	return d.dir[idx].find(key)
}

// Remove deletes all entries equal to key and reports whether anything
// was removed. No bucket merge is performed — a bucket that becomes
// empty stays allocated at its current local depth.
func (d *Directory[K, V]) Remove(key K) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := dirIndex(d.hash(key), d.globalDepth)
	b := d.dir[idx]

	removed := false
	kept := b.items[:0]
	for _, e := range b.items {
		if e.key == key {
			removed = true
			continue
		}
		kept = append(kept, e)
	}
	b.items = kept
	return removed
}

// Insert adds or overwrites key -> val, splitting buckets (and doubling
// the directory when necessary) until the key fits.
func (d *Directory[K, V]) Insert(key K, val V) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	h := d.hash(key)
	for splits := 0; ; splits++ {
		idx := dirIndex(h, d.globalDepth)
		b := d.dir[idx]

		if overwritten := d.overwrite(b, key, val); overwritten {
			return nil
		}
		if len(b.items) < d.bucketSize {
			b.items = append(b.items, entry[K, V]{key: key, val: val})
			return nil
		}
		if splits >= maxGlobalDepth {
			return errors.Errorf("hashdir: bucket would not split after %d attempts; hash is not distinguishing keys in this bucket", splits)
		}
		d.split(b)
	}
}

func (d *Directory[K, V]) overwrite(b *bucket[K, V], key K, val V) bool {
	for i := range b.items {
		if b.items[i].key == key {
			b.items[i].val = val
			return true
		}
	}
	return false
}

// split grows the directory (if the target bucket's local depth has
// caught up to the global depth) and divides the bucket's entries
// between it and a freshly allocated sibling bucket.
func (d *Directory[K, V]) split(old *bucket[K, V]) {
	localDepth := old.localDepth
	if localDepth == d.globalDepth {
		d.dir = append(d.dir, d.dir...)
		d.globalDepth++
	}

	newDepth := localDepth + 1
	old.localDepth = newDepth
	sibling := &bucket[K, V]{localDepth: newDepth}
	d.numBuckets++

	// The corrected bit-selection rule: every directory entry currently
	// pointing at old is reassigned to sibling iff the newly
	// significant bit (bit index localDepth) is set. A fixed single
	// offset reassignment only ever moves one entry and silently
	// leaves every other alias of old stale once more than two
	// directory slots point at the same bucket.
	for i := range d.dir {
		if d.dir[i] == old && (i>>localDepth)&1 == 1 {
			d.dir[i] = sibling
		}
	}

	moved := old.items
	old.items = old.items[:0]
	for _, e := range moved {
		idx := dirIndex(d.hash(e.key), d.globalDepth)
		target := d.dir[idx]
		target.items = append(target.items, e)
	}
}

// GlobalDepth returns the current global depth (log2 of directory length).
func (d *Directory[K, V]) GlobalDepth() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.globalDepth)
}

// DirLen returns the directory's current length (always 2^GlobalDepth()).
func (d *Directory[K, V]) DirLen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dir)
}

// NumBuckets returns the number of distinct allocated buckets, which is
// less than or equal to DirLen() since buckets are shared across
// multiple directory slots until they split.
func (d *Directory[K, V]) NumBuckets() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.numBuckets
}

// LocalDepthAt returns the local depth of the bucket that directory
// index idx currently points to.
func (d *Directory[K, V]) LocalDepthAt(idx int) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return int(d.dir[idx].localDepth)
}

// SameBucket reports whether directory indices i and j currently point
// to the same bucket, exposed for invariant checks in tests.
func (d *Directory[K, V]) SameBucket(i, j int) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dir[i] == d.dir[j]
}
