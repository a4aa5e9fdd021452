/*
Package replacer implements the LRU-K frame replacement policy used by
the buffer pool manager to pick a victim frame when it needs to make
room for a page and every slot is occupied.

LRU-K generalises plain LRU by looking at the Kth-most-recent access
instead of the single most recent one: a frame accessed twice in a
tight loop and then never again should not out-rank a frame that gets
accessed regularly, and tracking only the last access can't tell those
apart.
*/
package replacer

import (
	"math"
	"sync"

	"github.com/pkg/errors"
)

const infiniteBackwardKDistance = math.MaxInt64

// frameState is the per-frame bookkeeping the replacer keeps. history
// holds up to k timestamps of the frame's most recent accesses, oldest
// first. firstAccess is recorded once and never overwritten by later
// accesses, so it stays the tie-break key even for a frame accessed
// many times while still under k recorded accesses.
type frameState struct {
	history     []int64
	firstAccess int64
	evictable   bool
}

// Replacer tracks access history for a fixed universe of frame ids and
// selects an eviction victim using the LRU-K policy. It is safe for
// concurrent use. Replacer has no notion of wall-clock time: callers
// pass a monotonically increasing logical timestamp into RecordAccess,
// the same way the buffer pool manager already serialises every
// mutation behind its own lock and can hand out a simple counter.
type Replacer struct {
	mu sync.Mutex

	k         int
	numFrames int
	now       int64 // most recent timestamp seen by RecordAccess
	frames    map[int]*frameState
	evictSz   int
}

// New returns a replacer that computes backward k-distance over the
// last k accesses per frame, for frame ids in [0, numFrames). k must be
// >= 1.
func New(numFrames, k int) (*Replacer, error) {
	if numFrames < 1 {
		return nil, errors.Errorf("replacer: numFrames must be >= 1, got %d", numFrames)
	}
	if k < 1 {
		return nil, errors.Errorf("replacer: k must be >= 1, got %d", k)
	}
	return &Replacer{
		k:         k,
		numFrames: numFrames,
		frames:    make(map[int]*frameState),
	}, nil
}

func (r *Replacer) inRange(frameID int) bool {
	return frameID >= 0 && frameID < r.numFrames
}

// RecordAccess notes that frameID was accessed at logical time ts.
// Frames are untracked (and non-evictable) until first recorded. A
// frameID outside [0, numFrames) is silently ignored.
func (r *Replacer) RecordAccess(frameID int, ts int64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inRange(frameID) {
		return
	}

	f, ok := r.frames[frameID]
	if !ok {
		f = &frameState{firstAccess: ts}
		r.frames[frameID] = f
	}

	f.history = append(f.history, ts)
	if len(f.history) > r.k {
		f.history = f.history[len(f.history)-r.k:]
	}
	if ts > r.now {
		r.now = ts
	}
}

// SetEvictable marks frameID as eligible (or ineligible) for eviction.
// It is a no-op if frameID is out of range or has never been recorded.
// Calling it with the frame's current evictability is also a no-op,
// matching the pin-count-driven transitions the buffer pool manager
// performs: an unpin that doesn't reach zero shouldn't re-toggle
// bookkeeping.
func (r *Replacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.inRange(frameID) {
		return
	}

	f, ok := r.frames[frameID]
	if !ok {
		return
	}
	if f.evictable == evictable {
		return
	}
	f.evictable = evictable
	if evictable {
		r.evictSz++
	} else {
		r.evictSz--
	}
}

// Remove drops all access history for frameID without evicting it via
// the replacement policy. Calling it on a frame that is not currently
// evictable, or that isn't tracked at all, is a no-op: the buffer pool
// manager only calls this once a page is unpinned, but a mismatched
// call should not be fatal.
func (r *Replacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.frames[frameID]
	if !ok || !f.evictable {
		return
	}
	delete(r.frames, frameID)
	r.evictSz--
}

// Evict selects the evictable frame with the largest backward
// k-distance, removes it from the replacer, and returns its id.
// Frames with fewer than k recorded accesses are treated as having an
// infinite backward k-distance. Ties at any distance, finite or
// infinite, are broken by earliest first-ever access. Evict returns an
// error if no frame is currently evictable.
func (r *Replacer) Evict() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	victim, ok := r.victim()
	if !ok {
		return -1, errors.New("replacer: no evictable frame")
	}

	delete(r.frames, victim)
	r.evictSz--
	return victim, nil
}

func (r *Replacer) victim() (int, bool) {
	best := -1
	var bestDist, bestFirst int64

	for id, f := range r.frames {
		if !f.evictable {
			continue
		}
		dist := r.backwardKDistance(f)
		switch {
		case best == -1, dist > bestDist:
			best, bestDist, bestFirst = id, dist, f.firstAccess
		case dist == bestDist && f.firstAccess < bestFirst:
			best, bestDist, bestFirst = id, dist, f.firstAccess
		}
	}
	return best, best != -1
}

// backwardKDistance is now - t_k, the gap between the replacer's
// current logical time and the frame's kth-most-recent access, not the
// frame's own most recent access: two frames last touched at different
// times can still tie or invert their ranking once measured against a
// shared "now" instead of against each other's latest timestamp.
func (r *Replacer) backwardKDistance(f *frameState) int64 {
	if len(f.history) < r.k {
		return infiniteBackwardKDistance
	}
	return r.now - f.history[0]
}

// Size returns the number of frames currently marked evictable.
func (r *Replacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.evictSz
}
