package fusion

import (
	"sync"
	"time"
)

// tuneCandidate identifies one of the execution entry points the tuner can
// pick as a winner.
type tuneCandidate int

const (
	candidateSimple tuneCandidate = iota
	candidateDoubleBuffering
	candidateFallback
)

func (c tuneCandidate) String() string {
	switch c {
	case candidateSimple:
		return "simple"
	case candidateDoubleBuffering:
		return "double_buffering"
	case candidateFallback:
		return "fallback"
	}
	return "unknown"
}

// tuneCacheEntry records a winning strategy for one problem key.
type tuneCacheEntry struct {
	winner    tuneCandidate
	decidedAt time.Time
	hitCount  int64
}

// tuneCache stores autotune winners keyed by problem characteristics. It is
// shared across coordinators on the same device, so access is guarded.
type tuneCache struct {
	entries map[string]*tuneCacheEntry
	mutex   sync.RWMutex

	hitCount  int64
	missCount int64
}

func newTuneCache() *tuneCache {
	return &tuneCache{entries: make(map[string]*tuneCacheEntry)}
}

// lookup returns the cached winner for a key, if any.
func (tc *tuneCache) lookup(key string) (tuneCandidate, bool) {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()

	if entry, exists := tc.entries[key]; exists {
		entry.hitCount++
		tc.hitCount++
		return entry.winner, true
	}
	tc.missCount++
	return 0, false
}

// store records the winner for a key, replacing any previous decision.
func (tc *tuneCache) store(key string, winner tuneCandidate) {
	tc.mutex.Lock()
	defer tc.mutex.Unlock()
	tc.entries[key] = &tuneCacheEntry{winner: winner, decidedAt: time.Now()}
}

// stats returns the hit and miss counts.
func (tc *tuneCache) stats() (hits, misses int64) {
	tc.mutex.RLock()
	defer tc.mutex.RUnlock()
	return tc.hitCount, tc.missCount
}
