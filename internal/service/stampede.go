package service

import "sync"

// stampedeTracker counts in-progress upstream fetches per cache key. With coalescing
// off, a count above 1 means concurrent misses are each hitting the provider.
type stampedeTracker struct {
	mu       sync.Mutex
	inFlight map[string]int
}

func newStampedeTracker() *stampedeTracker {
	return &stampedeTracker{inFlight: make(map[string]int)}
}

// RecordMiss registers a fetch for key and returns how many are now in flight.
// Pair every call with RecordHit.
func (st *stampedeTracker) RecordMiss(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.inFlight[key]++
	return st.inFlight[key]
}

// RecordHit marks one fetch for key as finished.
func (st *stampedeTracker) RecordHit(key string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	n := st.inFlight[key]
	switch {
	case n > 1:
		st.inFlight[key] = n - 1
	case n == 1:
		delete(st.inFlight, key)
	}
}
