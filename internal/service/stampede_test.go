package service

import (
	"sync"
	"testing"
)

func (st *stampedeTracker) active(key string) int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.inFlight[key]
}

func TestStampedeTracker_RecordMissRecordHit(t *testing.T) {
	st := newStampedeTracker()
	key := CurrentKey("Seattle")

	if got := st.RecordMiss(key); got != 1 {
		t.Errorf("first RecordMiss = %d, want 1", got)
	}
	if got := st.RecordMiss(key); got != 2 {
		t.Errorf("second RecordMiss = %d, want 2", got)
	}
	st.RecordHit(key)
	st.RecordHit(key)
	if got := st.active(key); got != 0 {
		t.Errorf("active after all hits = %d, want 0", got)
	}
	// Unpaired hit is a no-op.
	st.RecordHit(key)
	if got := st.RecordMiss(key); got != 1 {
		t.Errorf("RecordMiss after reset = %d, want 1", got)
	}
}

func TestStampedeTracker_Concurrent(t *testing.T) {
	st := newStampedeTracker()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st.RecordMiss("k")
			st.RecordHit("k")
		}()
	}
	wg.Wait()
	if got := st.active("k"); got != 0 {
		t.Errorf("active = %d, want 0", got)
	}
}
