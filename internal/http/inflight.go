package http

import (
	"context"
	"sync"
)

// InFlightTracker counts requests currently being served so shutdown can wait for them.
// The zero value is ready to use.
type InFlightTracker struct {
	mu    sync.Mutex
	count int64
	// zero is closed whenever count is 0.
	zero chan struct{}
}

func (t *InFlightTracker) lazyInit() {
	if t.zero == nil {
		t.zero = make(chan struct{})
		close(t.zero)
	}
}

// Increment adds one to the in-flight count. Call when a request starts.
func (t *InFlightTracker) Increment() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lazyInit()
	if t.count == 0 {
		t.zero = make(chan struct{})
	}
	t.count++
}

// Decrement subtracts one from the in-flight count. Extra calls are ignored.
func (t *InFlightTracker) Decrement() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lazyInit()
	if t.count == 0 {
		return
	}
	t.count--
	if t.count == 0 {
		close(t.zero)
	}
}

// Count returns the current in-flight count.
func (t *InFlightTracker) Count() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}

// WaitForZero blocks until the in-flight count reaches zero or ctx is done.
func (t *InFlightTracker) WaitForZero(ctx context.Context) error {
	t.mu.Lock()
	t.lazyInit()
	zero := t.zero
	t.mu.Unlock()

	select {
	case <-zero:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// globalInFlightTracker is the process-wide counter fed by MetricsMiddleware.
var globalInFlightTracker = &InFlightTracker{}

// InFlightCount returns the current number of in-flight requests.
func InFlightCount() int64 {
	return globalInFlightTracker.Count()
}

// WaitForInFlight blocks until in-flight requests reach zero or ctx is done.
func WaitForInFlight(ctx context.Context) error {
	return globalInFlightTracker.WaitForZero(ctx)
}
