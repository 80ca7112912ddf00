package http

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestInFlightTracker_Count(t *testing.T) {
	tracker := &InFlightTracker{}

	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() = %d, want 0", got)
	}
	tracker.Increment()
	tracker.Increment()
	if got := tracker.Count(); got != 2 {
		t.Errorf("Count() = %d, want 2", got)
	}
	tracker.Decrement()
	tracker.Decrement()
	tracker.Decrement()
	if got := tracker.Count(); got != 0 {
		t.Errorf("Count() after extra Decrement = %d, want 0", got)
	}
}

func TestInFlightTracker_WaitForZero_Idle(t *testing.T) {
	tracker := &InFlightTracker{}
	if err := tracker.WaitForZero(context.Background()); err != nil {
		t.Errorf("WaitForZero() on idle tracker = %v", err)
	}
}

func TestInFlightTracker_WaitForZero(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	done := make(chan error, 1)
	go func() { done <- tracker.WaitForZero(context.Background()) }()

	select {
	case <-done:
		t.Fatal("WaitForZero returned while a request was in flight")
	case <-time.After(20 * time.Millisecond):
	}

	tracker.Decrement()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitForZero() = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitForZero did not return after count reached zero")
	}
}

func TestInFlightTracker_WaitForZero_ContextCanceled(t *testing.T) {
	tracker := &InFlightTracker{}
	tracker.Increment()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := tracker.WaitForZero(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("WaitForZero() = %v, want context.Canceled", err)
	}
}
