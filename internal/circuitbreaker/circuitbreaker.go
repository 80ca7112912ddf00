// Package circuitbreaker wraps sony/gobreaker with the settings and metric hooks
// used for the weather provider.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// ErrOpen is returned when the breaker rejects a call without running it.
var ErrOpen = errors.New("circuit breaker open")

// State is the breaker state.
type State = gobreaker.State

const (
	StateClosed   = gobreaker.StateClosed
	StateHalfOpen = gobreaker.StateHalfOpen
	StateOpen     = gobreaker.StateOpen
)

// Config holds circuit breaker parameters.
type Config struct {
	Component string
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold uint32
	// HalfOpenRequests is the number of probe calls allowed while half-open.
	HalfOpenRequests uint32
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// IsFailure decides which errors count against the circuit. Nil counts every error.
	IsFailure     func(error) bool
	OnStateChange func(component string, from, to State)
}

// CircuitBreaker fails fast while an upstream keeps failing.
type CircuitBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// New creates a CircuitBreaker. Zero values get defaults of 5 failures, 1 probe, 30s.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.HalfOpenRequests == 0 {
		cfg.HalfOpenRequests = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	threshold := cfg.FailureThreshold
	isFailure := cfg.IsFailure

	settings := gobreaker.Settings{
		Name:        cfg.Component,
		MaxRequests: cfg.HalfOpenRequests,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			if isFailure == nil {
				return false
			}
			return !isFailure(err)
		},
	}
	if cfg.OnStateChange != nil {
		onChange := cfg.OnStateChange
		settings.OnStateChange = func(name string, from, to gobreaker.State) {
			onChange(name, from, to)
		}
	}
	return &CircuitBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Call runs fn when the circuit allows it. A rejected call returns an error
// wrapping ErrOpen; otherwise fn's error is returned unchanged.
func (b *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrOpen, err)
	}
	return err
}

// State returns the current state.
func (b *CircuitBreaker) State() State {
	return b.cb.State()
}

// StateValue maps a state to the circuitBreakerState gauge value.
func StateValue(s State) float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}
