package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/kjstillabower/fitted-service/internal/client"
	"github.com/kjstillabower/fitted-service/internal/models"
	"github.com/kjstillabower/fitted-service/internal/service"
)

type fakeAcquirer struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
	ran   chan struct{}
}

func (f *fakeAcquirer) Current(_ context.Context, location string) (service.CurrentResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, location)
	err := f.fail[location]
	f.mu.Unlock()
	if f.ran != nil {
		select {
		case f.ran <- struct{}{}:
		default:
		}
	}
	if err != nil {
		return service.CurrentResult{}, err
	}
	return service.CurrentResult{Reading: models.WeatherReading{Key: location}, Source: service.SourceUpstream}, nil
}

func TestWarm_AllSucceed(t *testing.T) {
	acq := &fakeAcquirer{}
	j, err := New(acq, Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	stats, err := j.Warm(context.Background(), []string{"London", "Paris", "Tokyo"})
	if err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if stats.Succeeded != 3 || stats.Failed != 0 || stats.Locations != 3 {
		t.Errorf("stats = %+v", stats)
	}
	if len(acq.calls) != 3 {
		t.Errorf("calls = %v, want 3", acq.calls)
	}
	if j.LastRun() != stats {
		t.Errorf("LastRun() = %+v, want %+v", j.LastRun(), stats)
	}
}

func TestWarm_JoinsFailures(t *testing.T) {
	acq := &fakeAcquirer{fail: map[string]error{
		"Atlantis": client.ErrUpstreamRejected,
		"Paris":    client.ErrUpstreamUnavailable,
	}}
	core, logs := observer.New(zap.InfoLevel)
	j, _ := New(acq, Config{Concurrency: 1, Logger: zap.New(core)})

	stats, err := j.Warm(context.Background(), []string{"London", "Atlantis", "Paris"})
	if err == nil {
		t.Fatal("Warm() expected joined error")
	}
	if !errors.Is(err, client.ErrUpstreamRejected) || !errors.Is(err, client.ErrUpstreamUnavailable) {
		t.Errorf("joined error %v lost a cause", err)
	}
	if !strings.Contains(err.Error(), "Atlantis") {
		t.Errorf("error %q should name the failing location", err)
	}
	if stats.Succeeded != 1 || stats.Failed != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if logs.FilterMessage("ingest run complete").Len() != 1 {
		t.Error("expected a run summary log")
	}
}

func TestWarm_RespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	acq := acquirerFunc(func(ctx context.Context, loc string) (service.CurrentResult, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return service.CurrentResult{}, nil
	})
	j, _ := New(acq, Config{Concurrency: 2})
	if _, err := j.Warm(context.Background(), []string{"a", "b", "c", "d", "e", "f"}); err != nil {
		t.Fatalf("Warm() error = %v", err)
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}
}

func TestStart_RunsImmediately(t *testing.T) {
	acq := &fakeAcquirer{ran: make(chan struct{}, 1)}
	j, _ := New(acq, Config{Interval: time.Hour, Locations: []string{"London"}})
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer j.Shutdown()

	select {
	case <-acq.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("job did not run at start")
	}
}

func TestStart_NoLocationsIsNoop(t *testing.T) {
	j, _ := New(&fakeAcquirer{}, Config{})
	if err := j.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := j.Shutdown(); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_NilAcquirer(t *testing.T) {
	if _, err := New(nil, Config{}); err == nil {
		t.Error("New(nil) expected error")
	}
}

type acquirerFunc func(ctx context.Context, loc string) (service.CurrentResult, error)

func (f acquirerFunc) Current(ctx context.Context, loc string) (service.CurrentResult, error) {
	return f(ctx, loc)
}
