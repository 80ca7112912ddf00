// Package ingest periodically acquires current weather for a fixed set of
// tracked locations so the cache and archive stay warm.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kjstillabower/fitted-service/internal/observability"
	"github.com/kjstillabower/fitted-service/internal/service"
)

const (
	DefaultInterval = 24 * time.Hour
	// DefaultConcurrency bounds parallel acquisitions within one run.
	DefaultConcurrency = 4
	jobName            = "weather_ingest_job"
)

// Acquirer is the part of the weather service a run needs.
type Acquirer interface {
	Current(ctx context.Context, location string) (service.CurrentResult, error)
}

// RunStats summarises one run.
type RunStats struct {
	Locations int
	Succeeded int
	Failed    int
	Duration  time.Duration
}

type Config struct {
	Interval    time.Duration
	Locations   []string
	Concurrency int
	// RunTimeout bounds a single run. Zero means no bound beyond the parent context.
	RunTimeout time.Duration
	Clock      clockwork.Clock
	Logger     *zap.Logger
}

// Job warms tracked locations on a schedule.
type Job struct {
	acq       Acquirer
	cfg       Config
	logger    *zap.Logger
	clock     clockwork.Clock
	scheduler gocron.Scheduler

	mu      sync.Mutex
	lastRun RunStats
}

func New(acq Acquirer, cfg Config) (*Job, error) {
	if acq == nil {
		return nil, errors.New("ingest: nil acquirer")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Job{acq: acq, cfg: cfg, logger: logger, clock: cfg.Clock}, nil
}

// Start schedules the job, first run immediately, and returns. Runs never overlap.
func (j *Job) Start(ctx context.Context) error {
	if len(j.cfg.Locations) == 0 {
		j.logger.Info("ingest: no locations configured; nothing to schedule")
		return nil
	}
	s, err := gocron.NewScheduler(gocron.WithClock(j.clock), gocron.WithLocation(time.UTC))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	_, err = s.NewJob(
		gocron.DurationJob(j.cfg.Interval),
		gocron.NewTask(j.run),
		gocron.WithContext(ctx),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
		gocron.WithStartAt(gocron.WithStartImmediately()),
		gocron.WithName(jobName),
	)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to create %s: %w", jobName, err)
	}
	j.scheduler = s
	s.Start()
	j.logger.Info("ingest scheduled",
		zap.Duration("interval", j.cfg.Interval),
		zap.Int("locations", len(j.cfg.Locations)),
	)
	return nil
}

// Shutdown stops scheduling and waits for a running job to finish.
func (j *Job) Shutdown() error {
	if j.scheduler == nil {
		return nil
	}
	return j.scheduler.Shutdown()
}

// LastRun returns the stats of the most recent completed run.
func (j *Job) LastRun() RunStats {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastRun
}

func (j *Job) run(ctx context.Context) {
	if j.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.cfg.RunTimeout)
		defer cancel()
	}
	if _, err := j.Warm(ctx, j.cfg.Locations); err != nil {
		j.logger.Warn("ingest run finished with errors", zap.Error(err))
	}
}

// Warm acquires current weather for every location. All failures are joined
// into the returned error; successful locations are still written through.
func (j *Job) Warm(ctx context.Context, locations []string) (RunStats, error) {
	start := j.clock.Now()
	stats := RunStats{Locations: len(locations)}

	var (
		mu   sync.Mutex
		errs []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.cfg.Concurrency)
	for _, loc := range locations {
		loc := loc
		g.Go(func() error {
			res, err := j.acq.Current(gctx, loc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				stats.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", loc, err))
				return nil
			}
			stats.Succeeded++
			j.logger.Debug("ingested location", zap.String("location", loc), zap.String("source", string(res.Source)))
			return nil
		})
	}
	_ = g.Wait()

	stats.Duration = j.clock.Since(start)
	observability.IngestDurationSeconds.Observe(stats.Duration.Seconds())
	result := "success"
	switch {
	case stats.Failed == 0:
	case stats.Succeeded == 0:
		result = "failure"
	default:
		result = "partial"
	}
	observability.IngestRunsTotal.WithLabelValues(result).Inc()

	j.mu.Lock()
	j.lastRun = stats
	j.mu.Unlock()

	j.logger.Info("ingest run complete",
		zap.Int("locations", stats.Locations),
		zap.Int("succeeded", stats.Succeeded),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration),
	)
	return stats, errors.Join(errs...)
}
