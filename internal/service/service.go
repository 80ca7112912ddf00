package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/fitted-service/internal/archive"
	"github.com/kjstillabower/fitted-service/internal/cache"
	"github.com/kjstillabower/fitted-service/internal/client"
	"github.com/kjstillabower/fitted-service/internal/models"
	"github.com/kjstillabower/fitted-service/internal/observability"
)

// Source is the fallback-chain layer that produced a result.
type Source string

const (
	SourceCached   Source = "cached"
	SourceArchive  Source = "archive"
	SourceMock     Source = "mock"
	SourceUpstream Source = "upstream"
)

// CurrentResult is a resolved current reading and where it came from.
type CurrentResult struct {
	Reading models.WeatherReading
	Source  Source
}

// ForecastResult is a resolved forecast and where it came from.
type ForecastResult struct {
	Weather models.ForecastedWeather
	Source  Source
}

// Archive is the durable store surface the service reads and writes through.
type Archive interface {
	FindLatestCurrent(ctx context.Context, location string, maxAge time.Duration) (archive.Record, bool, error)
	FindLatestForecast(ctx context.Context, location string, maxAge time.Duration) (archive.Record, bool, error)
	Write(ctx context.Context, kind archive.Kind, location string, v any) (archive.WriteResult, error)
}

// Config tunes the service.
type Config struct {
	// TTL bounds both cache freshness and archive freshness.
	TTL time.Duration
	// Coalesce shares one upstream fetch between concurrent misses for the same key.
	Coalesce bool
	Clock    clockwork.Clock
	Logger   *zap.Logger
}

// WeatherService resolves weather through the fallback chain:
// cache, archive, mock (no credential), upstream with write-through.
type WeatherService struct {
	client   client.WeatherClient
	current  cache.Cache[models.WeatherReading]
	forecast cache.Cache[models.ForecastedWeather]
	archive  Archive
	ttl      time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger

	group           *singleflight.Group
	stampedeTracker *stampedeTracker
}

// NewWeatherService wires the chain. A nil client means no upstream credential is
// configured and readings are mocked. A nil archive disables the archive layer.
func NewWeatherService(c client.WeatherClient, current cache.Cache[models.WeatherReading], forecast cache.Cache[models.ForecastedWeather], store Archive, cfg Config) *WeatherService {
	if cfg.TTL <= 0 {
		cfg.TTL = cache.DefaultTTL
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	s := &WeatherService{
		client:          c,
		current:         current,
		forecast:        forecast,
		archive:         store,
		ttl:             cfg.TTL,
		clock:           cfg.Clock,
		logger:          cfg.Logger,
		stampedeTracker: newStampedeTracker(),
	}
	if cfg.Coalesce {
		s.group = &singleflight.Group{}
	}
	return s
}

// HasCredential reports whether upstream fetches are possible.
func (s *WeatherService) HasCredential() bool {
	return s.client != nil
}

// CurrentKey is the cache key for a current reading. location is used as given.
func CurrentKey(location string) string {
	return "current:" + location
}

// ForecastKey is the cache key for a forecast of days days.
func ForecastKey(location string, days int) string {
	return fmt.Sprintf("forecast:%s:%d", location, days)
}

// Current resolves the current reading for location.
func (s *WeatherService) Current(ctx context.Context, location string) (CurrentResult, error) {
	r, src, err := acquire(ctx, s, pipeline[models.WeatherReading]{
		kind:     archive.KindCurrent,
		key:      CurrentKey(location),
		location: location,
		cache:    s.current,
		find: func(ctx context.Context) (archive.Record, bool, error) {
			return s.archive.FindLatestCurrent(ctx, location, s.ttl)
		},
		decode: func(rec archive.Record) (models.WeatherReading, error) {
			return decodeReading(rec, location)
		},
		mock: func() models.WeatherReading {
			return MockCurrent(location, s.clock.Now())
		},
		fetch: func(ctx context.Context) (models.WeatherReading, error) {
			return s.client.FetchCurrent(ctx, location)
		},
	})
	if err != nil {
		return CurrentResult{}, err
	}
	return CurrentResult{Reading: r, Source: src}, nil
}

// Forecast resolves location's forecast. days is clamped to [1,10].
func (s *WeatherService) Forecast(ctx context.Context, location string, days int) (ForecastResult, error) {
	days = models.ClampForecastDays(days)
	fw, src, err := acquire(ctx, s, pipeline[models.ForecastedWeather]{
		kind:     archive.KindForecast,
		key:      ForecastKey(location, days),
		location: location,
		cache:    s.forecast,
		find: func(ctx context.Context) (archive.Record, bool, error) {
			return s.archive.FindLatestForecast(ctx, location, s.ttl)
		},
		decode: func(rec archive.Record) (models.ForecastedWeather, error) {
			return decodeForecast(rec, location, days)
		},
		mock: func() models.ForecastedWeather {
			return MockForecast(location, days, s.clock.Now())
		},
		fetch: func(ctx context.Context) (models.ForecastedWeather, error) {
			return s.client.FetchForecast(ctx, location, days)
		},
	})
	if err != nil {
		return ForecastResult{}, err
	}
	return ForecastResult{Weather: fw, Source: src}, nil
}

type pipeline[V any] struct {
	kind     archive.Kind
	key      string
	location string
	cache    cache.Cache[V]
	find     func(ctx context.Context) (archive.Record, bool, error)
	decode   func(archive.Record) (V, error)
	mock     func() V
	fetch    func(ctx context.Context) (V, error)
}

func acquire[V any](ctx context.Context, s *WeatherService, p pipeline[V]) (V, Source, error) {
	var zero V
	logger := observability.LoggerFromContext(ctx, s.logger).With(zap.String("kind", string(p.kind)), zap.String("key", p.key))
	start := s.clock.Now()
	kind := string(p.kind)

	// 1. Cache.
	if p.cache != nil {
		v, ok, err := p.cache.Get(ctx, p.key)
		switch {
		case err != nil:
			observability.CacheErrorsTotal.WithLabelValues("memory", "get").Inc()
			logger.Warn("cache get failed", zap.Error(err))
		case ok:
			observability.CacheHitsTotal.WithLabelValues("memory").Inc()
			observability.AcquisitionsTotal.WithLabelValues(kind, string(SourceCached)).Inc()
			logger.Debug("cache hit")
			return v, SourceCached, nil
		default:
			observability.CacheMissesTotal.WithLabelValues("memory").Inc()
		}
	}

	// Locations with nothing left after sanitization would all share one partition.
	archived := s.archive != nil && archive.Sanitize(p.location) != ""

	// 2. Archive.
	if archived {
		if v, ok := lookupArchive(ctx, logger, p); ok {
			cacheSet(ctx, logger, p, v)
			observability.AcquisitionsTotal.WithLabelValues(kind, string(SourceArchive)).Inc()
			logger.Debug("archive hit")
			return v, SourceArchive, nil
		}
	}

	// 3. No credential: static mock, neither cached nor archived.
	if s.client == nil {
		observability.AcquisitionsTotal.WithLabelValues(kind, string(SourceMock)).Inc()
		logger.Debug("no upstream credential, serving mock")
		return p.mock(), SourceMock, nil
	}

	// 4. Upstream.
	v, err := fetchUpstream(ctx, s, p)
	if err != nil {
		observability.AcquisitionsTotal.WithLabelValues(kind, "failed").Inc()
		logger.Info("upstream fetch failed",
			zap.String("category", string(client.CategorizeError(err))),
			zap.Error(err),
		)
		return zero, "", fmt.Errorf("fetch %s weather for %q: %w", p.kind, p.location, err)
	}
	// The caller is gone; nothing is written on its behalf.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return zero, "", fmt.Errorf("%w: %w", client.ErrUpstreamUnavailable, ctxErr)
	}

	cacheSet(ctx, logger, p, v)
	if archived {
		archiveWrite(ctx, logger, s.archive, p, v)
	}

	observability.AcquisitionsTotal.WithLabelValues(kind, string(SourceUpstream)).Inc()
	logger.Debug("weather fetched", zap.Duration("duration", s.clock.Since(start)))
	return v, SourceUpstream, nil
}

// lookupArchive treats every archive problem as a miss.
func lookupArchive[V any](ctx context.Context, logger *zap.Logger, p pipeline[V]) (V, bool) {
	var zero V
	rec, ok, err := p.find(ctx)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("archive", "get").Inc()
		logger.Warn("archive lookup failed", zap.Error(err))
		return zero, false
	}
	if !ok {
		observability.CacheMissesTotal.WithLabelValues("archive").Inc()
		return zero, false
	}
	v, err := p.decode(rec)
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("archive", "decode").Inc()
		logger.Warn("archived record unusable", zap.String("object", rec.Key), zap.Error(err))
		return zero, false
	}
	observability.CacheHitsTotal.WithLabelValues("archive").Inc()
	return v, true
}

func cacheSet[V any](ctx context.Context, logger *zap.Logger, p pipeline[V], v V) {
	if p.cache == nil {
		return
	}
	if err := p.cache.Set(ctx, p.key, v); err != nil {
		observability.CacheErrorsTotal.WithLabelValues("memory", "set").Inc()
		logger.Warn("cache set failed", zap.Error(err))
	}
}

// archiveWrite never fails the request.
func archiveWrite[V any](ctx context.Context, logger *zap.Logger, store Archive, p pipeline[V], v V) {
	if store == nil {
		return
	}
	kind := string(p.kind)
	res, err := store.Write(ctx, p.kind, p.location, v)
	switch {
	case err != nil:
		observability.ArchiveWritesTotal.WithLabelValues(kind, "failure").Inc()
		logger.Warn("archive write failed", zap.String("object", res.Key), zap.Error(err))
	case res.Skipped:
		observability.ArchiveWritesTotal.WithLabelValues(kind, "skipped").Inc()
		logger.Debug("archive write skipped in local mode", zap.String("object", res.Key))
	default:
		observability.ArchiveWritesTotal.WithLabelValues(kind, "success").Inc()
	}
}

// fetchUpstream calls the provider, sharing the call between concurrent misses when
// coalescing is on.
func fetchUpstream[V any](ctx context.Context, s *WeatherService, p pipeline[V]) (V, error) {
	var zero V
	if s.group == nil {
		if concurrent := s.stampedeTracker.RecordMiss(p.key); concurrent > 1 {
			observability.CacheStampedeDetectedTotal.WithLabelValues(string(p.kind)).Inc()
		}
		defer s.stampedeTracker.RecordHit(p.key)
		return p.fetch(ctx)
	}

	// The shared fetch outlives any single caller's cancellation.
	fetchCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(p.key, func() (any, error) {
		return p.fetch(fetchCtx)
	})
	select {
	case <-ctx.Done():
		return zero, fmt.Errorf("%w: %w", client.ErrUpstreamUnavailable, ctx.Err())
	case res := <-ch:
		if res.Shared {
			observability.CoalescedRequestsTotal.WithLabelValues(string(p.kind)).Inc()
		}
		if res.Err != nil {
			return zero, res.Err
		}
		v, ok := res.Val.(V)
		if !ok {
			return zero, errors.New("coalesced fetch returned unexpected type")
		}
		return v, nil
	}
}

// errKeyMismatch marks an archived record written for a different location that
// sanitizes to the same partition.
var errKeyMismatch = errors.New("archived record belongs to another location")

// checkKey accepts records written for location. Legacy objects hold the raw
// provider payload without a key and are accepted.
func checkKey(recordKey, location string) error {
	if recordKey != "" && recordKey != location {
		return fmt.Errorf("%w: %q", errKeyMismatch, recordKey)
	}
	return nil
}

func decodeReading(rec archive.Record, location string) (models.WeatherReading, error) {
	var r models.WeatherReading
	if err := rec.Decode(&r); err != nil {
		return models.WeatherReading{}, fmt.Errorf("%w: %v", models.ErrSchemaInvalid, err)
	}
	if err := checkKey(r.Key, location); err != nil {
		return models.WeatherReading{}, err
	}
	return models.NewWeatherReading(location, r.Location, r.Current)
}

func decodeForecast(rec archive.Record, location string, days int) (models.ForecastedWeather, error) {
	var fw models.ForecastedWeather
	if err := rec.Decode(&fw); err != nil {
		return models.ForecastedWeather{}, fmt.Errorf("%w: %v", models.ErrSchemaInvalid, err)
	}
	if err := checkKey(fw.Key, location); err != nil {
		return models.ForecastedWeather{}, err
	}
	if len(fw.Forecast.Days) < days {
		return models.ForecastedWeather{}, fmt.Errorf("archived forecast has %d days, need %d", len(fw.Forecast.Days), days)
	}
	r, err := models.NewWeatherReading(location, fw.Location, fw.Current)
	if err != nil {
		return models.ForecastedWeather{}, err
	}
	return models.NewForecastedWeather(r, fw.Forecast.Days[:days])
}
