package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/fitted-service/internal/analytics"
	"github.com/kjstillabower/fitted-service/internal/archive"
	"github.com/kjstillabower/fitted-service/internal/cache"
	"github.com/kjstillabower/fitted-service/internal/circuitbreaker"
	"github.com/kjstillabower/fitted-service/internal/client"
	"github.com/kjstillabower/fitted-service/internal/config"
	httphandler "github.com/kjstillabower/fitted-service/internal/http"
	"github.com/kjstillabower/fitted-service/internal/ingest"
	"github.com/kjstillabower/fitted-service/internal/llm"
	"github.com/kjstillabower/fitted-service/internal/models"
	"github.com/kjstillabower/fitted-service/internal/observability"
	"github.com/kjstillabower/fitted-service/internal/service"
	"github.com/kjstillabower/fitted-service/internal/suggest"
)

const upstreamComponent = "weather_api"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	clock := clockwork.NewRealClock()

	// A nil client puts the service in mock mode.
	var weatherClient client.WeatherClient
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.WeatherAPIKey != "" {
		wc, err := client.NewWeatherAPIClientWithRetry(cfg.WeatherAPIKey, cfg.WeatherAPIURL, cfg.WeatherAPITimeout, client.RetryConfig{
			MaxAttempts: cfg.RetryAttempts,
			BackoffStep: cfg.RetryBackoffStep,
			Clock:       clock,
		})
		if err != nil {
			logger.Fatal("weather client", zap.Error(err))
		}
		if cfg.CircuitBreakerEnabled {
			breaker = circuitbreaker.New(circuitbreaker.Config{
				Component: upstreamComponent,
				Timeout:   cfg.CircuitBreakerTimeout,
				IsFailure: client.IsTransient,
				OnStateChange: func(component string, from, to circuitbreaker.State) {
					observability.CircuitBreakerTransitionsTotal.WithLabelValues(component, from.String(), to.String()).Inc()
					observability.CircuitBreakerState.WithLabelValues(component).Set(circuitbreaker.StateValue(to))
					logger.Warn("circuit breaker state change",
						zap.String("component", component),
						zap.String("from", from.String()),
						zap.String("to", to.String()))
				},
			})
			wc.SetCircuitBreaker(breaker)
			observability.CircuitBreakerState.WithLabelValues(upstreamComponent).Set(0)
			logger.Info("circuit breaker enabled", zap.Duration("timeout", cfg.CircuitBreakerTimeout))
		}
		weatherClient = wc
	} else {
		logger.Warn("WEATHER_API_KEY not set; serving mock weather")
	}

	var (
		currentCache  cache.Cache[models.WeatherReading]
		forecastCache cache.Cache[models.ForecastedWeather]
		mc            *memcache.Client
	)
	switch cfg.CacheBackend {
	case config.CacheBackendMemcached:
		mc = cache.NewMemcachedClient(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err := mc.Ping(); err != nil {
			logger.Warn("memcached not reachable at startup", zap.String("addrs", cfg.MemcachedAddrs), zap.Error(err))
		}
		currentCache = cache.NewMemcachedCache[models.WeatherReading](mc, "current", cfg.CacheTTL)
		forecastCache = cache.NewMemcachedCache[models.ForecastedWeather](mc, "forecast", cfg.CacheTTL)
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		currentCache = cache.NewInMemoryCacheWithClock[models.WeatherReading](cfg.CacheTTL, clock)
		forecastCache = cache.NewInMemoryCacheWithClock[models.ForecastedWeather](cfg.CacheTTL, clock)
		logger.Info("cache backend: in_memory")
	}

	objects, err := newObjectStore(ctx, cfg, clock)
	if err != nil {
		logger.Fatal("archive", zap.Error(err))
	}
	store := archive.NewStore(objects, archive.WithClock(clock), archive.WithLocalMode(cfg.LocalMode))
	logger.Info("archive backend", zap.String("backend", cfg.ArchiveBackend), zap.Bool("local_mode", cfg.LocalMode))

	weatherService := service.NewWeatherService(weatherClient, currentCache, forecastCache, store, service.Config{
		TTL:      cfg.CacheTTL,
		Coalesce: cfg.CoalesceEnabled,
		Clock:    clock,
		Logger:   logger,
	})

	// A nil completer makes every suggestion use the rule-based fallback.
	var completer llm.Completer
	if cfg.LLMAPIKey != "" {
		lc, err := llm.NewClient(llm.Config{
			APIKey:      cfg.LLMAPIKey,
			BaseURL:     cfg.LLMURL,
			Model:       cfg.LLMModel,
			Temperature: &cfg.LLMTemperature,
			MaxTokens:   cfg.LLMMaxTokens,
			Timeout:     cfg.LLMTimeout,
			Clock:       clock,
		})
		if err != nil {
			logger.Fatal("llm client", zap.Error(err))
		}
		completer = lc
	} else {
		logger.Warn("OPENROUTER_API_KEY not set; outfit suggestions use fallback rules")
	}
	generator := suggest.NewGenerator(completer, clock, logger)

	var (
		querier      httphandler.AnalyticsQuerier
		analyticsSvc *analytics.Service
	)
	if cfg.AnalyticsDSN != "" {
		openCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		analyticsSvc, err = analytics.Open(openCtx, cfg.AnalyticsDSN, cfg.AnalyticsTable)
		cancel()
		if err != nil {
			logger.Error("analytics disabled: connect failed", zap.Error(err))
			analyticsSvc = nil
		} else {
			querier = analyticsSvc
			logger.Info("analytics enabled", zap.String("table", cfg.AnalyticsTable))
		}
	}

	healthConfig := &httphandler.HealthConfig{StartTime: clock.Now()}
	if mc != nil {
		healthConfig.CachePing = mc.Ping
	}
	if breaker != nil {
		healthConfig.BreakerState = breaker.State
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(weatherService, generator, querier, healthConfig, logger)
	handler.SetDebugInfo(httphandler.DebugInfo{
		WeatherAPIKey:  cfg.WeatherAPIKey,
		LLMAPIKey:      cfg.LLMAPIKey,
		Bucket:         cfg.ArchiveBucket,
		CacheBackend:   cfg.CacheBackend,
		ArchiveBackend: cfg.ArchiveBackend,
	})
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
	})

	if len(cfg.TrackedLocations) > 0 {
		observability.SetTrackedLocations(cfg.TrackedLocations)
	}

	job, err := ingest.New(weatherService, ingest.Config{
		Interval:   cfg.IngestInterval,
		Locations:  cfg.TrackedLocations,
		RunTimeout: 5 * time.Minute,
		Clock:      clock,
		Logger:     logger,
	})
	if err != nil {
		logger.Fatal("ingest", zap.Error(err))
	}
	if cfg.CacheWarm && len(cfg.TrackedLocations) > 0 {
		warmCtx, warmCancel := context.WithTimeout(ctx, 60*time.Second)
		if _, err := job.Warm(warmCtx, cfg.TrackedLocations); err != nil {
			logger.Warn("cache warming finished with errors", zap.Error(err))
		}
		warmCancel()
	}
	if cfg.IngestEnabled {
		if err := job.Start(ctx); err != nil {
			logger.Fatal("ingest scheduler", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.Bool("mock_mode", weatherClient == nil))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	handler.SetShuttingDown(true)
	if err := job.Shutdown(); err != nil {
		logger.Error("ingest shutdown", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}
	if err := httphandler.WaitForInFlight(shutdownCtx); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if mc != nil {
		if err := mc.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	if analyticsSvc != nil {
		if err := analyticsSvc.Close(); err != nil {
			logger.Error("analytics close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// newObjectStore picks the archive backend named by cfg.
func newObjectStore(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (archive.ObjectStore, error) {
	switch cfg.ArchiveBackend {
	case config.ArchiveBackendS3:
		s3, err := archive.NewS3Store(ctx, cfg.ArchiveBucket, cfg.ArchiveRegion)
		if err != nil {
			return nil, err
		}
		return s3, nil
	case config.ArchiveBackendFilesystem:
		fs, err := archive.NewFileStore(cfg.ArchiveDir)
		if err != nil {
			return nil, fmt.Errorf("filesystem archive: %w", err)
		}
		return fs, nil
	case config.ArchiveBackendMemory:
		return archive.NewMemoryStore(clock), nil
	default:
		return nil, fmt.Errorf("unknown archive backend %q", cfg.ArchiveBackend)
	}
}
