//go:build integration
// +build integration

// Package testhelpers builds the full acquisition stack against a live upstream
// for integration tests.
package testhelpers

import (
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/fitted-service/internal/archive"
	"github.com/kjstillabower/fitted-service/internal/cache"
	"github.com/kjstillabower/fitted-service/internal/client"
	"github.com/kjstillabower/fitted-service/internal/models"
	"github.com/kjstillabower/fitted-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	APIKey        string
	APIURL        string
	CacheBackend  string // "in_memory" or "memcached"
	MemcachedAddr string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test if WEATHER_API_KEY is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	apiKey := os.Getenv("WEATHER_API_KEY")
	if apiKey == "" {
		t.Skip("WEATHER_API_KEY not set, skipping integration test")
	}
	apiURL := os.Getenv("WEATHER_API_URL")
	if apiURL == "" {
		apiURL = client.DefaultAPIURL
	}
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	return IntegrationTestConfig{
		APIKey:        apiKey,
		APIURL:        apiURL,
		CacheBackend:  os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr: memcachedAddr,
	}
}

// Stack is a live service plus handles for test setup and assertions.
type Stack struct {
	Service *service.WeatherService
	Client  *client.WeatherAPIClient
	Objects *archive.MemoryStore
}

// SetupIntegrationService wires a real WeatherAPI client, the configured cache backend
// (falling back to in-memory when memcached is unreachable) and an in-memory archive.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig, logger *zap.Logger) Stack {
	t.Helper()
	wc, err := client.NewWeatherAPIClient(cfg.APIKey, cfg.APIURL, 10*time.Second)
	if err != nil {
		t.Fatalf("NewWeatherAPIClient() error = %v", err)
	}

	var (
		current  cache.Cache[models.WeatherReading]
		forecast cache.Cache[models.ForecastedWeather]
	)
	if cfg.CacheBackend == "memcached" {
		mc := cache.NewMemcachedClient(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(); err == nil {
			t.Cleanup(func() { _ = mc.Close() })
			current = cache.NewMemcachedCache[models.WeatherReading](mc, "it-current", 5*time.Minute)
			forecast = cache.NewMemcachedCache[models.ForecastedWeather](mc, "it-forecast", 5*time.Minute)
			t.Logf("Using Memcached cache at %s", cfg.MemcachedAddr)
		} else {
			t.Logf("Memcached not available (%v), using in-memory cache", err)
		}
	}
	if current == nil {
		current = cache.NewInMemoryCache[models.WeatherReading](5 * time.Minute)
		forecast = cache.NewInMemoryCache[models.ForecastedWeather](5 * time.Minute)
	}

	clock := clockwork.NewRealClock()
	objects := archive.NewMemoryStore(clock)
	svc := service.NewWeatherService(wc, current, forecast, archive.NewStore(objects, archive.WithClock(clock)), service.Config{
		TTL:      5 * time.Minute,
		Coalesce: true,
		Clock:    clock,
		Logger:   logger,
	})
	return Stack{Service: svc, Client: wc, Objects: objects}
}
