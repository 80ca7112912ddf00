package observability

import (
	"net/http"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation.
	HTTPRequestsInFlight prometheus.Gauge

	// Weather provider call rate by endpoint (current, forecast) and status.
	WeatherAPICallsTotal *prometheus.CounterVec

	// Weather provider latency per attempt. Watch for: p95 approaching the 15s attempt timeout.
	WeatherAPIDuration *prometheus.HistogramVec

	// Retry attempts against the weather provider. Watch for: high retries = unstable upstream.
	WeatherAPIRetriesTotal prometheus.Counter

	// Hits per lookup layer (memory, archive).
	CacheHitsTotal *prometheus.CounterVec

	// Misses per lookup layer (memory, archive).
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend errors by layer and operation; each one degrades to a miss.
	CacheErrorsTotal *prometheus.CounterVec

	// Resolved acquisitions by kind (current, forecast) and terminal source
	// (cached, archive, mock, upstream, failed).
	AcquisitionsTotal *prometheus.CounterVec

	// Concurrent misses that shared another request's upstream fetch.
	CoalescedRequestsTotal *prometheus.CounterVec

	// Concurrent misses for the same key while coalescing is off.
	CacheStampedeDetectedTotal *prometheus.CounterVec

	// Archive writes by kind and result (success, failure, skipped).
	ArchiveWritesTotal *prometheus.CounterVec

	// Outfit suggestions by source (model, fallback).
	SuggestionsTotal *prometheus.CounterVec

	// Fallbacks by reason (no_credential, llm_error, malformed).
	SuggestionFallbackTotal *prometheus.CounterVec

	// LLM provider latency per call by status.
	LLMDuration *prometheus.HistogramVec

	// Analytics warehouse queries by name and status.
	AnalyticsQueriesTotal *prometheus.CounterVec

	// Ingestion runs by result (success, partial, failure).
	IngestRunsTotal *prometheus.CounterVec

	// Ingestion run duration.
	IngestDurationSeconds prometheus.Histogram

	// Circuit breaker state per component: 0 closed, 1 half-open, 2 open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions per component.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Total weather lookups served over HTTP.
	WeatherQueriesTotal prometheus.Counter

	// Per-location query count (allow-list; others go to "other").
	WeatherQueriesByLocationTotal *prometheus.CounterVec

	// Rate limit denials.
	RateLimitDeniedTotal prometheus.Counter

	trackedLocationsMu sync.RWMutex
	trackedLocations   map[string]struct{}
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	WeatherAPICallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherApiCallsTotal",
			Help: "Total number of weather provider calls (per attempt)",
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "weatherApiDurationSeconds",
			Help:    "Weather provider latency in seconds (per attempt)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 15},
		},
		[]string{"endpoint", "status"},
	)
	WeatherAPIRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherApiRetriesTotal",
			Help: "Total number of retry attempts for weather provider calls",
		},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Lookup hits per layer (memory, archive)",
		},
		[]string{"layer"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Lookup misses per layer (memory, archive)",
		},
		[]string{"layer"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Lookup layer errors by layer and operation",
		},
		[]string{"layer", "operation"},
	)
	AcquisitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "acquisitionsTotal",
			Help: "Weather acquisitions by kind and terminal source",
		},
		[]string{"kind", "source"},
	)
	CoalescedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coalescedRequestsTotal",
			Help: "Requests that shared an in-flight upstream fetch",
		},
		[]string{"kind"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Concurrent cache misses for the same key without coalescing",
		},
		[]string{"kind"},
	)
	ArchiveWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archiveWritesTotal",
			Help: "Durable store writes by kind and result",
		},
		[]string{"kind", "result"},
	)
	SuggestionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestionsTotal",
			Help: "Outfit suggestions by source (model, fallback)",
		},
		[]string{"source"},
	)
	SuggestionFallbackTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "suggestionFallbackTotal",
			Help: "Rule-based fallbacks by reason",
		},
		[]string{"reason"},
	)
	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llmDurationSeconds",
			Help:    "LLM provider latency in seconds",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"status"},
	)
	AnalyticsQueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "analyticsQueriesTotal",
			Help: "Analytics warehouse queries by name and status",
		},
		[]string{"query", "status"},
	)
	IngestRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingestRunsTotal",
			Help: "Scheduled ingestion runs by result",
		},
		[]string{"result"},
	)
	IngestDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingestDurationSeconds",
			Help:    "Scheduled ingestion run duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	WeatherQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "weatherQueriesTotal",
			Help: "Total number of weather lookups",
		},
	)
	WeatherQueriesByLocationTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "weatherQueriesByLocationTotal",
			Help: "Weather queries by location (allow-list; others use location=other)",
		},
		[]string{"location"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		WeatherAPICallsTotal, WeatherAPIDuration, WeatherAPIRetriesTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal,
		AcquisitionsTotal, CoalescedRequestsTotal, CacheStampedeDetectedTotal, ArchiveWritesTotal,
		SuggestionsTotal, SuggestionFallbackTotal, LLMDuration,
		AnalyticsQueriesTotal, IngestRunsTotal, IngestDurationSeconds,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		WeatherQueriesTotal, WeatherQueriesByLocationTotal,
		RateLimitDeniedTotal,
	)
}

// SetTrackedLocations sets the allow-list for location metrics. Non-tracked locations increment "other".
func SetTrackedLocations(locations []string) {
	trackedLocationsMu.Lock()
	defer trackedLocationsMu.Unlock()
	trackedLocations = make(map[string]struct{}, len(locations))
	for _, loc := range locations {
		trackedLocations[normalizeLocationForMetrics(loc)] = struct{}{}
	}
}

// RecordWeatherQuery records a weather query for the given location.
func RecordWeatherQuery(location string) {
	WeatherQueriesTotal.Inc()
	WeatherQueriesByLocationTotal.WithLabelValues(MetricLocationLabel(location)).Inc()
}

// MetricLocationLabel returns the location label if tracked, otherwise "other".
// Keeps label cardinality bounded by the configured allow-list.
func MetricLocationLabel(location string) string {
	loc := normalizeLocationForMetrics(location)
	trackedLocationsMu.RLock()
	_, ok := trackedLocations[loc] // nil map read is safe in Go
	trackedLocationsMu.RUnlock()
	if ok {
		return loc
	}
	return "other"
}

func normalizeLocationForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
