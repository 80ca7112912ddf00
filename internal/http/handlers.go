package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kjstillabower/fitted-service/internal/analytics"
	"github.com/kjstillabower/fitted-service/internal/circuitbreaker"
	"github.com/kjstillabower/fitted-service/internal/client"
	"github.com/kjstillabower/fitted-service/internal/config"
	"github.com/kjstillabower/fitted-service/internal/models"
	"github.com/kjstillabower/fitted-service/internal/observability"
	"github.com/kjstillabower/fitted-service/internal/service"
	"github.com/kjstillabower/fitted-service/internal/suggest"
	"github.com/kjstillabower/fitted-service/internal/validation"
)

const (
	serviceName         = "fitted-service"
	defaultForecastDays = 3
	defaultTrendDays    = 7
	// SourceHeader names where a reading came from: cached, archive, upstream or mock.
	SourceHeader = "X-Weather-Source"
)

// WeatherProvider is the acquisition surface the handlers need.
type WeatherProvider interface {
	Current(ctx context.Context, location string) (service.CurrentResult, error)
	Forecast(ctx context.Context, location string, days int) (service.ForecastResult, error)
	HasCredential() bool
}

// OutfitSuggester turns resolved weather into an outfit. It never fails.
type OutfitSuggester interface {
	SuggestWithSource(ctx context.Context, req suggest.Request) (models.OutfitSuggestion, suggest.Source)
}

// AnalyticsQuerier runs the canned archive queries.
type AnalyticsQuerier interface {
	ByTemperature(ctx context.Context, minTemp float64, date string) ([]analytics.Reading, error)
	ByCondition(ctx context.Context, condition, date string) ([]analytics.Reading, error)
	LocationTrend(ctx context.Context, location string, days int) ([]analytics.TrendPoint, error)
	Summary(ctx context.Context, date string) (analytics.Summary, error)
}

// HealthConfig holds the probes the health handler reports on.
type HealthConfig struct {
	StartTime time.Time
	// CachePing, when set, is called to check cache reachability. Used when backend is memcached.
	CachePing func() error
	// BreakerState, when set, reports the upstream circuit breaker state.
	BreakerState func() circuitbreaker.State
}

// DebugInfo is what GET /debug/config reports. Keys are masked on output.
type DebugInfo struct {
	WeatherAPIKey  string
	LLMAPIKey      string
	Bucket         string
	CacheBackend   string
	ArchiveBackend string
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	weather   WeatherProvider
	suggester OutfitSuggester
	analytics AnalyticsQuerier
	health    *HealthConfig
	debug     DebugInfo
	logger    *zap.Logger

	shuttingDown     atomic.Bool
	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler. analytics may be nil, in which case the
// analytics routes answer 503 ANALYTICS_DISABLED.
func NewHandler(
	weather WeatherProvider,
	suggester OutfitSuggester,
	analytics AnalyticsQuerier,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		weather:   weather,
		suggester: suggester,
		analytics: analytics,
		health:    healthConfig,
		logger:    logger,
	}
}

// SetDebugInfo sets the values reported by GET /debug/config.
func (h *Handler) SetDebugInfo(d DebugInfo) {
	h.debug = d
}

// SetShuttingDown flips /health to 503 shutting-down so load balancers drain the instance.
func (h *Handler) SetShuttingDown(v bool) {
	h.shuttingDown.Store(v)
}

// GetRoot handles GET /.
func (h *Handler) GetRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to the Fitted Wardrobe Assistant!"})
}

// GetWeather handles GET /weather/{location}.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	location, ok := h.location(w, r, mux.Vars(r)["location"])
	if !ok {
		return
	}
	observability.RecordWeatherQuery(location)

	result, err := h.weather.Current(r.Context(), location)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set(SourceHeader, string(result.Source))
	writeJSON(w, http.StatusOK, result.Reading)
}

// GetForecast handles GET /forecast/{location}?days=N.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	location, ok := h.location(w, r, mux.Vars(r)["location"])
	if !ok {
		return
	}
	days, err := validation.ParseDays(r.URL.Query().Get("days"), defaultForecastDays)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DAYS", err.Error())
		return
	}
	observability.RecordWeatherQuery(location)

	result, err := h.weather.Forecast(r.Context(), location, days)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set(SourceHeader, string(result.Source))
	writeJSON(w, http.StatusOK, result.Weather)
}

type suggestResponse struct {
	Location         string                  `json:"location"`
	Weather          any                     `json:"weather"`
	OutfitSuggestion models.OutfitSuggestion `json:"outfit_suggestion"`
	Source           suggest.Source          `json:"source"`
}

// PostSuggestOutfit handles POST /suggest-outfit?location=...&days=N&preferences=...
// days=0 skips the forecast and suggests from current conditions only.
func (h *Handler) PostSuggestOutfit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	location, ok := h.location(w, r, q.Get("location"))
	if !ok {
		return
	}
	days, err := validation.ParseDays(q.Get("days"), defaultForecastDays)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DAYS", err.Error())
		return
	}
	prefs, err := validation.ValidatePreferences(q.Get("preferences"), validation.DefaultPreferencesMax)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_PREFERENCES", err.Error())
		return
	}
	observability.RecordWeatherQuery(location)

	var (
		reading      models.WeatherReading
		weather      any
		src          service.Source
		forecastDays []models.ForecastDay
	)
	if days == 0 {
		res, err := h.weather.Current(r.Context(), location)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		reading, weather, src = res.Reading, res.Reading, res.Source
	} else {
		res, err := h.weather.Forecast(r.Context(), location, days)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		reading, weather, src = res.Weather.WeatherReading, res.Weather, res.Source
		forecastDays = res.Weather.Forecast.Days
	}

	outfit, outfitSrc := h.suggester.SuggestWithSource(r.Context(), suggest.Request{
		Location:    location,
		TempC:       reading.Current.TempC,
		Condition:   reading.Current.Condition.Text,
		Forecast:    forecastDays,
		UserContext: prefs,
		TimeZone:    reading.Location.TzID,
	})
	w.Header().Set(SourceHeader, string(src))
	writeJSON(w, http.StatusOK, suggestResponse{
		Location:         location,
		Weather:          weather,
		OutfitSuggestion: outfit,
		Source:           outfitSrc,
	})
}

// GetAnalyticsTemperature handles GET /analytics/temperature?min=&date=.
func (h *Handler) GetAnalyticsTemperature(w http.ResponseWriter, r *http.Request) {
	if !h.analyticsEnabled(w, r) {
		return
	}
	q := r.URL.Query()
	minTemp := 25.0
	if raw := strings.TrimSpace(q.Get("min")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", "min must be a number")
			return
		}
		minTemp = v
	}
	rows, err := h.analytics.ByTemperature(r.Context(), minTemp, q.Get("date"))
	if err != nil {
		writeAnalyticsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"min_temp_c": minTemp, "count": len(rows), "results": nonNil(rows)})
}

// GetAnalyticsCondition handles GET /analytics/condition/{condition}?date=.
func (h *Handler) GetAnalyticsCondition(w http.ResponseWriter, r *http.Request) {
	if !h.analyticsEnabled(w, r) {
		return
	}
	condition := mux.Vars(r)["condition"]
	rows, err := h.analytics.ByCondition(r.Context(), condition, r.URL.Query().Get("date"))
	if err != nil {
		writeAnalyticsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"condition": condition, "count": len(rows), "results": nonNil(rows)})
}

// GetAnalyticsTrend handles GET /analytics/trend/{location}?days=.
func (h *Handler) GetAnalyticsTrend(w http.ResponseWriter, r *http.Request) {
	if !h.analyticsEnabled(w, r) {
		return
	}
	location, ok := h.location(w, r, mux.Vars(r)["location"])
	if !ok {
		return
	}
	days, err := validation.ParseDays(r.URL.Query().Get("days"), defaultTrendDays)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DAYS", err.Error())
		return
	}
	points, err := h.analytics.LocationTrend(r.Context(), location, days)
	if err != nil {
		writeAnalyticsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"location": location, "days": days, "trend": nonNil(points)})
}

// GetAnalyticsSummary handles GET /analytics/summary?date=.
func (h *Handler) GetAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	if !h.analyticsEnabled(w, r) {
		return
	}
	sum, err := h.analytics.Summary(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		writeAnalyticsError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

// GetDebugConfig handles GET /debug/config. Credentials are masked to their first four characters.
func (h *Handler) GetDebugConfig(w http.ResponseWriter, r *http.Request) {
	d := h.debug
	writeJSON(w, http.StatusOK, map[string]any{
		"weather_bucket_name":    d.Bucket,
		"has_weather_api_key":    d.WeatherAPIKey != "",
		"weather_key_preview":    config.MaskSecret(d.WeatherAPIKey),
		"has_openrouter_api_key": d.LLMAPIKey != "",
		"openrouter_key_preview": config.MaskSecret(d.LLMAPIKey),
		"cache_backend":          d.CacheBackend,
		"archive_backend":        d.ArchiveBackend,
		"analytics_enabled":      h.analytics != nil,
		"mock_mode":              !h.weather.HasCredential(),
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"weatherApi": "healthy"}
	switch {
	case !h.weather.HasCredential():
		checks["weatherApi"] = "mock"
	case result.reason == "circuit_open":
		checks["weatherApi"] = "unhealthy"
	}
	if h.health != nil && h.health.CachePing != nil {
		if h.health.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	if h.analytics != nil {
		checks["analytics"] = "enabled"
	} else {
		checks["analytics"] = "disabled"
	}

	resp := map[string]any{
		"status":    result.status,
		"service":   serviceName,
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.health != nil && !h.health.StartTime.IsZero() {
		resp["uptime_seconds"] = int64(time.Since(h.health.StartTime).Seconds())
	}
	writeJSON(w, result.statusCode, resp)
}

// computeHealthStatus evaluates in priority order: shutting-down > circuit open > healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if h.shuttingDown.Load() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.health != nil && h.health.BreakerState != nil && h.health.BreakerState() == circuitbreaker.StateOpen {
		return healthResult{"degraded", http.StatusServiceUnavailable, "circuit_open"}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func (h *Handler) location(w http.ResponseWriter, r *http.Request, raw string) (string, bool) {
	loc, err := validation.ValidateLocation(raw, validation.DefaultLocationMinLen, validation.DefaultLocationMaxLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_LOCATION", err.Error())
		return "", false
	}
	return loc, true
}

func (h *Handler) analyticsEnabled(w http.ResponseWriter, r *http.Request) bool {
	if h.analytics == nil {
		writeError(w, r, http.StatusServiceUnavailable, "ANALYTICS_DISABLED", "analytics is not configured")
		return false
	}
	return true
}

// writeJSON writes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{"code","message","requestId"}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationIDFromContext(r.Context()),
		},
	})
}

// writeServiceError maps acquisition errors to HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	logger := observability.LoggerFromContext(r.Context(), nil)
	category := client.CategorizeError(err)
	switch {
	case errors.Is(err, models.ErrSchemaInvalid):
		logger.Warn("upstream payload invalid", zap.Error(err))
		writeError(w, r, http.StatusBadGateway, "UPSTREAM_INVALID", "Upstream returned invalid weather data")
	case errors.Is(err, client.ErrUpstreamRejected):
		logger.Debug("upstream rejected request", zap.String("category", string(category)), zap.Error(err))
		writeError(w, r, http.StatusNotFound, "LOCATION_NOT_FOUND", "Location not found")
	default:
		logger.Debug("upstream error", zap.String("category", string(category)), zap.Error(err))
		writeError(w, r, http.StatusServiceUnavailable, "UPSTREAM_UNAVAILABLE", "Unable to fetch weather data")
	}
}

func writeAnalyticsError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, analytics.ErrInvalidDate), errors.Is(err, analytics.ErrInvalidArg):
		writeError(w, r, http.StatusBadRequest, "INVALID_ARGUMENT", err.Error())
	default:
		observability.LoggerFromContext(r.Context(), nil).Error("analytics query failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "ANALYTICS_ERROR", "Analytics query failed")
	}
}

// nonNil keeps empty result sets encoding as [] instead of null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
