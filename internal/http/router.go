package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/fitted-service/internal/observability"
)

// RouterConfig configures NewRouter.
type RouterConfig struct {
	Logger *zap.Logger
	// Limiter guards the routes that call out. Nil disables rate limiting.
	Limiter        *rate.Limiter
	RequestTimeout time.Duration
}

// NewRouter mounts every route. /health, /metrics and /debug/config are neither
// rate limited nor subject to the request timeout.
func NewRouter(h *Handler, cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)

	router.HandleFunc("/", h.GetRoot).Methods(http.MethodGet)
	router.HandleFunc("/health", h.GetHealth).Methods(http.MethodGet)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)
	router.HandleFunc("/debug/config", h.GetDebugConfig).Methods(http.MethodGet)

	api := router.NewRoute().Subrouter()
	api.Use(RateLimitMiddleware(cfg.Limiter))
	if cfg.RequestTimeout > 0 {
		api.Use(TimeoutMiddleware(cfg.RequestTimeout))
	}
	api.HandleFunc("/weather/{location}", h.GetWeather).Methods(http.MethodGet)
	api.HandleFunc("/forecast/{location}", h.GetForecast).Methods(http.MethodGet)
	api.HandleFunc("/suggest-outfit", h.PostSuggestOutfit).Methods(http.MethodPost)
	api.HandleFunc("/analytics/temperature", h.GetAnalyticsTemperature).Methods(http.MethodGet)
	api.HandleFunc("/analytics/condition/{condition}", h.GetAnalyticsCondition).Methods(http.MethodGet)
	api.HandleFunc("/analytics/trend/{location}", h.GetAnalyticsTrend).Methods(http.MethodGet)
	api.HandleFunc("/analytics/summary", h.GetAnalyticsSummary).Methods(http.MethodGet)
	return router
}
