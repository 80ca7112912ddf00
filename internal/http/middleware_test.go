package http

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/fitted-service/internal/observability"
)

func TestCorrelationIDMiddleware_GeneratesID(t *testing.T) {
	var seen string
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		seen = observability.CorrelationIDFromContext(r.Context())
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	got := w.Header().Get(CorrelationIDHeader)
	if _, err := uuid.Parse(got); err != nil {
		t.Errorf("%s = %q, want a UUID", CorrelationIDHeader, got)
	}
	if seen != got {
		t.Errorf("context correlation ID = %q, header = %q", seen, got)
	}
}

func TestCorrelationIDMiddleware_PropagatesAndLogs(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.New(core)))
	router.HandleFunc("/x", func(w http.ResponseWriter, r *http.Request) {
		observability.LoggerFromContext(r.Context(), nil).Info("handled")
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(CorrelationIDHeader, "client-provided-id")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if got := w.Header().Get(CorrelationIDHeader); got != "client-provided-id" {
		t.Errorf("%s = %q, want client-provided-id", CorrelationIDHeader, got)
	}
	entries := logs.FilterMessage("handled").All()
	if len(entries) != 1 {
		t.Fatalf("log entries = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["correlation_id"]; got != "client-provided-id" {
		t.Errorf("correlation_id field = %v", got)
	}
}

func TestMetricsMiddleware_UsesRouteTemplate(t *testing.T) {
	router := mux.NewRouter()
	router.Use(MetricsMiddleware)
	router.HandleFunc("/weather/{location}", func(w http.ResponseWriter, r *http.Request) {
		if got := getRoute(r); got != "/weather/{location}" {
			t.Errorf("getRoute() = %q, want template", got)
		}
		if InFlightCount() < 1 {
			t.Error("request not counted as in flight")
		}
		w.WriteHeader(http.StatusTeapot)
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/weather/Oslo", nil))
	if w.Code != http.StatusTeapot {
		t.Errorf("status = %d", w.Code)
	}
	if InFlightCount() != 0 {
		t.Errorf("InFlightCount() = %d after request, want 0", InFlightCount())
	}
}

func TestStatusCodeString(t *testing.T) {
	for code, want := range map[int]string{200: "2xx", 404: "4xx", 503: "5xx"} {
		if got := statusCodeString(code); got != want {
			t.Errorf("statusCodeString(%d) = %q, want %q", code, got, want)
		}
	}
}

func TestTimeoutMiddleware_SetsDeadline(t *testing.T) {
	var hasDeadline bool
	h := TimeoutMiddleware(time.Second)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasDeadline = r.Context().Deadline()
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
	if !hasDeadline {
		t.Error("request context has no deadline")
	}
}

func TestRateLimitMiddleware_Denies(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(zap.NewNop()))
	router.Use(RateLimitMiddleware(limiter))
	router.HandleFunc("/weather/{location}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	first := httptest.NewRecorder()
	router.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/weather/Oslo", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	router.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/weather/Oslo", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second status = %d, want 429", second.Code)
	}
	if code, reqID := decodeError(t, second); code != "RATE_LIMITED" || reqID == "" {
		t.Errorf("error = (%q, %q), want RATE_LIMITED with a request ID", code, reqID)
	}
}

func TestRateLimitMiddleware_NilLimiterPassesThrough(t *testing.T) {
	h := RateLimitMiddleware(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
}

func TestNewRouter_HealthNotRateLimited(t *testing.T) {
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	env := newTestEnv(t, nil, nil, RouterConfig{Limiter: limiter})

	env.do(http.MethodGet, "/weather/Oslo")
	if w := env.do(http.MethodGet, "/weather/Oslo"); w.Code != http.StatusTooManyRequests {
		t.Errorf("second weather status = %d, want 429", w.Code)
	}
	for i := 0; i < 3; i++ {
		if w := env.do(http.MethodGet, "/health"); w.Code != http.StatusOK {
			t.Errorf("health status = %d, want 200", w.Code)
		}
	}
}

func TestNewRouter_Metrics(t *testing.T) {
	env := newTestEnv(t, nil, nil, RouterConfig{})
	env.do(http.MethodGet, "/weather/Oslo")

	w := env.do(http.MethodGet, "/metrics")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "httpRequestsTotal") {
		t.Error("metrics output missing httpRequestsTotal")
	}
}
