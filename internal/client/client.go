package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/kjstillabower/fitted-service/internal/circuitbreaker"
	"github.com/kjstillabower/fitted-service/internal/models"
	"github.com/kjstillabower/fitted-service/internal/observability"
	"github.com/kjstillabower/fitted-service/internal/retry"
)

// WeatherClient fetches current and forecast weather from the upstream provider.
type WeatherClient interface {
	FetchCurrent(ctx context.Context, location string) (models.WeatherReading, error)
	FetchForecast(ctx context.Context, location string, days int) (models.ForecastedWeather, error)
}

var (
	// ErrUpstreamUnavailable means the provider could not be reached or kept failing
	// after all retries.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrUpstreamRejected means the provider refused the request (4xx). Not retried.
	ErrUpstreamRejected = errors.New("upstream rejected request")

	ErrInvalidAPIKey    = errors.New("invalid API key")
	ErrLocationNotFound = errors.New("location not found")
	ErrRateLimited      = errors.New("rate limited")
)

// errTransient marks attempt failures worth retrying (5xx, transport errors, attempt timeouts).
var errTransient = errors.New("transient upstream failure")

const (
	DefaultAPIURL      = "https://api.weatherapi.com/v1"
	DefaultTimeout     = 15 * time.Second
	DefaultMaxAttempts = 3
	DefaultBackoffStep = time.Second

	// WeatherAPI.com error code for an unknown location (returned with HTTP 400).
	codeNoMatchingLocation = 1006
)

// RetryConfig bounds retries of transient failures.
type RetryConfig struct {
	MaxAttempts int
	BackoffStep time.Duration
	// Clock drives backoff waits. Nil uses the real clock.
	Clock clockwork.Clock
}

// WeatherAPIClient talks to the WeatherAPI.com current and forecast endpoints.
type WeatherAPIClient struct {
	apiKey  string
	apiURL  string
	timeout time.Duration
	client  *http.Client
	policy  retry.Policy
	breaker *circuitbreaker.CircuitBreaker
}

func NewWeatherAPIClient(apiKey, apiURL string, timeout time.Duration) (*WeatherAPIClient, error) {
	return NewWeatherAPIClientWithRetry(apiKey, apiURL, timeout, RetryConfig{
		MaxAttempts: DefaultMaxAttempts,
		BackoffStep: DefaultBackoffStep,
	})
}

func NewWeatherAPIClientWithRetry(apiKey, apiURL string, timeout time.Duration, rc RetryConfig) (*WeatherAPIClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultAPIURL
	}
	if _, err := url.Parse(apiURL); err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = DefaultMaxAttempts
	}
	if rc.BackoffStep <= 0 {
		rc.BackoffStep = DefaultBackoffStep
	}

	return &WeatherAPIClient{
		apiKey:  apiKey,
		apiURL:  strings.TrimRight(apiURL, "/"),
		timeout: timeout,
		// Per-attempt deadlines come from the request context.
		client: &http.Client{},
		policy: retry.Policy{
			MaxAttempts: rc.MaxAttempts,
			Backoff:     retry.Linear(rc.BackoffStep),
			Retryable:   isRetryable,
			Clock:       rc.Clock,
			OnRetry: func(int, time.Duration, error) {
				observability.WeatherAPIRetriesTotal.Inc()
			},
		},
	}, nil
}

// SetCircuitBreaker wraps every attempt in cb. Only transient failures count against it.
func (c *WeatherAPIClient) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	c.breaker = cb
}

// IsTransient reports whether err is a failure the breaker should count.
func IsTransient(err error) bool {
	return errors.Is(err, errTransient)
}

type apiResponse struct {
	Location models.Location  `json:"location"`
	Current  models.Current   `json:"current"`
	Forecast *models.Forecast `json:"forecast,omitempty"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// FetchCurrent returns the validated current reading for location.
func (c *WeatherAPIClient) FetchCurrent(ctx context.Context, location string) (models.WeatherReading, error) {
	params := url.Values{}
	params.Set("q", location)
	params.Set("aqi", "no")

	resp, err := c.fetch(ctx, "current", "/current.json", params)
	if err != nil {
		return models.WeatherReading{}, err
	}
	return models.NewWeatherReading(location, resp.Location, resp.Current)
}

// FetchForecast returns the validated reading plus forecast. days is clamped to [1,10].
func (c *WeatherAPIClient) FetchForecast(ctx context.Context, location string, days int) (models.ForecastedWeather, error) {
	days = models.ClampForecastDays(days)
	params := url.Values{}
	params.Set("q", location)
	params.Set("days", strconv.Itoa(days))
	params.Set("aqi", "no")
	params.Set("alerts", "no")

	resp, err := c.fetch(ctx, "forecast", "/forecast.json", params)
	if err != nil {
		return models.ForecastedWeather{}, err
	}
	reading, err := models.NewWeatherReading(location, resp.Location, resp.Current)
	if err != nil {
		return models.ForecastedWeather{}, err
	}
	if resp.Forecast == nil {
		return models.ForecastedWeather{}, fmt.Errorf("%w: forecast section missing", models.ErrSchemaInvalid)
	}
	fd := resp.Forecast.Days
	if len(fd) > days {
		fd = fd[:days]
	}
	return models.NewForecastedWeather(reading, fd)
}

func (c *WeatherAPIClient) fetch(ctx context.Context, endpoint, path string, params url.Values) (apiResponse, error) {
	var out apiResponse
	attemptFn := func(ctx context.Context, _ int) error {
		call := func(ctx context.Context) error {
			r, err := c.callAPI(ctx, endpoint, path, params)
			if err != nil {
				return err
			}
			out = r
			return nil
		}
		if c.breaker != nil {
			return c.breaker.Call(ctx, call)
		}
		return call(ctx)
	}

	res, err := c.policy.Do(ctx, attemptFn)
	if err == nil {
		return out, nil
	}
	switch {
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		return apiResponse{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	case errors.Is(err, circuitbreaker.ErrOpen):
		return apiResponse{}, fmt.Errorf("%w: %w", ErrUpstreamUnavailable, err)
	case errors.Is(err, errTransient):
		return apiResponse{}, fmt.Errorf("%w: exhausted %d attempts: %w", ErrUpstreamUnavailable, res.Attempts, err)
	}
	return apiResponse{}, err
}

func (c *WeatherAPIClient) callAPI(ctx context.Context, endpoint, path string, params url.Values) (apiResponse, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.buildRequest(reqCtx, path, params)
	if err != nil {
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		return apiResponse{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationIDFromContext(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.WeatherAPICallsTotal.WithLabelValues(endpoint, "error").Inc()
		observability.WeatherAPIDuration.WithLabelValues(endpoint, "error").Observe(duration)

		// Caller cancellation stops the retry loop; an attempt timeout does not.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apiResponse{}, ctxErr
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return apiResponse{}, fmt.Errorf("%w: request timeout after %s: %v", errTransient, c.timeout, err)
		}
		return apiResponse{}, fmt.Errorf("%w: http request failed: %v", errTransient, err)
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(resp.Body)

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.WeatherAPICallsTotal.WithLabelValues(endpoint, status).Inc()
	observability.WeatherAPIDuration.WithLabelValues(endpoint, status).Observe(duration)

	if err := handleErrorResponse(resp.StatusCode, body); err != nil {
		return apiResponse{}, err
	}
	if readErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return apiResponse{}, ctxErr
		}
		return apiResponse{}, fmt.Errorf("%w: read response body: %v", errTransient, readErr)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return apiResponse{}, fmt.Errorf("%w: parse response: %v", models.ErrSchemaInvalid, err)
	}
	return apiResp, nil
}

func (c *WeatherAPIClient) buildRequest(ctx context.Context, path string, params url.Values) (*http.Request, error) {
	baseURL, err := url.Parse(c.apiURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	q := url.Values{}
	for k, v := range params {
		q[k] = v
	}
	q.Set("key", c.apiKey)
	baseURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	if statusCode >= 500 {
		return fmt.Errorf("%w: HTTP %d", errTransient, statusCode)
	}

	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)
	msg := apiErr.Error.Message
	if msg == "" {
		msg = http.StatusText(statusCode)
	}

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %w: %s", ErrUpstreamRejected, ErrInvalidAPIKey, msg)
	case statusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w: %s", ErrUpstreamRejected, ErrRateLimited, msg)
	case statusCode == http.StatusNotFound || apiErr.Error.Code == codeNoMatchingLocation:
		return fmt.Errorf("%w: %w: %s", ErrUpstreamRejected, ErrLocationNotFound, msg)
	}
	return fmt.Errorf("%w: HTTP %d: %s", ErrUpstreamRejected, statusCode, msg)
}

func isRetryable(err error) bool {
	return errors.Is(err, errTransient)
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
