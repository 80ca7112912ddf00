package client

import (
	"context"
	"errors"
	"strings"

	"github.com/kjstillabower/fitted-service/internal/circuitbreaker"
	"github.com/kjstillabower/fitted-service/internal/models"
)

// ErrorCategory is a stable label for error classification in metrics and logs.
type ErrorCategory string

const (
	ErrorCategoryTimeout          ErrorCategory = "timeout"
	ErrorCategoryNetwork          ErrorCategory = "network"
	ErrorCategoryCircuitOpen      ErrorCategory = "circuit_open"
	ErrorCategoryInvalidAPIKey    ErrorCategory = "invalid_api_key"
	ErrorCategoryLocationNotFound ErrorCategory = "location_not_found"
	ErrorCategoryRateLimited      ErrorCategory = "rate_limited"
	ErrorCategoryRejected         ErrorCategory = "rejected"
	ErrorCategoryUpstream5xx      ErrorCategory = "upstream_5xx"
	ErrorCategorySchema           ErrorCategory = "schema_invalid"
	ErrorCategoryUnavailable      ErrorCategory = "unavailable"
	ErrorCategoryUnknown          ErrorCategory = "unknown"
)

// CategorizeError maps an error to a stable ErrorCategory.
// Specific causes win over the ErrUpstreamUnavailable/ErrUpstreamRejected wrappers.
func CategorizeError(err error) ErrorCategory {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled):
		return ErrorCategoryTimeout
	case errors.Is(err, circuitbreaker.ErrOpen):
		return ErrorCategoryCircuitOpen
	case errors.Is(err, ErrInvalidAPIKey):
		return ErrorCategoryInvalidAPIKey
	case errors.Is(err, ErrLocationNotFound):
		return ErrorCategoryLocationNotFound
	case errors.Is(err, ErrRateLimited):
		return ErrorCategoryRateLimited
	case errors.Is(err, ErrUpstreamRejected):
		return ErrorCategoryRejected
	case errors.Is(err, models.ErrSchemaInvalid):
		return ErrorCategorySchema
	}

	errStr := err.Error()
	if strings.Contains(errStr, "timeout") {
		return ErrorCategoryTimeout
	}
	if strings.Contains(errStr, "HTTP 5") {
		return ErrorCategoryUpstream5xx
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return ErrorCategoryNetwork
	}
	if errors.Is(err, ErrUpstreamUnavailable) {
		return ErrorCategoryUnavailable
	}
	return ErrorCategoryUnknown
}
