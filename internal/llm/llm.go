// Package llm is a chat-completion client for OpenAI-compatible providers (OpenRouter).
package llm

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	openai "github.com/sashabaranov/go-openai"

	"github.com/kjstillabower/fitted-service/internal/observability"
	"github.com/kjstillabower/fitted-service/internal/retry"
)

// Completer sends one system+user exchange and returns the model's reply text.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

var (
	ErrNoCredential  = errors.New("llm API key not configured")
	ErrEmptyResponse = errors.New("llm returned no content")
)

const (
	DefaultBaseURL     = "https://openrouter.ai/api/v1"
	DefaultModel       = "openai/gpt-4o-mini"
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 300
	DefaultTimeout     = 20 * time.Second
)

// Config configures the client. Zero values take the defaults above; MaxAttempts
// defaults to 2.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// Temperature nil means DefaultTemperature. 0 is honored.
	Temperature *float32
	MaxTokens   int
	Timeout     time.Duration
	MaxAttempts int
	Clock       clockwork.Clock
}

// Client calls the chat-completions endpoint.
type Client struct {
	api         *openai.Client
	model       string
	temperature float32
	maxTokens   int
	timeout     time.Duration
	policy      retry.Policy
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNoCredential
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	temperature := float32(DefaultTemperature)
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 2
	}

	oc := openai.DefaultConfig(cfg.APIKey)
	oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	oc.HTTPClient = &http.Client{}

	return &Client{
		api:         openai.NewClientWithConfig(oc),
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		policy: retry.Policy{
			MaxAttempts: cfg.MaxAttempts,
			Backoff:     retry.Exponential(500*time.Millisecond, 4*time.Second),
			Retryable:   isRetryable,
			Clock:       cfg.Clock,
		},
	}, nil
}

// Complete returns the first choice's content.
func (c *Client) Complete(ctx context.Context, system, user string) (string, error) {
	var content string
	_, err := c.policy.Do(ctx, func(ctx context.Context, _ int) error {
		start := time.Now()
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		defer cancel()

		resp, err := c.api.CreateChatCompletion(reqCtx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: system},
				{Role: openai.ChatMessageRoleUser, Content: user},
			},
			Temperature: wireTemperature(c.temperature),
			MaxTokens:   c.maxTokens,
		})
		status := "success"
		if err != nil {
			status = errorStatus(err)
		}
		observability.LLMDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())
		if err != nil {
			return fmt.Errorf("chat completion: %w", err)
		}
		if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
			return ErrEmptyResponse
		}
		content = resp.Choices[0].Message.Content
		return nil
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// wireTemperature keeps a zero temperature on the wire; the request field is
// omitempty and the provider would substitute its own default.
func wireTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// isRetryable retries 429, 5xx and transport failures; other 4xx are final.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrEmptyResponse) {
		return false
	}
	code := httpStatus(err)
	return code == 0 || code == http.StatusTooManyRequests || code >= 500
}

func errorStatus(err error) string {
	code := httpStatus(err)
	switch {
	case code == 0:
		return "error"
	case code == http.StatusTooManyRequests:
		return "rate_limited"
	case code >= 500:
		return "server_error"
	default:
		return "client_error"
	}
}
