// Package suggest turns weather into a structured outfit: model call first, rule
// based fallback on any failure.
package suggest

import (
	"context"
	"errors"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/kjstillabower/fitted-service/internal/llm"
	"github.com/kjstillabower/fitted-service/internal/models"
	"github.com/kjstillabower/fitted-service/internal/observability"
)

// Source is which producer made a suggestion.
type Source string

const (
	SourceModel    Source = "model"
	SourceFallback Source = "fallback"
)

// Generator produces outfit suggestions.
type Generator struct {
	llm        llm.Completer
	strategies []ParseStrategy
	clock      clockwork.Clock
	logger     *zap.Logger
}

// NewGenerator returns a Generator. A nil completer means no LLM credential: every
// suggestion comes from Fallback without touching the network.
func NewGenerator(c llm.Completer, clock clockwork.Clock, logger *zap.Logger) *Generator {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Generator{llm: c, strategies: DefaultStrategies, clock: clock, logger: logger}
}

// Suggest always returns a fully populated suggestion.
func (g *Generator) Suggest(ctx context.Context, req Request) models.OutfitSuggestion {
	out, _ := g.SuggestWithSource(ctx, req)
	return out
}

// SuggestWithSource is Suggest plus the producer that won.
func (g *Generator) SuggestWithSource(ctx context.Context, req Request) (models.OutfitSuggestion, Source) {
	logger := observability.LoggerFromContext(ctx, g.logger)
	fallback := func(reason string, err error) (models.OutfitSuggestion, Source) {
		observability.SuggestionFallbackTotal.WithLabelValues(reason).Inc()
		observability.SuggestionsTotal.WithLabelValues(string(SourceFallback)).Inc()
		if err != nil {
			logger.Warn("outfit suggestion fell back to rules", zap.String("reason", reason), zap.Error(err))
		}
		return Fallback(req.TempC, req.Condition, len(req.Forecast) > 0), SourceFallback
	}

	if g.llm == nil {
		return fallback("no_credential", nil)
	}

	body, err := g.llm.Complete(ctx, systemPrompt, BuildPrompt(req, g.clock.Now()))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return fallback("canceled", err)
		}
		return fallback("llm_error", err)
	}

	out, err := Parse(body, g.strategies)
	if err != nil {
		return fallback("malformed", err)
	}
	observability.SuggestionsTotal.WithLabelValues(string(SourceModel)).Inc()
	return out, SourceModel
}
