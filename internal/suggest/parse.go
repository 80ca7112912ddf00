package suggest

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/kjstillabower/fitted-service/internal/models"
)

// ErrMalformed means no parse strategy produced a valid suggestion.
var ErrMalformed = errors.New("malformed outfit suggestion")

// ParseStrategy turns a model reply into a suggestion.
type ParseStrategy struct {
	Name  string
	Parse func(body string) (models.OutfitSuggestion, error)
}

// DefaultStrategies are tried in order; the first success wins.
var DefaultStrategies = []ParseStrategy{
	{Name: "strict_json", Parse: parseStrictJSON},
	{Name: "fenced_block", Parse: parseFencedBlock},
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)\\s*```")

// Parse runs strategies in order and returns the first valid suggestion.
func Parse(body string, strategies []ParseStrategy) (models.OutfitSuggestion, error) {
	var errs []error
	for _, s := range strategies {
		out, err := s.Parse(body)
		if err == nil {
			return out, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
	}
	return models.OutfitSuggestion{}, fmt.Errorf("%w: %w", ErrMalformed, errors.Join(errs...))
}

func parseStrictJSON(body string) (models.OutfitSuggestion, error) {
	return decodeSuggestion(strings.TrimSpace(body))
}

func parseFencedBlock(body string) (models.OutfitSuggestion, error) {
	matches := fencedBlock.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 {
		return models.OutfitSuggestion{}, errors.New("no fenced block")
	}
	var lastErr error
	for _, m := range matches {
		out, err := decodeSuggestion(m[1])
		if err == nil {
			return out, nil
		}
		lastErr = err
	}
	return models.OutfitSuggestion{}, lastErr
}

// decodeSuggestion requires a JSON object whose four fields are non-empty strings.
func decodeSuggestion(s string) (models.OutfitSuggestion, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return models.OutfitSuggestion{}, err
	}
	field := func(name string) (string, error) {
		v, ok := raw[name]
		if !ok {
			return "", fmt.Errorf("missing %q", name)
		}
		var str string
		if err := json.Unmarshal(v, &str); err != nil {
			return "", fmt.Errorf("%q is not a string", name)
		}
		return strings.TrimSpace(str), nil
	}

	var out models.OutfitSuggestion
	var err error
	if out.Top, err = field("top"); err != nil {
		return models.OutfitSuggestion{}, err
	}
	if out.Bottom, err = field("bottom"); err != nil {
		return models.OutfitSuggestion{}, err
	}
	if out.Outerwear, err = field("outerwear"); err != nil {
		return models.OutfitSuggestion{}, err
	}
	if out.Accessories, err = field("accessories"); err != nil {
		return models.OutfitSuggestion{}, err
	}
	if err := out.Validate(); err != nil {
		return models.OutfitSuggestion{}, err
	}
	return out, nil
}
