package models

// OutfitNone is the outerwear sentinel for "no outer layer needed".
const OutfitNone = "None"

// OutfitSuggestion is the structured outfit returned to callers. All four fields are
// always populated, whether the suggestion came from the model or the fallback rules.
type OutfitSuggestion struct {
	Top         string `json:"top" validate:"required"`
	Bottom      string `json:"bottom" validate:"required"`
	Outerwear   string `json:"outerwear" validate:"required"`
	Accessories string `json:"accessories" validate:"required"`
}

// Validate reports whether every field is present and non-empty.
func (o OutfitSuggestion) Validate() error {
	return checkStruct(o)
}
