package suggest

import (
	"strings"

	"github.com/kjstillabower/fitted-service/internal/models"
)

// ForecastNote is appended to the accessories whenever forecast context was given.
const ForecastNote = "Check the forecast before heading out"

type tempBand struct {
	below     float64
	top       string
	bottom    string
	outerwear string
}

// Bands are checked in order; the last one catches everything >= 25°C.
var tempBands = []tempBand{
	{5, "Thermal base layer and wool sweater", "Insulated trousers", "Heavy winter coat"},
	{15, "Long-sleeve shirt or light sweater", "Jeans or chinos", "Light jacket"},
	{25, "T-shirt or light blouse", "Chinos or light trousers", models.OutfitNone},
}

var warmBand = tempBand{top: "Breathable short-sleeve shirt", bottom: "Shorts or a light skirt", outerwear: models.OutfitNone}

// Fallback is the rule-based outfit for a temperature and condition. It never fails.
func Fallback(tempC float64, condition string, hasForecast bool) models.OutfitSuggestion {
	band := warmBand
	for _, b := range tempBands {
		if tempC < b.below {
			band = b
			break
		}
	}

	cond := strings.ToLower(condition)
	outerwear := band.outerwear
	var accessories []string

	if containsAny(cond, "rain", "drizzle", "shower") {
		if outerwear == models.OutfitNone {
			outerwear = "Raincoat"
		} else {
			outerwear += " or raincoat"
		}
		accessories = append(accessories, "Umbrella")
	}
	if containsAny(cond, "snow", "sleet", "blizzard") {
		accessories = append(accessories, "Waterproof boots")
	}
	if containsAny(cond, "sun", "clear") {
		accessories = append(accessories, "Sunglasses")
	}
	if hasForecast {
		accessories = append(accessories, ForecastNote)
	}

	acc := models.OutfitNone
	if len(accessories) > 0 {
		acc = strings.Join(accessories, ", ")
	}
	return models.OutfitSuggestion{
		Top:         band.top,
		Bottom:      band.bottom,
		Outerwear:   outerwear,
		Accessories: acc,
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
