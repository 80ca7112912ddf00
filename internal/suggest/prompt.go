package suggest

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/kjstillabower/fitted-service/internal/models"
)

// MaxForecastContextDays is how many forecast days go into the prompt.
const MaxForecastContextDays = 3

const systemPrompt = `You are a helpful fashion assistant that recommends practical outfits for the weather.
Reply with a single JSON object and nothing else. It must have exactly these four string keys:
"top", "bottom", "outerwear", "accessories".
Use "None" for outerwear when no outer layer is needed and for accessories when none are useful.`

// Request is the input to Suggest.
type Request struct {
	Location  string
	TempC     float64
	Condition string
	// Forecast is optional; only the first three days are used.
	Forecast []models.ForecastDay
	// UserContext holds free-form preferences.
	UserContext string
	// TimeZone is an IANA zone used for the time-of-day bucket. Empty uses the server zone.
	TimeZone string
}

// TimeOfDay buckets an hour: [6,12) morning, [12,17) afternoon, [17,21) evening, else night.
func TimeOfDay(hour int) string {
	switch {
	case hour >= 6 && hour < 12:
		return "morning"
	case hour >= 12 && hour < 17:
		return "afternoon"
	case hour >= 17 && hour < 21:
		return "evening"
	default:
		return "night"
	}
}

func localHour(now time.Time, tz string) int {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			return now.In(loc).Hour()
		}
	}
	return now.Hour()
}

// BuildPrompt renders the user message for req at now.
func BuildPrompt(req Request, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Location: %s\n", req.Location)
	fmt.Fprintf(&b, "Current conditions: %.1f°C, %s\n", req.TempC, req.Condition)
	fmt.Fprintf(&b, "Time of day: %s\n", TimeOfDay(localHour(now, req.TimeZone)))

	if len(req.Forecast) > 0 {
		b.WriteString("Forecast:\n")
		days := req.Forecast
		if len(days) > MaxForecastContextDays {
			days = days[:MaxForecastContextDays]
		}
		for _, d := range days {
			fmt.Fprintf(&b, "- %s: %.1f°C to %.1f°C, %s, %d%% chance of rain\n",
				d.Date, d.Day.MinTempC, d.Day.MaxTempC, d.Day.Condition.Text, d.Day.DailyChanceOfRain)
		}
	}
	if p := strings.TrimSpace(req.UserContext); p != "" {
		fmt.Fprintf(&b, "User preferences: %s\n", p)
	}
	b.WriteString("\nSuggest an outfit as the JSON object described.")
	return b.String()
}
