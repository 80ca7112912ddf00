package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func validLocation() Location {
	return Location{Name: "Tokyo", Region: "Tokyo", Country: "Japan", Lat: 35.69, Lon: 139.69, TzID: "Asia/Tokyo"}
}

func validCurrent(tempC float64, humidity int) Current {
	return Current{
		LastUpdatedEpoch: 1765056600,
		TempC:            tempC,
		Condition:        Condition{Text: "Clear", Code: 1000},
		Humidity:         humidity,
	}
}

// TestNewWeatherReading_Bounds verifies temperature and humidity bounds are inclusive
// and that anything outside them is rejected with ErrSchemaInvalid.
func TestNewWeatherReading_Bounds(t *testing.T) {
	tests := []struct {
		name     string
		tempC    float64
		humidity int
		wantErr  bool
	}{
		{"lower temp bound", -100, 50, false},
		{"upper temp bound", 60, 50, false},
		{"zero everything", 0, 0, false},
		{"upper humidity bound", 20, 100, false},
		{"below temp bound", -100.1, 50, true},
		{"above temp bound", 60.5, 50, true},
		{"negative humidity", 20, -1, true},
		{"humidity over 100", 20, 101, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := NewWeatherReading("Tokyo", validLocation(), validCurrent(tt.tempC, tt.humidity))
			if tt.wantErr {
				if !errors.Is(err, ErrSchemaInvalid) {
					t.Fatalf("NewWeatherReading() error = %v, want ErrSchemaInvalid", err)
				}
				if r != (WeatherReading{}) {
					t.Errorf("NewWeatherReading() returned non-zero reading on error: %+v", r)
				}
				return
			}
			if err != nil {
				t.Fatalf("NewWeatherReading() error = %v", err)
			}
			if r.Current.TempC != tt.tempC {
				t.Errorf("TempC = %v, want %v", r.Current.TempC, tt.tempC)
			}
		})
	}
}

// TestNewWeatherReading_MissingRequired verifies that missing required fields are schema errors.
func TestNewWeatherReading_MissingRequired(t *testing.T) {
	loc := validLocation()
	loc.Name = ""
	if _, err := NewWeatherReading("x", loc, validCurrent(10, 10)); !errors.Is(err, ErrSchemaInvalid) {
		t.Errorf("missing location name: error = %v, want ErrSchemaInvalid", err)
	}

	cur := validCurrent(10, 10)
	cur.Condition.Text = ""
	if _, err := NewWeatherReading("x", validLocation(), cur); !errors.Is(err, ErrSchemaInvalid) {
		t.Errorf("missing condition text: error = %v, want ErrSchemaInvalid", err)
	}
}

func TestNewForecastedWeather(t *testing.T) {
	r, err := NewWeatherReading("Paris", validLocation(), validCurrent(12, 60))
	if err != nil {
		t.Fatalf("NewWeatherReading() error = %v", err)
	}
	day := ForecastDay{
		Date: "2025-12-08",
		Day:  DaySummary{MaxTempC: 14, MinTempC: 6, AvgTempC: 10, AvgHumidity: 70, DailyChanceOfRain: 80, Condition: Condition{Text: "Patchy rain", Code: 1063}},
	}

	if _, err := NewForecastedWeather(r, nil); !errors.Is(err, ErrSchemaInvalid) {
		t.Errorf("zero days: error = %v, want ErrSchemaInvalid", err)
	}

	days := make([]ForecastDay, 11)
	for i := range days {
		days[i] = day
	}
	if _, err := NewForecastedWeather(r, days); !errors.Is(err, ErrSchemaInvalid) {
		t.Errorf("11 days: error = %v, want ErrSchemaInvalid", err)
	}

	bad := day
	bad.Day.MaxTempC = 75
	if _, err := NewForecastedWeather(r, []ForecastDay{day, bad}); !errors.Is(err, ErrSchemaInvalid) {
		t.Errorf("impossible forecast temp: error = %v, want ErrSchemaInvalid", err)
	}

	fw, err := NewForecastedWeather(r, []ForecastDay{day, day, day})
	if err != nil {
		t.Fatalf("NewForecastedWeather() error = %v", err)
	}
	if len(fw.Forecast.Days) != 3 {
		t.Errorf("len(Days) = %d, want 3", len(fw.Forecast.Days))
	}
}

// TestForecastedWeather_JSONLayout verifies the persisted representation keeps the
// upstream field names at the top level.
func TestForecastedWeather_JSONLayout(t *testing.T) {
	r, _ := NewWeatherReading("Paris", validLocation(), validCurrent(12, 60))
	fw, err := NewForecastedWeather(r, []ForecastDay{{Date: "2025-12-08", Day: DaySummary{Condition: Condition{Text: "Sunny"}}}})
	if err != nil {
		t.Fatalf("NewForecastedWeather() error = %v", err)
	}
	raw, err := json.Marshal(fw)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal(raw, &top); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	for _, k := range []string{"key", "location", "current", "forecast"} {
		if _, ok := top[k]; !ok {
			t.Errorf("persisted JSON missing top-level %q: %s", k, raw)
		}
	}
}

func TestClampForecastDays(t *testing.T) {
	tests := map[int]int{-3: 1, 0: 1, 1: 1, 5: 5, 10: 10, 11: 10, 100: 10}
	for in, want := range tests {
		if got := ClampForecastDays(in); got != want {
			t.Errorf("ClampForecastDays(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestOutfitSuggestion_Validate(t *testing.T) {
	ok := OutfitSuggestion{Top: "Tee", Bottom: "Jeans", Outerwear: OutfitNone, Accessories: "None"}
	if err := ok.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	missing := OutfitSuggestion{Top: "Tee", Bottom: "Jeans", Outerwear: OutfitNone}
	if err := missing.Validate(); !errors.Is(err, ErrSchemaInvalid) {
		t.Errorf("Validate() error = %v, want ErrSchemaInvalid", err)
	}
}
