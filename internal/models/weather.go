package models

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrSchemaInvalid is returned when a payload is well-formed JSON but violates the
// reading schema (out-of-range temperature or humidity, missing required field).
var ErrSchemaInvalid = errors.New("schema invalid")

const (
	// MinForecastDays and MaxForecastDays bound the forecast length accepted anywhere in the service.
	MinForecastDays = 1
	MaxForecastDays = 10
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Condition is the provider's weather condition descriptor.
type Condition struct {
	Text string `json:"text" validate:"required"`
	Icon string `json:"icon,omitempty"`
	Code int    `json:"code"`
}

// Location is the geolocation metadata attached to every reading.
type Location struct {
	Name           string  `json:"name" validate:"required"`
	Region         string  `json:"region"`
	Country        string  `json:"country"`
	Lat            float64 `json:"lat" validate:"gte=-90,lte=90"`
	Lon            float64 `json:"lon" validate:"gte=-180,lte=180"`
	TzID           string  `json:"tz_id"`
	LocaltimeEpoch int64   `json:"localtime_epoch"`
	Localtime      string  `json:"localtime"`
}

// Current holds the observed conditions. Field names follow the persisted JSON layout
// so archived objects stay queryable by the analytics table definition.
type Current struct {
	LastUpdatedEpoch int64     `json:"last_updated_epoch"`
	LastUpdated      string    `json:"last_updated"`
	TempC            float64   `json:"temp_c" validate:"gte=-100,lte=60"`
	TempF            float64   `json:"temp_f"`
	IsDay            int       `json:"is_day"`
	Condition        Condition `json:"condition"`
	WindMph          float64   `json:"wind_mph"`
	WindKph          float64   `json:"wind_kph" validate:"gte=0"`
	Humidity         int       `json:"humidity" validate:"gte=0,lte=100"`
	Cloud            int       `json:"cloud"`
	FeelslikeC       float64   `json:"feelslike_c"`
	FeelslikeF       float64   `json:"feelslike_f"`
	UV               float64   `json:"uv"`
}

// WeatherReading is an immutable weather observation for a logical location key.
// Key is the raw location string as given by the caller.
type WeatherReading struct {
	Key      string   `json:"key"`
	Location Location `json:"location"`
	Current  Current  `json:"current"`
}

// NewWeatherReading builds a validated reading. Any schema violation returns an error
// wrapping ErrSchemaInvalid.
func NewWeatherReading(key string, loc Location, cur Current) (WeatherReading, error) {
	r := WeatherReading{Key: key, Location: loc, Current: cur}
	if err := r.Validate(); err != nil {
		return WeatherReading{}, err
	}
	return r, nil
}

// Validate checks the reading against the schema.
func (r WeatherReading) Validate() error {
	return checkStruct(r)
}

// ObservedAt returns the provider's observation time, or the zero time if unknown.
func (r WeatherReading) ObservedAt() time.Time {
	if r.Current.LastUpdatedEpoch <= 0 {
		return time.Time{}
	}
	return time.Unix(r.Current.LastUpdatedEpoch, 0).UTC()
}

// DaySummary is the aggregate section of a forecast day.
type DaySummary struct {
	MaxTempC          float64   `json:"maxtemp_c" validate:"gte=-100,lte=60"`
	MinTempC          float64   `json:"mintemp_c" validate:"gte=-100,lte=60"`
	AvgTempC          float64   `json:"avgtemp_c" validate:"gte=-100,lte=60"`
	MaxWindKph        float64   `json:"maxwind_kph"`
	AvgHumidity       float64   `json:"avghumidity" validate:"gte=0,lte=100"`
	DailyChanceOfRain int       `json:"daily_chance_of_rain" validate:"gte=0,lte=100"`
	DailyChanceOfSnow int       `json:"daily_chance_of_snow" validate:"gte=0,lte=100"`
	Condition         Condition `json:"condition"`
}

// Astro holds sunrise and sunset as reported by the provider (local time, e.g. "06:41 AM").
type Astro struct {
	Sunrise string `json:"sunrise"`
	Sunset  string `json:"sunset"`
}

// ForecastDay is one future day of a forecast.
type ForecastDay struct {
	Date      string     `json:"date" validate:"required"`
	DateEpoch int64      `json:"date_epoch"`
	Day       DaySummary `json:"day"`
	Astro     Astro      `json:"astro"`
}

// Forecast is the ordered list of forecast days.
type Forecast struct {
	Days []ForecastDay `json:"forecastday" validate:"min=1,max=10,dive"`
}

// ForecastedWeather is a reading with 1..10 forecast days attached.
type ForecastedWeather struct {
	WeatherReading
	Forecast Forecast `json:"forecast"`
}

// NewForecastedWeather attaches days to r and validates the aggregate.
func NewForecastedWeather(r WeatherReading, days []ForecastDay) (ForecastedWeather, error) {
	fw := ForecastedWeather{
		WeatherReading: r,
		Forecast:       Forecast{Days: append([]ForecastDay(nil), days...)},
	}
	if err := fw.Validate(); err != nil {
		return ForecastedWeather{}, err
	}
	return fw, nil
}

// Validate checks the reading and every forecast day.
func (f ForecastedWeather) Validate() error {
	return checkStruct(f)
}

// ClampForecastDays clamps n into [MinForecastDays, MaxForecastDays].
func ClampForecastDays(n int) int {
	if n < MinForecastDays {
		return MinForecastDays
	}
	if n > MaxForecastDays {
		return MaxForecastDays
	}
	return n
}

func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		parts := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			if fe.Param() != "" {
				parts = append(parts, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
			} else {
				parts = append(parts, fmt.Sprintf("%s failed %s", fe.Namespace(), fe.Tag()))
			}
		}
		return fmt.Errorf("%w: %s", ErrSchemaInvalid, strings.Join(parts, "; "))
	}
	return fmt.Errorf("%w: %v", ErrSchemaInvalid, err)
}
