package service

import (
	"time"

	"github.com/kjstillabower/fitted-service/internal/models"
)

// MockTempC is the temperature of every mocked reading.
const MockTempC = 5.2

var mockLocation = models.Location{
	Region:  "Tokyo",
	Country: "Japan",
	Lat:     35.69,
	Lon:     139.69,
	TzID:    "Asia/Tokyo",
}

// MockCurrent returns the static reading served when no upstream credential is
// configured. The location name is the requested location.
func MockCurrent(location string, now time.Time) models.WeatherReading {
	loc := mockLocation
	loc.Name = location
	loc.LocaltimeEpoch = now.Unix()
	loc.Localtime = now.In(tokyo()).Format("2006-01-02 15:04")

	return models.WeatherReading{
		Key:      location,
		Location: loc,
		Current: models.Current{
			LastUpdatedEpoch: now.Truncate(15 * time.Minute).Unix(),
			LastUpdated:      now.Truncate(15 * time.Minute).In(tokyo()).Format("2006-01-02 15:04"),
			TempC:            MockTempC,
			TempF:            41.4,
			IsDay:            0,
			Condition: models.Condition{
				Text: "Clear",
				Icon: "//cdn.weatherapi.com/weather/64x64/night/113.png",
				Code: 1000,
			},
			WindMph:    6.9,
			WindKph:    11.2,
			Humidity:   75,
			Cloud:      0,
			FeelslikeC: 2.6,
			FeelslikeF: 36.7,
			UV:         0,
		},
	}
}

// MockForecast returns MockCurrent plus days synthetic clear days starting today.
func MockForecast(location string, days int, now time.Time) models.ForecastedWeather {
	days = models.ClampForecastDays(days)
	fd := make([]models.ForecastDay, days)
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for i := range fd {
		d := day.AddDate(0, 0, i)
		fd[i] = models.ForecastDay{
			Date:      d.Format(time.DateOnly),
			DateEpoch: d.Unix(),
			Day: models.DaySummary{
				MaxTempC:    9.0,
				MinTempC:    1.5,
				AvgTempC:    MockTempC,
				MaxWindKph:  14.4,
				AvgHumidity: 70,
				Condition: models.Condition{
					Text: "Sunny",
					Icon: "//cdn.weatherapi.com/weather/64x64/day/113.png",
					Code: 1000,
				},
			},
			Astro: models.Astro{Sunrise: "06:45 AM", Sunset: "04:50 PM"},
		}
	}
	return models.ForecastedWeather{
		WeatherReading: MockCurrent(location, now),
		Forecast:       models.Forecast{Days: fd},
	}
}

func tokyo() *time.Location {
	if loc, err := time.LoadLocation("Asia/Tokyo"); err == nil {
		return loc
	}
	return time.FixedZone("JST", 9*60*60)
}
