// Package analytics runs canned read-only queries over the archived weather
// table in Snowflake.
package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/snowflakedb/gosnowflake"

	"github.com/kjstillabower/fitted-service/internal/observability"
)

var (
	// ErrDisabled is returned when no warehouse DSN is configured.
	ErrDisabled    = errors.New("analytics disabled")
	ErrInvalidDate = errors.New("invalid date, want YYYY-MM-DD")
	ErrInvalidArg  = errors.New("invalid analytics argument")
)

const (
	DriverName   = "snowflake"
	DefaultTable = "weather_data"
	resultLimit  = 100
	maxTrendDays = 90
)

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_$]*(\.[A-Za-z_][A-Za-z0-9_$]*){0,2}$`)

// Reading is one archived observation.
type Reading struct {
	Location  string  `json:"location"`
	Country   string  `json:"country"`
	TempC     float64 `json:"temperature_c"`
	Condition string  `json:"condition"`
	Humidity  float64 `json:"humidity"`
	Date      string  `json:"date"`
}

// TrendPoint aggregates one location's readings for one day.
type TrendPoint struct {
	Date        string  `json:"date"`
	Location    string  `json:"location"`
	AvgTempC    float64 `json:"avg_temp_c"`
	MaxTempC    float64 `json:"max_temp_c"`
	MinTempC    float64 `json:"min_temp_c"`
	AvgHumidity float64 `json:"avg_humidity"`
	Readings    int64   `json:"num_readings"`
}

// Summary aggregates every reading for one day. Averages are nil when there are no rows.
type Summary struct {
	Date            string   `json:"date"`
	UniqueLocations int64    `json:"unique_locations"`
	AvgTempC        *float64 `json:"avg_temperature"`
	MaxTempC        *float64 `json:"max_temperature"`
	MinTempC        *float64 `json:"min_temperature"`
	AvgHumidity     *float64 `json:"avg_humidity"`
	TotalReadings   int64    `json:"total_readings"`
}

// Service queries a table with columns dt (DATE), location (VARIANT) and curr (VARIANT).
type Service struct {
	db    *sql.DB
	table string
	clock clockwork.Clock
}

// Open connects to Snowflake with dsn.
func Open(ctx context.Context, dsn, table string) (*Service, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, ErrDisabled
	}
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open analytics db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping analytics db: %w", err)
	}
	return New(db, table, nil)
}

// New wraps an existing handle.
func New(db *sql.DB, table string, clock clockwork.Clock) (*Service, error) {
	if table == "" {
		table = DefaultTable
	}
	if !identifier.MatchString(table) {
		return nil, fmt.Errorf("%w: table name %q", ErrInvalidArg, table)
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Service{db: db, table: table, clock: clock}, nil
}

func (s *Service) Close() error {
	return s.db.Close()
}

// ByTemperature lists readings warmer than minTemp, hottest first. date is optional.
func (s *Service) ByTemperature(ctx context.Context, minTemp float64, date string) ([]Reading, error) {
	args := []any{minTemp}
	filter, args, err := dateFilter(date, args)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT location:name::string, location:country::string, curr:temp_c::float,
  curr:condition.text::string, curr:humidity::float, TO_VARCHAR(dt)
FROM %s
WHERE curr:temp_c::float > ?%s
ORDER BY curr:temp_c::float DESC
LIMIT %d`, s.table, filter, resultLimit)
	return s.readings(ctx, "by_temperature", q, args)
}

// ByCondition lists readings whose condition text contains condition, case-insensitively.
func (s *Service) ByCondition(ctx context.Context, condition, date string) ([]Reading, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return nil, fmt.Errorf("%w: empty condition", ErrInvalidArg)
	}
	args := []any{condition}
	filter, args, err := dateFilter(date, args)
	if err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT location:name::string, location:country::string, curr:temp_c::float,
  curr:condition.text::string, curr:humidity::float, TO_VARCHAR(dt)
FROM %s
WHERE curr:condition.text::string ILIKE '%%' || ? || '%%'%s
LIMIT %d`, s.table, filter, resultLimit)
	return s.readings(ctx, "by_condition", q, args)
}

// LocationTrend returns per-day aggregates for location over the last days days.
func (s *Service) LocationTrend(ctx context.Context, location string, days int) ([]TrendPoint, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: empty location", ErrInvalidArg)
	}
	if days < 1 || days > maxTrendDays {
		return nil, fmt.Errorf("%w: days must be 1..%d", ErrInvalidArg, maxTrendDays)
	}
	now := s.clock.Now().UTC()
	end := now.Format(time.DateOnly)
	start := now.AddDate(0, 0, -days).Format(time.DateOnly)

	q := fmt.Sprintf(`SELECT TO_VARCHAR(dt), location:name::string, AVG(curr:temp_c::float), MAX(curr:temp_c::float),
  MIN(curr:temp_c::float), AVG(curr:humidity::float), COUNT(*)
FROM %s
WHERE location:name::string ILIKE '%%' || ? || '%%'
  AND dt BETWEEN ? AND ?
GROUP BY dt, location:name::string
ORDER BY dt DESC`, s.table)

	rows, err := s.query(ctx, "location_trend", q, location, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TrendPoint
	for rows.Next() {
		var p TrendPoint
		if err := rows.Scan(&p.Date, &p.Location, &p.AvgTempC, &p.MaxTempC, &p.MinTempC, &p.AvgHumidity, &p.Readings); err != nil {
			return nil, fmt.Errorf("scan trend row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate trend rows: %w", err)
	}
	return out, nil
}

// Summary aggregates date, defaulting to today (UTC).
func (s *Service) Summary(ctx context.Context, date string) (Summary, error) {
	if date == "" {
		date = s.clock.Now().UTC().Format(time.DateOnly)
	} else if _, err := time.Parse(time.DateOnly, date); err != nil {
		return Summary{}, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	q := fmt.Sprintf(`SELECT COUNT(DISTINCT location:name::string), AVG(curr:temp_c::float), MAX(curr:temp_c::float),
  MIN(curr:temp_c::float), AVG(curr:humidity::float), COUNT(*)
FROM %s
WHERE dt = ?`, s.table)

	rows, err := s.query(ctx, "summary", q, date)
	if err != nil {
		return Summary{}, err
	}
	defer rows.Close()

	out := Summary{Date: date}
	if rows.Next() {
		var avgT, maxT, minT, avgH sql.NullFloat64
		if err := rows.Scan(&out.UniqueLocations, &avgT, &maxT, &minT, &avgH, &out.TotalReadings); err != nil {
			return Summary{}, fmt.Errorf("scan summary row: %w", err)
		}
		out.AvgTempC, out.MaxTempC, out.MinTempC, out.AvgHumidity = nullable(avgT), nullable(maxT), nullable(minT), nullable(avgH)
	}
	if err := rows.Err(); err != nil {
		return Summary{}, fmt.Errorf("iterate summary rows: %w", err)
	}
	return out, nil
}

func (s *Service) readings(ctx context.Context, name, q string, args []any) ([]Reading, error) {
	rows, err := s.query(ctx, name, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reading
	for rows.Next() {
		var r Reading
		if err := rows.Scan(&r.Location, &r.Country, &r.TempC, &r.Condition, &r.Humidity, &r.Date); err != nil {
			return nil, fmt.Errorf("scan %s row: %w", name, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s rows: %w", name, err)
	}
	return out, nil
}

func (s *Service) query(ctx context.Context, name, q string, args ...any) (*sql.Rows, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		observability.AnalyticsQueriesTotal.WithLabelValues(name, "error").Inc()
		return nil, fmt.Errorf("analytics query %s: %w", name, err)
	}
	observability.AnalyticsQueriesTotal.WithLabelValues(name, "success").Inc()
	return rows, nil
}

func dateFilter(date string, args []any) (string, []any, error) {
	if date == "" {
		return "", args, nil
	}
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		return "", nil, fmt.Errorf("%w: %q", ErrInvalidDate, date)
	}
	return "\n  AND dt = ?", append(args, date), nil
}

func nullable(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
