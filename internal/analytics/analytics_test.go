package analytics

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jonboulle/clockwork"
)

var readingCols = []string{"name", "country", "temp_c", "condition", "humidity", "dt"}

func newMock(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	clock := clockwork.NewFakeClockAt(time.Date(2024, 6, 20, 8, 0, 0, 0, time.UTC))
	s, err := New(db, "weather_data", clock)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s, mock
}

func TestNew_RejectsUnsafeTable(t *testing.T) {
	for _, name := range []string{"weather; DROP TABLE x", "1abc", "a.b.c.d", "w-d"} {
		if _, err := New(nil, name, nil); !errors.Is(err, ErrInvalidArg) {
			t.Errorf("New(%q) error = %v, want ErrInvalidArg", name, err)
		}
	}
	if _, err := New(nil, "FITTED.PUBLIC.WEATHER_DATA", nil); err != nil {
		t.Errorf("qualified table rejected: %v", err)
	}
}

func TestOpen_EmptyDSNIsDisabled(t *testing.T) {
	if _, err := Open(context.Background(), " ", ""); !errors.Is(err, ErrDisabled) {
		t.Errorf("Open() error = %v, want ErrDisabled", err)
	}
}

func TestByTemperature(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("FROM weather_data\nWHERE curr:temp_c::float > ?\n  AND dt = ?")).
		WithArgs(15.0, "2024-06-19").
		WillReturnRows(sqlmock.NewRows(readingCols).
			AddRow("Cairo", "Egypt", 34.0, "Sunny", 20.0, "2024-06-19").
			AddRow("Rome", "Italy", 27.5, "Clear", 45.0, "2024-06-19"))

	got, err := s.ByTemperature(context.Background(), 15, "2024-06-19")
	if err != nil {
		t.Fatalf("ByTemperature() error = %v", err)
	}
	if len(got) != 2 || got[0].Location != "Cairo" || got[1].TempC != 27.5 {
		t.Errorf("ByTemperature() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestByTemperature_NoDateFilter(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE curr:temp_c::float > ?\nORDER BY")).
		WithArgs(20.0).
		WillReturnRows(sqlmock.NewRows(readingCols))

	got, err := s.ByTemperature(context.Background(), 20, "")
	if err != nil || len(got) != 0 {
		t.Errorf("ByTemperature() = (%v, %v), want empty", got, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// TestByCondition_BindsUserInput verifies the condition is a bound argument, never
// spliced into the SQL text.
func TestByCondition_BindsUserInput(t *testing.T) {
	s, mock := newMock(t)
	evil := "rain' OR '1'='1"
	mock.ExpectQuery(regexp.QuoteMeta("ILIKE '%' || ? || '%'")).
		WithArgs(evil).
		WillReturnRows(sqlmock.NewRows(readingCols).AddRow("Leeds", "UK", 9.0, "Light rain", 90.0, "2024-06-20"))

	got, err := s.ByCondition(context.Background(), evil, "")
	if err != nil {
		t.Fatalf("ByCondition() error = %v", err)
	}
	if len(got) != 1 || got[0].Condition != "Light rain" {
		t.Errorf("ByCondition() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLocationTrend(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("AND dt BETWEEN ? AND ?")).
		WithArgs("London", "2024-06-13", "2024-06-20").
		WillReturnRows(sqlmock.NewRows([]string{"dt", "name", "avg", "max", "min", "hum", "n"}).
			AddRow("2024-06-20", "London", 15.0, 18.0, 12.0, 70.0, int64(4)))

	got, err := s.LocationTrend(context.Background(), "London", 7)
	if err != nil {
		t.Fatalf("LocationTrend() error = %v", err)
	}
	if len(got) != 1 || got[0].Readings != 4 || got[0].MaxTempC != 18 {
		t.Errorf("LocationTrend() = %+v", got)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLocationTrend_InvalidArgs(t *testing.T) {
	s, _ := newMock(t)
	if _, err := s.LocationTrend(context.Background(), "", 7); !errors.Is(err, ErrInvalidArg) {
		t.Errorf("empty location error = %v", err)
	}
	if _, err := s.LocationTrend(context.Background(), "London", 0); !errors.Is(err, ErrInvalidArg) {
		t.Errorf("days=0 error = %v", err)
	}
}

func TestSummary(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE dt = ?")).
		WithArgs("2024-06-20").
		WillReturnRows(sqlmock.NewRows([]string{"u", "avg", "max", "min", "hum", "n"}).
			AddRow(int64(3), 18.5, 30.0, 4.0, 60.0, int64(12)))

	got, err := s.Summary(context.Background(), "")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if got.Date != "2024-06-20" || got.UniqueLocations != 3 || got.TotalReadings != 12 {
		t.Errorf("Summary() = %+v", got)
	}
	if got.AvgTempC == nil || *got.AvgTempC != 18.5 {
		t.Errorf("AvgTempC = %v, want 18.5", got.AvgTempC)
	}
}

func TestSummary_NoRowsForDay(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta("WHERE dt = ?")).
		WithArgs("2024-01-01").
		WillReturnRows(sqlmock.NewRows([]string{"u", "avg", "max", "min", "hum", "n"}).
			AddRow(int64(0), nil, nil, nil, nil, int64(0)))

	got, err := s.Summary(context.Background(), "2024-01-01")
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if got.AvgTempC != nil || got.TotalReadings != 0 {
		t.Errorf("Summary() = %+v, want empty aggregates", got)
	}
}

func TestQueries_RejectBadDate(t *testing.T) {
	s, _ := newMock(t)
	ctx := context.Background()
	if _, err := s.ByTemperature(ctx, 10, "20-06-2024"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("ByTemperature error = %v", err)
	}
	if _, err := s.ByCondition(ctx, "rain", "yesterday"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("ByCondition error = %v", err)
	}
	if _, err := s.Summary(ctx, "2024-13-01"); !errors.Is(err, ErrInvalidDate) {
		t.Errorf("Summary error = %v", err)
	}
}

func TestQuery_DriverError(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("warehouse suspended"))
	if _, err := s.ByTemperature(context.Background(), 10, ""); err == nil {
		t.Error("ByTemperature() expected error")
	}
}
