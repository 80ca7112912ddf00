// Package archive is the write-through durable store for raw weather payloads,
// partitioned by kind, UTC date and sanitized location.
package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
)

// ErrWriteFailed wraps any failure to persist a record. Callers log it and carry on.
var ErrWriteFailed = errors.New("archive write failed")

const (
	rootPrefix  = "raw/weather/"
	contentType = "application/json"

	MetaDataType = "data-type"
	MetaLocation = "location"
)

// Kind is the archived payload type.
type Kind string

const (
	KindCurrent  Kind = "current"
	KindForecast Kind = "forecast"
)

// PartitionKey identifies where a record is written.
type PartitionKey struct {
	Kind Kind
	// Location is the raw location; it is sanitized when the key is built.
	Location  string
	WrittenAt time.Time
}

// ObjectKey renders raw/weather/{kind}/dt=YYYY-MM-DD/location=<sanitized>/HH-MM-SS.json in UTC.
func (p PartitionKey) ObjectKey() string {
	ts := p.WrittenAt.UTC()
	return Prefix(p.Kind, p.Location, ts) + ts.Format("15-04-05") + ".json"
}

// Prefix returns the partition prefix for kind, location and the UTC date of day.
func Prefix(kind Kind, location string, day time.Time) string {
	return fmt.Sprintf("%s%s/dt=%s/location=%s/", rootPrefix, kind, day.UTC().Format(time.DateOnly), Sanitize(location))
}

// LegacyPrefix is the kind-less layout older writers used for current weather.
func LegacyPrefix(location string, day time.Time) string {
	return fmt.Sprintf("%sdt=%s/location=%s/", rootPrefix, day.UTC().Format(time.DateOnly), Sanitize(location))
}

// Sanitize keeps ASCII letters, digits, '-' and '_' and lower-cases the result.
// It is applied identically on write and on lookup.
func Sanitize(location string) string {
	var b strings.Builder
	b.Grow(len(location))
	for _, r := range location {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		}
	}
	return b.String()
}

// Record is an archived object.
type Record struct {
	Key       string
	WrittenAt time.Time
	Body      []byte
}

// Decode unmarshals the record body into v.
func (r Record) Decode(v any) error {
	return json.Unmarshal(r.Body, v)
}

// WriteResult reports what Write did.
type WriteResult struct {
	Key string
	// Skipped is true when writes are disabled (local mode).
	Skipped bool
}

// Store reads and writes archived records through an ObjectStore.
type Store struct {
	objects   ObjectStore
	clock     clockwork.Clock
	localMode bool
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for key timestamps and freshness.
func WithClock(c clockwork.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLocalMode disables writes; lookups still work.
func WithLocalMode(local bool) Option {
	return func(s *Store) { s.localMode = local }
}

func NewStore(objects ObjectStore, opts ...Option) *Store {
	s := &Store{objects: objects, clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindLatest returns the most recently written object under prefix if it is no
// older than maxAge.
func (s *Store) FindLatest(ctx context.Context, prefix string, maxAge time.Duration) (Record, bool, error) {
	infos, err := s.objects.List(ctx, prefix)
	if err != nil {
		return Record{}, false, fmt.Errorf("list %s: %w", prefix, err)
	}
	if len(infos) == 0 {
		return Record{}, false, nil
	}

	latest := infos[0]
	for _, info := range infos[1:] {
		if info.LastModified.After(latest.LastModified) {
			latest = info
		}
	}
	if s.clock.Since(latest.LastModified) > maxAge {
		return Record{}, false, nil
	}

	body, err := s.objects.Get(ctx, latest.Key)
	if err != nil {
		return Record{}, false, fmt.Errorf("get %s: %w", latest.Key, err)
	}
	return Record{Key: latest.Key, WrittenAt: latest.LastModified, Body: body}, true, nil
}

// FindLatestCurrent looks up today's current reading, falling back to the legacy layout.
func (s *Store) FindLatestCurrent(ctx context.Context, location string, maxAge time.Duration) (Record, bool, error) {
	now := s.clock.Now()
	rec, ok, err := s.FindLatest(ctx, Prefix(KindCurrent, location, now), maxAge)
	if err != nil || ok {
		return rec, ok, err
	}
	return s.FindLatest(ctx, LegacyPrefix(location, now), maxAge)
}

// FindLatestForecast looks up today's forecast.
func (s *Store) FindLatestForecast(ctx context.Context, location string, maxAge time.Duration) (Record, bool, error) {
	return s.FindLatest(ctx, Prefix(KindForecast, location, s.clock.Now()), maxAge)
}

// Write serializes v as JSON under a key built from kind, location and the current time.
func (s *Store) Write(ctx context.Context, kind Kind, location string, v any) (WriteResult, error) {
	key := PartitionKey{Kind: kind, Location: location, WrittenAt: s.clock.Now()}.ObjectKey()
	if s.localMode {
		return WriteResult{Key: key, Skipped: true}, nil
	}

	body, err := json.Marshal(v)
	if err != nil {
		return WriteResult{Key: key}, fmt.Errorf("%w: encode %s: %v", ErrWriteFailed, key, err)
	}
	meta := map[string]string{
		MetaDataType: string(kind),
		MetaLocation: Sanitize(location),
	}
	if err := s.objects.Put(ctx, key, body, contentType, meta); err != nil {
		return WriteResult{Key: key}, fmt.Errorf("%w: put %s: %w", ErrWriteFailed, key, err)
	}
	return WriteResult{Key: key}, nil
}
