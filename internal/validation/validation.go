// Package validation checks request inputs before they reach the weather service.
package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

const (
	DefaultLocationMinLen = 1
	DefaultLocationMaxLen = 100
	DefaultPreferencesMax = 500
)

var (
	ErrLocationEmpty        = errors.New("location is required")
	ErrLocationTooShort     = errors.New("location too short")
	ErrLocationTooLong      = errors.New("location too long")
	ErrLocationInvalidChars = errors.New("location contains invalid characters")

	// ErrDaysInvalid is returned for a days value that is not a non-negative integer.
	ErrDaysInvalid = errors.New("days must be a non-negative integer")

	ErrPreferencesTooLong = errors.New("preferences too long")
)

// ValidateLocation trims the input, enforces length bounds (minLen, maxLen in runes),
// and restricts to characters a place name or "lat,lon" pair uses: letters (Unicode),
// digits, space, comma, hyphen, period, apostrophe.
// Returns the trimmed string or an error suitable for 400 INVALID_LOCATION responses.
func ValidateLocation(input string, minLen, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	r := []rune(s)
	n := len(r)
	if n == 0 {
		return "", ErrLocationEmpty
	}
	if minLen > 0 && n < minLen {
		return "", ErrLocationTooShort
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrLocationTooLong
	}
	for _, c := range r {
		if !isAllowedLocationRune(c) {
			return "", ErrLocationInvalidChars
		}
	}
	return s, nil
}

func isAllowedLocationRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsNumber(r) {
		return true
	}
	switch r {
	case ' ', ',', '-', '.', '\'':
		return true
	}
	return false
}

// ParseDays parses an optional days query value. Empty means def. Values above
// max are returned as-is; clamping belongs to the service.
func ParseDays(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrDaysInvalid, raw)
	}
	return n, nil
}

// ValidatePreferences trims free-text user context and drops control characters.
func ValidatePreferences(input string, maxLen int) (string, error) {
	s := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, input)
	s = strings.TrimSpace(s)
	if maxLen > 0 && len([]rune(s)) > maxLen {
		return "", ErrPreferencesTooLong
	}
	return s, nil
}
