package validation

import (
	"errors"
	"strings"
	"unicode"
)

// DefaultMaxCityLength bounds city queries in runes.
const DefaultMaxCityLength = 100

var (
	// ErrCityEmpty is returned when the city is empty or whitespace-only after trim.
	ErrCityEmpty = errors.New("city is required")
	// ErrCityTooLong is returned when the city exceeds the maximum rune count.
	ErrCityTooLong = errors.New("city too long")
	// ErrCityInvalidChars is returned for control or otherwise non-printable characters.
	ErrCityInvalidChars = errors.New("city contains invalid characters")
)

// ValidateCity trims the input and checks it is a plausible free-text place
// name: non-empty, at most maxLen runes (0 disables the bound) and printable.
// Punctuation such as apostrophes and periods is allowed ("St. John's").
// Returns the trimmed string; case folding is left to the caller.
func ValidateCity(input string, maxLen int) (string, error) {
	s := strings.TrimSpace(input)
	if s == "" {
		return "", ErrCityEmpty
	}
	n := 0
	for _, r := range s {
		n++
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return "", ErrCityInvalidChars
		}
	}
	if maxLen > 0 && n > maxLen {
		return "", ErrCityTooLong
	}
	return s, nil
}
