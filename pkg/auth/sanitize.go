package auth

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/tendant/simple-idm-account/pkg/domain"
)

// SanitizeText trims input and removes control characters except newline and
// tab. Output is escaped where it is rendered, not here.
func SanitizeText(input string) string {
	return strings.TrimSpace(removeControlChars(input))
}

// SanitizeName cleans a display name: control characters are dropped and
// runs of whitespace collapse to one space.
func SanitizeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, name)
	return strings.Join(strings.Fields(name), " ")
}

// ValidateStringLength validates that a string is within the specified length
// constraints, counted in characters. Failures wrap domain.ErrValidation.
func ValidateStringLength(field, value string, min, max int) error {
	length := utf8.RuneCountInString(value)

	if min > 0 && length < min {
		return fmt.Errorf("%w: %s must be at least %d characters long", domain.ErrValidation, field, min)
	}

	if max > 0 && length > max {
		return fmt.Errorf("%w: %s must be at most %d characters long", domain.ErrValidation, field, max)
	}

	return nil
}

// removeControlChars removes control characters except newline and tab.
func removeControlChars(s string) string {
	return strings.Map(func(r rune) rune {
		// Keep newline, carriage return, and tab
		if r == '\n' || r == '\r' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
}
