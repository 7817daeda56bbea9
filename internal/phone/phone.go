// Package phone normalizes and validates subscriber numbers. Only Iranian
// mobile numbers in E.164 form (+98 followed by ten digits) are accepted.
package phone

import (
	"errors"
	"regexp"
	"strings"
)

const (
	CountryCode = "+98"
	// canonicalLength is len("+98") plus ten subscriber digits.
	canonicalLength = 13
)

var (
	e164Pattern = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	separators  = strings.NewReplacer(" ", "", "\t", "", "\n", "", "\r", "", "-", "", "(", "", ")", "")
)

// ErrInvalidPhone is the sentinel every validation failure unwraps to.
var ErrInvalidPhone = errors.New("invalid phone number")

// ValidationError carries a message that is safe to show to the caller.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }
func (e *ValidationError) Unwrap() error { return ErrInvalidPhone }

// Number is a normalized, validated phone number. The zero value is not a
// valid number; construct with Parse.
type Number struct {
	value string
}

func (n Number) String() string { return n.value }
func (n Number) IsZero() bool   { return n.value == "" }

// Normalize strips whitespace and separators. Numbers without a leading '+'
// are treated as local: one leading zero is dropped and the country code is
// prefixed. The result is not validated.
func Normalize(raw string) string {
	n := separators.Replace(strings.TrimSpace(raw))
	if n == "" || strings.HasPrefix(n, "+") {
		return n
	}
	n = strings.TrimPrefix(n, "0")
	return CountryCode + n
}

// Parse normalizes raw and validates the result.
func Parse(raw string) (Number, error) {
	if strings.TrimSpace(raw) == "" {
		return Number{}, &ValidationError{Message: "Phone number is required"}
	}

	n := Normalize(raw)
	if !e164Pattern.MatchString(n) {
		return Number{}, &ValidationError{Message: "Phone number must be in E.164 format (e.g., +989123456789)"}
	}
	if !strings.HasPrefix(n, CountryCode) {
		return Number{}, &ValidationError{Message: "Only Iran phone numbers (+98) are supported"}
	}
	if len(n) != canonicalLength {
		return Number{}, &ValidationError{Message: "Iran phone number must be 10 digits after country code (e.g., +989123456789)"}
	}

	return Number{value: n}, nil
}

// IsValid reports whether raw parses.
func IsValid(raw string) bool {
	_, err := Parse(raw)
	return err == nil
}

// MustParse panics on invalid input. Use only in tests.
func MustParse(raw string) Number {
	n, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return n
}
