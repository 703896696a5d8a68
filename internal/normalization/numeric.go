package normalization

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Magnitude suffixes as decimal exponents. Matching is case-sensitive and
// only a single trailing suffix is recognized.
var suffixExponents = map[byte]int32{
	'K': 3,
	'M': 6,
	'B': 9,
	'T': 12,
}

// maxExponent bounds scientific notation so that conversion stays cheap.
const maxExponent = 400

var (
	// ErrMalformedNumber is returned when text does not parse as a decimal number.
	ErrMalformedNumber = errors.New("malformed number")

	// ErrOutOfRange is returned when a number does not fit a float64.
	ErrOutOfRange = errors.New("number out of range")
)

var magnitudeCleaner = strings.NewReplacer("$", "", ",", "")

// FieldParseWarning reports a field that failed numeric normalization.
// It is non-fatal: the field value defaults to 0.
type FieldParseWarning struct {
	Field   string // set by the caller, empty when unknown
	Raw     string // input as received
	Cleaned string // input after symbol and separator removal
	Err     error
}

func (w *FieldParseWarning) Error() string {
	if w.Field != "" {
		return fmt.Sprintf("parse %s: %q (cleaned to %q): %v", w.Field, w.Raw, w.Cleaned, w.Err)
	}
	return fmt.Sprintf("parse %q (cleaned to %q): %v", w.Raw, w.Cleaned, w.Err)
}

func (w *FieldParseWarning) Unwrap() error {
	return w.Err
}

// ParseMagnitude converts abbreviated currency text such as "$52.0M",
// "19.4K" or "1,234.56" into a float64.
//
// Empty or whitespace-only text yields 0 with no warning. Text that does not
// parse yields 0 and a warning; it never panics.
func ParseMagnitude(text string) (float64, *FieldParseWarning) {
	cleaned := strings.TrimSpace(magnitudeCleaner.Replace(text))
	if cleaned == "" {
		return 0, nil
	}

	var shift int32
	if exp, ok := suffixExponents[cleaned[len(cleaned)-1]]; ok {
		shift = exp
		cleaned = strings.TrimSpace(cleaned[:len(cleaned)-1])
	}

	d, err := parseDecimal(cleaned)
	if err != nil {
		return 0, &FieldParseWarning{Raw: text, Cleaned: cleaned, Err: err}
	}

	f, err := toFloat(d.Shift(shift))
	if err != nil {
		return 0, &FieldParseWarning{Raw: text, Cleaned: cleaned, Err: err}
	}
	return f, nil
}

// ParsePercent converts percentage text such as "-3.25%" or "1,000%" into a
// float64. Magnitude suffixes do not apply. Empty text yields 0.
func ParsePercent(text string) (float64, *FieldParseWarning) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0, nil
	}

	cleaned := strings.TrimSpace(strings.ReplaceAll(strings.TrimSuffix(trimmed, "%"), ",", ""))

	d, err := parseDecimal(cleaned)
	if err != nil {
		return 0, &FieldParseWarning{Raw: text, Cleaned: cleaned, Err: err}
	}

	f, err := toFloat(d)
	if err != nil {
		return 0, &FieldParseWarning{Raw: text, Cleaned: cleaned, Err: err}
	}
	return f, nil
}

// parseDecimal accepts an optionally signed decimal with optional exponent.
// NaN, Inf, hex and digit separators are rejected.
func parseDecimal(s string) (decimal.Decimal, error) {
	unsigned := strings.TrimPrefix(s, "+")
	if unsigned == "" || strings.HasPrefix(unsigned, "+") || strings.HasPrefix(unsigned, "-+") {
		return decimal.Zero, ErrMalformedNumber
	}

	d, err := decimal.NewFromString(unsigned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", ErrMalformedNumber, err)
	}
	if exp := d.Exponent(); exp > maxExponent || exp < -maxExponent {
		return decimal.Zero, ErrOutOfRange
	}
	return d, nil
}

func toFloat(d decimal.Decimal) (float64, error) {
	f, _ := d.Float64()
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, ErrOutOfRange
	}
	return f, nil
}
