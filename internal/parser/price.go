package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"PriceWatch/internal/domain"
)

// ErrBadPrice marks a value that cannot become a sane positive price.
// Records carrying one are dropped, never defaulted to zero.
var ErrBadPrice = errors.New("unparseable price")

// ParsePrice converts a source-locale price string into a float. The source
// mixes grouping and decimal separators: when both appear the left one is
// grouping and the right one decimal; with a single separator, exactly two
// trailing digits mean decimal and exactly three mean grouping.
func ParsePrice(raw string) (float64, error) {
	cleaned := stripNonNumeric(raw)
	if cleaned == "" {
		return 0, fmt.Errorf("%w: %q", ErrBadPrice, raw)
	}

	normalized := normalizeSeparators(cleaned)
	value, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadPrice, raw)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return 0, fmt.Errorf("%w: %q", ErrBadPrice, raw)
	}
	if value <= 0 || value > domain.MaxSanePrice {
		return 0, fmt.Errorf("%w: %q out of range", ErrBadPrice, raw)
	}
	return value, nil
}

func stripNonNumeric(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' || r == '-' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func normalizeSeparators(s string) string {
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		// Both present: the rightmost is the decimal separator.
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		return resolveSingle(s, ",", lastComma, strings.Count(s, ","))
	case lastDot >= 0:
		return resolveSingle(s, ".", lastDot, strings.Count(s, "."))
	default:
		return s
	}
}

func resolveSingle(s, sep string, lastIdx, count int) string {
	if count > 1 {
		// Repeated separators can only be grouping, e.g. "1.234.567".
		return strings.ReplaceAll(s, sep, "")
	}
	trailing := len(s) - lastIdx - 1
	if trailing == 3 {
		return strings.ReplaceAll(s, sep, "")
	}
	return strings.Replace(s, sep, ".", 1)
}
