package parser

import (
	"errors"
	"math"
	"testing"
)

func TestParsePrice(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want float64
	}{
		{"R$ 21.700,00", 21700.00},
		{"460,50", 460.50},
		{"1.234.567", 1234567},
		{"4.500", 4500},     // three trailing digits: grouping
		{"4.50", 4.50},      // two trailing digits: decimal
		{"4,5", 4.5},        // one trailing digit: decimal
		{"1,234.56", 1234.56}, // both separators, dot rightmost
		{"2100", 2100},
		{" R$  999,90 ", 999.90},
	}

	for _, tc := range cases {
		got, err := ParsePrice(tc.in)
		if err != nil {
			t.Errorf("ParsePrice(%q) error: %v", tc.in, err)
			continue
		}
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("ParsePrice(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParsePriceRejects(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "abc", "0", "0,00", "-10", "R$ -5,00", "99999999"} {
		if _, err := ParsePrice(in); !errors.Is(err, ErrBadPrice) {
			t.Errorf("ParsePrice(%q) expected ErrBadPrice, got %v", in, err)
		}
	}
}
