package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sosodev/duration"
)

// ParseISODuration converts an ISO-8601 duration ("PT4M13S") to minutes.
// An empty string is treated as zero, matching sources that omit the field.
func ParseISODuration(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	d, err := duration.Parse(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrInvalidDuration, s, err)
	}
	minutes := d.ToTimeDuration().Minutes()
	if minutes < 0 {
		return 0, fmt.Errorf("%w: %q is negative", ErrInvalidDuration, s)
	}
	return RoundMinutes(minutes), nil
}

// RoundMinutes rounds to two decimal places.
func RoundMinutes(m float64) float64 {
	return decimal.NewFromFloat(m).Round(2).InexactFloat64()
}

// SumMinutes adds minute values in decimal space and rounds the result,
// so repeated recomputation of the same set yields the same float.
func SumMinutes(values ...float64) float64 {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(decimal.NewFromFloat(v))
	}
	return sum.Round(2).InexactFloat64()
}
