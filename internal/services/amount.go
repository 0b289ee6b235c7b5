package services

import (
	"encoding/json"
	"fmt"
	"math"
)

// ValidateAmount accepts only amounts strictly greater than zero.
func ValidateAmount(amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}
	return nil
}

// ParseAmount converts a decoded JSON number into a validated amount.
// Integral spellings like 100.0 are accepted, fractions are not.
func ParseAmount(n json.Number) (int64, error) {
	if v, err := n.Int64(); err == nil {
		return v, ValidateAmount(v)
	}
	f, err := n.Float64()
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) || f != math.Trunc(f) ||
		f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("%w: got %q", ErrInvalidAmount, n.String())
	}
	v := int64(f)
	return v, ValidateAmount(v)
}
