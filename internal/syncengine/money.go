package syncengine

import (
	"fmt"
	"strconv"
	"strings"
)

// MaxAmountMinor is the default per-transaction cap (₦10,000,000 in kobo),
// overridable via configuration (offline.tx.max-amount).
const MaxAmountMinor = 10_000_000 * 100

// ParseAmountMinor parses a 2-scale decimal string (as carried on the
// wire) into minor units (kobo). Rejects negative, zero, more than
// two fractional digits, and non-numeric input.
func ParseAmountMinor(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("amount: empty")
	}
	neg := strings.HasPrefix(s, "-")
	if neg {
		return 0, fmt.Errorf("amount: must be positive")
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac {
		if len(frac) > 2 {
			return 0, fmt.Errorf("amount: more than 2 decimal places")
		}
		for len(frac) < 2 {
			frac += "0"
		}
	} else {
		frac = "00"
	}

	wholeVal, err := strconv.ParseInt(whole, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("amount: invalid integer part: %w", err)
	}
	fracVal, err := strconv.ParseInt(frac, 10, 63)
	if err != nil {
		return 0, fmt.Errorf("amount: invalid fractional part: %w", err)
	}

	minor := wholeVal*100 + fracVal
	if minor <= 0 {
		return 0, fmt.Errorf("amount: must be positive")
	}
	return minor, nil
}

// FormatAmountMinor renders minor units back to the wire's 2-scale decimal string.
func FormatAmountMinor(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, minor%100)
}
