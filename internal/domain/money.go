package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// minorDigits is the number of fractional digits carried on the gateway wire.
const minorDigits = 2

// FormatAmount renders minor units as a decimal string, 20050 -> "200.50".
func FormatAmount(minor int64) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d", sign, minor/100, minor%100)
}

// ParseAmount converts a decimal string into minor units without going through
// floating point. More than two fractional digits is an error.
func ParseAmount(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: empty amount", ErrInvalidInput)
	}
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > minorDigits {
		if strings.Trim(frac[minorDigits:], "0") != "" {
			return 0, fmt.Errorf("%w: amount %q has more than %d decimals", ErrInvalidInput, s, minorDigits)
		}
		frac = frac[:minorDigits]
	}
	frac += strings.Repeat("0", minorDigits-len(frac))

	w, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidInput, s, err)
	}
	f, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: amount %q: %v", ErrInvalidInput, s, err)
	}
	if w < 0 || f < 0 {
		return 0, fmt.Errorf("%w: amount %q is malformed", ErrInvalidInput, s)
	}
	if w > (math.MaxInt64-f)/100 {
		return 0, fmt.Errorf("%w: amount %q is out of range", ErrInvalidInput, s)
	}
	v := w*100 + f
	if neg {
		v = -v
	}
	return v, nil
}

func NormalizeCurrency(c string) string {
	return strings.ToUpper(strings.TrimSpace(c))
}
