package helpers

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration accepts everything time.ParseDuration does plus a whole-day
// suffix: "14d" -> 336h. Mixed forms like "1d12h" are not supported.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if strings.HasSuffix(s, "d") {
		n, err := strconv.Atoi(strings.TrimSuffix(s, "d"))
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return d, nil
}

// ExpiresAt returns created+keep, or nil when keep is zero (kept forever)
func ExpiresAt(created time.Time, keep time.Duration) *time.Time {
	if keep <= 0 {
		return nil
	}
	t := created.Add(keep)
	return &t
}
