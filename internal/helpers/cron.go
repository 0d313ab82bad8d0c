package helpers

import (
	"fmt"
	"time"
)

// EverySpec renders a fixed interval as a robfig/cron descriptor
func EverySpec(d time.Duration) (string, error) {
	if d < time.Second {
		return "", fmt.Errorf("interval too short: %s", d)
	}
	return "@every " + d.String(), nil
}
