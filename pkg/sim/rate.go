// Request rates for driving the simulated model
// Parses "10/s", "5/m" and "100/h" into a count per period
package sim

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Rate is a number of requests per period.
type Rate struct {
	count  int
	period time.Duration
}

// ParseRate parses "N/unit" where unit is s, m or h.
func ParseRate(s string) (Rate, error) {
	countStr, unit, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Rate{}, fmt.Errorf("invalid rate %q (expected 'N/unit')", s)
	}

	count, err := strconv.Atoi(strings.TrimSpace(countStr))
	if err != nil {
		return Rate{}, fmt.Errorf("invalid rate count: %w", err)
	}
	if count <= 0 || count > 10000 {
		return Rate{}, fmt.Errorf("rate count must be between 1 and 10000")
	}

	var period time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "s", "sec", "second", "seconds":
		period = time.Second
	case "m", "min", "minute", "minutes":
		period = time.Minute
	case "h", "hour", "hours":
		period = time.Hour
	default:
		return Rate{}, fmt.Errorf("unsupported rate unit %q, supported units: s, m, h", unit)
	}
	return Rate{count: count, period: period}, nil
}

// Count returns the number of requests per period.
func (r Rate) Count() int {
	return r.count
}

// Period returns the period.
func (r Rate) Period() time.Duration {
	return r.period
}

// Interval returns the gap between consecutive requests, or zero for an unset rate.
func (r Rate) Interval() time.Duration {
	if r.count == 0 {
		return 0
	}
	return r.period / time.Duration(r.count)
}

func (r Rate) String() string {
	if r.count == 0 {
		return "unlimited"
	}
	unit := map[time.Duration]string{time.Second: "s", time.Minute: "m", time.Hour: "h"}[r.period]
	return fmt.Sprintf("%d/%s", r.count, unit)
}
