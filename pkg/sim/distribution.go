// Latency distributions for the simulated model
// Parses the "30ms +/- 10ms" form and samples a normal distribution clamped at zero
package sim

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Distribution is a latency with optional spread.
type Distribution struct {
	Mean   time.Duration
	StdDev time.Duration
}

// ParseDistribution parses "30ms +/- 10ms", "30ms ± 10ms" or a fixed "50ms".
// An empty string is a zero latency.
func ParseDistribution(s string) (Distribution, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Distribution{}, nil
	}

	meanStr, stddevStr, spread := strings.Cut(s, "+/-")
	if !spread {
		meanStr, stddevStr, spread = strings.Cut(s, "±")
	}

	mean, err := time.ParseDuration(strings.TrimSpace(meanStr))
	if err != nil {
		return Distribution{}, fmt.Errorf("invalid mean duration: %w", err)
	}
	if mean < 0 {
		return Distribution{}, fmt.Errorf("mean duration must not be negative")
	}
	if !spread {
		return Distribution{Mean: mean}, nil
	}

	stddev, err := time.ParseDuration(strings.TrimSpace(stddevStr))
	if err != nil {
		return Distribution{}, fmt.Errorf("invalid stddev duration: %w", err)
	}
	if stddev < 0 {
		return Distribution{}, fmt.Errorf("stddev must not be negative")
	}
	return Distribution{Mean: mean, StdDev: stddev}, nil
}

// Sample draws a latency, never negative.
func (d Distribution) Sample(rng *rand.Rand) time.Duration {
	if d.StdDev == 0 {
		return d.Mean
	}
	return time.Duration(max(0, float64(d.Mean)+rng.NormFloat64()*float64(d.StdDev)))
}

func (d Distribution) String() string {
	if d.StdDev == 0 {
		return d.Mean.String()
	}
	return fmt.Sprintf("%s +/- %s", d.Mean, d.StdDev)
}

// UnmarshalYAML lets scenarios write distributions as plain strings.
func (d *Distribution) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := ParseDistribution(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
