package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDurationField parses a Go duration string. Empty means zero.
// Errors carry the field path so they can be reported as-is.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", path, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: duration must be >= 0", path)
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return def, nil
	}
	return d, nil
}

// secondsOrDuration normalizes env values that may be plain seconds ("15")
// into Go duration strings ("15s").
func secondsOrDuration(name, raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", nil
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		if n < 0 {
			return "", fmt.Errorf("%s: must be >= 0", name)
		}
		return (time.Duration(n * float64(time.Second))).String(), nil
	}
	if _, err := time.ParseDuration(s); err != nil {
		return "", fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	return s, nil
}
