package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// FieldError names the config key that failed to parse, e.g.
// "delivery.recipient_interval".
type FieldError struct {
	Path  string
	Value string
	Err   error
}

func (e *FieldError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("%s: %q: %v", e.Path, e.Value, e.Err)
}

func (e *FieldError) Unwrap() error { return e.Err }

// ParseDurationField parses an optional Go duration. Empty means 0.
// A trailing day unit is accepted for retention style values ("90d", "1d12h").
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := parseDays(s)
	if err != nil {
		return 0, &FieldError{Path: path, Value: raw, Err: err}
	}
	if d < 0 {
		return 0, &FieldError{Path: path, Value: raw, Err: fmt.Errorf("must be >= 0")}
	}
	return d, nil
}

func ParseDurationOrDefault(path, raw string, def time.Duration) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil || d > 0 {
		return d, err
	}
	return def, nil
}

// ParseSpacing is for intervals where an explicit zero switches the limit off.
// It returns -1 for "0s", 0 (use the default) for an empty value.
func ParseSpacing(path, raw string) (time.Duration, error) {
	d, err := ParseDurationField(path, raw)
	if err != nil {
		return 0, err
	}
	if d == 0 && strings.TrimSpace(raw) != "" {
		return -1, nil
	}
	return d, nil
}

func parseDays(s string) (time.Duration, error) {
	i := strings.IndexByte(s, 'd')
	if i < 0 {
		return time.ParseDuration(s)
	}
	days, err := strconv.Atoi(s[:i])
	if err != nil {
		return 0, fmt.Errorf("invalid day count %q", s[:i])
	}
	d := time.Duration(days) * 24 * time.Hour
	if rest := s[i+1:]; rest != "" {
		r, err := time.ParseDuration(rest)
		if err != nil {
			return 0, err
		}
		d += r
	}
	return d, nil
}
