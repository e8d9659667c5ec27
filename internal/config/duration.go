package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ParseDurationField parses a non-negative duration string. Empty is zero.
func ParseDurationField(path, raw string) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, errors.Wrapf(err, "%s: invalid duration %q", path, raw)
	}
	if d < 0 {
		return 0, errors.Newf("%s: duration must be >= 0", path)
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

// durationIn parses raw and checks it against [min, max]. Empty passes.
func durationIn(path, raw string, min, max time.Duration) error {
	d, err := ParseDurationField(path, raw)
	if err != nil || d == 0 {
		return err
	}
	if d < min || d > max {
		return errors.Newf("%s: %s is outside %s..%s", path, d, min, max)
	}
	return nil
}
