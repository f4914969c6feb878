package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseField parses a required Go duration string, naming the config field
// in the error so hot-reload rejections are actionable.
func ParseField(name, raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, fmt.Errorf("%s: empty duration", name)
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", name, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s: negative duration %q", name, raw)
	}
	return d, nil
}

// ParseFieldOrDefault is ParseField with a fallback for empty values.
func ParseFieldOrDefault(name, raw string, def time.Duration) (time.Duration, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}
	return ParseField(name, raw)
}
