// Package resources converts between human-readable byte quantities and
// byte counts.
package resources

import (
	"fmt"
	"strings"

	units "github.com/docker/go-units"
)

// ParseSize converts textual sizes like "512Mi", "10MiB" or "4096" into bytes.
// Suffixes are binary. An empty value is zero.
func ParseSize(value string) (int64, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, nil
	}
	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasSuffix(lower, "kib"), strings.HasSuffix(lower, "mib"), strings.HasSuffix(lower, "gib"), strings.HasSuffix(lower, "tib"), strings.HasSuffix(lower, "pib"):
	case strings.HasSuffix(lower, "ki"), strings.HasSuffix(lower, "mi"), strings.HasSuffix(lower, "gi"), strings.HasSuffix(lower, "ti"), strings.HasSuffix(lower, "pi"):
		trimmed += "B"
	}
	bytes, err := units.RAMInBytes(trimmed)
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", value, err)
	}
	if bytes < 0 {
		return 0, fmt.Errorf("invalid size %q: must not be negative", value)
	}
	return bytes, nil
}

// FormatSize renders n with a binary suffix, e.g. "3MiB" or "1.5GiB".
func FormatSize(n uint64) string {
	return units.BytesSize(float64(n))
}
