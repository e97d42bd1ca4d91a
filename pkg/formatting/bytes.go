// Package formatting provides model-output recovery and value
// formatting helpers shared across the pipeline stages.
package formatting

import (
	"fmt"
	"strconv"
	"strings"
)

// base-1024 units, largest the pipeline can meaningfully encounter
var byteUnits = []string{"B", "KB", "MB", "GB", "TB", "PB"}

// FormatBytes renders a byte count with base-1024 units, e.g.
// 1536 -> "1.5 KB". Negative precision is clamped to zero.
func FormatBytes(n int64, precision int) string {
	if n == 0 {
		return "0 B"
	}
	if precision < 0 {
		precision = 0
	}

	size := float64(n)
	unit := 0
	for size >= 1024 && unit < len(byteUnits)-1 {
		size /= 1024
		unit++
	}

	return strconv.FormatFloat(size, 'f', precision, 64) + " " + byteUnits[unit]
}

// ParseBytes converts a size string such as "4.5 MB" or "512kb" into a
// byte count. Unit matching is case-insensitive, the space before the
// unit is optional, and a bare number is taken as bytes.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty size")
	}

	split := len(s)
	for split > 0 {
		c := s[split-1]
		if c >= '0' && c <= '9' || c == '.' {
			break
		}
		split--
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(s[:split]), 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid size %q", s)
	}

	unit := strings.ToUpper(strings.TrimSpace(s[split:]))
	if unit == "" {
		return int64(value), nil
	}
	for _, known := range byteUnits {
		if unit == known {
			return int64(value), nil
		}
		value *= 1024
	}
	return 0, fmt.Errorf("unknown size unit %q", unit)
}
