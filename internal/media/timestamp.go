package media

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseTimestamp converts a human timestamp to seconds. Accepted
// forms: plain seconds ("90", "12.5"), "MM:SS", and "HH:MM:SS" with an
// optional fractional seconds part. An empty string means "no seek"
// and returns (0, false, nil).
func ParseTimestamp(s string) (seconds float64, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false, fmt.Errorf("invalid timestamp %q", s)
	}

	if len(parts) == 1 {
		v, err := strconv.ParseFloat(parts[0], 64)
		if err != nil || v < 0 {
			return 0, false, fmt.Errorf("invalid timestamp %q", s)
		}
		return v, true, nil
	}

	// Leading components are whole numbers; only the final seconds
	// component may carry a fraction.
	var total float64
	for i, p := range parts {
		last := i == len(parts)-1
		if last {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil || v < 0 || v >= 60 {
				return 0, false, fmt.Errorf("invalid timestamp %q", s)
			}
			total = total*60 + v
			continue
		}
		v, err := strconv.Atoi(p)
		if err != nil || v < 0 {
			return 0, false, fmt.Errorf("invalid timestamp %q", s)
		}
		if i > 0 && v >= 60 {
			return 0, false, fmt.Errorf("invalid timestamp %q", s)
		}
		total = total*60 + float64(v)
	}
	return total, true, nil
}

// FormatTimestamp renders seconds as "MM:SS" or "H:MM:SS" for display.
func FormatTimestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	sec := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
