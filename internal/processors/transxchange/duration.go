package transxchange

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration parses the subset of ISO 8601 durations TransXChange uses
// for run and wait times: PnDTnHnMnS with optional fractional seconds.
// Years, months and weeks are rejected since they have no fixed length.
func ParseDuration(v string) (time.Duration, error) {
	s := strings.TrimSpace(v)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	if !strings.HasPrefix(s, "P") || len(s) < 2 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}
	s = s[1:]

	var total time.Duration
	components := 0
	inTime := false
	num := ""
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9', c == '.', c == ',':
			num += string(c)
			continue
		case c == 'T':
			if inTime || num != "" {
				return 0, fmt.Errorf("invalid duration %q", v)
			}
			inTime = true
			continue
		}

		if num == "" {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		f, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", v)
		}
		num = ""

		var unit time.Duration
		switch {
		case c == 'D' && !inTime:
			unit = 24 * time.Hour
		case c == 'H' && inTime:
			unit = time.Hour
		case c == 'M' && inTime:
			unit = time.Minute
		case c == 'S' && inTime:
			unit = time.Second
		default:
			return 0, fmt.Errorf("unsupported duration %q", v)
		}
		total += time.Duration(f * float64(unit))
		components++
	}
	if num != "" || components == 0 {
		return 0, fmt.Errorf("invalid duration %q", v)
	}

	if neg {
		total = -total
	}
	return total, nil
}
