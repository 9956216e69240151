package staticfeed

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseClock parses an HH:MM[:SS] time of day into seconds. Hours may exceed
// 23. Anything after the seconds, such as a zone offset, is ignored.
func ParseClock(v string) (int, error) {
	v = strings.TrimSpace(v)
	if len(v) > 8 && (v[8] == '+' || v[8] == '-' || v[8] == 'Z' || v[8] == '.') {
		v = v[:8]
	}
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	var n [3]int
	for i, p := range parts {
		x, err := strconv.Atoi(p)
		if err != nil || x < 0 {
			return 0, fmt.Errorf("invalid time %q", v)
		}
		n[i] = x
	}
	if n[1] > 59 || n[2] > 59 {
		return 0, fmt.Errorf("invalid time %q", v)
	}
	return n[0]*3600 + n[1]*60 + n[2], nil
}

// FormatClock renders seconds since service-day start as HH:MM:SS.
func FormatClock(secs int) string {
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs/60%60, secs%60)
}
