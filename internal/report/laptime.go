package report

import (
	"strconv"
	"strings"
)

// maxSectorMillis is the exclusive upper bound for a believable sector time.
const maxSectorMillis = 3600 * 1000

// maxLeadingField bounds the first field of a lap time so the conversion to
// milliseconds cannot overflow.
const maxLeadingField = 99999

// ParseLapTime converts "m:ss.sss", "h:mm:ss.sss" or "ss.sss" to
// milliseconds. ok is false for anything else, including zero.
func ParseLapTime(s string) (ms int64, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}

	secMillis, ok := parseSeconds(parts[len(parts)-1], len(parts) > 1)
	if !ok {
		return 0, false
	}

	var total int64
	for i, p := range parts[:len(parts)-1] {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil || n < 0 || n > maxLeadingField {
			return 0, false
		}
		// Minutes under an hour field are bounded like seconds.
		if len(parts) == 3 && i == 1 && n >= 60 {
			return 0, false
		}
		total = total*60 + n
	}

	total = total*60*1000 + secMillis
	if total <= 0 {
		return 0, false
	}
	return total, true
}

// parseSeconds reads "ss", "ss.s", "ss.sss" (extra digits truncated).
// bounded rejects values of 60 seconds or more.
func parseSeconds(s string, bounded bool) (int64, bool) {
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		return 0, false
	}
	sec, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || sec < 0 || (bounded && sec >= 60) || sec > maxLeadingField {
		return 0, false
	}

	var millis int64
	if frac != "" {
		if len(frac) > 3 {
			frac = frac[:3]
		}
		for len(frac) < 3 {
			frac += "0"
		}
		m, err := strconv.ParseInt(frac, 10, 64)
		if err != nil || m < 0 {
			return 0, false
		}
		millis = m
	}
	return sec*1000 + millis, true
}

// ParseSector converts a sector time to milliseconds. Blank cells, values
// starting with five or more digits and anything of an hour or more are
// treated as absent.
func ParseSector(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" || leadingDigits(s) >= 5 {
		return nil
	}
	ms, ok := ParseLapTime(s)
	if !ok || ms >= maxSectorMillis {
		return nil
	}
	return &ms
}

func leadingDigits(s string) int {
	n := 0
	for n < len(s) && s[n] >= '0' && s[n] <= '9' {
		n++
	}
	return n
}

// ParseSpeed reads a speed in km/h, accepting a decimal comma.
func ParseSpeed(s string) *float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v <= 0 {
		return nil
	}
	return &v
}

// ParseElapsed reads the session clock; unlike sectors it may exceed an hour.
func ParseElapsed(s string) *int64 {
	ms, ok := ParseLapTime(s)
	if !ok {
		return nil
	}
	return &ms
}
