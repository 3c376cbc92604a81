package tracker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var offsetRx = regexp.MustCompile(`^([+-])(\d{2}):?(\d{2})$`)

// ParseTZ accepts an IANA name ("Europe/Moscow", "UTC") or a fixed offset ("+0300", "-05:30").
func ParseTZ(s string) (*time.Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty timezone")
	}
	if m := offsetRx.FindStringSubmatch(s); m != nil {
		h, _ := strconv.Atoi(m[2])
		mm, _ := strconv.Atoi(m[3])
		if h > 14 || mm > 59 {
			return nil, fmt.Errorf("offset out of range: %s", s)
		}
		secs := h*3600 + mm*60
		if m[1] == "-" {
			secs = -secs
		}
		return time.FixedZone(m[1]+m[2]+m[3], secs), nil
	}
	loc, err := time.LoadLocation(s)
	if err != nil {
		return nil, fmt.Errorf("unknown timezone %q: %w", s, err)
	}
	return loc, nil
}

// parseClock splits a canonical "HH:MM".
func parseClock(hm string) (int, int, error) {
	t, err := time.Parse("15:04", hm)
	if err != nil {
		return 0, 0, err
	}
	return t.Hour(), t.Minute(), nil
}

// LocalToUTC converts a wall-clock "HH:MM" in loc to the UTC "HH:MM" it falls on
// today. Zones with DST therefore resolve against the current offset.
func LocalToUTC(hm string, loc *time.Location, now time.Time) (string, error) {
	h, m, err := parseClock(hm)
	if err != nil {
		return "", err
	}
	d := now.In(loc)
	t := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, loc)
	return t.UTC().Format("15:04"), nil
}

// UTCToLocal is the inverse of LocalToUTC, used for display.
func UTCToLocal(hm string, loc *time.Location, now time.Time) (string, error) {
	h, m, err := parseClock(hm)
	if err != nil {
		return "", err
	}
	d := now.UTC()
	t := time.Date(d.Year(), d.Month(), d.Day(), h, m, 0, 0, time.UTC)
	return t.In(loc).Format("15:04"), nil
}
