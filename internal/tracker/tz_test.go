package tracker

import (
	"testing"
	"time"
)

func TestParseTZ(t *testing.T) {
	cases := []struct {
		in      string
		offset  int
		wantErr bool
	}{
		{"+0300", 3 * 3600, false},
		{"-05:30", -(5*3600 + 30*60), false},
		{"UTC", 0, false},
		{"", 0, true},
		{"+2500", 0, true},
		{"Nowhere/City", 0, true},
	}
	for _, c := range cases {
		loc, err := ParseTZ(c.in)
		if c.wantErr {
			if err == nil {
				t.Errorf("ParseTZ(%q) expected error", c.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseTZ(%q): %v", c.in, err)
			continue
		}
		if _, off := monday.In(loc).Zone(); off != c.offset {
			t.Errorf("ParseTZ(%q) offset = %d, want %d", c.in, off, c.offset)
		}
	}
}

func TestLocalToUTC(t *testing.T) {
	cases := []struct {
		local, tz, want string
	}{
		{"09:00", "+0300", "06:00"},
		{"01:30", "+0300", "22:30"},
		{"23:45", "-05:30", "05:15"},
		{"12:00", "UTC", "12:00"},
	}
	for _, c := range cases {
		loc, _ := ParseTZ(c.tz)
		got, err := LocalToUTC(c.local, loc, monday)
		if err != nil {
			t.Fatal(err)
		}
		if got != c.want {
			t.Errorf("LocalToUTC(%s, %s) = %s, want %s", c.local, c.tz, got, c.want)
		}
		back, _ := UTCToLocal(got, loc, monday)
		if back != c.local {
			t.Errorf("UTCToLocal(%s, %s) = %s, want %s", got, c.tz, back, c.local)
		}
	}
}

func TestLocalToUTCFollowsCurrentDSTOffset(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	summer := time.Date(2026, 7, 1, 12, 0, 0, 0, time.UTC)
	winter := time.Date(2026, 12, 1, 12, 0, 0, 0, time.UTC)
	if got, _ := LocalToUTC("09:00", loc, summer); got != "07:00" {
		t.Errorf("summer = %s", got)
	}
	if got, _ := LocalToUTC("09:00", loc, winter); got != "08:00" {
		t.Errorf("winter = %s", got)
	}
}
