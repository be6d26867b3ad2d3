package ics

import (
	"fmt"
	"strings"
	"time"
)

// ParseDateTime parses an iCalendar DATE or DATE-TIME value.
//
//	YYYYMMDD          date, allDay=true
//	YYYYMMDDTHHMMSS   floating local time
//	YYYYMMDDTHHMMSSZ  UTC
//
// A floating time with a TZID parameter is converted to UTC through the tz
// database. Unknown zones fall back to reading the value as naive UTC, as
// does a local time that falls into a DST gap; a bad timezone never makes an
// event unparseable.
func ParseDateTime(value, tzid string) (t time.Time, allDay bool, err error) {
	value = strings.TrimSpace(value)
	switch {
	case len(value) == 8:
		t, err = time.Parse("20060102", value)
		return t, true, err
	case len(value) == 16 && strings.HasSuffix(value, "Z"):
		t, err = time.Parse("20060102T150405Z", value)
		return t, false, err
	case len(value) == 15:
		naive, perr := time.Parse("20060102T150405", value)
		if perr != nil {
			return time.Time{}, false, perr
		}
		if tzid == "" {
			return naive, false, nil
		}
		loc, lerr := time.LoadLocation(tzid)
		if lerr != nil {
			return naive.UTC(), false, nil
		}
		local, perr := time.ParseInLocation("20060102T150405", value, loc)
		if perr != nil || local.Format("20060102T150405") != value {
			// Nonexistent local time (spring-forward gap).
			return naive.UTC(), false, nil
		}
		return local.UTC(), false, nil
	default:
		return time.Time{}, false, fmt.Errorf("unrecognized date-time value %q", value)
	}
}

// propLine finds the first unfolded line of a VEVENT block carrying the named
// property (NAME followed by ':' or ';') and splits it into the TZID
// parameter, if any, and the value.
func propLine(block, name string) (value, tzid string, ok bool) {
	for _, line := range splitLines(Unfold(block)) {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, name) || len(line) <= len(name) {
			continue
		}
		if c := line[len(name)]; c != ':' && c != ';' {
			continue
		}
		colon := strings.Index(line, ":")
		if colon < 0 {
			continue
		}
		head, val := line[:colon], line[colon+1:]
		for _, param := range strings.Split(head, ";")[1:] {
			if v, found := strings.CutPrefix(param, "TZID="); found {
				tzid = v
			}
		}
		return val, tzid, true
	}
	return "", "", false
}

// IsFuture reports whether a VEVENT's effective end (DTEND, else DTSTART) is
// strictly in the future relative to now. Date-only values compare as dates
// in now's location; date-times compare as instants in UTC. Events without a
// parseable end are treated as future so that a parsing quirk never silently
// drops an event.
func IsFuture(block string, now time.Time) bool {
	value, tzid, ok := propLine(block, "DTEND")
	if !ok {
		value, tzid, ok = propLine(block, "DTSTART")
	}
	if !ok {
		return true
	}
	end, allDay, err := ParseDateTime(value, tzid)
	if err != nil {
		return true
	}
	if allDay {
		y, m, d := now.Date()
		today := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		endDay := time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)
		return endDay.After(today)
	}
	return end.After(now.UTC())
}

// GroupHasFuture reports whether any block of a UID group is future. One
// upcoming override keeps the whole recurring event in scope.
func GroupHasFuture(blocks []string, now time.Time) bool {
	for _, b := range blocks {
		if IsFuture(b, now) {
			return true
		}
	}
	return false
}
