package ics

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/emersion/go-ical"
	"github.com/teambition/rrule-go"
)

// Event is the structured view of a VEVENT used by the feed preview API.
// The sync pipelines never use this type; they operate on raw blocks.
type Event struct {
	UID         string    `json:"uid"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	AllDay      bool      `json:"all_day"`
	Recurring   bool      `json:"recurring"`

	rrule    string
	duration time.Duration
}

// ParseCalendar decodes an aggregated calendar blob into preview events.
// Malformed VEVENTs are skipped rather than failing the whole feed.
func ParseCalendar(data []byte) ([]*Event, error) {
	cal, err := ical.NewDecoder(bytes.NewReader(data)).Decode()
	if err != nil {
		return nil, fmt.Errorf("decode calendar: %w", err)
	}
	var events []*Event
	for _, comp := range cal.Children {
		if comp.Name != ical.CompEvent {
			continue
		}
		ev, err := previewEvent(comp)
		if err != nil {
			continue
		}
		events = append(events, ev)
	}
	return events, nil
}

func previewEvent(comp *ical.Component) (*Event, error) {
	ev := &Event{}

	uid := comp.Props.Get(ical.PropUID)
	if uid == nil {
		return nil, fmt.Errorf("missing UID")
	}
	ev.UID = uid.Value

	if p := comp.Props.Get(ical.PropSummary); p != nil {
		ev.Summary = p.Value
	}
	if p := comp.Props.Get(ical.PropDescription); p != nil {
		ev.Description = p.Value
	}
	if p := comp.Props.Get(ical.PropLocation); p != nil {
		ev.Location = p.Value
	}

	dtstart := comp.Props.Get(ical.PropDateTimeStart)
	if dtstart == nil {
		return nil, fmt.Errorf("missing DTSTART")
	}
	start, allDay, err := ParseDateTime(dtstart.Value, dtstart.Params.Get("TZID"))
	if err != nil {
		return nil, fmt.Errorf("invalid DTSTART: %w", err)
	}
	ev.Start = start
	ev.AllDay = allDay

	if dtend := comp.Props.Get(ical.PropDateTimeEnd); dtend != nil {
		end, _, err := ParseDateTime(dtend.Value, dtend.Params.Get("TZID"))
		if err != nil {
			return nil, fmt.Errorf("invalid DTEND: %w", err)
		}
		ev.End = end
	} else if allDay {
		ev.End = start.Add(24 * time.Hour)
	} else {
		ev.End = start
	}
	ev.duration = ev.End.Sub(ev.Start)

	if p := comp.Props.Get(ical.PropRecurrenceRule); p != nil {
		ev.rrule = p.Value
		ev.Recurring = true
	}
	return ev, nil
}

// ExpandRecurrences flattens events into the concrete occurrences that
// overlap [rangeStart, rangeEnd), sorted by start time. Recurring events are
// expanded through their RRULE; events that fail to expand are skipped.
func ExpandRecurrences(events []*Event, rangeStart, rangeEnd time.Time) []*Event {
	var out []*Event
	for _, ev := range events {
		if !ev.Recurring {
			if ev.Start.Before(rangeEnd) && ev.End.After(rangeStart) {
				out = append(out, ev)
			}
			continue
		}
		rule, err := rrule.StrToRRule("DTSTART:" + ev.Start.UTC().Format("20060102T150405Z") + "\nRRULE:" + ev.rrule)
		if err != nil {
			continue
		}
		for _, occ := range rule.Between(rangeStart.Add(-ev.duration), rangeEnd, true) {
			inst := *ev
			inst.Start = occ
			inst.End = occ.Add(ev.duration)
			inst.Recurring = false
			if inst.Start.Before(rangeEnd) && inst.End.After(rangeStart) {
				out = append(out, &inst)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out
}
