// Package ics implements the line-level iCalendar handling the sync engine is
// built on. The bridge diffs raw VEVENT text instead of parsed components so
// that properties it does not understand survive a round trip byte for byte;
// parsing happens only where a decision needs it (see time.go and preview.go).
package ics

import (
	"sort"
	"strings"
)

// CRLF is the RFC 5545 wire line terminator.
const CRLF = "\r\n"

// ProdID identifies calendars generated by this service.
const ProdID = "-//CalDAV/ICS Sync//EN"

// Server-managed properties that change on every write without the event
// itself changing. Normalization drops them so equality is semantic.
var volatileProps = [...]string{"DTSTAMP", "SEQUENCE", "LAST-MODIFIED", "CREATED"}

// splitLines splits on LF, tolerating CRLF, the way the wire data mixes both.
// A trailing terminator does not produce a final empty line.
func splitLines(text string) []string {
	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSuffix(l, "\r")
	}
	if n := len(lines); n > 0 && lines[n-1] == "" {
		lines = lines[:n-1]
	}
	return lines
}

// Unfold joins RFC 5545 folded lines: a line starting with a single space or
// horizontal tab continues the previous line, with exactly that one byte
// removed. Further leading whitespace is content and is preserved.
func Unfold(text string) string {
	var out []string
	for _, line := range splitLines(text) {
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') && len(out) > 0 {
			out[len(out)-1] += line[1:]
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

func isVolatile(line string) bool {
	for _, p := range volatileProps {
		if len(line) > len(p) && strings.HasPrefix(line, p) {
			switch line[len(p)] {
			case ':', ';':
				return true
			}
		}
	}
	return false
}

// Normalize reduces a VEVENT block to its comparable form: unfold, trim each
// line, drop empties and volatile properties, sort lexicographically.
func Normalize(vevent string) []string {
	var lines []string
	for _, line := range splitLines(Unfold(vevent)) {
		line = strings.TrimSpace(line)
		if line == "" || isVolatile(line) {
			continue
		}
		lines = append(lines, line)
	}
	sort.Strings(lines)
	return lines
}

// EventsEqual reports whether two VEVENT blocks are semantically identical,
// ignoring folding, line order, surrounding whitespace and volatile fields.
func EventsEqual(a, b string) bool {
	na, nb := Normalize(a), Normalize(b)
	if len(na) != len(nb) {
		return false
	}
	for i := range na {
		if na[i] != nb[i] {
			return false
		}
	}
	return true
}

// GroupsEqual compares two groups of VEVENT blocks sharing a UID (a recurring
// event with overrides yields several blocks). Groups are equal iff they have
// the same number of blocks and the same multiset of normalized blocks.
func GroupsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	ka := make([]string, len(a))
	kb := make([]string, len(b))
	for i := range a {
		ka[i] = strings.Join(Normalize(a[i]), "\n")
		kb[i] = strings.Join(Normalize(b[i]), "\n")
	}
	sort.Strings(ka)
	sort.Strings(kb)
	for i := range ka {
		if ka[i] != kb[i] {
			return false
		}
	}
	return true
}

// Feed is the event-level view of an iCalendar stream.
type Feed struct {
	// UIDs in order of first appearance. Iterating the feed in this order
	// keeps upload behavior stable across runs.
	UIDs []string
	// Events maps UID to its VEVENT blocks, verbatim except for line
	// terminators, which are rewritten to CRLF. Source order is preserved
	// within a group.
	Events map[string][]string
	// Timezones holds VTIMEZONE blocks verbatim, re-emitted into every
	// calendar object built from this feed.
	Timezones []string
}

// ParseFeed scans an iCalendar stream for VEVENT and VTIMEZONE blocks. It is
// deliberately not a full parser: blocks are kept as raw text and only the
// UID property is read, so anything else survives untouched.
func ParseFeed(text string) *Feed {
	f := &Feed{Events: make(map[string][]string)}
	var block strings.Builder
	var uid string
	inEvent, inTimezone := false, false

	for _, line := range splitLines(text) {
		switch {
		case strings.HasPrefix(line, "BEGIN:VEVENT"):
			inEvent = true
			uid = ""
			block.Reset()
			block.WriteString(line)
			block.WriteString(CRLF)
		case strings.HasPrefix(line, "END:VEVENT") && inEvent:
			block.WriteString(line)
			block.WriteString(CRLF)
			inEvent = false
			if uid != "" {
				if _, seen := f.Events[uid]; !seen {
					f.UIDs = append(f.UIDs, uid)
				}
				f.Events[uid] = append(f.Events[uid], block.String())
			}
		case strings.HasPrefix(line, "BEGIN:VTIMEZONE"):
			inTimezone = true
			block.Reset()
			block.WriteString(line)
			block.WriteString(CRLF)
		case strings.HasPrefix(line, "END:VTIMEZONE") && inTimezone:
			block.WriteString(line)
			block.WriteString(CRLF)
			inTimezone = false
			f.Timezones = append(f.Timezones, block.String())
		case inEvent:
			if strings.HasPrefix(line, "UID:") {
				uid = strings.TrimSpace(line[len("UID:"):])
			}
			block.WriteString(line)
			block.WriteString(CRLF)
		case inTimezone:
			block.WriteString(line)
			block.WriteString(CRLF)
		}
	}
	return f
}

// ExtractVEVENTs returns the raw VEVENT blocks of a stream in source order,
// CRLF-terminated, without grouping by UID.
func ExtractVEVENTs(text string) []string {
	var blocks []string
	var block strings.Builder
	in := false
	for _, line := range splitLines(text) {
		switch {
		case strings.HasPrefix(line, "BEGIN:VEVENT"):
			in = true
			block.Reset()
			block.WriteString(line)
			block.WriteString(CRLF)
		case strings.HasPrefix(line, "END:VEVENT") && in:
			block.WriteString(line)
			block.WriteString(CRLF)
			in = false
			blocks = append(blocks, block.String())
		case in:
			block.WriteString(line)
			block.WriteString(CRLF)
		}
	}
	return blocks
}

// WrapCalendar builds a complete VCALENDAR object around the given blocks
// (VTIMEZONE and/or VEVENT), CRLF line endings throughout.
func WrapCalendar(blocks ...[]string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR")
	b.WriteString(CRLF)
	b.WriteString("VERSION:2.0")
	b.WriteString(CRLF)
	b.WriteString("PRODID:" + ProdID)
	b.WriteString(CRLF)
	for _, group := range blocks {
		for _, block := range group {
			b.WriteString(block)
			if !strings.HasSuffix(block, CRLF) {
				b.WriteString(CRLF)
			}
		}
	}
	b.WriteString("END:VCALENDAR")
	b.WriteString(CRLF)
	return b.String()
}
