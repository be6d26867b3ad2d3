package caldav

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// CalDAV servers disagree on namespace prefixes (d:, D:, C:, cal:, default
// namespace). Parsing matches on local element names only.

func localName(tag string) string {
	if i := strings.Index(tag, ":"); i >= 0 {
		return tag[i+1:]
	}
	return tag
}

func findChild(e *etree.Element, local string) *etree.Element {
	for _, c := range e.ChildElements() {
		if localName(c.Tag) == local {
			return c
		}
	}
	return nil
}

func findDescendants(e *etree.Element, local string) []*etree.Element {
	var out []*etree.Element
	var walk func(*etree.Element)
	walk = func(el *etree.Element) {
		for _, c := range el.ChildElements() {
			if localName(c.Tag) == local {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(e)
	return out
}

type multistatusResponse struct {
	href string
	elem *etree.Element
}

func parseMultistatus(body []byte) ([]multistatusResponse, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil {
		return nil, fmt.Errorf("parse multistatus: %w", err)
	}
	root := doc.Root()
	if root == nil || localName(root.Tag) != "multistatus" {
		return nil, fmt.Errorf("unexpected multistatus root")
	}
	var out []multistatusResponse
	for _, resp := range root.ChildElements() {
		if localName(resp.Tag) != "response" {
			continue
		}
		r := multistatusResponse{elem: resp}
		if href := findChild(resp, "href"); href != nil {
			r.href = strings.TrimSpace(href.Text())
		}
		out = append(out, r)
	}
	return out, nil
}

// isCalendarCollection checks the resourcetype of a PROPFIND response for
// both DAV:collection and caldav:calendar.
func (r multistatusResponse) isCalendarCollection() bool {
	var collection, calendar bool
	for _, rt := range findDescendants(r.elem, "resourcetype") {
		for _, c := range rt.ChildElements() {
			switch localName(c.Tag) {
			case "collection":
				collection = true
			case "calendar":
				calendar = true
			}
		}
	}
	return collection && calendar
}

// calendarData returns the decoded character content of the response's
// calendar-data property, if present. etree has already resolved XML
// entities, so the result is raw iCalendar text.
func (r multistatusResponse) calendarData() string {
	for _, cd := range findDescendants(r.elem, "calendar-data") {
		if text := cd.Text(); strings.TrimSpace(text) != "" {
			return text
		}
	}
	return ""
}
