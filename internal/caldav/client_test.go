package caldav

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const discoveryMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<D:multistatus xmlns:D="DAV:" xmlns:C="urn:ietf:params:xml:ns:caldav">
  <D:response>
    <D:href>/dav/alice/</D:href>
    <D:propstat>
      <D:prop><D:resourcetype><D:collection/></D:resourcetype></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/dav/alice/work/</D:href>
    <D:propstat>
      <D:prop><D:resourcetype><D:collection/><C:calendar/></D:resourcetype></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
  <D:response>
    <D:href>/dav/alice/home/</D:href>
    <D:propstat>
      <D:prop><D:resourcetype><D:collection/><C:calendar/></D:resourcetype></D:prop>
      <D:status>HTTP/1.1 200 OK</D:status>
    </D:propstat>
  </D:response>
</D:multistatus>`

const reportMultistatus = `<?xml version="1.0" encoding="utf-8"?>
<multistatus xmlns="DAV:" xmlns:cal="urn:ietf:params:xml:ns:caldav">
  <response>
    <href>/dav/alice/work/ev-1.ics</href>
    <propstat>
      <prop>
        <getetag>"abc"</getetag>
        <cal:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:ev-1
SUMMARY:Review &amp; planning
END:VEVENT
END:VCALENDAR
</cal:calendar-data>
      </prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
  <response>
    <href>/dav/alice/work/ev-2.ics</href>
    <propstat>
      <prop>
        <getetag>"def"</getetag>
        <cal:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:ev-2
END:VEVENT
END:VCALENDAR
</cal:calendar-data>
      </prop>
      <status>HTTP/1.1 200 OK</status>
    </propstat>
  </response>
</multistatus>`

func testClient() *Client {
	return NewClient("alice", "secret", zerolog.Nop())
}

func TestDiscoverCalendarsFiltersResourceType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "PROPFIND", r.Method)
		assert.Equal(t, "1", r.Header.Get("Depth"))
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "alice", user)
		assert.Equal(t, "secret", pass)
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(discoveryMultistatus))
	}))
	defer srv.Close()

	hrefs, err := testClient().DiscoverCalendars(context.Background(), srv.URL+"/dav/alice/")
	require.NoError(t, err)
	// The principal collection lacks caldav:calendar and is excluded.
	assert.Equal(t, []string{"/dav/alice/work/", "/dav/alice/home/"}, hrefs)
}

func TestDiscoverCalendarsRetriesWithToggledSlash(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if !strings.HasSuffix(r.URL.Path, "/") {
			w.WriteHeader(http.StatusMovedPermanently)
			return
		}
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(discoveryMultistatus))
	}))
	defer srv.Close()

	hrefs, err := testClient().DiscoverCalendars(context.Background(), srv.URL+"/dav/alice")
	require.NoError(t, err)
	assert.Len(t, hrefs, 2)
	assert.Equal(t, []string{"/dav/alice", "/dav/alice/"}, paths)
}

func TestFetchEventsParsesCalendarData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "REPORT", r.Method)
		assert.Equal(t, "/dav/alice/work/", r.URL.Path)
		assert.Equal(t, "1", r.Header.Get("Depth"))
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(reportMultistatus))
	}))
	defer srv.Close()

	events, err := testClient().FetchEvents(context.Background(), srv.URL+"/dav/alice/", "/dav/alice/work/")
	require.NoError(t, err)
	require.Len(t, events, 2)
	// XML entities come back decoded.
	assert.Contains(t, events[0], "SUMMARY:Review & planning")
	assert.Contains(t, events[1], "UID:ev-2")
}

func TestFetchEventsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := testClient().FetchEvents(context.Background(), srv.URL, "/cal/")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}

func TestResolveHref(t *testing.T) {
	got, err := ResolveHref("https://dav.example.com/base/", "/dav/cal/")
	require.NoError(t, err)
	assert.Equal(t, "https://dav.example.com/dav/cal/", got)

	got, err = ResolveHref("https://dav.example.com/base", "sub/")
	require.NoError(t, err)
	assert.Equal(t, "https://dav.example.com/base/sub/", got)

	got, err = ResolveHref("https://dav.example.com/base/", "https://other.example.com/x")
	require.NoError(t, err)
	assert.Equal(t, "https://other.example.com/x", got)
}

func TestPutEventStatuses(t *testing.T) {
	var gotBody string
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "text/calendar; charset=utf-8", r.Header.Get("Content-Type"))
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := testClient()
	for _, ok := range []int{200, 201, 204} {
		status = ok
		require.NoError(t, c.PutEvent(context.Background(), srv.URL+"/cal/u.ics", "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	}
	assert.Contains(t, gotBody, "BEGIN:VCALENDAR")

	status = 507
	err := c.PutEvent(context.Background(), srv.URL+"/cal/u.ics", "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "507")
}

func TestDeleteEventTreats404AsSuccess(t *testing.T) {
	var status int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := testClient()
	for _, ok := range []int{204, 200, 404} {
		status = ok
		require.NoError(t, c.DeleteEvent(context.Background(), srv.URL+"/cal/u.ics"))
	}
	status = 403
	assert.Error(t, c.DeleteEvent(context.Background(), srv.URL+"/cal/u.ics"))
}
