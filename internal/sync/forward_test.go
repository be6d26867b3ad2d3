package sync

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

const forwardPropfind = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/dav/alice/work/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/><c:calendar/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`

const forwardReport = `<?xml version="1.0" encoding="utf-8"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/dav/alice/work/one.ics</d:href>
    <d:propstat><d:prop><c:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:one
SUMMARY:First
END:VEVENT
END:VCALENDAR
</c:calendar-data></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
  <d:response>
    <d:href>/dav/alice/work/two.ics</d:href>
    <d:propstat><d:prop><c:calendar-data>BEGIN:VCALENDAR
BEGIN:VEVENT
UID:two
SUMMARY:Second
END:VEVENT
END:VCALENDAR
</c:calendar-data></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat>
  </d:response>
</d:multistatus>`

func TestRunSyncAggregatesAllCalendars(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			w.WriteHeader(http.StatusMultiStatus)
			w.Write([]byte(forwardPropfind))
		case "REPORT":
			assert.Equal(t, "/dav/alice/work/", r.URL.Path)
			w.WriteHeader(http.StatusMultiStatus)
			w.Write([]byte(forwardReport))
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	}))
	defer srv.Close()

	res, err := RunSync(context.Background(), srv.URL+"/dav/alice/", "alice", "pw", zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 2, res.Events)
	assert.Equal(t, 1, res.Calendars)
	assert.True(t, strings.HasPrefix(res.ICS, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//CalDAV/ICS Sync//EN\r\n"))
	assert.True(t, strings.HasSuffix(res.ICS, "END:VCALENDAR\r\n"))
	assert.Contains(t, res.ICS, "UID:one\r\n")
	assert.Contains(t, res.ICS, "UID:two\r\n")
	// Only the VEVENT portions are aggregated, not the per-object wrappers.
	assert.Equal(t, 1, strings.Count(res.ICS, "BEGIN:VCALENDAR"))
}

func TestRunSyncPropagatesDiscoveryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "denied", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := RunSync(context.Background(), srv.URL+"/dav/", "alice", "bad", zerolog.Nop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discover calendars")
}

func TestRunSyncEmptyAccount(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusMultiStatus)
		w.Write([]byte(`<?xml version="1.0"?><d:multistatus xmlns:d="DAV:"></d:multistatus>`))
	}))
	defer srv.Close()

	res, err := RunSync(context.Background(), srv.URL+"/dav/", "alice", "pw", zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 0, res.Events)
	assert.Equal(t, 0, res.Calendars)
	assert.Equal(t, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//CalDAV/ICS Sync//EN\r\nEND:VCALENDAR\r\n", res.ICS)
}
