package integration

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/calbridge/calbridge/internal/api"
	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/config"
	"github.com/calbridge/calbridge/internal/router"
	"github.com/calbridge/calbridge/internal/scheduler"
	"github.com/calbridge/calbridge/internal/storage"
	"github.com/calbridge/calbridge/internal/storage/sqlite"
)

// upstream is a minimal CalDAV server backing one calendar at
// /dav/alice/work/. PROPFIND advertises it, REPORT serves the stored
// objects, PUT and DELETE mutate them.
type upstream struct {
	mu     sync.Mutex
	events map[string]string // uid -> calendar object
}

func newUpstream() *upstream {
	return &upstream{events: make(map[string]string)}
}

func (u *upstream) set(uid, obj string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.events[uid] = obj
}

func (u *upstream) uids() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []string
	for uid := range u.events {
		out = append(out, uid)
	}
	return out
}

func xmlEscape(s string) string {
	return strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;").Replace(s)
}

func (u *upstream) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case "PROPFIND":
			w.WriteHeader(http.StatusMultiStatus)
			io.WriteString(w, `<?xml version="1.0"?>
<d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:response>
    <d:href>/dav/alice/work/</d:href>
    <d:propstat>
      <d:prop><d:resourcetype><d:collection/><c:calendar/></d:resourcetype></d:prop>
      <d:status>HTTP/1.1 200 OK</d:status>
    </d:propstat>
  </d:response>
</d:multistatus>`)
		case "REPORT":
			u.mu.Lock()
			var b strings.Builder
			b.WriteString(`<?xml version="1.0"?><d:multistatus xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">`)
			for uid, obj := range u.events {
				fmt.Fprintf(&b, `<d:response><d:href>/dav/alice/work/%s.ics</d:href><d:propstat><d:prop><c:calendar-data>%s</c:calendar-data></d:prop><d:status>HTTP/1.1 200 OK</d:status></d:propstat></d:response>`,
					uid, xmlEscape(obj))
			}
			b.WriteString(`</d:multistatus>`)
			u.mu.Unlock()
			w.WriteHeader(http.StatusMultiStatus)
			io.WriteString(w, b.String())
		case http.MethodPut:
			uid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/dav/alice/work/"), ".ics")
			body, _ := io.ReadAll(r.Body)
			u.set(uid, string(body))
			w.WriteHeader(http.StatusCreated)
		case http.MethodDelete:
			uid := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/dav/alice/work/"), ".ics")
			u.mu.Lock()
			delete(u.events, uid)
			u.mu.Unlock()
			w.WriteHeader(http.StatusNoContent)
		default:
			t.Errorf("unexpected upstream method %s %s", r.Method, r.URL.Path)
		}
	})
}

type bridge struct {
	srv   *httptest.Server
	store storage.Store
	sched *scheduler.Registry
}

const (
	adminUser = "admin"
	adminPass = "integration-pw"
)

func newBridge(t *testing.T) *bridge {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "bridge.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	sched := scheduler.New(store, zerolog.Nop())
	t.Cleanup(sched.Shutdown)

	handlers := api.NewHandlers(store, sched, zerolog.Nop())
	authn := auth.New(config.AuthConfig{Username: adminUser, Password: adminPass}, zerolog.Nop())
	mux, err := router.New(store, handlers, authn, "", zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &bridge{srv: srv, store: store, sched: sched}
}

func (b *bridge) request(t *testing.T, method, path, body string, authed bool) (*http.Response, string) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, b.srv.URL+path, rd)
	require.NoError(t, err)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if authed {
		req.SetBasicAuth(adminUser, adminPass)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, string(raw)
}
