package api_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calbridge/calbridge/internal/api"
	"github.com/calbridge/calbridge/internal/auth"
	"github.com/calbridge/calbridge/internal/config"
	"github.com/calbridge/calbridge/internal/router"
	"github.com/calbridge/calbridge/internal/scheduler"
	"github.com/calbridge/calbridge/internal/storage"
	"github.com/calbridge/calbridge/internal/storage/sqlite"
)

type testEnv struct {
	srv   *httptest.Server
	store storage.Store
	sched *scheduler.Registry
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "api.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(store.Close)

	sched := scheduler.New(store, zerolog.Nop())
	t.Cleanup(sched.Shutdown)

	handlers := api.NewHandlers(store, sched, zerolog.Nop())
	authn := auth.New(config.AuthConfig{}, zerolog.Nop())
	mux, err := router.New(store, handlers, authn, "", zerolog.Nop())
	require.NoError(t, err)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, store: store, sched: sched}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func sourceBody(path string) map[string]any {
	return map[string]any{
		"name":               "cal " + path,
		"caldav_url":         "https://dav.example.com/" + path,
		"username":           "alice",
		"password":           "secret",
		"ics_path":           path,
		"sync_interval_secs": 0,
	}
}

func TestCreateSourceValidation(t *testing.T) {
	env := newTestEnv(t)

	body := sourceBody("ok")
	delete(body, "ics_path")
	status, out := env.do(t, http.MethodPost, "/api/sources", body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "error", out["status"])
	assert.Contains(t, out["message"], "path must not be empty")
}

func TestCreateAndListSources(t *testing.T) {
	env := newTestEnv(t)

	status, out := env.do(t, http.MethodPost, "/api/sources", sourceBody("team"))
	require.Equal(t, http.StatusCreated, status)
	src := out["source"].(map[string]any)
	assert.Equal(t, "team", src["ics_path"])
	assert.NotContains(t, src, "password", "credentials must never be serialised")

	status, out = env.do(t, http.MethodGet, "/api/sources", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, out["sources"], 1)
}

func TestDuplicatePathRejected(t *testing.T) {
	env := newTestEnv(t)

	status, _ := env.do(t, http.MethodPost, "/api/sources", sourceBody("shared"))
	require.Equal(t, http.StatusCreated, status)

	body := sourceBody("other")
	body["ics_path"] = "shared"
	status, out := env.do(t, http.MethodPost, "/api/sources", body)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Contains(t, out["message"], "already in use")
}

func TestMutationsDriveScheduler(t *testing.T) {
	env := newTestEnv(t)

	body := sourceBody("scheduled")
	body["sync_interval_secs"] = 3600
	status, out := env.do(t, http.MethodPost, "/api/sources", body)
	require.Equal(t, http.StatusCreated, status)
	id := int64(out["source"].(map[string]any)["id"].(float64))
	assert.Len(t, env.sched.Tasks(), 1)

	status, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/sources/%d", id), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, env.sched.Tasks())
}

func TestSourceStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	status, out := env.do(t, http.MethodGet, "/api/sources/99/status", nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "error", out["status"])
}

func TestCheckOverlap(t *testing.T) {
	env := newTestEnv(t)

	dest := map[string]any{
		"name":               "work",
		"ics_url":            "https://feeds.example.com/work.ics",
		"caldav_url":         "https://dav.example.com/alice",
		"calendar_name":      "work",
		"sync_interval_secs": 0,
	}
	status, out := env.do(t, http.MethodPost, "/api/destinations", dest)
	require.Equal(t, http.StatusCreated, status)
	id := int64(out["destination"].(map[string]any)["id"].(float64))

	status, out = env.do(t, http.MethodGet, "/api/destinations/check-overlap?caldav_url=https%3A%2F%2Fdav.example.com%2Falice&calendar_name=work", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), out["count"])

	status, out = env.do(t, http.MethodGet,
		fmt.Sprintf("/api/destinations/check-overlap?caldav_url=https%%3A%%2F%%2Fdav.example.com%%2Falice&calendar_name=work&exclude_id=%d", id), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(0), out["count"])

	status, _ = env.do(t, http.MethodGet, "/api/destinations/check-overlap", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSourcePathOwnership(t *testing.T) {
	env := newTestEnv(t)

	_, out := env.do(t, http.MethodPost, "/api/sources", sourceBody("first"))
	firstID := int64(out["source"].(map[string]any)["id"].(float64))
	_, out = env.do(t, http.MethodPost, "/api/sources", sourceBody("second"))
	secondID := int64(out["source"].(map[string]any)["id"].(float64))

	status, out := env.do(t, http.MethodPost,
		fmt.Sprintf("/api/sources/%d/paths", firstID),
		map[string]any{"path": "first-alias"})
	require.Equal(t, http.StatusCreated, status)
	pathID := int64(out["path"].(map[string]any)["id"].(float64))

	// Another source cannot touch it.
	status, _ = env.do(t, http.MethodPut,
		fmt.Sprintf("/api/sources/%d/paths/%d", secondID, pathID),
		map[string]any{"path": "stolen"})
	assert.Equal(t, http.StatusNotFound, status)

	status, _ = env.do(t, http.MethodDelete,
		fmt.Sprintf("/api/sources/%d/paths/%d", firstID, pathID), nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	status, out := env.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])

	env.do(t, http.MethodPost, "/api/sources", sourceBody("counted"))

	status, out = env.do(t, http.MethodGet, "/api/health/detailed", nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["storage"])
	assert.Equal(t, float64(1), out["sources"])
	assert.Equal(t, float64(0), out["destinations"])
}

func TestPreviewEvents(t *testing.T) {
	env := newTestEnv(t)

	_, out := env.do(t, http.MethodPost, "/api/sources", sourceBody("preview"))
	id := int64(out["source"].(map[string]any)["id"].(float64))

	tomorrow := time.Now().UTC().Add(24 * time.Hour)
	blob := "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//CalDAV/ICS Sync//EN\r\n" +
		"BEGIN:VEVENT\r\nUID:soon\r\nSUMMARY:Standup\r\n" +
		"DTSTART:" + tomorrow.Format("20060102T150405Z") + "\r\n" +
		"DTEND:" + tomorrow.Add(time.Hour).Format("20060102T150405Z") + "\r\n" +
		"END:VEVENT\r\nEND:VCALENDAR\r\n"
	require.NoError(t, env.store.SaveICSBlob(t.Context(), id, blob))

	status, out := env.do(t, http.MethodGet, fmt.Sprintf("/api/sources/%d/events?days=7", id), nil)
	require.Equal(t, http.StatusOK, status)
	events := out["events"].([]any)
	require.Len(t, events, 1)
	assert.Equal(t, "soon", events[0].(map[string]any)["uid"])

	status, _ = env.do(t, http.MethodGet, fmt.Sprintf("/api/sources/%d/events?days=zero", id), nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestSyncDestinationEmptyFeed(t *testing.T) {
	env := newTestEnv(t)

	feed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "BEGIN:VCALENDAR\r\nVERSION:2.0\r\nEND:VCALENDAR\r\n")
	}))
	defer feed.Close()

	dest := map[string]any{
		"name":               "empty",
		"ics_url":            feed.URL,
		"caldav_url":         "https://dav.example.com/alice",
		"calendar_name":      "cal",
		"sync_interval_secs": 0,
	}
	_, out := env.do(t, http.MethodPost, "/api/destinations", dest)
	id := int64(out["destination"].(map[string]any)["id"].(float64))

	// Empty feed: guard trips before any CalDAV traffic, sync reports ok.
	status, out := env.do(t, http.MethodPost, fmt.Sprintf("/api/destinations/%d/sync", id), nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", out["status"])
}
