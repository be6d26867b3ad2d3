package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calbridge/calbridge/internal/storage"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "calbridge.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func strptr(s string) *string { return &s }

func newSource(path string) *storage.CreateSource {
	return &storage.CreateSource{
		Name:      "cal " + path,
		CalDAVURL: "https://dav.example.com/" + path,
		Username:  "alice",
		Password:  "secret",
		ICSPath:   path,
	}
}

func TestCreateAndGetSource(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.CreateSource(ctx, newSource("work"))
	require.NoError(t, err)
	assert.Positive(t, src.ID)
	assert.Equal(t, "work", src.ICSPath)
	assert.Nil(t, src.LastSynced)
	assert.NotEmpty(t, src.CreatedAt)

	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, src.ID, got.ID)
	assert.Equal(t, "secret", got.Password)

	_, err = s.GetSource(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestPathNamespaceUniqueness(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.CreateSource(ctx, newSource("work"))
	require.NoError(t, err)

	// Duplicate primary path.
	_, err = s.CreateSource(ctx, newSource("work"))
	assert.True(t, storage.IsValidation(err), "want validation error, got %v", err)

	// Public alias colliding with an existing primary path.
	in := newSource("other")
	in.PublicICS = true
	in.PublicICSPath = strptr("work")
	_, err = s.CreateSource(ctx, in)
	assert.True(t, storage.IsValidation(err))

	// Source path alias colliding with a primary path.
	_, err = s.CreateSourcePath(ctx, first.ID, &storage.CreateSourcePath{Path: "work"})
	assert.True(t, storage.IsValidation(err))

	// A fresh alias claims its name for everyone else.
	_, err = s.CreateSourcePath(ctx, first.ID, &storage.CreateSourcePath{Path: "alias"})
	require.NoError(t, err)
	_, err = s.CreateSource(ctx, newSource("alias"))
	assert.True(t, storage.IsValidation(err))
}

func TestUpdateKeepsOwnPaths(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.CreateSource(ctx, newSource("team"))
	require.NoError(t, err)

	// Re-submitting the same paths must not collide with itself.
	upd := &storage.UpdateSource{
		Name:      src.Name,
		CalDAVURL: src.CalDAVURL,
		Username:  src.Username,
		ICSPath:   "team",
	}
	_, err = s.UpdateSource(ctx, src.ID, upd)
	require.NoError(t, err)
}

func TestReservedPublicPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, path := range []string{"public", "public/feed", "../etc", "/abs", " "} {
		_, err := s.CreateSource(ctx, newSource(path))
		assert.True(t, storage.IsValidation(err), "path %q should be rejected", path)
	}
}

func TestPublicAliasRules(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Alias equal to own primary path.
	in := newSource("self")
	in.PublicICS = true
	in.PublicICSPath = strptr("self")
	_, err := s.CreateSource(ctx, in)
	assert.True(t, storage.IsValidation(err))

	// public_ics=false clears the alias.
	in = newSource("gated")
	in.PublicICS = false
	in.PublicICSPath = strptr("gated-public")
	src, err := s.CreateSource(ctx, in)
	require.NoError(t, err)
	assert.Nil(t, src.PublicICSPath)

	// Alias stored when gate is on.
	in = newSource("open")
	in.PublicICS = true
	in.PublicICSPath = strptr("open-public")
	src, err = s.CreateSource(ctx, in)
	require.NoError(t, err)
	require.NotNil(t, src.PublicICSPath)
	assert.Equal(t, "open-public", *src.PublicICSPath)

	// Turning the gate off on update clears the stored alias.
	upd := &storage.UpdateSource{
		Name:          src.Name,
		CalDAVURL:     src.CalDAVURL,
		ICSPath:       "open",
		PublicICS:     false,
		PublicICSPath: strptr("open-public"),
	}
	src, err = s.UpdateSource(ctx, src.ID, upd)
	require.NoError(t, err)
	assert.Nil(t, src.PublicICSPath)
}

func TestEmptyPasswordOnUpdateKeepsExisting(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.CreateSource(ctx, newSource("pw"))
	require.NoError(t, err)

	upd := &storage.UpdateSource{
		Name:      "renamed",
		CalDAVURL: src.CalDAVURL,
		Username:  src.Username,
		Password:  "   ",
		ICSPath:   "pw",
	}
	got, err := s.UpdateSource(ctx, src.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, "secret", got.Password)

	upd.Password = "rotated"
	got, err = s.UpdateSource(ctx, src.ID, upd)
	require.NoError(t, err)
	assert.Equal(t, "rotated", got.Password)
}

func TestDeleteSourceCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src, err := s.CreateSource(ctx, newSource("gone"))
	require.NoError(t, err)
	sp, err := s.CreateSourcePath(ctx, src.ID, &storage.CreateSourcePath{Path: "gone-alias"})
	require.NoError(t, err)
	require.NoError(t, s.SaveICSBlob(ctx, src.ID, "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))

	require.NoError(t, s.DeleteSource(ctx, src.ID))

	_, err = s.GetSourcePath(ctx, sp.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetICSBlob(ctx, src.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	// The freed paths are reusable.
	_, err = s.CreateSource(ctx, newSource("gone"))
	assert.NoError(t, err)

	assert.ErrorIs(t, s.DeleteSource(ctx, src.ID), storage.ErrNotFound)
}

func TestBlobResolution(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := newSource("main")
	in.PublicICS = true
	in.PublicICSPath = strptr("shared")
	src, err := s.CreateSource(ctx, in)
	require.NoError(t, err)

	_, err = s.CreateSourcePath(ctx, src.ID, &storage.CreateSourcePath{Path: "extra", IsPublic: false})
	require.NoError(t, err)
	_, err = s.CreateSourcePath(ctx, src.ID, &storage.CreateSourcePath{Path: "open-extra", IsPublic: true})
	require.NoError(t, err)

	require.NoError(t, s.SaveICSBlob(ctx, src.ID, "v1"))
	require.NoError(t, s.SaveICSBlob(ctx, src.ID, "v2"))

	for _, path := range []string{"main", "extra", "open-extra"} {
		got, err := s.GetBlobByPath(ctx, path)
		require.NoError(t, err, path)
		assert.Equal(t, "v2", got)
	}
	_, err = s.GetBlobByPath(ctx, "shared")
	assert.ErrorIs(t, err, storage.ErrNotFound)

	got, err := s.GetBlobByPublicPath(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)
	got, err = s.GetBlobByPublicPath(ctx, "open-extra")
	require.NoError(t, err)
	assert.Equal(t, "v2", got)

	// Private namespaces stay out of the public resolver.
	_, err = s.GetBlobByPublicPath(ctx, "main")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	_, err = s.GetBlobByPublicPath(ctx, "extra")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestIsPublicStandard(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Public gate on, no custom alias: the standard path is anonymous.
	in := newSource("std")
	in.PublicICS = true
	src, err := s.CreateSource(ctx, in)
	require.NoError(t, err)

	ok, err := s.IsPublicStandard(ctx, "std")
	require.NoError(t, err)
	assert.True(t, ok)

	// With a custom alias the standard path goes back behind auth.
	in = newSource("aliased")
	in.PublicICS = true
	in.PublicICSPath = strptr("aliased-public")
	_, err = s.CreateSource(ctx, in)
	require.NoError(t, err)

	ok, err = s.IsPublicStandard(ctx, "aliased")
	require.NoError(t, err)
	assert.False(t, ok)

	// Public source paths are anonymous on the standard route.
	_, err = s.CreateSourcePath(ctx, src.ID, &storage.CreateSourcePath{Path: "std-open", IsPublic: true})
	require.NoError(t, err)
	ok, err = s.IsPublicStandard(ctx, "std-open")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.IsPublicStandard(ctx, "nope")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFindOverlappingDestinations(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	mk := func(name string) *storage.Destination {
		d, err := s.CreateDestination(ctx, &storage.CreateDestination{
			Name:         name,
			ICSURL:       "https://feeds.example.com/" + name + ".ics",
			CalDAVURL:    "https://dav.example.com/alice",
			CalendarName: "inbox",
		})
		require.NoError(t, err)
		return d
	}
	a := mk("a")
	mk("b")

	all, err := s.FindOverlappingDestinations(ctx, "https://dav.example.com/alice", "inbox", nil)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	others, err := s.FindOverlappingDestinations(ctx, "https://dav.example.com/alice", "inbox", &a.ID)
	require.NoError(t, err)
	require.Len(t, others, 1)
	assert.Equal(t, "b", others[0].Name)

	none, err := s.FindOverlappingDestinations(ctx, "https://dav.example.com/alice", "other", nil)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestDestinationSyncStatusJournal(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	d, err := s.CreateDestination(ctx, &storage.CreateDestination{
		Name:      "d",
		ICSURL:    "https://feeds.example.com/d.ics",
		CalDAVURL: "https://dav.example.com/d",
	})
	require.NoError(t, err)

	msg := "boom"
	require.NoError(t, s.UpdateDestinationSyncStatus(ctx, d.ID, "error", &msg))
	got, err := s.GetDestination(ctx, d.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastSyncStatus)
	assert.Equal(t, "error", *got.LastSyncStatus)
	require.NotNil(t, got.LastSyncError)
	assert.Equal(t, "boom", *got.LastSyncError)
	assert.Nil(t, got.LastSynced)

	require.NoError(t, s.UpdateDestinationSyncStatus(ctx, d.ID, "ok", nil))
	got, err = s.GetDestination(ctx, d.ID)
	require.NoError(t, err)
	assert.Equal(t, "ok", *got.LastSyncStatus)
	assert.Nil(t, got.LastSyncError)
	assert.NotNil(t, got.LastSynced)
}

func TestSourcePathOwnership(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.CreateSourcePath(ctx, 42, &storage.CreateSourcePath{Path: "orphan"})
	assert.ErrorIs(t, err, storage.ErrNotFound)

	src, err := s.CreateSource(ctx, newSource("owner"))
	require.NoError(t, err)
	sp, err := s.CreateSourcePath(ctx, src.ID, &storage.CreateSourcePath{Path: "p1"})
	require.NoError(t, err)

	upd, err := s.UpdateSourcePath(ctx, sp.ID, &storage.UpdateSourcePath{Path: "p2", IsPublic: true})
	require.NoError(t, err)
	assert.Equal(t, "p2", upd.Path)
	assert.True(t, upd.IsPublic)

	paths, err := s.ListSourcePaths(ctx, src.ID)
	require.NoError(t, err)
	require.Len(t, paths, 1)
	assert.Equal(t, "p2", paths[0].Path)
}

func TestStoreStaysOpenAfterMigrations(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "calbridge.db")
	ctx := context.Background()

	// The migration runner shares the store's *sql.DB; tearing down the
	// migrate instance must not close it underneath us.
	s, err := New(dsn, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s.Ping(ctx))
	src, err := s.CreateSource(ctx, newSource("fresh"))
	require.NoError(t, err)
	s.Close()

	// Reopen the same file: the no-change migration path must leave the
	// handle usable too.
	s, err = New(dsn, zerolog.Nop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(ctx))
	got, err := s.GetSource(ctx, src.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.ICSPath)
}

func TestPathsStoredTrimmed(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	in := newSource(" work ")
	src, err := s.CreateSource(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "work", src.ICSPath)

	require.NoError(t, s.SaveICSBlob(ctx, src.ID, "BEGIN:VCALENDAR\r\nEND:VCALENDAR\r\n"))
	_, err = s.GetBlobByPath(ctx, "work")
	require.NoError(t, err, "the stored path must match the request path exactly")

	sp, err := s.CreateSourcePath(ctx, src.ID, &storage.CreateSourcePath{Path: "\talias \n"})
	require.NoError(t, err)
	assert.Equal(t, "alias", sp.Path)
	_, err = s.GetBlobByPath(ctx, "alias")
	require.NoError(t, err)

	// Whitespace-only collapses to empty and is rejected outright.
	_, err = s.CreateSourcePath(ctx, src.ID, &storage.CreateSourcePath{Path: "   "})
	assert.True(t, storage.IsValidation(err))
}
