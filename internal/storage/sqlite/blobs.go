package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/calbridge/calbridge/internal/storage"
)

// SaveICSBlob upserts the aggregated feed for a source.
func (s *Store) SaveICSBlob(ctx context.Context, sourceID int64, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
INSERT INTO ics_data (source_id, content, updated_at) VALUES (?, ?, ?)
ON CONFLICT(source_id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		sourceID, content, nowUTC())
	if err != nil {
		return fmt.Errorf("save ics blob for source %d: %w", sourceID, err)
	}
	return nil
}

func (s *Store) GetICSBlob(ctx context.Context, sourceID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var content string
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM ics_data WHERE source_id = ?`, sourceID).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get ics blob for source %d: %w", sourceID, err)
	}
	return content, nil
}

// GetBlobByPath resolves a serving path through the primary paths and the
// alias table, visibility not considered; the auth middleware handles that.
func (s *Store) GetBlobByPath(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var content string
	err := s.db.QueryRowContext(ctx, `
SELECT d.content FROM ics_data d JOIN sources s ON s.id = d.source_id WHERE s.ics_path = ?
UNION ALL
SELECT d.content FROM ics_data d JOIN source_paths p ON p.source_id = d.source_id WHERE p.path = ?
LIMIT 1`, path, path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get blob by path %q: %w", path, err)
	}
	return content, nil
}

// GetBlobByPublicPath resolves only through the anonymous namespace: public
// aliases of sources with the public gate on, and public source paths.
func (s *Store) GetBlobByPublicPath(ctx context.Context, path string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var content string
	err := s.db.QueryRowContext(ctx, `
SELECT d.content FROM ics_data d JOIN sources s ON s.id = d.source_id
WHERE s.public_ics = 1 AND s.public_ics_path = ?
UNION ALL
SELECT d.content FROM ics_data d JOIN source_paths p ON p.source_id = d.source_id
WHERE p.path = ? AND p.is_public = 1
LIMIT 1`, path, path).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get blob by public path %q: %w", path, err)
	}
	return content, nil
}

// IsPublicStandard decides whether /ics/{path} may be served anonymously:
// either the path is a source's primary path with public_ics set and no
// separate alias, or it is a public alias path.
func (s *Store) IsPublicStandard(ctx context.Context, path string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var public bool
	err := s.db.QueryRowContext(ctx, `
SELECT EXISTS(SELECT 1 FROM sources WHERE ics_path = ? AND public_ics = 1 AND public_ics_path IS NULL)
    OR EXISTS(SELECT 1 FROM source_paths WHERE path = ? AND is_public = 1)`,
		path, path).Scan(&public)
	if err != nil {
		return false, fmt.Errorf("check public path %q: %w", path, err)
	}
	return public, nil
}
