package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/calbridge/calbridge/internal/storage"
)

func (s *Store) SaveICSBlob(ctx context.Context, sourceID int64, content string) error {
	_, err := s.pool.Exec(ctx, `
INSERT INTO ics_data (source_id, content, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (source_id) DO UPDATE SET content = EXCLUDED.content, updated_at = EXCLUDED.updated_at`,
		sourceID, content, nowUTC())
	if err != nil {
		return fmt.Errorf("save ics blob for source %d: %w", sourceID, err)
	}
	return nil
}

func (s *Store) GetICSBlob(ctx context.Context, sourceID int64) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx,
		`SELECT content FROM ics_data WHERE source_id = $1`, sourceID).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get ics blob for source %d: %w", sourceID, err)
	}
	return content, nil
}

func (s *Store) GetBlobByPath(ctx context.Context, path string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `
SELECT d.content FROM ics_data d JOIN sources s ON s.id = d.source_id WHERE s.ics_path = $1
UNION ALL
SELECT d.content FROM ics_data d JOIN source_paths p ON p.source_id = d.source_id WHERE p.path = $1
LIMIT 1`, path).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get blob by path %q: %w", path, err)
	}
	return content, nil
}

func (s *Store) GetBlobByPublicPath(ctx context.Context, path string) (string, error) {
	var content string
	err := s.pool.QueryRow(ctx, `
SELECT d.content FROM ics_data d JOIN sources s ON s.id = d.source_id
WHERE s.public_ics AND s.public_ics_path = $1
UNION ALL
SELECT d.content FROM ics_data d JOIN source_paths p ON p.source_id = d.source_id
WHERE p.path = $1 AND p.is_public
LIMIT 1`, path).Scan(&content)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", storage.ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get blob by public path %q: %w", path, err)
	}
	return content, nil
}

func (s *Store) IsPublicStandard(ctx context.Context, path string) (bool, error) {
	var public bool
	err := s.pool.QueryRow(ctx, `
SELECT EXISTS(SELECT 1 FROM sources WHERE ics_path = $1 AND public_ics AND public_ics_path IS NULL)
    OR EXISTS(SELECT 1 FROM source_paths WHERE path = $1 AND is_public)`,
		path).Scan(&public)
	if err != nil {
		return false, fmt.Errorf("check public path %q: %w", path, err)
	}
	return public, nil
}
