package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/calbridge/calbridge/internal/storage"
)

const sourcePathColumns = `id, source_id, path, is_public, created_at`

func scanSourcePath(row rowScanner) (*storage.SourcePath, error) {
	var p storage.SourcePath
	err := row.Scan(&p.ID, &p.SourceID, &p.Path, &p.IsPublic, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListSourcePaths(ctx context.Context, sourceID int64) ([]*storage.SourcePath, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+sourcePathColumns+` FROM source_paths WHERE source_id = $1 ORDER BY id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("list source paths: %w", err)
	}
	defer rows.Close()

	var out []*storage.SourcePath
	for rows.Next() {
		p, err := scanSourcePath(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source path: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) GetSourcePath(ctx context.Context, id int64) (*storage.SourcePath, error) {
	p, err := scanSourcePath(s.pool.QueryRow(ctx,
		`SELECT `+sourcePathColumns+` FROM source_paths WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source path %d: %w", id, err)
	}
	return p, nil
}

func (s *Store) CreateSourcePath(ctx context.Context, sourceID int64, in *storage.CreateSourcePath) (*storage.SourcePath, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	var exists bool
	if err := tx.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM sources WHERE id = $1)`, sourceID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check source %d: %w", sourceID, err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	if err := checkPathFree(ctx, tx, in.Path, 0, 0); err != nil {
		return nil, err
	}

	p, err := scanSourcePath(tx.QueryRow(ctx, `
INSERT INTO source_paths (source_id, path, is_public, created_at)
VALUES ($1, $2, $3, $4)
RETURNING `+sourcePathColumns,
		sourceID, in.Path, in.IsPublic, nowUTC()))
	if err != nil {
		return nil, fmt.Errorf("insert source path: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateSourcePath(ctx context.Context, id int64, in *storage.UpdateSourcePath) (*storage.SourcePath, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = scanSourcePath(tx.QueryRow(ctx,
		`SELECT `+sourcePathColumns+` FROM source_paths WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source path %d: %w", id, err)
	}

	if err := checkPathFree(ctx, tx, in.Path, 0, id); err != nil {
		return nil, err
	}

	p, err := scanSourcePath(tx.QueryRow(ctx, `
UPDATE source_paths SET path = $1, is_public = $2 WHERE id = $3
RETURNING `+sourcePathColumns,
		in.Path, in.IsPublic, id))
	if err != nil {
		return nil, fmt.Errorf("update source path %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *Store) DeleteSourcePath(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM source_paths WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source path %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}
