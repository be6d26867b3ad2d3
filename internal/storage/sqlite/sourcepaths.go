package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sourcePathColumns+` FROM source_paths WHERE source_id = ? ORDER BY id`, sourceID)
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
	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := scanSourcePath(s.db.QueryRowContext(ctx,
		`SELECT `+sourcePathColumns+` FROM source_paths WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var exists bool
	if err := tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM sources WHERE id = ?)`, sourceID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check source %d: %w", sourceID, err)
	}
	if !exists {
		return nil, storage.ErrNotFound
	}
	if err := checkPathFree(ctx, tx, in.Path, 0, 0); err != nil {
		return nil, err
	}

	res, err := tx.ExecContext(ctx,
		`INSERT INTO source_paths (source_id, path, is_public, created_at) VALUES (?, ?, ?, ?)`,
		sourceID, in.Path, in.IsPublic, nowUTC())
	if err != nil {
		return nil, fmt.Errorf("insert source path: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("source path id: %w", err)
	}

	p, err := scanSourcePath(tx.QueryRowContext(ctx,
		`SELECT `+sourcePathColumns+` FROM source_paths WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload source path: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *Store) UpdateSourcePath(ctx context.Context, id int64, in *storage.UpdateSourcePath) (*storage.SourcePath, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = scanSourcePath(tx.QueryRowContext(ctx,
		`SELECT `+sourcePathColumns+` FROM source_paths WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source path %d: %w", id, err)
	}

	if err := checkPathFree(ctx, tx, in.Path, 0, id); err != nil {
		return nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE source_paths SET path = ?, is_public = ? WHERE id = ?`,
		in.Path, in.IsPublic, id)
	if err != nil {
		return nil, fmt.Errorf("update source path %d: %w", id, err)
	}

	p, err := scanSourcePath(tx.QueryRowContext(ctx,
		`SELECT `+sourcePathColumns+` FROM source_paths WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload source path: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return p, nil
}

func (s *Store) DeleteSourcePath(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM source_paths WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source path %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
