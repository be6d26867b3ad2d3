package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/calbridge/calbridge/internal/storage"
)

const sourceColumns = `id, name, caldav_url, username, password, ics_path,
	public_ics, public_ics_path, sync_interval_secs,
	last_synced, last_sync_status, last_sync_error, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSource(row rowScanner) (*storage.Source, error) {
	var s storage.Source
	err := row.Scan(
		&s.ID, &s.Name, &s.CalDAVURL, &s.Username, &s.Password, &s.ICSPath,
		&s.PublicICS, &s.PublicICSPath, &s.SyncIntervalSecs,
		&s.LastSynced, &s.LastSyncStatus, &s.LastSyncError, &s.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func (s *Store) ListSources(ctx context.Context) ([]*storage.Source, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}
	defer rows.Close()

	var out []*storage.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, src)
	}
	return out, rows.Err()
}

func (s *Store) GetSource(ctx context.Context, id int64) (*storage.Source, error) {
	src, err := scanSource(s.pool.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source %d: %w", id, err)
	}
	return src, nil
}

func pathTaken(ctx context.Context, tx pgx.Tx, path string, excludeSourceID, excludeSourcePathID int64) (bool, error) {
	const query = `
SELECT EXISTS(SELECT 1 FROM sources WHERE ics_path = $1 AND id != $2)
    OR EXISTS(SELECT 1 FROM sources WHERE public_ics_path = $1 AND id != $2)
    OR EXISTS(SELECT 1 FROM source_paths WHERE path = $1 AND id != $3)`
	var taken bool
	err := tx.QueryRow(ctx, query, path, excludeSourceID, excludeSourcePathID).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check path uniqueness: %w", err)
	}
	return taken, nil
}

func checkPathFree(ctx context.Context, tx pgx.Tx, path string, excludeSourceID, excludeSourcePathID int64) error {
	taken, err := pathTaken(ctx, tx, path, excludeSourceID, excludeSourcePathID)
	if err != nil {
		return err
	}
	if taken {
		return &storage.ValidationError{Msg: fmt.Sprintf("path %q is already in use", path)}
	}
	return nil
}

func (s *Store) CreateSource(ctx context.Context, in *storage.CreateSource) (*storage.Source, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := checkPathFree(ctx, tx, in.ICSPath, 0, 0); err != nil {
		return nil, err
	}
	if in.PublicICSPath != nil {
		if err := checkPathFree(ctx, tx, *in.PublicICSPath, 0, 0); err != nil {
			return nil, err
		}
	}

	src, err := scanSource(tx.QueryRow(ctx, `
INSERT INTO sources (name, caldav_url, username, password, ics_path,
                     public_ics, public_ics_path, sync_interval_secs,
                     sync_interval_minutes, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
RETURNING `+sourceColumns,
		in.Name, in.CalDAVURL, in.Username, in.Password, in.ICSPath,
		in.PublicICS, in.PublicICSPath, in.SyncIntervalSecs,
		in.SyncIntervalSecs/60, nowUTC()))
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return src, nil
}

func (s *Store) UpdateSource(ctx context.Context, id int64, in *storage.UpdateSource) (*storage.Source, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	existing, err := scanSource(tx.QueryRow(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source %d: %w", id, err)
	}

	if err := checkPathFree(ctx, tx, in.ICSPath, id, 0); err != nil {
		return nil, err
	}
	if in.PublicICSPath != nil {
		if err := checkPathFree(ctx, tx, *in.PublicICSPath, id, 0); err != nil {
			return nil, err
		}
	}

	password := existing.Password
	if strings.TrimSpace(in.Password) != "" {
		password = in.Password
	}

	src, err := scanSource(tx.QueryRow(ctx, `
UPDATE sources SET name = $1, caldav_url = $2, username = $3, password = $4,
                   ics_path = $5, public_ics = $6, public_ics_path = $7,
                   sync_interval_secs = $8, sync_interval_minutes = $9
WHERE id = $10
RETURNING `+sourceColumns,
		in.Name, in.CalDAVURL, in.Username, password,
		in.ICSPath, in.PublicICS, in.PublicICSPath,
		in.SyncIntervalSecs, in.SyncIntervalSecs/60, id))
	if err != nil {
		return nil, fmt.Errorf("update source %d: %w", id, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return src, nil
}

func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateSourceSyncStatus(ctx context.Context, id int64, status string, errMsg *string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_sync_status = $1, last_sync_error = $2 WHERE id = $3`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update source %d sync status: %w", id, err)
	}
	return nil
}

func (s *Store) TouchSourceSynced(ctx context.Context, id int64) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE sources SET last_synced = $1 WHERE id = $2`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("touch source %d: %w", id, err)
	}
	return nil
}

func (s *Store) CountSources(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM sources`).Scan(&n)
	return n, err
}
