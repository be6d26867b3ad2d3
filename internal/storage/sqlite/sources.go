package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

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
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+sourceColumns+` FROM sources ORDER BY id`)
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
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getSource(ctx, id)
}

func (s *Store) getSource(ctx context.Context, id int64) (*storage.Source, error) {
	src, err := scanSource(s.db.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source %d: %w", id, err)
	}
	return src, nil
}

func (s *Store) CreateSource(ctx context.Context, in *storage.CreateSource) (*storage.Source, error) {
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

	if err := checkPathFree(ctx, tx, in.ICSPath, 0, 0); err != nil {
		return nil, err
	}
	if in.PublicICSPath != nil {
		if err := checkPathFree(ctx, tx, *in.PublicICSPath, 0, 0); err != nil {
			return nil, err
		}
	}

	res, err := tx.ExecContext(ctx, `
INSERT INTO sources (name, caldav_url, username, password, ics_path,
                     public_ics, public_ics_path, sync_interval_secs,
                     sync_interval_minutes, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.CalDAVURL, in.Username, in.Password, in.ICSPath,
		in.PublicICS, in.PublicICSPath, in.SyncIntervalSecs,
		in.SyncIntervalSecs/60, nowUTC())
	if err != nil {
		return nil, fmt.Errorf("insert source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("source id: %w", err)
	}

	src, err := scanSource(tx.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload source: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return src, nil
}

func (s *Store) UpdateSource(ctx context.Context, id int64, in *storage.UpdateSource) (*storage.Source, error) {
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

	existing, err := scanSource(tx.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
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

	// Blank password keeps the stored one.
	password := existing.Password
	if strings.TrimSpace(in.Password) != "" {
		password = in.Password
	}

	_, err = tx.ExecContext(ctx, `
UPDATE sources SET name = ?, caldav_url = ?, username = ?, password = ?,
                   ics_path = ?, public_ics = ?, public_ics_path = ?,
                   sync_interval_secs = ?, sync_interval_minutes = ?
WHERE id = ?`,
		in.Name, in.CalDAVURL, in.Username, password,
		in.ICSPath, in.PublicICS, in.PublicICSPath,
		in.SyncIntervalSecs, in.SyncIntervalSecs/60, id)
	if err != nil {
		return nil, fmt.Errorf("update source %d: %w", id, err)
	}

	src, err := scanSource(tx.QueryRowContext(ctx,
		`SELECT `+sourceColumns+` FROM sources WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload source: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return src, nil
}

func (s *Store) DeleteSource(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete source %d: %w", id, err)
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

func (s *Store) UpdateSourceSyncStatus(ctx context.Context, id int64, status string, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_sync_status = ?, last_sync_error = ? WHERE id = ?`,
		status, errMsg, id)
	if err != nil {
		return fmt.Errorf("update source %d sync status: %w", id, err)
	}
	return nil
}

func (s *Store) TouchSourceSynced(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`UPDATE sources SET last_synced = ? WHERE id = ?`, nowUTC(), id)
	if err != nil {
		return fmt.Errorf("touch source %d: %w", id, err)
	}
	return nil
}

func (s *Store) CountSources(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sources`).Scan(&n)
	return n, err
}
