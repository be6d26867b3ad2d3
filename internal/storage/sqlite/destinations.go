package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/calbridge/calbridge/internal/storage"
)

const destinationColumns = `id, name, ics_url, caldav_url, calendar_name,
	username, password, sync_interval_secs, sync_all, keep_local,
	last_synced, last_sync_status, last_sync_error, created_at`

func scanDestination(row rowScanner) (*storage.Destination, error) {
	var d storage.Destination
	err := row.Scan(
		&d.ID, &d.Name, &d.ICSURL, &d.CalDAVURL, &d.CalendarName,
		&d.Username, &d.Password, &d.SyncIntervalSecs, &d.SyncAll, &d.KeepLocal,
		&d.LastSynced, &d.LastSyncStatus, &d.LastSyncError, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *Store) ListDestinations(ctx context.Context) ([]*storage.Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT `+destinationColumns+` FROM destinations ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list destinations: %w", err)
	}
	defer rows.Close()

	var out []*storage.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) GetDestination(ctx context.Context, id int64) (*storage.Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, err := scanDestination(s.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get destination %d: %w", id, err)
	}
	return d, nil
}

func (s *Store) CreateDestination(ctx context.Context, in *storage.CreateDestination) (*storage.Destination, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
INSERT INTO destinations (name, ics_url, caldav_url, calendar_name,
                          username, password, sync_interval_secs,
                          sync_interval_minutes, sync_all, keep_local, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.Name, in.ICSURL, in.CalDAVURL, in.CalendarName,
		in.Username, in.Password, in.SyncIntervalSecs,
		in.SyncIntervalSecs/60, in.SyncAll, in.KeepLocal, nowUTC())
	if err != nil {
		return nil, fmt.Errorf("insert destination: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("destination id: %w", err)
	}

	d, err := scanDestination(s.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload destination: %w", err)
	}
	return d, nil
}

func (s *Store) UpdateDestination(ctx context.Context, id int64, in *storage.UpdateDestination) (*storage.Destination, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := scanDestination(s.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get destination %d: %w", id, err)
	}

	password := existing.Password
	if strings.TrimSpace(in.Password) != "" {
		password = in.Password
	}

	_, err = s.db.ExecContext(ctx, `
UPDATE destinations SET name = ?, ics_url = ?, caldav_url = ?, calendar_name = ?,
                        username = ?, password = ?, sync_interval_secs = ?,
                        sync_interval_minutes = ?, sync_all = ?, keep_local = ?
WHERE id = ?`,
		in.Name, in.ICSURL, in.CalDAVURL, in.CalendarName,
		in.Username, password, in.SyncIntervalSecs,
		in.SyncIntervalSecs/60, in.SyncAll, in.KeepLocal, id)
	if err != nil {
		return nil, fmt.Errorf("update destination %d: %w", id, err)
	}

	d, err := scanDestination(s.db.QueryRowContext(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("reload destination: %w", err)
	}
	return d, nil
}

func (s *Store) DeleteDestination(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM destinations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete destination %d: %w", id, err)
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

// UpdateDestinationSyncStatus journals the outcome of a reverse-sync tick.
// Success stamps last_synced and clears the error.
func (s *Store) UpdateDestinationSyncStatus(ctx context.Context, id int64, status string, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if status == "ok" {
		_, err = s.db.ExecContext(ctx,
			`UPDATE destinations SET last_sync_status = ?, last_sync_error = NULL, last_synced = ? WHERE id = ?`,
			status, nowUTC(), id)
	} else {
		_, err = s.db.ExecContext(ctx,
			`UPDATE destinations SET last_sync_status = ?, last_sync_error = ? WHERE id = ?`,
			status, errMsg, id)
	}
	if err != nil {
		return fmt.Errorf("update destination %d sync status: %w", id, err)
	}
	return nil
}

func (s *Store) FindOverlappingDestinations(ctx context.Context, caldavURL, calendarName string, excludeID *int64) ([]*storage.Destination, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT ` + destinationColumns + ` FROM destinations WHERE caldav_url = ? AND calendar_name = ?`
	args := []any{caldavURL, calendarName}
	if excludeID != nil {
		query += ` AND id != ?`
		args = append(args, *excludeID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find overlapping destinations: %w", err)
	}
	defer rows.Close()

	var out []*storage.Destination
	for rows.Next() {
		d, err := scanDestination(rows)
		if err != nil {
			return nil, fmt.Errorf("scan destination: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *Store) CountDestinations(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM destinations`).Scan(&n)
	return n, err
}
