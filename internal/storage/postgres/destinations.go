package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

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
	rows, err := s.pool.Query(ctx, `SELECT `+destinationColumns+` FROM destinations ORDER BY id`)
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
	d, err := scanDestination(s.pool.QueryRow(ctx,
		`SELECT `+destinationColumns+` FROM destinations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
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

	d, err := scanDestination(s.pool.QueryRow(ctx, `
INSERT INTO destinations (name, ics_url, caldav_url, calendar_name,
                          username, password, sync_interval_secs,
                          sync_interval_minutes, sync_all, keep_local, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
RETURNING `+destinationColumns,
		in.Name, in.ICSURL, in.CalDAVURL, in.CalendarName,
		in.Username, in.Password, in.SyncIntervalSecs,
		in.SyncIntervalSecs/60, in.SyncAll, in.KeepLocal, nowUTC()))
	if err != nil {
		return nil, fmt.Errorf("insert destination: %w", err)
	}
	return d, nil
}

func (s *Store) UpdateDestination(ctx context.Context, id int64, in *storage.UpdateDestination) (*storage.Destination, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	existing, err := s.GetDestination(ctx, id)
	if err != nil {
		return nil, err
	}

	password := existing.Password
	if strings.TrimSpace(in.Password) != "" {
		password = in.Password
	}

	d, err := scanDestination(s.pool.QueryRow(ctx, `
UPDATE destinations SET name = $1, ics_url = $2, caldav_url = $3, calendar_name = $4,
                        username = $5, password = $6, sync_interval_secs = $7,
                        sync_interval_minutes = $8, sync_all = $9, keep_local = $10
WHERE id = $11
RETURNING `+destinationColumns,
		in.Name, in.ICSURL, in.CalDAVURL, in.CalendarName,
		in.Username, password, in.SyncIntervalSecs,
		in.SyncIntervalSecs/60, in.SyncAll, in.KeepLocal, id))
	if err != nil {
		return nil, fmt.Errorf("update destination %d: %w", id, err)
	}
	return d, nil
}

func (s *Store) DeleteDestination(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM destinations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete destination %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateDestinationSyncStatus(ctx context.Context, id int64, status string, errMsg *string) error {
	var err error
	if status == "ok" {
		_, err = s.pool.Exec(ctx,
			`UPDATE destinations SET last_sync_status = $1, last_sync_error = NULL, last_synced = $2 WHERE id = $3`,
			status, nowUTC(), id)
	} else {
		_, err = s.pool.Exec(ctx,
			`UPDATE destinations SET last_sync_status = $1, last_sync_error = $2 WHERE id = $3`,
			status, errMsg, id)
	}
	if err != nil {
		return fmt.Errorf("update destination %d sync status: %w", id, err)
	}
	return nil
}

func (s *Store) FindOverlappingDestinations(ctx context.Context, caldavURL, calendarName string, excludeID *int64) ([]*storage.Destination, error) {
	query := `SELECT ` + destinationColumns + ` FROM destinations WHERE caldav_url = $1 AND calendar_name = $2`
	args := []any{caldavURL, calendarName}
	if excludeID != nil {
		query += ` AND id != $3`
		args = append(args, *excludeID)
	}
	query += ` ORDER BY id`

	rows, err := s.pool.Query(ctx, query, args...)
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
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM destinations`).Scan(&n)
	return n, err
}
