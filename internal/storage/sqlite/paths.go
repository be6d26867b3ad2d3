package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/calbridge/calbridge/internal/storage"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// pathTaken checks a candidate path against the whole serving namespace:
// primary paths, public aliases, and source-path aliases. Updates pass their
// own row id so keeping an existing path does not collide with itself.
func pathTaken(ctx context.Context, q querier, path string, excludeSourceID, excludeSourcePathID int64) (bool, error) {
	const query = `
SELECT EXISTS(SELECT 1 FROM sources WHERE ics_path = ? AND id != ?)
    OR EXISTS(SELECT 1 FROM sources WHERE public_ics_path = ? AND id != ?)
    OR EXISTS(SELECT 1 FROM source_paths WHERE path = ? AND id != ?)`
	var taken bool
	err := q.QueryRowContext(ctx, query,
		path, excludeSourceID,
		path, excludeSourceID,
		path, excludeSourcePathID,
	).Scan(&taken)
	if err != nil {
		return false, fmt.Errorf("check path uniqueness: %w", err)
	}
	return taken, nil
}

func checkPathFree(ctx context.Context, q querier, path string, excludeSourceID, excludeSourcePathID int64) error {
	taken, err := pathTaken(ctx, q, path, excludeSourceID, excludeSourcePathID)
	if err != nil {
		return err
	}
	if taken {
		return &storage.ValidationError{Msg: fmt.Sprintf("path %q is already in use", path)}
	}
	return nil
}
