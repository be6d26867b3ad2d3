package storage

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by lookups for rows that do not exist.
var ErrNotFound = errors.New("not found")

// ValidationError marks user-correctable input problems. The API layer maps
// it to 400; everything else store-side is a 500.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Source is a CalDAV account mirrored outward as an aggregated ICS feed.
type Source struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	CalDAVURL        string  `json:"caldav_url"`
	Username         string  `json:"username"`
	Password         string  `json:"-"`
	ICSPath          string  `json:"ics_path"`
	PublicICS        bool    `json:"public_ics"`
	PublicICSPath    *string `json:"public_ics_path"`
	SyncIntervalSecs int64   `json:"sync_interval_secs"`
	LastSynced       *string `json:"last_synced"`
	LastSyncStatus   *string `json:"last_sync_status"`
	LastSyncError    *string `json:"last_sync_error"`
	CreatedAt        string  `json:"created_at"`
}

// Destination is a remote ICS feed pushed into a CalDAV calendar.
type Destination struct {
	ID               int64   `json:"id"`
	Name             string  `json:"name"`
	ICSURL           string  `json:"ics_url"`
	CalDAVURL        string  `json:"caldav_url"`
	CalendarName     string  `json:"calendar_name"`
	Username         string  `json:"username"`
	Password         string  `json:"-"`
	SyncIntervalSecs int64   `json:"sync_interval_secs"`
	SyncAll          bool    `json:"sync_all"`
	KeepLocal        bool    `json:"keep_local"`
	LastSynced       *string `json:"last_synced"`
	LastSyncStatus   *string `json:"last_sync_status"`
	LastSyncError    *string `json:"last_sync_error"`
	CreatedAt        string  `json:"created_at"`
}

// SourcePath is an additional serving alias for a Source's blob.
type SourcePath struct {
	ID        int64  `json:"id"`
	SourceID  int64  `json:"source_id"`
	Path      string `json:"path"`
	IsPublic  bool   `json:"is_public"`
	CreatedAt string `json:"created_at"`
}

// CreateSource carries the writable fields of a new Source.
type CreateSource struct {
	Name             string  `json:"name"`
	CalDAVURL        string  `json:"caldav_url"`
	Username         string  `json:"username"`
	Password         string  `json:"password"`
	ICSPath          string  `json:"ics_path"`
	PublicICS        bool    `json:"public_ics"`
	PublicICSPath    *string `json:"public_ics_path"`
	SyncIntervalSecs int64   `json:"sync_interval_secs"`
}

// UpdateSource mirrors CreateSource; an empty password means "unchanged".
type UpdateSource struct {
	Name             string  `json:"name"`
	CalDAVURL        string  `json:"caldav_url"`
	Username         string  `json:"username"`
	Password         string  `json:"password"`
	ICSPath          string  `json:"ics_path"`
	PublicICS        bool    `json:"public_ics"`
	PublicICSPath    *string `json:"public_ics_path"`
	SyncIntervalSecs int64   `json:"sync_interval_secs"`
}

type CreateDestination struct {
	Name             string `json:"name"`
	ICSURL           string `json:"ics_url"`
	CalDAVURL        string `json:"caldav_url"`
	CalendarName     string `json:"calendar_name"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	SyncIntervalSecs int64  `json:"sync_interval_secs"`
	SyncAll          bool   `json:"sync_all"`
	KeepLocal        bool   `json:"keep_local"`
}

type UpdateDestination struct {
	Name             string `json:"name"`
	ICSURL           string `json:"ics_url"`
	CalDAVURL        string `json:"caldav_url"`
	CalendarName     string `json:"calendar_name"`
	Username         string `json:"username"`
	Password         string `json:"password"`
	SyncIntervalSecs int64  `json:"sync_interval_secs"`
	SyncAll          bool   `json:"sync_all"`
	KeepLocal        bool   `json:"keep_local"`
}

type CreateSourcePath struct {
	Path     string `json:"path"`
	IsPublic bool   `json:"is_public"`
}

type UpdateSourcePath struct {
	Path     string `json:"path"`
	IsPublic bool   `json:"is_public"`
}

// Store is the persistence contract shared by the sqlite and postgres
// backends. All mutations enforce the path-namespace rules before writing.
type Store interface {
	Close()
	Ping(ctx context.Context) error

	ListSources(ctx context.Context) ([]*Source, error)
	GetSource(ctx context.Context, id int64) (*Source, error)
	CreateSource(ctx context.Context, in *CreateSource) (*Source, error)
	UpdateSource(ctx context.Context, id int64, in *UpdateSource) (*Source, error)
	DeleteSource(ctx context.Context, id int64) error
	UpdateSourceSyncStatus(ctx context.Context, id int64, status string, errMsg *string) error
	TouchSourceSynced(ctx context.Context, id int64) error

	ListDestinations(ctx context.Context) ([]*Destination, error)
	GetDestination(ctx context.Context, id int64) (*Destination, error)
	CreateDestination(ctx context.Context, in *CreateDestination) (*Destination, error)
	UpdateDestination(ctx context.Context, id int64, in *UpdateDestination) (*Destination, error)
	DeleteDestination(ctx context.Context, id int64) error
	UpdateDestinationSyncStatus(ctx context.Context, id int64, status string, errMsg *string) error
	FindOverlappingDestinations(ctx context.Context, caldavURL, calendarName string, excludeID *int64) ([]*Destination, error)

	ListSourcePaths(ctx context.Context, sourceID int64) ([]*SourcePath, error)
	GetSourcePath(ctx context.Context, id int64) (*SourcePath, error)
	CreateSourcePath(ctx context.Context, sourceID int64, in *CreateSourcePath) (*SourcePath, error)
	UpdateSourcePath(ctx context.Context, id int64, in *UpdateSourcePath) (*SourcePath, error)
	DeleteSourcePath(ctx context.Context, id int64) error

	SaveICSBlob(ctx context.Context, sourceID int64, content string) error
	GetICSBlob(ctx context.Context, sourceID int64) (string, error)
	GetBlobByPath(ctx context.Context, path string) (string, error)
	GetBlobByPublicPath(ctx context.Context, path string) (string, error)
	IsPublicStandard(ctx context.Context, path string) (bool, error)

	CountSources(ctx context.Context) (int64, error)
	CountDestinations(ctx context.Context) (int64, error)
}
