// Package scheduler runs one periodic sync goroutine per enabled entity.
// Registrations are keyed by entity kind and id; re-registering replaces the
// running task, and a generation counter keeps a replaced task from tearing
// down its successor's registry slot.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/calbridge/calbridge/internal/metrics"
	"github.com/calbridge/calbridge/internal/storage"
	syncer "github.com/calbridge/calbridge/internal/sync"
)

type Kind string

const (
	KindSource      Kind = "source"
	KindDestination Kind = "destination"
)

// Key identifies a scheduled entity.
type Key struct {
	Kind Kind
	ID   int64
}

func (k Key) String() string { return fmt.Sprintf("%s/%d", k.Kind, k.ID) }

type entry struct {
	generation uint64
	cancel     context.CancelFunc
}

// errEntityGone stops a tick's retry loop when the entity was deleted while
// its task was running; the task then terminates itself.
var errEntityGone = errors.New("entity no longer exists")

const (
	defaultRetryBase     = 30 * time.Second
	defaultRetryCap      = 5 * time.Minute
	defaultRetryAttempts = 5
)

type Registry struct {
	store  storage.Store
	logger zerolog.Logger

	mu         sync.Mutex
	tasks      map[Key]entry
	generation atomic.Uint64

	retryBase     time.Duration
	retryCap      time.Duration
	retryAttempts uint64

	// Overridable for tests; default to the real pipelines.
	syncSource      func(ctx context.Context, src *storage.Source) (string, error)
	syncDestination func(ctx context.Context, dst *storage.Destination) (string, error)
}

func New(store storage.Store, logger zerolog.Logger) *Registry {
	r := &Registry{
		store:         store,
		logger:        logger,
		tasks:         make(map[Key]entry),
		retryBase:     defaultRetryBase,
		retryCap:      defaultRetryCap,
		retryAttempts: defaultRetryAttempts,
	}
	r.syncSource = r.runSourceSync
	r.syncDestination = r.runDestinationSync
	return r
}

// RegisterSource (re)schedules a source's periodic forward sync. An interval
// of zero disables auto-sync and only cancels.
func (r *Registry) RegisterSource(src *storage.Source) {
	r.register(Key{KindSource, src.ID}, src.SyncIntervalSecs, r.sourceTick)
}

// RegisterDestination (re)schedules a destination's periodic reverse sync.
func (r *Registry) RegisterDestination(dst *storage.Destination) {
	r.register(Key{KindDestination, dst.ID}, dst.SyncIntervalSecs, r.destinationTick)
}

func (r *Registry) register(key Key, intervalSecs int64, tick func(ctx context.Context, key Key) (string, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.tasks[key]; ok {
		e.cancel()
		delete(r.tasks, key)
	}
	if intervalSecs <= 0 {
		r.logger.Debug().Stringer("key", key).Msg("auto-sync disabled")
		return
	}

	g := r.generation.Add(1)
	ctx, cancel := context.WithCancel(context.Background())
	r.tasks[key] = entry{generation: g, cancel: cancel}

	interval := time.Duration(intervalSecs) * time.Second
	go r.run(ctx, key, g, interval, tick)

	r.logger.Info().
		Stringer("key", key).
		Uint64("generation", g).
		Dur("interval", interval).
		Msg("auto-sync registered")
}

// Cancel stops the entity's task if one is running. Idempotent.
func (r *Registry) Cancel(key Key) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tasks[key]; ok {
		e.cancel()
		delete(r.tasks, key)
		r.logger.Info().Stringer("key", key).Msg("auto-sync cancelled")
	}
}

// Shutdown cancels every task. Used on process teardown.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, e := range r.tasks {
		e.cancel()
		delete(r.tasks, key)
	}
}

// RegisterAll schedules every stored entity. Called once at boot.
func (r *Registry) RegisterAll(ctx context.Context) error {
	sources, err := r.store.ListSources(ctx)
	if err != nil {
		return fmt.Errorf("list sources: %w", err)
	}
	for _, src := range sources {
		r.RegisterSource(src)
	}

	destinations, err := r.store.ListDestinations(ctx)
	if err != nil {
		return fmt.Errorf("list destinations: %w", err)
	}
	for _, dst := range destinations {
		r.RegisterDestination(dst)
	}
	return nil
}

// Tasks returns the live keys, for health reporting and tests.
func (r *Registry) Tasks() []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]Key, 0, len(r.tasks))
	for k := range r.tasks {
		keys = append(keys, k)
	}
	return keys
}

func (r *Registry) run(ctx context.Context, key Key, g uint64, interval time.Duration, tick func(ctx context.Context, key Key) (string, error)) {
	defer r.removeIfCurrent(key, g)

	for {
		msg, err := r.attempt(ctx, key, tick)
		switch {
		case ctx.Err() != nil:
			return
		case errors.Is(err, errEntityGone):
			r.logger.Info().Stringer("key", key).Msg("entity removed, stopping auto-sync")
			return
		case err != nil:
			r.logger.Error().Err(err).Stringer("key", key).Msg("scheduled sync failed")
		default:
			r.logger.Info().Stringer("key", key).Msg(msg)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

// attempt runs one tick with retries: exponential backoff, 30s doubling up
// to 5m, five attempts in total. Entity disappearance is permanent.
func (r *Registry) attempt(ctx context.Context, key Key, tick func(ctx context.Context, key Key) (string, error)) (string, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.retryBase
	bo.MaxInterval = r.retryCap
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0

	var msg string
	op := func() error {
		m, err := tick(ctx, key)
		if err != nil {
			return err
		}
		msg = m
		return nil
	}
	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(bo, r.retryAttempts-1), ctx))
	return msg, err
}

// SyncSourceNow runs one forward sync outside the periodic schedule, with no
// retries. Used by the API's sync action; it does not touch the registry.
func (r *Registry) SyncSourceNow(ctx context.Context, src *storage.Source) (string, error) {
	msg, err := r.syncSource(ctx, src)
	if err != nil {
		r.journalFailure(ctx, Key{KindSource, src.ID}, err)
		metrics.SyncRuns.WithLabelValues(string(KindSource), "error").Inc()
		return "", err
	}
	metrics.SyncRuns.WithLabelValues(string(KindSource), "ok").Inc()
	return msg, nil
}

// SyncDestinationNow is the reverse-sync counterpart of SyncSourceNow.
func (r *Registry) SyncDestinationNow(ctx context.Context, dst *storage.Destination) (string, error) {
	msg, err := r.syncDestination(ctx, dst)
	if err != nil {
		r.journalFailure(ctx, Key{KindDestination, dst.ID}, err)
		metrics.SyncRuns.WithLabelValues(string(KindDestination), "error").Inc()
		return "", err
	}
	metrics.SyncRuns.WithLabelValues(string(KindDestination), "ok").Inc()
	return msg, nil
}

func (r *Registry) removeIfCurrent(key Key, g uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.tasks[key]; ok && e.generation == g {
		delete(r.tasks, key)
	}
}

func (r *Registry) sourceTick(ctx context.Context, key Key) (string, error) {
	src, err := r.store.GetSource(ctx, key.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", backoff.Permanent(errEntityGone)
	}
	if err != nil {
		return "", err
	}

	msg, err := r.syncSource(ctx, src)
	if err != nil {
		r.journalFailure(ctx, key, err)
		metrics.SyncRuns.WithLabelValues(string(key.Kind), "error").Inc()
		return "", err
	}
	metrics.SyncRuns.WithLabelValues(string(key.Kind), "ok").Inc()
	return msg, nil
}

func (r *Registry) destinationTick(ctx context.Context, key Key) (string, error) {
	dst, err := r.store.GetDestination(ctx, key.ID)
	if errors.Is(err, storage.ErrNotFound) {
		return "", backoff.Permanent(errEntityGone)
	}
	if err != nil {
		return "", err
	}

	msg, err := r.syncDestination(ctx, dst)
	if err != nil {
		r.journalFailure(ctx, key, err)
		metrics.SyncRuns.WithLabelValues(string(key.Kind), "error").Inc()
		return "", err
	}
	metrics.SyncRuns.WithLabelValues(string(key.Kind), "ok").Inc()
	return msg, nil
}

// journalFailure writes the error to the entity's status columns. If the
// entity is gone, the retry loop is cut short via a permanent error the next
// time the tick fetches it.
func (r *Registry) journalFailure(ctx context.Context, key Key, tickErr error) {
	msg := tickErr.Error()
	var err error
	switch key.Kind {
	case KindSource:
		err = r.store.UpdateSourceSyncStatus(ctx, key.ID, "error", &msg)
	case KindDestination:
		err = r.store.UpdateDestinationSyncStatus(ctx, key.ID, "error", &msg)
	}
	if err != nil {
		r.logger.Warn().Err(err).Stringer("key", key).Msg("could not journal sync failure")
	}
}

func (r *Registry) runSourceSync(ctx context.Context, src *storage.Source) (string, error) {
	res, err := syncer.RunSync(ctx, src.CalDAVURL, src.Username, src.Password, r.logger)
	if err != nil {
		return "", err
	}
	if err := r.store.SaveICSBlob(ctx, src.ID, res.ICS); err != nil {
		return "", err
	}
	if err := r.store.TouchSourceSynced(ctx, src.ID); err != nil {
		return "", err
	}
	if err := r.store.UpdateSourceSyncStatus(ctx, src.ID, "ok", nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("synced %d events from %d calendars", res.Events, res.Calendars), nil
}

func (r *Registry) runDestinationSync(ctx context.Context, dst *storage.Destination) (string, error) {
	res, err := syncer.RunReverseSync(ctx, syncer.ReverseParams{
		ICSURL:       dst.ICSURL,
		CalDAVURL:    dst.CalDAVURL,
		CalendarName: dst.CalendarName,
		Username:     dst.Username,
		Password:     dst.Password,
		SyncAll:      dst.SyncAll,
		KeepLocal:    dst.KeepLocal,
	}, r.logger)
	if err != nil {
		return "", err
	}
	if err := r.store.UpdateDestinationSyncStatus(ctx, dst.ID, "ok", nil); err != nil {
		return "", err
	}
	return fmt.Sprintf("uploaded %d, skipped %d, deleted %d of %d events",
		res.Uploaded, res.Skipped, res.Deleted, res.Total), nil
}
