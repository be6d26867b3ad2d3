// Package sync implements the two pipelines: forward (CalDAV in, aggregated
// ICS feed out) and reverse (ICS feed in, CalDAV out).
package sync

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/calbridge/calbridge/internal/caldav"
	"github.com/calbridge/calbridge/pkg/ics"
)

// ForwardResult summarises one forward run. ICS is the full aggregated
// calendar ready for serving.
type ForwardResult struct {
	Events    int
	Calendars int
	ICS       string
}

// RunSync discovers every calendar under caldavURL, pulls its VEVENTs, and
// aggregates them into a single VCALENDAR. The caller persists the blob and
// the sync status.
func RunSync(ctx context.Context, caldavURL, username, password string, logger zerolog.Logger) (*ForwardResult, error) {
	client := caldav.NewClient(username, password, logger)

	calendars, err := client.DiscoverCalendars(ctx, caldavURL)
	if err != nil {
		return nil, fmt.Errorf("discover calendars: %w", err)
	}

	var blocks []string
	total := 0
	for _, href := range calendars {
		objects, err := client.FetchEvents(ctx, caldavURL, href)
		if err != nil {
			return nil, fmt.Errorf("fetch events from %s: %w", href, err)
		}
		total += len(objects)
		for _, obj := range objects {
			blocks = append(blocks, ics.ExtractVEVENTs(obj)...)
		}
		logger.Debug().Str("calendar", href).Int("objects", len(objects)).Msg("fetched calendar")
	}

	logger.Info().
		Int("calendars", len(calendars)).
		Int("events", total).
		Msg("forward sync aggregated")

	return &ForwardResult{
		Events:    total,
		Calendars: len(calendars),
		ICS:       ics.WrapCalendar(blocks),
	}, nil
}
