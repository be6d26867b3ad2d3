package sync

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/calbridge/calbridge/internal/caldav"
	"github.com/calbridge/calbridge/internal/metrics"
	"github.com/calbridge/calbridge/pkg/ics"
)

// ReverseParams are the destination fields a reverse run needs. The caller
// reads them from the store and releases the store lock before calling.
type ReverseParams struct {
	ICSURL       string
	CalDAVURL    string
	CalendarName string
	Username     string
	Password     string
	SyncAll      bool
	KeepLocal    bool
}

// ReverseResult counts what one reverse run did. Total is the size of the
// upload set after futureness filtering.
type ReverseResult struct {
	Uploaded int
	Skipped  int
	Deleted  int
	Total    int
}

// CalendarBase composes the event collection URL from the destination's
// CalDAV URL and calendar name. A caldav_url that already ends in the
// calendar name is used as-is, so both styles of configuration work.
func CalendarBase(caldavURL, calendarName string) string {
	base := strings.TrimSuffix(caldavURL, "/")
	if calendarName == "" || strings.HasSuffix(base, "/"+calendarName) {
		return base + "/"
	}
	return base + "/" + calendarName + "/"
}

func fetchFeed(ctx context.Context, icsURL string) (string, error) {
	client := &http.Client{Timeout: 60 * time.Second}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, icsURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch feed %s: %w", icsURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return "", fmt.Errorf("fetch feed %s: status %d", icsURL, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("fetch feed %s: read body: %w", icsURL, err)
	}
	return string(body), nil
}

// RunReverseSync pushes a remote ICS feed into a CalDAV calendar. Events are
// compared group-wise with volatile fields ignored; unchanged groups are
// skipped, changed or new groups are re-uploaded whole, and orphans are
// deleted unless keep_local is set. An empty feed is a no-op, never a wipe.
func RunReverseSync(ctx context.Context, p ReverseParams, logger zerolog.Logger) (*ReverseResult, error) {
	body, err := fetchFeed(ctx, p.ICSURL)
	if err != nil {
		return nil, err
	}

	feed := ics.ParseFeed(body)
	if len(feed.UIDs) == 0 {
		logger.Warn().Str("ics_url", p.ICSURL).Msg("feed returned zero events, skipping sync")
		return &ReverseResult{}, nil
	}

	base := CalendarBase(p.CalDAVURL, p.CalendarName)
	client := caldav.NewClient(p.Username, p.Password, logger)

	// A fetch failure here degrades to "upload everything"; PUT is
	// idempotent on the server side.
	existing := make(map[string][]string)
	if objects, err := client.FetchEvents(ctx, base, base); err != nil {
		logger.Warn().Err(err).Str("base", base).Msg("could not fetch existing events, assuming empty calendar")
	} else {
		for _, obj := range objects {
			for uid, blocks := range ics.ParseFeed(obj).Events {
				existing[uid] = append(existing[uid], blocks...)
			}
		}
	}

	now := time.Now()
	var uploadSet []string
	for _, uid := range feed.UIDs {
		if p.SyncAll || ics.GroupHasFuture(feed.Events[uid], now) {
			uploadSet = append(uploadSet, uid)
		}
	}

	res := &ReverseResult{Total: len(uploadSet)}
	uploadErrors := 0
	for _, uid := range uploadSet {
		group := feed.Events[uid]
		if remote, ok := existing[uid]; ok && ics.GroupsEqual(remote, group) {
			res.Skipped++
			continue
		}
		payload := ics.WrapCalendar(feed.Timezones, group)
		if err := client.PutEvent(ctx, base+uid+".ics", payload); err != nil {
			logger.Warn().Err(err).Str("uid", uid).Msg("upload failed")
			uploadErrors++
			continue
		}
		res.Uploaded++
		metrics.EventsUploaded.Inc()
	}

	// Partial failure aborts before deletion so a flaky server cannot make
	// us remove events we failed to (re)write.
	if uploadErrors > 0 {
		return res, fmt.Errorf("Uploaded %d events but %d failed", res.Uploaded, uploadErrors)
	}

	if !p.KeepLocal {
		for uid, group := range existing {
			if _, inFeed := feed.Events[uid]; inFeed {
				continue
			}
			if !p.SyncAll && !ics.GroupHasFuture(group, now) {
				continue
			}
			if err := client.DeleteEvent(ctx, base+uid+".ics"); err != nil {
				logger.Warn().Err(err).Str("uid", uid).Msg("delete failed")
				continue
			}
			res.Deleted++
			metrics.EventsDeleted.Inc()
		}
	}

	logger.Info().
		Int("uploaded", res.Uploaded).
		Int("skipped", res.Skipped).
		Int("deleted", res.Deleted).
		Int("total", res.Total).
		Msg("reverse sync complete")

	return res, nil
}
