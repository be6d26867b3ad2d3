// Package caldav is a minimal CalDAV client covering what the bridge needs:
// calendar discovery, bulk VEVENT retrieval, and per-object PUT/DELETE. It is
// not a general WebDAV client.
package caldav

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const propfindBody = `<?xml version="1.0" encoding="utf-8"?>
<d:propfind xmlns:d="DAV:">
  <d:prop>
    <d:resourcetype/>
    <d:displayname/>
  </d:prop>
</d:propfind>`

const calendarQueryBody = `<?xml version="1.0" encoding="utf-8"?>
<c:calendar-query xmlns:d="DAV:" xmlns:c="urn:ietf:params:xml:ns:caldav">
  <d:prop>
    <d:getetag/>
    <c:calendar-data/>
  </d:prop>
  <c:filter>
    <c:comp-filter name="VCALENDAR">
      <c:comp-filter name="VEVENT"/>
    </c:comp-filter>
  </c:filter>
</c:calendar-query>`

type Client struct {
	http   *http.Client
	auth   string
	logger zerolog.Logger
}

// NewClient builds a client carrying Basic credentials. Callers create one
// per sync run; the client holds no per-calendar state.
func NewClient(username, password string, logger zerolog.Logger) *Client {
	return &Client{
		http:   &http.Client{Timeout: 60 * time.Second},
		auth:   "Basic " + base64.StdEncoding.EncodeToString([]byte(username+":"+password)),
		logger: logger,
	}
}

func (c *Client) do(ctx context.Context, method, rawurl, depth, body string) (*http.Response, error) {
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, rawurl, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.auth)
	if depth != "" {
		req.Header.Set("Depth", depth)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/xml; charset=utf-8")
	}
	return c.http.Do(req)
}

// toggleSlash flips the presence of a trailing slash. Some servers only
// answer PROPFIND on the slashed form of a collection URL, some only on the
// bare form.
func toggleSlash(u string) string {
	if strings.HasSuffix(u, "/") {
		return strings.TrimSuffix(u, "/")
	}
	return u + "/"
}

// DiscoverCalendars lists calendar collections directly under baseURL via
// PROPFIND Depth:1. On failure the request is retried once with the trailing
// slash toggled. Returned hrefs are as the server sent them, usually
// server-relative.
func (c *Client) DiscoverCalendars(ctx context.Context, baseURL string) ([]string, error) {
	responses, err := c.propfind(ctx, baseURL)
	if err != nil {
		alt := toggleSlash(baseURL)
		c.logger.Debug().Str("url", alt).Msg("discovery retry with toggled trailing slash")
		responses, err = c.propfind(ctx, alt)
		if err != nil {
			return nil, err
		}
	}
	var hrefs []string
	for _, r := range responses {
		if r.href != "" && r.isCalendarCollection() {
			hrefs = append(hrefs, r.href)
		}
	}
	return hrefs, nil
}

func (c *Client) propfind(ctx context.Context, rawurl string) ([]multistatusResponse, error) {
	resp, err := c.do(ctx, "PROPFIND", rawurl, "1", propfindBody)
	if err != nil {
		return nil, fmt.Errorf("propfind %s: %w", rawurl, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("propfind %s: status %d", rawurl, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("propfind %s: read body: %w", rawurl, err)
	}
	return parseMultistatus(body)
}

// ResolveHref joins a multistatus href against the discovery base URL.
// Absolute URLs pass through, absolute paths take the base's
// scheme://authority, and relative paths append to the base.
func ResolveHref(baseURL, href string) (string, error) {
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href, nil
	}
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if strings.HasPrefix(href, "/") {
		return base.Scheme + "://" + base.Host + href, nil
	}
	if !strings.HasSuffix(base.Path, "/") {
		base.Path += "/"
	}
	return base.String() + href, nil
}

// FetchEvents runs a calendar-query REPORT against a calendar collection and
// returns the calendar-data of each VEVENT resource. calendarURL may be a
// href from DiscoverCalendars or a full URL.
func (c *Client) FetchEvents(ctx context.Context, baseURL, calendarHref string) ([]string, error) {
	target, err := ResolveHref(baseURL, calendarHref)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, "REPORT", target, "1", calendarQueryBody)
	if err != nil {
		return nil, fmt.Errorf("report %s: %w", target, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMultiStatus && resp.StatusCode/100 != 2 {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("report %s: status %d", target, resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("report %s: read body: %w", target, err)
	}
	responses, err := parseMultistatus(body)
	if err != nil {
		return nil, err
	}
	var events []string
	for _, r := range responses {
		if data := r.calendarData(); data != "" {
			events = append(events, data)
		}
	}
	return events, nil
}

// PutEvent uploads a single calendar object. Any 2xx status is success;
// servers answer 201 on create and 200 or 204 on overwrite.
func (c *Client) PutEvent(ctx context.Context, eventURL, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, eventURL, strings.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.auth)
	req.Header.Set("Content-Type", "text/calendar; charset=utf-8")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", eventURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("put %s: status %d", eventURL, resp.StatusCode)
	}
	return nil
}

// DeleteEvent removes a calendar object. 404 counts as success: the desired
// state is absence, and another writer may have raced us to it.
func (c *Client) DeleteEvent(ctx context.Context, eventURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, eventURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.auth)
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("delete %s: %w", eventURL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode/100 != 2 && resp.StatusCode != http.StatusNotFound {
		return fmt.Errorf("delete %s: status %d", eventURL, resp.StatusCode)
	}
	return nil
}
