// Package calendar integrates the dealership's shop calendar over its REST
// API using the OAuth2 refresh-token flow. Appointment events, free/busy
// lookups, and availability slot computation live here.
//
// The database remains the source of truth for appointments; calendar
// operations follow the booking flow's compensation rules and are best-effort
// on teardown paths.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/driveline-ai/driveline/internal/config"
	"github.com/driveline-ai/driveline/internal/resilience"
)

const (
	defaultBaseURL  = "https://www.googleapis.com/calendar/v3"
	defaultTokenURL = "https://oauth2.googleapis.com/token"

	// requestTimeout bounds every calendar round trip. A caller on the
	// phone cannot wait longer.
	requestTimeout = 5 * time.Second

	// tokenSkew refreshes the access token slightly before its reported
	// expiry so an in-flight request never carries a stale token.
	tokenSkew = time.Minute
)

// ErrEventNotFound is returned when the calendar no longer has the event.
var ErrEventNotFound = errors.New("calendar: event not found")

// Event is one appointment entry on the shop calendar. Times are UTC.
type Event struct {
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	AttendeeEmail string
}

// Interval is a half-open busy window [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

// Client talks to the calendar API. Safe for concurrent use.
type Client struct {
	cfg        config.CalendarConfig
	httpClient *http.Client
	baseURL    string
	tokenURL   string
	breaker    *resilience.Breaker

	// refresh coalesces concurrent token refreshes into one round trip. The
	// mutex guards only the cached token fields, never the refresh itself;
	// the client is shared across every live call.
	refresh     singleflight.Group
	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

// Option is a functional option for Client.
type Option func(*Client)

// WithBaseURL overrides the calendar API base URL. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithTokenURL overrides the OAuth2 token endpoint. Used by tests.
func WithTokenURL(u string) Option {
	return func(c *Client) { c.tokenURL = u }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a calendar Client. Credentials must be complete; the client
// fails fast rather than discovering missing config mid-call.
func New(cfg config.CalendarConfig, opts ...Option) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" || cfg.RefreshToken == "" {
		return nil, errors.New("calendar: client credentials must not be empty")
	}
	if cfg.CalendarID == "" {
		return nil, errors.New("calendar: calendar_id must not be empty")
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: requestTimeout},
		baseURL:    defaultBaseURL,
		tokenURL:   defaultTokenURL,
		breaker:    resilience.NewBreaker(resilience.BreakerConfig{Name: "calendar"}),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// FreeBusy returns the calendar's busy intervals between from and to.
func (c *Client) FreeBusy(ctx context.Context, from, to time.Time) ([]Interval, error) {
	body := map[string]any{
		"timeMin": from.UTC().Format(time.RFC3339),
		"timeMax": to.UTC().Format(time.RFC3339),
		"items":   []map[string]string{{"id": c.cfg.CalendarID}},
	}

	var resp struct {
		Calendars map[string]struct {
			Busy []struct {
				Start time.Time `json:"start"`
				End   time.Time `json:"end"`
			} `json:"busy"`
		} `json:"calendars"`
	}
	if err := c.do(ctx, http.MethodPost, "/freeBusy", body, &resp); err != nil {
		return nil, fmt.Errorf("calendar: freebusy: %w", err)
	}

	var busy []Interval
	for _, win := range resp.Calendars[c.cfg.CalendarID].Busy {
		busy = append(busy, Interval{Start: win.Start.UTC(), End: win.End.UTC()})
	}
	return busy, nil
}

// InsertEvent creates an appointment event and returns its ID. Attendees are
// notified so the customer gets the invitation email.
func (c *Client) InsertEvent(ctx context.Context, ev Event) (string, error) {
	var resp struct {
		ID string `json:"id"`
	}
	path := fmt.Sprintf("/calendars/%s/events?sendUpdates=all", url.PathEscape(c.cfg.CalendarID))
	if err := c.do(ctx, http.MethodPost, path, encodeEvent(ev), &resp); err != nil {
		return "", fmt.Errorf("calendar: insert event: %w", err)
	}
	return resp.ID, nil
}

// UpdateEvent rewrites an existing event, keeping its ID.
func (c *Client) UpdateEvent(ctx context.Context, eventID string, ev Event) error {
	path := fmt.Sprintf("/calendars/%s/events/%s?sendUpdates=all",
		url.PathEscape(c.cfg.CalendarID), url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodPut, path, encodeEvent(ev), nil); err != nil {
		return fmt.Errorf("calendar: update event: %w", err)
	}
	return nil
}

// DeleteEvent removes an event. Deleting an event that is already gone
// returns ErrEventNotFound; callers on cancellation paths treat that as
// success.
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	path := fmt.Sprintf("/calendars/%s/events/%s?sendUpdates=all",
		url.PathEscape(c.cfg.CalendarID), url.PathEscape(eventID))
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("calendar: delete event: %w", err)
	}
	return nil
}

// encodeEvent converts an Event to the calendar API payload.
func encodeEvent(ev Event) map[string]any {
	payload := map[string]any{
		"summary":     ev.Summary,
		"description": ev.Description,
		"start":       map[string]string{"dateTime": ev.Start.UTC().Format(time.RFC3339)},
		"end":         map[string]string{"dateTime": ev.End.UTC().Format(time.RFC3339)},
	}
	if ev.AttendeeEmail != "" {
		payload["attendees"] = []map[string]string{{"email": ev.AttendeeEmail}}
	}
	return payload
}

// do performs one authenticated API call through the breaker.
func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	return c.breaker.Do(func() error {
		ctx, cancel := context.WithTimeout(ctx, requestTimeout)
		defer cancel()

		token, err := c.token(ctx)
		if err != nil {
			return err
		}

		var reader io.Reader
		if body != nil {
			encoded, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("encode body: %w", err)
			}
			reader = bytes.NewReader(encoded)
		}

		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
			return ErrEventNotFound
		case resp.StatusCode >= 300:
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return fmt.Errorf("status %d: %s", resp.StatusCode, raw)
		}

		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	})
}

// token returns a valid access token, refreshing it when expired. The HTTP
// round trip runs outside the mutex so a slow refresh never blocks other
// calls' calendar operations.
func (c *Client) token(ctx context.Context) (string, error) {
	if tok, ok := c.cachedToken(); ok {
		return tok, nil
	}

	v, err, _ := c.refresh.Do("token", func() (any, error) {
		// Another caller may have finished the refresh while we queued.
		if tok, ok := c.cachedToken(); ok {
			return tok, nil
		}
		return c.refreshAccessToken(ctx)
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// cachedToken returns the stored access token when it is still fresh.
func (c *Client) cachedToken() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.accessToken != "" && time.Now().Before(c.tokenExpiry.Add(-tokenSkew)) {
		return c.accessToken, true
	}
	return "", false
}

// refreshAccessToken performs the OAuth2 refresh grant and stores the result.
func (c *Client) refreshAccessToken(ctx context.Context) (string, error) {
	form := url.Values{
		"client_id":     {c.cfg.ClientID},
		"client_secret": {c.cfg.ClientSecret},
		"refresh_token": {c.cfg.RefreshToken},
		"grant_type":    {"refresh_token"},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.tokenURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("refresh token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("refresh token: status %d: %s", resp.StatusCode, raw)
	}

	var payload struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", fmt.Errorf("refresh token: decode: %w", err)
	}
	if payload.AccessToken == "" {
		return "", errors.New("refresh token: empty access_token")
	}

	c.mu.Lock()
	c.accessToken = payload.AccessToken
	c.tokenExpiry = time.Now().Add(time.Duration(payload.ExpiresIn) * time.Second)
	c.mu.Unlock()
	return payload.AccessToken, nil
}
