// Package twitchapi contains minimal helpers to interact with Twitch Helix APIs
// for user resolution and live stream lookups, using an app access token.
package twitchapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/ratelimit"

	"github.com/cafu47/streamwall/telemetry"
)

const (
	helixBaseURL = "https://api.twitch.tv/helix"
	// helixMaxRetries bounds attempts per call; a 401 token refresh adds one.
	helixMaxRetries = 3
	// helixMaxLogins is Helix's cap on repeated login/id query parameters.
	helixMaxLogins = 100
)

// ErrUserNotFound is returned when a login does not resolve to a user.
var ErrUserNotFound = errors.New("user not found")

// HelixClient provides the Helix calls the wall and the live-streams proxy need.
type HelixClient struct {
	AppTokenSource *TokenSource
	ClientID       string
	HTTPClient     *http.Client
	// Limiter paces outbound requests; nil means unlimited.
	Limiter ratelimit.Limiter
}

// NewHelixClient returns a client limited to rps requests per second.
func NewHelixClient(ts *TokenSource, rps int) *HelixClient {
	hc := &HelixClient{AppTokenSource: ts, ClientID: ts.ClientID, HTTPClient: &http.Client{Timeout: 10 * time.Second}}
	if rps > 0 {
		hc.Limiter = ratelimit.New(rps)
	}
	return hc
}

// User is a Helix user.
type User struct {
	ID          string `json:"id"`
	Login       string `json:"login"`
	DisplayName string `json:"display_name"`
}

// Stream is a live Helix stream.
type Stream struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	UserLogin   string    `json:"user_login"`
	UserName    string    `json:"user_name"`
	GameID      string    `json:"game_id"`
	GameName    string    `json:"game_name"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	ViewerCount int       `json:"viewer_count"`
	StartedAt   time.Time `json:"started_at"`
}

// Channel is a Helix channel information record.
type Channel struct {
	BroadcasterID    string `json:"broadcaster_id"`
	BroadcasterLogin string `json:"broadcaster_login"`
	BroadcasterName  string `json:"broadcaster_name"`
	GameID           string `json:"game_id"`
	GameName         string `json:"game_name"`
	Title            string `json:"title"`
}

// StatusError is a non-retryable Helix error response.
type StatusError struct {
	Endpoint string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("helix %s: status %d: %s", e.Endpoint, e.Status, e.Body)
}

func (hc *HelixClient) http() *http.Client {
	if hc.HTTPClient != nil {
		return hc.HTTPClient
	}
	return http.DefaultClient
}

// GetUserID resolves a login name to its user ID.
func (hc *HelixClient) GetUserID(ctx context.Context, login string) (string, error) {
	if login == "" {
		return "", fmt.Errorf("login empty")
	}
	users, err := hc.GetUsers(ctx, login)
	if err != nil {
		return "", err
	}
	if len(users) == 0 {
		return "", ErrUserNotFound
	}
	return users[0].ID, nil
}

// GetUsers looks up users by login.
func (hc *HelixClient) GetUsers(ctx context.Context, logins ...string) ([]User, error) {
	var out []User
	for _, chunk := range chunks(logins, helixMaxLogins) {
		q := url.Values{}
		for _, l := range chunk {
			q.Add("login", l)
		}
		var body struct {
			Data []User `json:"data"`
		}
		if err := hc.get(ctx, "users", q, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

// GetStreams returns the live streams among logins. Offline channels are
// simply absent from the result.
func (hc *HelixClient) GetStreams(ctx context.Context, logins ...string) ([]Stream, error) {
	if len(logins) == 0 {
		return nil, nil
	}
	var out []Stream
	for _, chunk := range chunks(logins, helixMaxLogins) {
		q := url.Values{}
		for _, l := range chunk {
			q.Add("user_login", l)
		}
		q.Set("first", strconv.Itoa(len(chunk)))
		var body struct {
			Data []Stream `json:"data"`
		}
		if err := hc.get(ctx, "streams", q, &body); err != nil {
			return nil, err
		}
		out = append(out, body.Data...)
	}
	return out, nil
}

// TopStreams lists the most watched live streams, within gameID when set.
func (hc *HelixClient) TopStreams(ctx context.Context, gameID string, first int) ([]Stream, error) {
	if first <= 0 {
		first = 20
	}
	q := url.Values{}
	if gameID != "" {
		q.Set("game_id", gameID)
	}
	q.Set("first", strconv.Itoa(first))
	var body struct {
		Data []Stream `json:"data"`
	}
	if err := hc.get(ctx, "streams", q, &body); err != nil {
		return nil, err
	}
	return body.Data, nil
}

// GetChannel returns channel information for a broadcaster id.
func (hc *HelixClient) GetChannel(ctx context.Context, broadcasterID string) (Channel, error) {
	if broadcasterID == "" {
		return Channel{}, fmt.Errorf("broadcasterID empty")
	}
	q := url.Values{}
	q.Set("broadcaster_id", broadcasterID)
	var body struct {
		Data []Channel `json:"data"`
	}
	if err := hc.get(ctx, "channels", q, &body); err != nil {
		return Channel{}, err
	}
	if len(body.Data) == 0 {
		return Channel{}, ErrUserNotFound
	}
	return body.Data[0], nil
}

// get performs a GET against endpoint with retries: 429 and 5xx back off and
// retry, a 401 invalidates the app token and retries once with a fresh one.
func (hc *HelixClient) get(ctx context.Context, endpoint string, q url.Values, out any) error {
	ctx, span := telemetry.StartSpan(ctx, "twitchapi", "helix."+endpoint, telemetry.UpstreamAttr("helix"))
	defer span.End()

	var lastErr error
	refreshed := false
	for attempt := 0; attempt < helixMaxRetries; attempt++ {
		var (
			status int
			wait   time.Duration
			err    error
		)
		telemetry.TimeFunc(telemetry.HelixObserver(endpoint), func() {
			status, wait, err = hc.do(ctx, endpoint, q, out)
		})
		switch {
		case err == nil:
			telemetry.SetSpanSuccess(span)
			return nil
		case ctx.Err() != nil:
			telemetry.RecordError(span, ctx.Err())
			return ctx.Err()
		case status == http.StatusUnauthorized && !refreshed:
			slog.Debug("helix token rejected; refreshing", slog.String("endpoint", endpoint))
			hc.AppTokenSource.Invalidate()
			refreshed = true
			attempt--
			continue
		case status == http.StatusTooManyRequests || status >= 500 || status == 0:
			lastErr = err
			if wait <= 0 {
				wait = time.Duration(attempt+1) * 100 * time.Millisecond
			}
			slog.Warn("helix request failed; retrying",
				slog.String("endpoint", endpoint), slog.Int("status", status),
				slog.Int("attempt", attempt+1), slog.Any("err", err))
			if attempt+1 < helixMaxRetries {
				if err := sleepCtx(ctx, wait); err != nil {
					return err
				}
			}
			continue
		default:
			telemetry.RecordUpstreamFailure("helix")
			telemetry.RecordError(span, err)
			return err
		}
	}
	telemetry.RecordUpstreamFailure("helix")
	telemetry.RecordError(span, lastErr)
	return fmt.Errorf("helix %s: giving up after %d attempts: %w", endpoint, helixMaxRetries, lastErr)
}

// do performs one request. It returns the HTTP status (0 on transport
// failure) and any server-requested wait before retrying.
func (hc *HelixClient) do(ctx context.Context, endpoint string, q url.Values, out any) (int, time.Duration, error) {
	if err := hc.take(ctx); err != nil {
		return -1, 0, err
	}
	tok, err := hc.AppTokenSource.Get(ctx)
	if err != nil {
		return -1, 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, helixBaseURL+"/"+endpoint, nil)
	if err != nil {
		return -1, 0, err
	}
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Client-Id", hc.ClientID)
	req.Header.Set("Authorization", "Bearer "+tok)
	resp, err := hc.http().Do(req)
	if err != nil {
		return 0, 0, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return resp.StatusCode, retryAfter(resp.Header), &StatusError{Endpoint: endpoint, Status: resp.StatusCode, Body: string(b)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return -1, 0, fmt.Errorf("decode helix %s: %w", endpoint, err)
	}
	return resp.StatusCode, 0, nil
}

// take waits for the limiter. Limiter.Take ignores ctx, so the wait runs
// aside and a cancelled caller returns at once; its slot is still consumed.
func (hc *HelixClient) take(ctx context.Context) error {
	if hc.Limiter == nil {
		return ctx.Err()
	}
	done := make(chan struct{})
	go func() {
		hc.Limiter.Take()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryAfter reads Retry-After (seconds) or Ratelimit-Reset (unix seconds).
func retryAfter(h http.Header) time.Duration {
	if s := h.Get("Retry-After"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			return time.Duration(n) * time.Second
		}
	}
	if s := h.Get("Ratelimit-Reset"); s != "" {
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			if d := time.Until(time.Unix(n, 0)); d > 0 && d < 10*time.Second {
				return d
			}
		}
	}
	return 0
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func chunks(s []string, n int) [][]string {
	var out [][]string
	for len(s) > n {
		out = append(out, s[:n])
		s = s[n:]
	}
	if len(s) > 0 {
		out = append(out, s)
	}
	return out
}
