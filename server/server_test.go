package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cafu47/streamwall/config"
	"github.com/cafu47/streamwall/livestreams"
	"github.com/cafu47/streamwall/player"
	"github.com/cafu47/streamwall/twitchapi"
	"github.com/cafu47/streamwall/wall"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// stubHelix is a Helix where bobstream is live and everything else offline.
type stubHelix struct {
	err error
}

func (s stubHelix) GetUserID(_ context.Context, login string) (string, error) {
	if login == "nobody_here" {
		return "", twitchapi.ErrUserNotFound
	}
	return "id-" + login, nil
}

func (s stubHelix) GetStreams(_ context.Context, logins ...string) ([]twitchapi.Stream, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []twitchapi.Stream
	for _, l := range logins {
		if l == "bobstream" {
			out = append(out, twitchapi.Stream{UserLogin: "bobstream", UserName: "BobStream"})
		}
	}
	return out, nil
}

func (s stubHelix) GetChannel(_ context.Context, id string) (twitchapi.Channel, error) {
	return twitchapi.Channel{BroadcasterID: id, GameID: "509658"}, nil
}

func (s stubHelix) TopStreams(_ context.Context, _ string, _ int) ([]twitchapi.Stream, error) {
	return []twitchapi.Stream{{UserLogin: "carol_stream", UserName: "Carol"}}, nil
}

func testConfig() *config.Config {
	return &config.Config{
		HomeChannel:            "alice_stream",
		FallbackChannels:       config.DefaultFallbackChannels,
		EmbedParents:           []string{"localhost"},
		StatusCheckInterval:    time.Hour,
		StatusOfflineThreshold: 3,
		HomeRecheckInterval:    time.Hour,
		ProxyCacheTTL:          time.Minute,
		SessionIdleTTL:         time.Minute,
		RateLimitEnabled:       false,
		RateLimitRequestsPerIP: 60,
		RateLimitWindow:        time.Minute,
		CORSPermissive:         true,
	}
}

type testServer struct {
	handler  http.Handler
	sessions *Sessions
	live     *livestreams.Service
}

// newTestServer wires the full mux. A nil helix leaves the proxy unconfigured.
func newTestServer(t *testing.T, cfg *config.Config, helix livestreams.Helix, checks ...ReadinessCheck) *testServer {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	live := livestreams.New(livestreams.Options{Helix: helix, CacheTTL: cfg.ProxyCacheTTL, Logger: discard})
	sessions := NewSessions(ctx, SessionOptions{
		Wall: wall.Options{
			Home:      cfg.HomeTarget(),
			Family:    []string{"bobstream"},
			Fallback:  cfg.FallbackChannels,
			NewHandle: player.Factory{Logger: discard}.New,
			Resolver:  livestreams.Local{Service: live},
			Monitor: wall.MonitorOptions{
				Interval:         cfg.StatusCheckInterval,
				InitialDelay:     cfg.StatusCheckInterval,
				OfflineThreshold: cfg.StatusOfflineThreshold,
			},
			HomeRecheck:  cfg.HomeRecheckInterval,
			EmbedParents: cfg.EmbedParents,
		},
		IdleTTL: cfg.SessionIdleTTL,
		Logger:  discard,
	})
	t.Cleanup(func() {
		cancel()
		sessions.Close()
	})
	h := NewHandlers(ctx, live, sessions, checks...)
	return &testServer{handler: NewMux(cfg, h), sessions: sessions, live: live}
}

func (s *testServer) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	return rr
}

func TestHealthzEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rr := s.do(t, http.MethodGet, "/healthz", "")
	if rr.Code != http.StatusOK {
		t.Errorf("healthz status = %d, want %d", rr.Code, http.StatusOK)
	}
	if rr.Body.String() != "ok" {
		t.Errorf("healthz body = %q", rr.Body.String())
	}
}

func TestReadyzEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(), stubHelix{})
	rr := s.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("readyz status = %d, want %d", rr.Code, http.StatusOK)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ready"`) {
		t.Errorf("unexpected body %s", rr.Body.String())
	}

	failing := newTestServer(t, testConfig(), stubHelix{}, ReadinessCheck{
		Name:  "twitch_token",
		Check: func(context.Context) error { return errors.New("token endpoint down") },
	})
	rr = failing.do(t, http.MethodGet, "/readyz", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz status = %d, want %d", rr.Code, http.StatusServiceUnavailable)
	}
	if !strings.Contains(rr.Body.String(), `"failed_check":"twitch_token"`) {
		t.Errorf("unexpected body %s", rr.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rr := s.do(t, http.MethodGet, "/metrics", "")
	if rr.Code != http.StatusOK {
		t.Errorf("metrics status = %d", rr.Code)
	}
}

func TestIndexPage(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	rr := s.do(t, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("index status = %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rr.Body.String(), "/api/sessions") {
		t.Errorf("page does not talk to the session API")
	}
}

func TestCorrelationIDHeader(t *testing.T) {
	s := newTestServer(t, testConfig(), nil)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Correlation-ID", "corr-123")
	rr := httptest.NewRecorder()
	s.handler.ServeHTTP(rr, req)
	if got := rr.Header().Get("X-Correlation-ID"); got != "corr-123" {
		t.Errorf("X-Correlation-ID = %q, want corr-123", got)
	}

	rr = s.do(t, http.MethodGet, "/healthz", "")
	if rr.Header().Get("X-Correlation-ID") == "" {
		t.Errorf("expected a generated correlation id")
	}
}

func TestStartShutsDownOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Start(ctx, http.NotFoundHandler(), "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
