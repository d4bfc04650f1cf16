package livestreams

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cafu47/streamwall/player"
	"github.com/cafu47/streamwall/twitchapi"
	"github.com/cafu47/streamwall/wall"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeHelix struct {
	mu        sync.Mutex
	users     map[string]string
	games     map[string]string
	live      map[string]string // login -> display name
	top       map[string][]twitchapi.Stream
	streamErr error
	gate      chan struct{}

	streamCalls atomic.Int32
	topCalls    atomic.Int32
}

func newFakeHelix() *fakeHelix {
	return &fakeHelix{
		users: map[string]string{"alice_stream": "1", "bobstream": "2"},
		games: map[string]string{"1": "509658"},
		live:  map[string]string{},
		top: map[string][]twitchapi.Stream{
			"509658": {
				{UserLogin: "Alice_Stream", UserName: "Alice"},
				{UserLogin: "carol_stream", UserName: "Carol"},
				{UserLogin: "dave_live", UserName: "Dave"},
			},
			"": {{UserLogin: "biggest", UserName: "Biggest"}},
		},
	}
}

func (f *fakeHelix) setLive(login, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.live[login] = name
}

func (f *fakeHelix) GetUserID(_ context.Context, login string) (string, error) {
	if id, ok := f.users[login]; ok {
		return id, nil
	}
	return "", twitchapi.ErrUserNotFound
}

func (f *fakeHelix) GetStreams(ctx context.Context, logins ...string) ([]twitchapi.Stream, error) {
	f.streamCalls.Add(1)
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	var out []twitchapi.Stream
	for _, l := range logins {
		if name, ok := f.live[l]; ok {
			out = append(out, twitchapi.Stream{UserLogin: l, UserName: name})
		}
	}
	return out, nil
}

func (f *fakeHelix) GetChannel(_ context.Context, id string) (twitchapi.Channel, error) {
	return twitchapi.Channel{BroadcasterID: id, GameID: f.games[id]}, nil
}

func (f *fakeHelix) TopStreams(_ context.Context, gameID string, first int) ([]twitchapi.Stream, error) {
	f.topCalls.Add(1)
	if first != suggestionPool {
		return nil, errors.New("unexpected first")
	}
	return f.top[gameID], nil
}

func newService(h Helix) *Service {
	return New(Options{Helix: h, CacheTTL: time.Minute, Logger: discard})
}

func TestParseQuery(t *testing.T) {
	tests := []struct {
		raw     string
		want    Query
		wantErr error
	}{
		{raw: "channel=Alice_Stream", want: Query{Mode: ModeFamily, Channel: "alice_stream", Family: nil}},
		{raw: "channel=alice_stream&family=bobstream,%20Carol_Stream,,bobstream", want: Query{Mode: ModeFamily, Channel: "alice_stream", Family: []string{"bobstream", "carol_stream"}}},
		{raw: "channel=alice_stream&host_channel=BobStream", want: Query{Mode: ModeHost, Channel: "alice_stream", Host: "bobstream"}},
		{raw: "channels=bobstream,carol_stream", want: Query{Mode: ModeChannels, Channels: []string{"bobstream", "carol_stream"}}},
		{raw: "", wantErr: ErrNoChannel},
		{raw: "channel=%20%20", wantErr: ErrNoChannel},
		{raw: "family=bobstream", wantErr: ErrNoChannel},
	}
	for _, tt := range tests {
		v, err := url.ParseQuery(tt.raw)
		require.NoError(t, err)
		got, err := ParseQuery(v)
		if tt.wantErr != nil {
			assert.ErrorIs(t, err, tt.wantErr, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		if diff := cmp.Diff(tt.want, got); diff != "" {
			t.Errorf("ParseQuery(%q) mismatch (-want +got):\n%s", tt.raw, diff)
		}
	}
}

func TestService_NotConfigured(t *testing.T) {
	s := New(Options{Logger: discard})
	assert.False(t, s.Configured())
	_, err := s.Lookup(context.Background(), Query{Mode: ModeFamily, Channel: "alice_stream"})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestService_FamilyPicksFirstLiveMemberInOrder(t *testing.T) {
	h := newFakeHelix()
	h.setLive("carol_stream", "Carol")
	h.setLive("bobstream", "BobStream")
	s := newService(h)

	res, err := s.Family(context.Background(), "alice_stream", []string{"alice_stream", "bobstream", "carol_stream"})
	require.NoError(t, err)
	assert.False(t, res.MainChannelLive)
	require.NotNil(t, res.LiveFamilyMember)
	assert.Equal(t, wall.FamilyMember{Channel: "bobstream", DisplayName: "BobStream"}, *res.LiveFamilyMember)
	assert.Equal(t, []wall.Suggestion{
		{Channel: "carol_stream", Label: "Carol"},
		{Channel: "dave_live", Label: "Dave"},
	}, res.Suggestions, "main channel is filtered from suggestions")
}

func TestService_FamilyMainLive(t *testing.T) {
	h := newFakeHelix()
	h.setLive("alice_stream", "Alice")
	res, err := newService(h).Family(context.Background(), "Alice_Stream", nil)
	require.NoError(t, err)
	assert.True(t, res.MainChannelLive)
	assert.Nil(t, res.LiveFamilyMember)
}

func TestService_Host(t *testing.T) {
	h := newFakeHelix()
	h.setLive("bobstream", "Bob")
	res, err := newService(h).Host(context.Background(), "alice_stream", "bobstream")
	require.NoError(t, err)
	assert.False(t, res.MainChannelLive)
	assert.True(t, res.HostChannelLive)
}

func TestService_LiveKeepsRequestOrder(t *testing.T) {
	h := newFakeHelix()
	h.setLive("carol_stream", "Carol")
	h.setLive("bobstream", "Bob")
	got, err := newService(h).Live(context.Background(), []string{"carol_stream", "nobody", "BobStream"})
	require.NoError(t, err)
	assert.Equal(t, []wall.Suggestion{{Channel: "carol_stream", Label: "Carol"}, {Channel: "bobstream", Label: "Bob"}}, got)

	_, err = newService(h).Live(context.Background(), []string{" ", ""})
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestService_SuggestionsFallBackToTopStreams(t *testing.T) {
	h := newFakeHelix()
	s := newService(h)
	got := s.Suggestions(context.Background(), "unknown_channel")
	assert.Equal(t, []wall.Suggestion{{Channel: "biggest", Label: "Biggest"}}, got)

	// bobstream exists but has no category.
	got = s.Suggestions(context.Background(), "bobstream")
	assert.Equal(t, []wall.Suggestion{{Channel: "biggest", Label: "Biggest"}}, got)
}

func TestService_SuggestionsCapAtFive(t *testing.T) {
	h := newFakeHelix()
	var many []twitchapi.Stream
	for _, l := range []string{"s_one", "s_two", "s_three", "s_four", "s_five", "s_six"} {
		many = append(many, twitchapi.Stream{UserLogin: l, UserName: strings.ToUpper(l)})
	}
	h.top["509658"] = many
	got := newService(h).Suggestions(context.Background(), "alice_stream")
	assert.Len(t, got, suggestionLimit)
}

func TestService_UpstreamFailure(t *testing.T) {
	h := newFakeHelix()
	h.streamErr = errors.New("helix down")
	_, err := newService(h).Family(context.Background(), "alice_stream", []string{"bobstream"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "helix down")
}

func TestService_CachesResults(t *testing.T) {
	h := newFakeHelix()
	s := newService(h)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := s.Family(ctx, "alice_stream", []string{"bobstream"})
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, h.streamCalls.Load())
	assert.EqualValues(t, 1, h.topCalls.Load())

	// A different question is a different entry; suggestions are shared.
	_, err := s.Host(ctx, "alice_stream", "bobstream")
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.streamCalls.Load())
	assert.EqualValues(t, 1, h.topCalls.Load())
}

func TestService_CollapsesConcurrentLookups(t *testing.T) {
	h := newFakeHelix()
	h.gate = make(chan struct{})
	s := newService(h)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Live(context.Background(), []string{"bobstream"})
			errs <- err
		}()
	}
	require.Eventually(t, func() bool { return h.streamCalls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(h.gate)
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, h.streamCalls.Load())
}

func TestService_CancelledCallerDoesNotPoisonOthers(t *testing.T) {
	h := newFakeHelix()
	h.gate = make(chan struct{})
	s := newService(h)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := s.Live(ctx, []string{"bobstream"})
		done <- err
	}()
	require.Eventually(t, func() bool { return h.streamCalls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)

	close(h.gate)
	_, err := s.Live(context.Background(), []string{"bobstream"})
	require.NoError(t, err)
}

func TestLocal(t *testing.T) {
	h := newFakeHelix()
	h.setLive("bobstream", "Bob")
	l := Local{Service: newService(h)}
	ctx := context.Background()

	fc := l.CheckMainAndFamily(ctx, "alice_stream", []string{"bobstream"})
	require.True(t, fc.OK)
	require.NotNil(t, fc.LiveFamilyMember)
	assert.Equal(t, "bobstream", fc.LiveFamilyMember.Channel)

	hc := l.CheckHost(ctx, "alice_stream", "bobstream")
	assert.True(t, hc.OK)
	assert.True(t, hc.HostLive)

	off := Local{Service: New(Options{Logger: discard})}
	assert.Equal(t, wall.FamilyCheck{}, off.CheckMainAndFamily(ctx, "alice_stream", nil))
	assert.Equal(t, wall.HostCheck{}, off.CheckHost(ctx, "alice_stream", "bobstream"))
}

var _ player.StreamSource = Streams{}

func TestStreams_SharesLookupsAcrossWalls(t *testing.T) {
	h := newFakeHelix()
	h.setLive("bobstream", "Bob")
	h.gate = make(chan struct{})
	src := Streams{Service: newService(h)}

	// One wall gives up while the shared lookup is still running.
	ctx, cancel := context.WithCancel(context.Background())
	abandoned := make(chan error, 1)
	go func() {
		_, err := src.GetStreams(ctx, "bobstream")
		abandoned <- err
	}()
	require.Eventually(t, func() bool { return h.streamCalls.Load() == 1 }, time.Second, time.Millisecond)
	cancel()
	select {
	case err := <-abandoned:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller stayed blocked on the shared lookup")
	}

	const walls = 6
	var wg sync.WaitGroup
	results := make(chan []twitchapi.Stream, walls)
	for i := 0; i < walls; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			st, err := src.GetStreams(context.Background(), "BobStream")
			assert.NoError(t, err)
			results <- st
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(h.gate)
	wg.Wait()
	close(results)
	for st := range results {
		require.Len(t, st, 1)
		assert.Equal(t, "bobstream", st[0].UserLogin)
	}
	assert.EqualValues(t, 1, h.streamCalls.Load(), "every wall reads the one lookup")
}

func TestStreams_UserID(t *testing.T) {
	src := Streams{Service: newService(newFakeHelix())}
	ctx := context.Background()

	id, err := src.GetUserID(ctx, "Alice_Stream")
	require.NoError(t, err)
	assert.Equal(t, "1", id)

	_, err = src.GetUserID(ctx, "nobody_here")
	assert.ErrorIs(t, err, twitchapi.ErrUserNotFound)

	off := Streams{Service: New(Options{Logger: discard})}
	_, err = off.GetStreams(ctx, "bobstream")
	assert.ErrorIs(t, err, ErrNotConfigured)
	_, err = src.GetStreams(ctx)
	assert.ErrorIs(t, err, ErrNoChannel)
}

func TestStreams_DrivesTwitchHandle(t *testing.T) {
	h := newFakeHelix()
	h.setLive("bobstream", "Bob")
	handle := player.NewTwitch(Streams{Service: newService(h)}, discard)
	ctx := context.Background()

	require.NoError(t, handle.Init(ctx, "bobstream"))
	pb, err := handle.Playback(ctx)
	require.NoError(t, err)
	assert.False(t, pb.LooksOffline())
	_, err = handle.Playback(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, h.streamCalls.Load(), "repeat checks within the TTL are cached")
}

// TestService_WithHelixClient runs the suggestion chain against a fake Helix
// server through the real client.
func TestService_WithHelixClient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var data any
		switch r.URL.Path {
		case "/helix/users":
			data = []map[string]string{{"id": "1", "login": q.Get("login")}}
		case "/helix/channels":
			data = []map[string]string{{"broadcaster_id": "1", "game_id": "509658"}}
		case "/helix/streams":
			if q.Get("game_id") == "509658" {
				if q.Get("first") != "6" {
					t.Errorf("first = %q, want 6", q.Get("first"))
				}
				data = []map[string]string{{"user_login": "carol_stream", "user_name": "Carol"}}
			} else {
				data = []map[string]string{}
			}
		default:
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	defer server.Close()

	ts := &twitchapi.TokenSource{ClientID: "cid", ClientSecret: "secret"}
	ts.SetToken("tok", time.Now().Add(time.Hour))
	hc := &twitchapi.HelixClient{
		AppTokenSource: ts,
		ClientID:       "cid",
		HTTPClient:     &http.Client{Transport: &rewriteTransport{host: server.URL}},
	}

	res, err := newService(hc).Family(context.Background(), "alice_stream", []string{"bobstream"})
	require.NoError(t, err)
	assert.False(t, res.MainChannelLive)
	assert.Nil(t, res.LiveFamilyMember)
	assert.Equal(t, []wall.Suggestion{{Channel: "carol_stream", Label: "Carol"}}, res.Suggestions)
}

// rewriteTransport rewrites all requests to use the test server
type rewriteTransport struct {
	host string
}

func (t *rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = "http"
	req.URL.Host = strings.TrimPrefix(t.host, "http://")
	return http.DefaultTransport.RoundTrip(req)
}
