package wall

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newProxy serves a canned response and returns the client plus a func
// reporting the last request URL.
func newProxy(t *testing.T, status int, body string) (*ProxyClient, func() *url.URL) {
	t.Helper()
	var (
		mu   sync.Mutex
		last *url.URL
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		last = r.URL
		mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	c := NewProxyClient(srv.URL + "/get-live-streams")
	c.Logger = quietLogger()
	return c, func() *url.URL {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestProxyClient_CheckMainAndFamily(t *testing.T) {
	c, seen := newProxy(t, http.StatusOK, `{
		"mainChannelLive": false,
		"liveFamilyMember": {"channel": "bobstream", "displayName": "BobStream"},
		"suggestions": [{"channel": "carol_stream", "label": "Carol"}]
	}`)
	res := c.CheckMainAndFamily(context.Background(), "alice_stream", []string{"bobstream", "dave_live"})
	require.True(t, res.OK)
	assert.False(t, res.MainLive)
	require.NotNil(t, res.LiveFamilyMember)
	assert.Equal(t, FamilyMember{Channel: "bobstream", DisplayName: "BobStream"}, *res.LiveFamilyMember)
	assert.Equal(t, []Suggestion{{Channel: "carol_stream", Label: "Carol"}}, res.Suggestions)

	u := seen()
	require.NotNil(t, u)
	q := u.Query()
	assert.Equal(t, "/get-live-streams", u.Path)
	assert.Equal(t, "alice_stream", q.Get("channel"))
	assert.Equal(t, "bobstream,dave_live", q.Get("family"))
}

func TestProxyClient_CheckHost(t *testing.T) {
	c, seen := newProxy(t, http.StatusOK, `{"mainChannelLive": true, "hostChannelLive": false}`)
	res := c.CheckHost(context.Background(), "alice_stream", "bobstream")
	assert.True(t, res.OK)
	assert.True(t, res.MainLive)
	assert.False(t, res.HostLive)
	assert.Equal(t, "bobstream", seen().Query().Get("host_channel"))
}

func TestProxyClient_SoftFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{"error":"API credentials are not configured."}`},
		{"bad request", http.StatusBadRequest, `{"error":"No channel provided."}`},
		{"empty body", http.StatusOK, "  \n"},
		{"html page", http.StatusOK, "<!DOCTYPE html><html><body>Not Found</body></html>"},
		{"html lowercase", http.StatusOK, "<html><body></body></html>"},
		{"not json", http.StatusOK, "mainChannelLive=true"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newProxy(t, tt.status, tt.body)
			res := c.CheckMainAndFamily(context.Background(), "alice_stream", nil)
			assert.Equal(t, FamilyCheck{}, res)
			assert.Equal(t, HostCheck{}, c.CheckHost(context.Background(), "alice_stream", "bobstream"))
		})
	}
}

func TestProxyClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	endpoint := srv.URL
	srv.Close()

	c := NewProxyClient(endpoint)
	c.Logger = quietLogger()
	assert.False(t, c.CheckMainAndFamily(context.Background(), "alice_stream", nil).OK)
}

func TestLooksLikeHTML(t *testing.T) {
	assert.True(t, looksLikeHTML([]byte("<!doctype html>")))
	assert.True(t, looksLikeHTML([]byte("<HTML>")))
	assert.False(t, looksLikeHTML([]byte(`{"a":1}`)))
	assert.False(t, looksLikeHTML([]byte("<")))
}
