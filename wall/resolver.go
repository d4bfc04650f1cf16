package wall

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cafu47/streamwall/telemetry"
)

// Suggestion is one channel the switcher can offer.
type Suggestion struct {
	Channel string `json:"channel"`
	Label   string `json:"label"`
}

// FamilyMember is a live auto-host candidate.
type FamilyMember struct {
	Channel     string `json:"channel"`
	DisplayName string `json:"displayName"`
}

// FamilyCheck answers "is the main channel live, and if not who in the family
// is". OK is false when there was no usable answer.
type FamilyCheck struct {
	OK               bool
	MainLive         bool
	LiveFamilyMember *FamilyMember
	Suggestions      []Suggestion
}

// HostCheck answers "are the main channel and the hosted channel live".
type HostCheck struct {
	OK          bool
	MainLive    bool
	HostLive    bool
	Suggestions []Suggestion
}

// Resolver asks the live-streams proxy what could be shown instead. It never
// fails loudly: a failed call is a zero result with OK unset, so callers
// always have a fallback path. Implementations never retry.
type Resolver interface {
	CheckMainAndFamily(ctx context.Context, main string, family []string) FamilyCheck
	CheckHost(ctx context.Context, main, host string) HostCheck
}

// ProxyClient is a Resolver talking to the live-streams proxy over HTTP.
type ProxyClient struct {
	// Endpoint is the full proxy URL, e.g. https://example.com/get-live-streams.
	Endpoint   string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewProxyClient returns a ProxyClient for endpoint.
func NewProxyClient(endpoint string) *ProxyClient {
	return &ProxyClient{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *ProxyClient) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *ProxyClient) log() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default().With(slog.String("component", "resolver"))
}

// CheckMainAndFamily implements Resolver.
func (c *ProxyClient) CheckMainAndFamily(ctx context.Context, main string, family []string) FamilyCheck {
	q := url.Values{}
	q.Set("channel", main)
	if len(family) > 0 {
		q.Set("family", strings.Join(family, ","))
	}
	var body struct {
		MainChannelLive  bool          `json:"mainChannelLive"`
		LiveFamilyMember *FamilyMember `json:"liveFamilyMember"`
		Suggestions      []Suggestion  `json:"suggestions"`
	}
	if !c.get(ctx, q, &body) {
		return FamilyCheck{}
	}
	return FamilyCheck{
		OK:               true,
		MainLive:         body.MainChannelLive,
		LiveFamilyMember: body.LiveFamilyMember,
		Suggestions:      body.Suggestions,
	}
}

// CheckHost implements Resolver.
func (c *ProxyClient) CheckHost(ctx context.Context, main, host string) HostCheck {
	q := url.Values{}
	q.Set("channel", main)
	q.Set("host_channel", host)
	var body struct {
		MainChannelLive bool         `json:"mainChannelLive"`
		HostChannelLive bool         `json:"hostChannelLive"`
		Suggestions     []Suggestion `json:"suggestions"`
	}
	if !c.get(ctx, q, &body) {
		return HostCheck{}
	}
	return HostCheck{OK: true, MainLive: body.MainChannelLive, HostLive: body.HostChannelLive, Suggestions: body.Suggestions}
}

// get fetches the proxy with q and decodes the JSON body into out. Every
// failure is logged and reported as false.
func (c *ProxyClient) get(ctx context.Context, q url.Values, out any) bool {
	log := c.log()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		log.Warn("build proxy request", slog.Any("err", err))
		telemetry.RecordResolverFailure("request")
		return false
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("proxy unreachable", slog.Any("err", err))
			telemetry.RecordResolverFailure("network")
		}
		return false
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		log.Warn("proxy error response", slog.Int("status", resp.StatusCode))
		telemetry.RecordResolverFailure("status")
		return false
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		log.Warn("read proxy response", slog.Any("err", err))
		telemetry.RecordResolverFailure("network")
		return false
	}
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		log.Warn("empty response from proxy")
		telemetry.RecordResolverFailure("empty")
		return false
	}
	if looksLikeHTML(b) {
		log.Warn("proxy returned HTML instead of JSON; function may not be deployed")
		telemetry.RecordResolverFailure("html")
		return false
	}
	if err := json.Unmarshal(b, out); err != nil {
		log.Warn("failed to parse proxy response", slog.Any("err", err), slog.String("preview", preview(b)))
		telemetry.RecordResolverFailure("json")
		return false
	}
	return true
}

func looksLikeHTML(b []byte) bool {
	head := strings.ToLower(string(b[:min(len(b), 16)]))
	return strings.HasPrefix(head, "<!doctype") || strings.HasPrefix(head, "<html")
}

func preview(b []byte) string {
	if len(b) > 100 {
		return string(b[:100]) + "..."
	}
	return string(b)
}
