// Package livestreams answers "who is live" questions for the wall on top of
// Twitch Helix: is the main channel live, which family member could be
// hosted, and what related channels are worth suggesting.
package livestreams

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/maypok86/otter/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/cafu47/streamwall/twitchapi"
	"github.com/cafu47/streamwall/wall"
)

var (
	// ErrNotConfigured means no Twitch credentials were provided.
	ErrNotConfigured = errors.New("livestreams: api credentials not configured")
	// ErrNoChannel means the query named no channel.
	ErrNoChannel = errors.New("livestreams: no channel provided")
)

const (
	suggestionPool  = 6
	suggestionLimit = 5
	lookupTimeout   = 10 * time.Second
)

// Helix is the slice of the Helix client the service uses.
type Helix interface {
	GetUserID(ctx context.Context, login string) (string, error)
	GetStreams(ctx context.Context, logins ...string) ([]twitchapi.Stream, error)
	GetChannel(ctx context.Context, broadcasterID string) (twitchapi.Channel, error)
	TopStreams(ctx context.Context, gameID string, first int) ([]twitchapi.Stream, error)
}

// Mode is the kind of question a Query asks.
type Mode string

const (
	ModeFamily   Mode = "family"
	ModeHost     Mode = "host"
	ModeChannels Mode = "channels"
)

// Query is a parsed proxy request.
type Query struct {
	Mode     Mode
	Channel  string
	Family   []string
	Host     string
	Channels []string
}

// ParseQuery reads the proxy's query parameters. "channels" selects the
// simple live check; otherwise "channel" is required and "host_channel"
// selects the host check over the family check.
func ParseQuery(v url.Values) (Query, error) {
	if channels := splitLogins(v.Get("channels")); len(channels) > 0 {
		return Query{Mode: ModeChannels, Channels: channels}, nil
	}
	q := Query{Channel: normalize(v.Get("channel"))}
	if q.Channel == "" {
		return Query{}, ErrNoChannel
	}
	if host := normalize(v.Get("host_channel")); host != "" {
		q.Mode, q.Host = ModeHost, host
		return q, nil
	}
	q.Mode, q.Family = ModeFamily, splitLogins(v.Get("family"))
	return q, nil
}

func (q Query) key() string {
	return strings.Join([]string{string(q.Mode), q.Channel, q.Host, strings.Join(q.Family, ","), strings.Join(q.Channels, ",")}, "|")
}

// FamilyResponse answers a family query.
type FamilyResponse struct {
	MainChannelLive  bool               `json:"mainChannelLive"`
	LiveFamilyMember *wall.FamilyMember `json:"liveFamilyMember"`
	Suggestions      []wall.Suggestion  `json:"suggestions"`
}

// HostResponse answers a host query.
type HostResponse struct {
	MainChannelLive bool              `json:"mainChannelLive"`
	HostChannelLive bool              `json:"hostChannelLive"`
	Suggestions     []wall.Suggestion `json:"suggestions"`
}

// Options configures a Service.
type Options struct {
	// Helix is nil when credentials are missing; every lookup then fails
	// with ErrNotConfigured.
	Helix     Helix
	CacheTTL  time.Duration
	CacheSize int
	Logger    *slog.Logger
}

// Service answers proxy queries with caching and request collapsing.
type Service struct {
	helix Helix
	log   *slog.Logger
	cache *otter.Cache[string, any]
	group singleflight.Group
}

// New returns a Service.
func New(opts Options) *Service {
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 10_000
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		helix: opts.Helix,
		log:   opts.Logger.With(slog.String("component", "livestreams")),
		cache: otter.Must(&otter.Options[string, any]{
			MaximumSize:      opts.CacheSize,
			ExpiryCalculator: otter.ExpiryWriting[string, any](opts.CacheTTL),
		}),
	}
}

// Configured reports whether lookups can succeed at all.
func (s *Service) Configured() bool { return s.helix != nil }

// Lookup answers q with a FamilyResponse, HostResponse or []wall.Suggestion.
func (s *Service) Lookup(ctx context.Context, q Query) (any, error) {
	switch q.Mode {
	case ModeFamily:
		return s.Family(ctx, q.Channel, q.Family)
	case ModeHost:
		return s.Host(ctx, q.Channel, q.Host)
	case ModeChannels:
		return s.Live(ctx, q.Channels)
	default:
		return nil, fmt.Errorf("livestreams: unknown mode %q", q.Mode)
	}
}

// Family reports whether main is live, the first live family member in
// order (main excluded) and related suggestions.
func (s *Service) Family(ctx context.Context, main string, family []string) (FamilyResponse, error) {
	main = normalize(main)
	if main == "" {
		return FamilyResponse{}, ErrNoChannel
	}
	family = excluding(family, main)
	q := Query{Mode: ModeFamily, Channel: main, Family: family}
	return cached(ctx, s, q.key(), func(ctx context.Context) (FamilyResponse, error) {
		var (
			live        map[string]twitchapi.Stream
			suggestions []wall.Suggestion
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			live, err = s.liveSet(gctx, append([]string{main}, family...))
			return err
		})
		g.Go(func() error {
			suggestions = s.Suggestions(gctx, main)
			return nil
		})
		if err := g.Wait(); err != nil {
			return FamilyResponse{}, err
		}
		res := FamilyResponse{Suggestions: suggestions}
		_, res.MainChannelLive = live[main]
		for _, f := range family {
			if st, ok := live[f]; ok {
				res.LiveFamilyMember = &wall.FamilyMember{Channel: f, DisplayName: displayName(st)}
				break
			}
		}
		return res, nil
	})
}

// Host reports whether main and host are live, plus suggestions for main.
func (s *Service) Host(ctx context.Context, main, host string) (HostResponse, error) {
	main, host = normalize(main), normalize(host)
	if main == "" {
		return HostResponse{}, ErrNoChannel
	}
	q := Query{Mode: ModeHost, Channel: main, Host: host}
	return cached(ctx, s, q.key(), func(ctx context.Context) (HostResponse, error) {
		var (
			live        map[string]twitchapi.Stream
			suggestions []wall.Suggestion
		)
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			live, err = s.liveSet(gctx, []string{main, host})
			return err
		})
		g.Go(func() error {
			suggestions = s.Suggestions(gctx, main)
			return nil
		})
		if err := g.Wait(); err != nil {
			return HostResponse{}, err
		}
		res := HostResponse{Suggestions: suggestions}
		_, res.MainChannelLive = live[main]
		_, res.HostChannelLive = live[host]
		return res, nil
	})
}

// Live returns the live channels among channels, in request order.
func (s *Service) Live(ctx context.Context, channels []string) ([]wall.Suggestion, error) {
	channels = dedupe(channels)
	if len(channels) == 0 {
		return nil, ErrNoChannel
	}
	q := Query{Mode: ModeChannels, Channels: channels}
	return cached(ctx, s, q.key(), func(ctx context.Context) ([]wall.Suggestion, error) {
		live, err := s.liveSet(ctx, channels)
		if err != nil {
			return nil, err
		}
		out := make([]wall.Suggestion, 0, len(live))
		for _, c := range channels {
			if st, ok := live[c]; ok {
				out = append(out, wall.Suggestion{Channel: c, Label: displayName(st)})
			}
		}
		return out, nil
	})
}

// Streams returns the raw Helix streams for the live logins, sharing the
// cache and in-flight lookups with every other caller.
func (s *Service) Streams(ctx context.Context, logins ...string) ([]twitchapi.Stream, error) {
	logins = dedupe(logins)
	if len(logins) == 0 {
		return nil, ErrNoChannel
	}
	return cached(ctx, s, "streams|"+strings.Join(logins, ","), func(ctx context.Context) ([]twitchapi.Stream, error) {
		return s.helix.GetStreams(ctx, logins...)
	})
}

// UserID resolves login to its Helix user id. Unknown logins are not cached.
func (s *Service) UserID(ctx context.Context, login string) (string, error) {
	login = normalize(login)
	if login == "" {
		return "", ErrNoChannel
	}
	return cached(ctx, s, "user|"+login, func(ctx context.Context) (string, error) {
		return s.helix.GetUserID(ctx, login)
	})
}

// Suggestions lists up to five live channels related to main: the top
// streams in main's last category, or the overall top streams when main has
// none. Failures are logged and yield an empty list.
func (s *Service) Suggestions(ctx context.Context, main string) []wall.Suggestion {
	if s.helix == nil {
		return []wall.Suggestion{}
	}
	key := "suggestions|" + main
	if v, ok := s.cache.GetIfPresent(key); ok {
		return v.([]wall.Suggestion)
	}
	v, err, _ := s.group.Do(key, func() (any, error) {
		gameID := ""
		id, err := s.helix.GetUserID(ctx, main)
		switch {
		case err == nil:
			ch, err := s.helix.GetChannel(ctx, id)
			if err != nil {
				s.log.Warn("could not fetch channel category", slog.String("channel", main), slog.Any("err", err))
			}
			gameID = ch.GameID
		case errors.Is(err, twitchapi.ErrUserNotFound):
			s.log.Debug("suggestions for unknown channel", slog.String("channel", main))
		default:
			return nil, err
		}
		streams, err := s.helix.TopStreams(ctx, gameID, suggestionPool)
		if err != nil {
			return nil, err
		}
		out := make([]wall.Suggestion, 0, suggestionLimit)
		for _, st := range streams {
			login := strings.ToLower(st.UserLogin)
			if login == main || login == "" {
				continue
			}
			out = append(out, wall.Suggestion{Channel: login, Label: displayName(st)})
			if len(out) == suggestionLimit {
				break
			}
		}
		s.cache.Set(key, out)
		return out, nil
	})
	if err != nil {
		s.log.Warn("could not fetch suggestions", slog.String("channel", main), slog.Any("err", err))
		return []wall.Suggestion{}
	}
	return v.([]wall.Suggestion)
}

func (s *Service) liveSet(ctx context.Context, logins []string) (map[string]twitchapi.Stream, error) {
	streams, err := s.helix.GetStreams(ctx, logins...)
	if err != nil {
		return nil, fmt.Errorf("check live streams: %w", err)
	}
	live := make(map[string]twitchapi.Stream, len(streams))
	for _, st := range streams {
		live[strings.ToLower(st.UserLogin)] = st
	}
	return live, nil
}

// cached serves q from the cache, collapsing concurrent misses into one
// call to fetch. The fetch outlives a cancelled caller so the other waiters
// still get an answer.
func cached[T any](ctx context.Context, s *Service, key string, fetch func(context.Context) (T, error)) (T, error) {
	var zero T
	if s.helix == nil {
		return zero, ErrNotConfigured
	}
	if v, ok := s.cache.GetIfPresent(key); ok {
		return v.(T), nil
	}
	ch := s.group.DoChan(key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		v, err := fetch(fctx)
		if err != nil {
			return nil, err
		}
		s.cache.Set(key, v)
		return v, nil
	})
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return zero, r.Err
		}
		return r.Val.(T), nil
	}
}

func displayName(st twitchapi.Stream) string {
	if st.UserName != "" {
		return st.UserName
	}
	return st.UserLogin
}

func normalize(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func splitLogins(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	return dedupe(strings.Split(csv, ","))
}

func dedupe(logins []string) []string {
	seen := make(map[string]bool, len(logins))
	out := make([]string, 0, len(logins))
	for _, l := range logins {
		l = normalize(l)
		if l == "" || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

func excluding(logins []string, drop string) []string {
	out := make([]string, 0, len(logins))
	for _, l := range dedupe(logins) {
		if l != drop {
			out = append(out, l)
		}
	}
	return out
}
