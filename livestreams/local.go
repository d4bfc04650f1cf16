package livestreams

import (
	"context"
	"errors"
	"log/slog"

	"github.com/cafu47/streamwall/telemetry"
	"github.com/cafu47/streamwall/twitchapi"
	"github.com/cafu47/streamwall/wall"
)

// Local is a wall.Resolver answering from a Service in the same process.
// Like the HTTP client it never fails loudly.
type Local struct {
	Service *Service
}

var _ wall.Resolver = Local{}

// CheckMainAndFamily implements wall.Resolver.
func (l Local) CheckMainAndFamily(ctx context.Context, main string, family []string) wall.FamilyCheck {
	res, err := l.Service.Family(ctx, main, family)
	if err != nil {
		l.soft(ctx, err)
		return wall.FamilyCheck{}
	}
	return wall.FamilyCheck{
		OK:               true,
		MainLive:         res.MainChannelLive,
		LiveFamilyMember: res.LiveFamilyMember,
		Suggestions:      res.Suggestions,
	}
}

// CheckHost implements wall.Resolver.
func (l Local) CheckHost(ctx context.Context, main, host string) wall.HostCheck {
	res, err := l.Service.Host(ctx, main, host)
	if err != nil {
		l.soft(ctx, err)
		return wall.HostCheck{}
	}
	return wall.HostCheck{OK: true, MainLive: res.MainChannelLive, HostLive: res.HostChannelLive, Suggestions: res.Suggestions}
}

func (l Local) soft(ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	reason := "upstream"
	if errors.Is(err, ErrNotConfigured) {
		reason = "not_configured"
	}
	l.Service.log.Warn("live lookup failed", slog.String("reason", reason), slog.Any("err", err))
	telemetry.RecordResolverFailure(reason)
}

// Streams serves Twitch handles from a Service, so status checks from every
// open wall go through one cache instead of each hitting Helix.
type Streams struct {
	Service *Service
}

// GetUserID resolves login through the cache.
func (s Streams) GetUserID(ctx context.Context, login string) (string, error) {
	return s.Service.UserID(ctx, login)
}

// GetStreams lists the live streams among logins through the cache.
func (s Streams) GetStreams(ctx context.Context, logins ...string) ([]twitchapi.Stream, error) {
	return s.Service.Streams(ctx, logins...)
}
