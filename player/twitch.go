package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cafu47/streamwall/twitchapi"
	"github.com/cafu47/streamwall/wall"
)

// StreamSource is the slice of the Helix client a Twitch handle needs.
type StreamSource interface {
	GetUserID(ctx context.Context, login string) (string, error)
	GetStreams(ctx context.Context, logins ...string) ([]twitchapi.Stream, error)
}

// Twitch is a handle on a Twitch channel. Its playback state is derived from
// whether Helix lists the channel as live.
type Twitch struct {
	streams StreamSource
	log     *slog.Logger

	mu        sync.Mutex
	login     string
	paused    bool
	destroyed bool
}

// NewTwitch returns an uninitialized Twitch handle.
func NewTwitch(streams StreamSource, log *slog.Logger) *Twitch {
	return &Twitch{streams: streams, log: log.With(slog.String("component", "twitch_player"))}
}

// Platform implements wall.Handle.
func (t *Twitch) Platform() wall.Platform { return wall.PlatformTwitch }

// Init resolves the channel; an unknown login fails.
func (t *Twitch) Init(ctx context.Context, login string) error {
	if _, err := t.streams.GetUserID(ctx, login); err != nil {
		if errors.Is(err, twitchapi.ErrUserNotFound) {
			return &InitError{Message: "Channel " + login + " does not exist.", Err: err}
		}
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return ErrDestroyed
	}
	t.login = login
	t.log.Debug("player ready", slog.String("channel", login))
	return nil
}

// Destroy implements wall.Handle.
func (t *Twitch) Destroy() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.destroyed = true
}

// Playback implements wall.Handle.
func (t *Twitch) Playback(ctx context.Context) (wall.Playback, error) {
	t.mu.Lock()
	login, paused, destroyed := t.login, t.paused, t.destroyed
	t.mu.Unlock()
	if destroyed {
		return wall.Playback{}, ErrDestroyed
	}
	if login == "" {
		return wall.Playback{}, errors.New("player: not initialized")
	}
	streams, err := t.streams.GetStreams(ctx, login)
	if err != nil {
		return wall.Playback{}, err
	}
	live := len(streams) > 0
	return wall.Playback{Paused: paused || !live, Ended: !live}, nil
}

// Play implements wall.Handle.
func (t *Twitch) Play(context.Context) error { return t.setPaused(false) }

// Pause implements wall.Handle.
func (t *Twitch) Pause(context.Context) error { return t.setPaused(true) }

func (t *Twitch) setPaused(p bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed {
		return ErrDestroyed
	}
	t.paused = p
	return nil
}
