package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/cafu47/streamwall/wall"
	"github.com/cafu47/streamwall/youtubeapi"
)

// VideoLookup is the slice of the YouTube client a YouTube handle needs.
type VideoLookup interface {
	Video(ctx context.Context, id string) (youtubeapi.Video, error)
}

// YouTube is a handle on a YouTube video. Videos are never treated as ended;
// only the primary platform is status-monitored.
type YouTube struct {
	videos VideoLookup
	log    *slog.Logger

	mu        sync.Mutex
	id        string
	paused    bool
	destroyed bool
}

// NewYouTube returns an uninitialized handle. A nil videos skips metadata
// checks and only validates the id shape.
func NewYouTube(videos VideoLookup, log *slog.Logger) *YouTube {
	return &YouTube{videos: videos, log: log.With(slog.String("component", "youtube_player"))}
}

// Platform implements wall.Handle.
func (y *YouTube) Platform() wall.Platform { return wall.PlatformYouTube }

// Init checks that id can be embedded.
func (y *YouTube) Init(ctx context.Context, id string) error {
	if !wall.IsVideoID(id) {
		return &InitError{Message: (&EmbedError{Code: EmbedInvalidID}).Error(), Err: ErrInvalidVideo}
	}
	if y.videos != nil {
		v, err := y.videos.Video(ctx, id)
		switch {
		case errors.Is(err, youtubeapi.ErrVideoNotFound):
			return &EmbedError{Code: EmbedNotFound}
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// Metadata is advisory; the embed itself may still work.
			y.log.Warn("could not look up video", slog.String("video", id), slog.Any("err", err))
		case v.Privacy == "private":
			return &EmbedError{Code: EmbedNotFound}
		case !v.Embeddable:
			return &EmbedError{Code: EmbedNotAllowed}
		}
	}
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.destroyed {
		return ErrDestroyed
	}
	y.id = id
	return nil
}

// Destroy implements wall.Handle.
func (y *YouTube) Destroy() {
	y.mu.Lock()
	defer y.mu.Unlock()
	y.destroyed = true
}

// Playback implements wall.Handle.
func (y *YouTube) Playback(context.Context) (wall.Playback, error) {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.destroyed {
		return wall.Playback{}, ErrDestroyed
	}
	return wall.Playback{Paused: y.paused}, nil
}

// Play implements wall.Handle.
func (y *YouTube) Play(context.Context) error { return y.setPaused(false) }

// Pause implements wall.Handle.
func (y *YouTube) Pause(context.Context) error { return y.setPaused(true) }

func (y *YouTube) setPaused(p bool) error {
	y.mu.Lock()
	defer y.mu.Unlock()
	if y.destroyed {
		return ErrDestroyed
	}
	y.paused = p
	return nil
}
