package wall

import "context"

// Playback is a point-in-time read of a player's state.
type Playback struct {
	Paused bool
	Ended  bool
	// Position and Duration are only meaningful when HasProgress is set.
	Position    float64
	Duration    float64
	HasProgress bool
}

// LooksOffline reports whether this observation suggests the stream is gone.
func (p Playback) LooksOffline() bool {
	if p.Paused && p.Ended {
		return true
	}
	return p.HasProgress && p.Position == 0 && p.Duration == 0
}

// Handle is a platform player. Init blocks until the player is ready or ctx
// is done; a Handle is used for a single Init/Destroy session.
type Handle interface {
	Platform() Platform
	Init(ctx context.Context, id string) error
	Destroy()
	Playback(ctx context.Context) (Playback, error)
	Play(ctx context.Context) error
	Pause(ctx context.Context) error
}

// HandleFactory creates a fresh Handle for a platform.
type HandleFactory func(Platform) (Handle, error)
