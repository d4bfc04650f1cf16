// Package player provides the platform handles the wall drives: a Helix
// backed handle for Twitch channels, a Data API backed handle for YouTube
// videos, and an in-memory handle fed by the page itself.
package player

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/cafu47/streamwall/wall"
)

// ErrDestroyed is returned by queries on a handle after Destroy.
var ErrDestroyed = errors.New("player: handle destroyed")

// ErrInvalidVideo is returned by Init for ids that are not 11-char video ids.
var ErrInvalidVideo = errors.New("player: invalid video id")

// Factory builds handles for the wall. A nil Streams makes Twitch handles
// fall back to Memory handles, whose state the page reports.
type Factory struct {
	Streams StreamSource
	Videos  VideoLookup
	Logger  *slog.Logger
}

// New implements wall.HandleFactory.
func (f Factory) New(p wall.Platform) (wall.Handle, error) {
	log := f.Logger
	if log == nil {
		log = slog.Default()
	}
	switch p {
	case wall.PlatformTwitch:
		if f.Streams == nil {
			return NewMemory(p), nil
		}
		return NewTwitch(f.Streams, log), nil
	case wall.PlatformYouTube:
		return NewYouTube(f.Videos, log), nil
	default:
		return nil, fmt.Errorf("player: unsupported platform %v", p)
	}
}

// InitError is a player init failure with a message fit for viewers.
type InitError struct {
	Message string
	Err     error
}

func (e *InitError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *InitError) Unwrap() error { return e.Err }

// UserMessage is shown on the page.
func (e *InitError) UserMessage() string { return e.Message }

// Embed error codes reported by the YouTube player.
const (
	EmbedInvalidID     = 2
	EmbedHTML5         = 5
	EmbedNotFound      = 100
	EmbedNotAllowed    = 101
	EmbedNotAllowedAlt = 150
)

// EmbedError is a YouTube player error code.
type EmbedError struct {
	Code int
}

var embedMessages = map[int]string{
	EmbedInvalidID:     "Invalid video ID",
	EmbedHTML5:         "HTML5 player error",
	EmbedNotFound:      "Video not found or private",
	EmbedNotAllowed:    "Video not allowed to be played in embedded players",
	EmbedNotAllowedAlt: "Video not allowed to be played in embedded players",
}

func (e *EmbedError) Error() string {
	if msg, ok := embedMessages[e.Code]; ok {
		return msg
	}
	return fmt.Sprintf("YouTube player error: %d", e.Code)
}

// UserMessage is shown on the page.
func (e *EmbedError) UserMessage() string { return e.Error() }
