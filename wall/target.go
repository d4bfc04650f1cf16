// Package wall implements the stream wall core: what is currently shown, how
// it reacts to stream status changes, and how it stays in sync with the
// page address.
//
// The pieces, leaves first:
//   - Target and the input parsers (this file).
//   - Handle, the capability interface a platform player implements.
//   - Monitor, which polls a Handle and debounces offline blips.
//   - Synchronizer, which mirrors the current Target into a URL fragment.
//   - Resolver, the proxy client answering "who is live instead".
//   - Manager, the state machine that owns the current Target.
package wall

import (
	"fmt"
	"regexp"
	"strings"
)

// Platform identifies a content platform.
type Platform int

const (
	// PlatformTwitch is the primary live platform.
	PlatformTwitch Platform = iota
	// PlatformYouTube is the secondary video platform.
	PlatformYouTube
)

// String returns the fragment prefix used for the platform.
func (p Platform) String() string {
	switch p {
	case PlatformTwitch:
		return "twitch"
	case PlatformYouTube:
		return "youtube"
	default:
		return fmt.Sprintf("platform(%d)", int(p))
	}
}

// MarshalText encodes the platform by name.
func (p Platform) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// ParsePlatform is the inverse of Platform.String.
func ParsePlatform(s string) (Platform, bool) {
	switch s {
	case "twitch":
		return PlatformTwitch, true
	case "youtube":
		return PlatformYouTube, true
	}
	return 0, false
}

// Target is the content currently shown: a platform plus its identifier.
type Target struct {
	Platform Platform `json:"platform"`
	ID       string   `json:"id"`
}

// Channel builds a primary-platform target from an already normalised login.
func Channel(login string) Target { return Target{Platform: PlatformTwitch, ID: login} }

// Video builds a secondary-platform target from a video id.
func Video(id string) Target { return Target{Platform: PlatformYouTube, ID: id} }

func (t Target) String() string { return t.Platform.String() + "/" + t.ID }

// IsZero reports whether t is the zero target.
func (t Target) IsZero() bool { return t.ID == "" }

// ValidationError is a user input problem meant to be shown next to the input
// field. It never propagates beyond the switcher.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

const (
	channelErrorMessage = "Channel name must be 4-25 characters (letters, numbers, underscores only)."
	videoErrorMessage   = "Please enter a valid YouTube URL or video ID (11 characters)."
)

var (
	channelPattern = regexp.MustCompile(`^[a-zA-Z0-9_]{4,25}$`)
	videoIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{11}$`)

	// Supported video URL shapes; the first group is the candidate id.
	videoURLPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/watch\?v=([^&\n?#]+)`),
		regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/embed/([^&\n?#]+)`),
		regexp.MustCompile(`(?:https?://)?(?:www\.)?youtu\.be/([^&\n?#]+)`),
		regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/v/([^&\n?#]+)`),
		regexp.MustCompile(`(?:https?://)?(?:www\.)?youtube\.com/shorts/([^&\n?#]+)`),
	}
)

// NormalizeChannel lower-cases and trims a channel login.
func NormalizeChannel(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// ValidateChannel normalises s and checks it against the login rules.
func ValidateChannel(s string) (string, error) {
	login := NormalizeChannel(s)
	if !channelPattern.MatchString(login) {
		return "", &ValidationError{Field: "channel", Message: channelErrorMessage}
	}
	return login, nil
}

// IsVideoID reports whether s has the shape of a video id.
func IsVideoID(s string) bool { return videoIDPattern.MatchString(s) }

// ExtractVideoID returns the video id found in s, which may be a bare id or any
// of the supported URL shapes.
func ExtractVideoID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	for _, p := range videoURLPatterns {
		m := p.FindStringSubmatch(s)
		if len(m) > 1 && IsVideoID(m[1]) {
			return m[1], true
		}
	}
	if IsVideoID(s) {
		return s, true
	}
	return "", false
}

// ValidateVideo extracts and validates a video id from s.
func ValidateVideo(s string) (string, error) {
	id, ok := ExtractVideoID(s)
	if !ok {
		return "", &ValidationError{Field: "video", Message: videoErrorMessage}
	}
	return id, nil
}

// DetectPlatform guesses which platform free-form input refers to. Anything
// that is not a recognised video URL or id shape is a channel login.
func DetectPlatform(input string) Platform {
	for _, p := range videoURLPatterns {
		if p.MatchString(input) {
			return PlatformYouTube
		}
	}
	if IsVideoID(strings.TrimSpace(input)) {
		return PlatformYouTube
	}
	return PlatformTwitch
}

// ParseInput turns switcher input into a validated Target.
func ParseInput(input string) (Target, error) {
	if DetectPlatform(input) == PlatformYouTube {
		id, err := ValidateVideo(input)
		if err != nil {
			return Target{}, err
		}
		return Video(id), nil
	}
	login, err := ValidateChannel(input)
	if err != nil {
		return Target{}, err
	}
	return Channel(login), nil
}
