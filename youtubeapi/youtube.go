// Package youtubeapi looks up videos through the YouTube Data API so the wall
// can tell a missing or non-embeddable video apart from a working one before
// it hands the id to the page's player.
package youtubeapi

import (
	"context"
	"errors"
	"fmt"

	"google.golang.org/api/option"
	yt "google.golang.org/api/youtube/v3"

	"github.com/cafu47/streamwall/telemetry"
)

// ErrVideoNotFound is returned for ids the API does not know, including
// private and deleted videos.
var ErrVideoNotFound = errors.New("video not found")

// Video is the subset of video metadata the wall cares about.
type Video struct {
	ID           string
	Title        string
	ChannelTitle string
	Privacy      string
	Embeddable   bool
	// LiveBroadcastContent is "live", "upcoming" or "none".
	LiveBroadcastContent string
}

// Service is a thin API-key client for the videos endpoint.
type Service struct {
	svc *yt.Service
}

// New builds a Service authenticated with apiKey. Extra options are appended,
// which lets tests point it at a fake endpoint.
func New(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Service, error) {
	if apiKey == "" {
		return nil, errors.New("youtube api key empty")
	}
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	svc, err := yt.NewService(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("youtube service: %w", err)
	}
	return &Service{svc: svc}, nil
}

// Video fetches metadata for id.
func (s *Service) Video(ctx context.Context, id string) (Video, error) {
	if id == "" {
		return Video{}, fmt.Errorf("video id empty")
	}
	ctx, span := telemetry.StartSpan(ctx, "youtubeapi", "youtube.videos", telemetry.UpstreamAttr("youtube"))
	defer span.End()

	res, err := s.svc.Videos.List([]string{"snippet", "status"}).Id(id).Context(ctx).Do()
	if err != nil {
		telemetry.RecordUpstreamFailure("youtube")
		telemetry.RecordError(span, err)
		return Video{}, fmt.Errorf("youtube videos.list: %w", err)
	}
	if len(res.Items) == 0 {
		return Video{}, ErrVideoNotFound
	}
	item := res.Items[0]
	v := Video{ID: item.Id}
	if item.Snippet != nil {
		v.Title = item.Snippet.Title
		v.ChannelTitle = item.Snippet.ChannelTitle
		v.LiveBroadcastContent = item.Snippet.LiveBroadcastContent
	}
	if item.Status != nil {
		v.Privacy = item.Status.PrivacyStatus
		v.Embeddable = item.Status.Embeddable
	}
	telemetry.SetSpanSuccess(span)
	return v, nil
}
