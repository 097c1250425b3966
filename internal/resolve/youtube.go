package resolve

import (
	"context"

	"clipwright/internal/youtube"
)

type streamResolver interface {
	ResolveStreamURL(ctx context.Context, videoURL string) (string, *youtube.VideoInfo, error)
}

// YouTube resolves Shorts and watch links to a progressive stream URL.
type YouTube struct {
	client streamResolver
}

// NewYouTube wraps a youtube client.
func NewYouTube(client *youtube.Client) *YouTube {
	return &YouTube{client: client}
}

func (y *YouTube) Name() string { return "youtube" }

func (y *YouTube) Match(raw string) bool { return youtube.IsYouTubeURL(raw) }

func (y *YouTube) Resolve(ctx context.Context, raw string) (string, error) {
	streamURL, _, err := y.client.ResolveStreamURL(ctx, raw)
	return streamURL, err
}
