package youtube

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
)

// api は youtube.Client のうち使用するメソッド
type api interface {
	GetVideoContext(ctx context.Context, url string) (*youtube.Video, error)
	GetStreamURLContext(ctx context.Context, video *youtube.Video, format *youtube.Format) (string, error)
}

// Client はYouTube API操作を抽象化するクライアント
type Client struct {
	client api
}

// NewClient は新しいYouTubeクライアントを作成
func NewClient() *Client {
	return &Client{
		client: &youtube.Client{},
	}
}

// VideoInfo は動画のメタ情報
type VideoInfo struct {
	ID       string
	Title    string
	Author   string
	Duration time.Duration
}

// IsYouTubeURL はYouTube (Shorts含む) のURLかどうかを判定
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	host = strings.TrimPrefix(host, "m.")
	return host == "youtube.com" || host == "youtu.be" || host == "music.youtube.com"
}

// ResolveStreamURL は音声付きで最も小さい動画ストリームのURLを返す
func (c *Client) ResolveStreamURL(ctx context.Context, videoURL string) (string, *VideoInfo, error) {
	video, err := c.client.GetVideoContext(ctx, videoURL)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get video: %w", err)
	}

	format := selectStream(video.Formats)
	if format == nil {
		return "", nil, fmt.Errorf("no playable stream with audio: %s", video.ID)
	}

	streamURL, err := c.client.GetStreamURLContext(ctx, video, format)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get stream: %w", err)
	}

	return streamURL, &VideoInfo{
		ID:       video.ID,
		Title:    video.Title,
		Author:   video.Author,
		Duration: video.Duration,
	}, nil
}
