// Package acquire obtains canonical audio for an item through an ordered
// set of fallback attempts. Capability flags and the error class are checked
// before a fallback is tried, so an attempt known to be impossible never
// costs a network round-trip.
package acquire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"clipwright/internal/capability"
	"clipwright/internal/fetch"
	"clipwright/internal/media"
)

var (
	// ErrResourceUnavailable means no source could be found for the item.
	ErrResourceUnavailable = errors.New("resource unavailable")
	// ErrFormatIncompatible means the audio cannot be sent as-is and the
	// runtime cannot transcode it.
	ErrFormatIncompatible = errors.New("audio format incompatible and transcoding unavailable")
	// ErrNoCapability means only the video branch remains and the runtime
	// cannot download or transcode video.
	ErrNoCapability = fmt.Errorf("%w: video fallback not supported in this environment", ErrFormatIncompatible)
)

// Downloader fetches remote payloads.
type Downloader interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
	DownloadVideo(ctx context.Context, url string) (string, error)
}

// Resolver maps a stored video reference to a downloadable URL.
type Resolver interface {
	Resolve(ctx context.Context, raw string) (string, error)
}

// Transcoder converts media to the canonical audio profile.
type Transcoder interface {
	Transcode(ctx context.Context, data []byte) ([]byte, error)
	ExtractAudio(ctx context.Context, videoPath string) ([]byte, error)
}

// Source holds the references an item carries.
type Source struct {
	AudioURL string // direct audio link
	VideoURL string // primary playable field
	ShareURL string // secondary field, usually a share page
}

// Path identifies which branch produced the artifact.
type Path string

const (
	PathDirect     Path = "direct"
	PathTranscoded Path = "transcoded"
	PathVideo      Path = "video"
)

// Artifact is audio ready for the speech provider.
type Artifact struct {
	Audio []byte
	Path  Path
	// DirectErr is the error that sent the chain to the video branch, if any.
	DirectErr error
}

// Chain is the acquisition decision table.
type Chain struct {
	downloader Downloader
	resolver   Resolver
	transcoder Transcoder
	compatible func([]byte) bool
	logger     *slog.Logger
}

// Option configures a Chain.
type Option func(*Chain)

// WithFormatCheck replaces the compatibility check (media.IsCompatible).
func WithFormatCheck(fn func([]byte) bool) Option {
	return func(c *Chain) { c.compatible = fn }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) { c.logger = logger }
}

// NewChain creates a new acquisition chain.
func NewChain(d Downloader, r Resolver, t Transcoder, opts ...Option) *Chain {
	c := &Chain{
		downloader: d,
		resolver:   r,
		transcoder: t,
		compatible: media.IsCompatible,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Acquire runs the decision table for src under caps.
func (c *Chain) Acquire(ctx context.Context, src Source, caps capability.Capabilities) (*Artifact, error) {
	hasVideoRef := strings.TrimSpace(src.VideoURL) != "" || strings.TrimSpace(src.ShareURL) != ""

	var directErr error
	if strings.TrimSpace(src.AudioURL) != "" {
		artifact, err := c.direct(ctx, src.AudioURL, caps)
		if err == nil {
			return artifact, nil
		}
		if !fetch.IsFallbackTrigger(err) || !caps.CanFallBackToVideo() {
			return nil, err
		}
		c.logger.Debug("direct audio failed, falling back to video", "error", err)
		directErr = err
	} else {
		if !hasVideoRef {
			return nil, fmt.Errorf("%w: no audio link or video url", ErrResourceUnavailable)
		}
		if !caps.CanFallBackToVideo() {
			return nil, ErrNoCapability
		}
	}

	if !hasVideoRef {
		return nil, fmt.Errorf("%w: direct audio failed (%v) and no video url", ErrResourceUnavailable, directErr)
	}

	audio, err := c.fromVideo(ctx, src)
	if err != nil {
		return nil, err
	}
	return &Artifact{Audio: audio, Path: PathVideo, DirectErr: directErr}, nil
}

func (c *Chain) direct(ctx context.Context, audioURL string, caps capability.Capabilities) (*Artifact, error) {
	data, err := c.downloader.Fetch(ctx, audioURL)
	if err != nil {
		return nil, err
	}

	if c.compatible(data) {
		return &Artifact{Audio: data, Path: PathDirect}, nil
	}

	if !caps.CanTranscode() {
		return nil, fmt.Errorf("%w (%s)", ErrFormatIncompatible, media.Sniff(data).MIME)
	}

	audio, err := c.transcoder.Transcode(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("transcode failed: %w", err)
	}
	return &Artifact{Audio: audio, Path: PathTranscoded}, nil
}

func (c *Chain) fromVideo(ctx context.Context, src Source) ([]byte, error) {
	playable, err := c.resolvePlayable(ctx, src)
	if err != nil {
		return nil, err
	}

	videoPath, err := c.downloader.DownloadVideo(ctx, playable)
	if err != nil {
		return nil, fmt.Errorf("video download failed: %w", err)
	}
	defer os.Remove(videoPath)

	audio, err := c.transcoder.ExtractAudio(ctx, videoPath)
	if err != nil {
		return nil, fmt.Errorf("audio extraction failed: %w", err)
	}
	return audio, nil
}

// resolvePlayable tries the primary field, then the secondary one.
func (c *Chain) resolvePlayable(ctx context.Context, src Source) (string, error) {
	var lastErr error
	for _, ref := range []string{src.VideoURL, src.ShareURL} {
		ref = strings.TrimSpace(ref)
		if ref == "" {
			continue
		}
		playable, err := c.resolver.Resolve(ctx, ref)
		if err == nil && playable != "" {
			return playable, nil
		}
		lastErr = err
	}
	return "", fmt.Errorf("%w: %v", ErrResourceUnavailable, lastErr)
}
