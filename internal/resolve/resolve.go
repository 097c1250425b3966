// Package resolve turns the video references stored on an item into a URL
// that can be downloaded directly.
package resolve

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// ErrUnresolvable means no strategy produced a playable URL.
var ErrUnresolvable = errors.New("no playable video url")

// Strategy resolves one family of URLs.
type Strategy interface {
	Name() string
	Match(raw string) bool
	Resolve(ctx context.Context, raw string) (string, error)
}

// Chain tries strategies in order and caches successful resolutions.
type Chain struct {
	strategies []Strategy
	cache      *lru.Cache[string, string]
	logger     *slog.Logger
}

// NewChain creates a resolver. cacheSize <= 0 disables caching.
func NewChain(logger *slog.Logger, cacheSize int, strategies ...Strategy) (*Chain, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Chain{strategies: strategies, logger: logger}
	if cacheSize > 0 {
		cache, err := lru.New[string, string](cacheSize)
		if err != nil {
			return nil, fmt.Errorf("failed to create resolver cache: %w", err)
		}
		c.cache = cache
	}
	return c, nil
}

// Resolve returns a downloadable URL for raw.
func (c *Chain) Resolve(ctx context.Context, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if !isHTTP(raw) {
		return "", fmt.Errorf("%w: %q", ErrUnresolvable, raw)
	}

	if c.cache != nil {
		if resolved, ok := c.cache.Get(raw); ok {
			return resolved, nil
		}
	}

	var lastErr error
	for _, s := range c.strategies {
		if !s.Match(raw) {
			continue
		}
		resolved, err := s.Resolve(ctx, raw)
		if err != nil {
			c.logger.Debug("resolver strategy failed", "strategy", s.Name(), "url", raw, "error", err)
			lastErr = err
			continue
		}
		if c.cache != nil {
			c.cache.Add(raw, resolved)
		}
		return resolved, nil
	}

	if lastErr != nil {
		return "", fmt.Errorf("%w: %v", ErrUnresolvable, lastErr)
	}
	return "", fmt.Errorf("%w: %s", ErrUnresolvable, raw)
}

// Direct accepts URLs that already point at a media file.
type Direct struct{}

// mediaExtensions are served as-is by CDNs.
var mediaExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".mov":  true,
	".webm": true,
}

func (Direct) Name() string { return "direct" }

func (Direct) Match(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return mediaExtensions[strings.ToLower(path.Ext(u.Path))]
}

func (Direct) Resolve(ctx context.Context, raw string) (string, error) {
	return raw, nil
}

func isHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
