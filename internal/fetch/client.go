// Package fetch downloads remote media with explicit deadlines and
// classifies failures into timeouts and hard network errors.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

var (
	// ErrTimeout means the deadline for a download expired.
	ErrTimeout = errors.New("download timed out")
	// ErrNetwork covers connection failures and non-2xx responses.
	ErrNetwork = errors.New("network error")
	// ErrTooLarge means the payload exceeded the configured limit.
	ErrTooLarge = errors.New("payload too large")
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d", e.URL, e.StatusCode)
}

// Is makes a StatusError match ErrNetwork.
func (e *StatusError) Is(target error) bool {
	return target == ErrNetwork
}

// Retryable reports whether the server may answer differently next time.
func (e *StatusError) Retryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Config configures a Client.
type Config struct {
	// Timeout bounds a single in-memory fetch.
	Timeout time.Duration
	// VideoTimeout bounds one attempt of a full video download.
	VideoTimeout time.Duration
	// Retries is the number of extra attempts for video downloads.
	Retries int
	// Backoff is the wait before the first retry; it doubles per attempt.
	Backoff time.Duration
	// MaxBytes caps the in-memory fetch size (0 = 64MB).
	MaxBytes int64
	// HTTPClient is optional and will default to http.DefaultClient
	HTTPClient *http.Client
	// TempDir holds downloaded videos; empty means os.TempDir.
	TempDir string
}

// Client downloads audio and video payloads.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a new Client with defaults filled in.
func NewClient(cfg Config) *Client {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.VideoTimeout <= 0 {
		cfg.VideoTimeout = 2 * time.Minute
	}
	if cfg.Retries < 0 {
		cfg.Retries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 64 << 20
	}
	return &Client{cfg: cfg, http: cfg.HTTPClient}
}

// Fetch downloads url into memory within the configured timeout.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := c.open(ctx, url)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	data, err := io.ReadAll(io.LimitReader(body, c.cfg.MaxBytes+1))
	if err != nil {
		return nil, classify(ctx, err)
	}
	if int64(len(data)) > c.cfg.MaxBytes {
		return nil, ErrTooLarge
	}
	return data, nil
}

// DownloadVideo saves url to a temp file, retrying timeouts and retryable
// network errors. The caller removes the returned file.
func (c *Client) DownloadVideo(ctx context.Context, url string) (string, error) {
	var lastErr error
	wait := c.cfg.Backoff

	for attempt := 0; attempt <= c.cfg.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(wait):
			}
			wait *= 2
		}

		path, err := c.downloadOnce(ctx, url)
		if err == nil {
			return path, nil
		}
		lastErr = err

		if !isRetryable(err) || ctx.Err() != nil {
			break
		}
	}

	return "", lastErr
}

func (c *Client) downloadOnce(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.VideoTimeout)
	defer cancel()

	body, err := c.open(ctx, url)
	if err != nil {
		return "", err
	}
	defer body.Close()

	file, err := os.CreateTemp(c.cfg.TempDir, "video-*.mp4")
	if err != nil {
		return "", fmt.Errorf("failed to create file: %w", err)
	}
	path := file.Name()

	_, err = io.Copy(file, body)
	closeErr := file.Close()
	if err != nil {
		os.Remove(path) // 失敗時はファイルを削除
		return "", classify(ctx, err)
	}
	if closeErr != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write file: %w", closeErr)
	}

	return filepath.Clean(path), nil
}

func (c *Client) open(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &StatusError{StatusCode: resp.StatusCode, URL: url}
	}
	return resp.Body, nil
}

// classify maps transport errors onto ErrTimeout / ErrNetwork. Cancellation
// of the caller's context is passed through untouched.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) && errors.Is(ctx.Err(), context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrNetwork, err)
}

func isRetryable(err error) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}

// IsFallbackTrigger reports whether err belongs to the timeout/network class.
func IsFallbackTrigger(err error) bool {
	return errors.Is(err, ErrTimeout) || errors.Is(err, ErrNetwork)
}
