// Package provider wraps the speech recognition and text completion APIs
// behind a small interface with per-call deadlines.
package provider

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrUpstream matches every UpstreamError.
	ErrUpstream = errors.New("upstream provider error")
	// ErrTimeout means the per-call deadline expired.
	ErrTimeout = errors.New("provider call timed out")
)

// TranscribeOptions guides the speech recognition call.
type TranscribeOptions struct {
	Language string
	Prompt   string
}

// Completion is a single system+user completion request.
type Completion struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
}

// CompletionResult is the model reply.
type CompletionResult struct {
	Text       string
	TokensUsed int
}

// Provider is the AI collaborator used by both workflows.
type Provider interface {
	Transcribe(ctx context.Context, audio []byte, opts TranscribeOptions) (string, error)
	Complete(ctx context.Context, req Completion) (*CompletionResult, error)
}

// UpstreamError carries the raw status and body for diagnosis.
type UpstreamError struct {
	Op     string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Op, e.Status, e.Body)
}

// Is makes an UpstreamError match ErrUpstream.
func (e *UpstreamError) Is(target error) bool {
	return target == ErrUpstream
}
