// Package transcription turns batches of short-form videos into corrected
// transcripts.
package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"clipwright/internal/acquire"
	"clipwright/internal/capability"
	"clipwright/internal/models"
	"clipwright/internal/provider"
)

// ErrEmptyTranscript is returned when the speech model produced no text.
var ErrEmptyTranscript = errors.New("speech recognition returned no text")

// Acquirer obtains canonical audio for an item.
type Acquirer interface {
	Acquire(ctx context.Context, src acquire.Source, caps capability.Capabilities) (*acquire.Artifact, error)
}

// Outcome is the typed result of processing one item.
type Outcome struct {
	Status     models.ItemStatus
	Transcript string
	// Degraded is set when correction failed and the raw transcript was kept.
	Degraded   bool
	Path       acquire.Path
	TokensUsed int
	Err        error
}

// Processor runs acquisition, recognition and correction for one video.
type Processor struct {
	acquirer Acquirer
	provider provider.Provider
	caps     capability.Capabilities
	language string
	logger   *slog.Logger
}

// NewProcessor creates a processor bound to the environment's capabilities.
func NewProcessor(a Acquirer, p provider.Provider, caps capability.Capabilities, language string, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{acquirer: a, provider: p, caps: caps, language: language, logger: logger}
}

// Process never returns an error directly; failures become a failed Outcome.
func (p *Processor) Process(ctx context.Context, v *models.Video) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = failed(fmt.Errorf("panic processing video %s: %v", v.ID, r))
		}
	}()

	art, err := p.acquirer.Acquire(ctx, acquire.Source{
		AudioURL: v.AudioURL,
		VideoURL: v.VideoURL,
		ShareURL: v.ShareURL,
	}, p.caps)
	if err != nil {
		return failed(fmt.Errorf("acquire audio: %w", err))
	}

	raw, err := p.provider.Transcribe(ctx, art.Audio, provider.TranscribeOptions{
		Language: p.language,
		Prompt:   recognitionPrompt,
	})
	if err != nil {
		return failed(fmt.Errorf("transcribe: %w", err))
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return failed(ErrEmptyTranscript)
	}

	out = Outcome{Status: models.ItemStatusSuccess, Transcript: raw, Path: art.Path}

	res, err := p.provider.Complete(ctx, provider.Completion{
		System:      correctionSystem,
		User:        correctionUser(v, raw),
		Temperature: 0,
	})
	switch {
	case err != nil:
		p.logger.Warn("correction failed, keeping raw transcript", "item_id", v.ID, "err", err)
		out.Degraded = true
	case strings.TrimSpace(res.Text) == "":
		p.logger.Warn("correction returned empty text, keeping raw transcript", "item_id", v.ID)
		out.Degraded = true
		out.TokensUsed = res.TokensUsed
	default:
		out.Transcript = strings.TrimSpace(res.Text)
		out.TokensUsed = res.TokensUsed
	}
	return out
}

func failed(err error) Outcome {
	return Outcome{Status: models.ItemStatusFailed, Err: err}
}
