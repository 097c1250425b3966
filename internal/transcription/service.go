package transcription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"clipwright/internal/batch"
	"clipwright/internal/exception"
	"clipwright/internal/metrics"
	"clipwright/internal/models"
	"clipwright/internal/stream"
)

// Mode selects which items of a request are processed.
type Mode string

const (
	// ModeMissing drops items that already have a transcript.
	ModeMissing Mode = "missing"
	// ModeAll keeps items with a transcript in the batch as skipped.
	ModeAll Mode = "all"
	// ModeForce reprocesses and overwrites everything.
	ModeForce Mode = "force"
)

const workflow = string(models.BatchKindTranscription)

var (
	ErrInvalidRequest = errors.New("invalid transcription request")
	ErrNoItems        = errors.New("none of the requested items exist")
)

// ParseMode validates a mode string. Empty means missing.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeMissing, nil
	case ModeMissing, ModeAll, ModeForce:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: unknown mode %q", ErrInvalidRequest, s)
}

// Request triggers one transcription batch.
type Request struct {
	ItemIDs     []string `json:"itemIds"`
	Mode        Mode     `json:"mode"`
	Concurrency int      `json:"concurrency,omitempty"`
}

// ItemProcessor processes one video.
type ItemProcessor interface {
	Process(ctx context.Context, v *models.Video) Outcome
}

// ItemStore is the item half of the persistence gateway.
type ItemStore interface {
	ListByIDs(ctx context.Context, ids []string) ([]*models.Video, error)
	UpdateStatus(ctx context.Context, id string, status models.ItemStatus, errMsg string) error
	UpdateResult(ctx context.Context, id, transcript string) error
}

// BatchStore is the batch half of the persistence gateway.
type BatchStore interface {
	Create(ctx context.Context, b *models.Batch) error
	UpdateStatus(ctx context.Context, id string, to models.BatchStatus) error
	Finish(ctx context.Context, b *models.Batch) error
	SetError(ctx context.Context, id, code, message string) error
}

// Config tunes the coordinator.
type Config struct {
	Concurrency    int
	MaxConcurrency int
	ChunkDelay     time.Duration
}

// Service runs transcription batches.
type Service struct {
	items     ItemStore
	batches   BatchStore
	processor ItemProcessor
	recorder  *exception.Recorder
	metrics   *metrics.Metrics
	cfg       Config
	logger    *slog.Logger
}

// NewService creates a service. m may be nil.
func NewService(items ItemStore, batches BatchStore, p ItemProcessor, rec *exception.Recorder, m *metrics.Metrics, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 3
	}
	if cfg.MaxConcurrency < cfg.Concurrency {
		cfg.MaxConcurrency = max(cfg.Concurrency, 10)
	}
	return &Service{
		items:     items,
		batches:   batches,
		processor: p,
		recorder:  rec,
		metrics:   m,
		cfg:       cfg,
		logger:    logger,
	}
}

// plan is the pre-filtered view of a request.
type plan struct {
	run     []*models.Video
	skipped []*models.Video
	dropped int
}

func prefilter(videos []*models.Video, mode Mode) plan {
	var p plan
	for _, v := range videos {
		switch {
		case mode == ModeForce || !v.HasResult():
			p.run = append(p.run, v)
		case mode == ModeAll:
			p.skipped = append(p.skipped, v)
		default:
			p.dropped++
		}
	}
	return p
}

// Run executes the batch and streams progress to em. Cancelling ctx stops
// scheduling further chunks; the batch then stays RUNNING with
// CLIENT_DISCONNECTED and its unprocessed items stay pending.
func (s *Service) Run(ctx context.Context, req Request, em stream.Emitter) (*batch.Summary, error) {
	if em == nil {
		em = stream.Discard
	}
	if len(req.ItemIDs) == 0 {
		return nil, fmt.Errorf("%w: itemIds is empty", ErrInvalidRequest)
	}
	mode, err := ParseMode(string(req.Mode))
	if err != nil {
		return nil, err
	}

	videos, err := s.items.ListByIDs(ctx, req.ItemIDs)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	if len(videos) == 0 {
		return nil, ErrNoItems
	}
	if len(videos) < len(req.ItemIDs) {
		s.logger.Warn("some requested items do not exist", "requested", len(req.ItemIDs), "found", len(videos))
	}

	p := prefilter(videos, mode)
	members := append(append([]*models.Video{}, p.run...), p.skipped...)

	b := &models.Batch{
		Kind:    models.BatchKindTranscription,
		Mode:    models.BatchModeBulk,
		Total:   len(members),
		Skipped: len(p.skipped),
		ItemIDs: videoIDs(members),
	}
	if err := s.batches.Create(ctx, b); err != nil {
		em.Emit(stream.Start(len(members)))
		em.Emit(stream.Error("failed to create batch"))
		return nil, fmt.Errorf("create batch: %w", err)
	}

	em = stream.NewSequencer(stream.WithBatchID(b.ID, em), s.logger)
	logger := s.logger.With("batch_id", b.ID)

	em.Emit(stream.Start(b.Total))
	if p.dropped > 0 || len(p.skipped) > 0 {
		em.Emit(stream.Filtered(len(p.run), p.dropped+len(p.skipped)))
	}

	if err := s.batches.UpdateStatus(ctx, b.ID, models.BatchStatusRunning); err != nil {
		return nil, s.abort(ctx, b, em, nil, fmt.Errorf("mark batch running: %w", err))
	}
	s.metrics.BatchStarted(workflow)

	tally := batch.NewTally(b.Total, b.Skipped)

	// Skipped items keep their stored transcript; only the status moves.
	for _, v := range p.skipped {
		if err := s.items.UpdateStatus(ctx, v.ID, models.ItemStatusSkipped, ""); err != nil {
			return nil, s.abort(ctx, b, em, tally, fmt.Errorf("mark item %s skipped: %w", v.ID, err))
		}
	}

	concurrency := req.Concurrency
	if concurrency < 1 {
		concurrency = s.cfg.Concurrency
	}
	concurrency = min(concurrency, s.cfg.MaxConcurrency)

	// A persistence failure aborts scheduling of further chunks.
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	var fatal atomic.Pointer[error]

	coord := batch.NewCoordinator(concurrency, s.cfg.ChunkDelay)
	logger.Info("transcription batch started",
		"total", b.Total, "run", len(p.run), "skipped", b.Skipped, "concurrency", coord.Concurrency())

	_, runErr := coord.Run(runCtx, len(p.run), func(ctx context.Context, i int) error {
		v := p.run[i]
		em.Emit(stream.Processing(v.ID, v.Title))

		status, errMsg, tokens, err := s.processItem(ctx, v)
		if err != nil {
			fatal.CompareAndSwap(nil, &err)
			cancel(err)
		}

		settled := tally.Record(status, int64(tokens))
		s.metrics.ItemSettled(workflow, string(status))
		em.Emit(stream.Item(v.ID, status, settled, b.Total, errMsg))
		logger.Info("item settled", "item_id", v.ID, "status", status)
		return err
	})

	if perr := fatal.Load(); perr != nil {
		return nil, s.abort(ctx, b, em, tally, *perr)
	}

	// Every scheduled item has settled. The final writes must land even if
	// the subscriber left during the last chunk.
	final := context.WithoutCancel(ctx)

	summary := tally.Snapshot()
	summary.BatchID = b.ID

	if runErr != nil {
		logger.Warn("subscriber went away, leaving batch resumable", "settled", summary.Succeeded+summary.Failed)
		if err := s.batches.SetError(final, b.ID, models.ErrorCodeClientDisconnected, runErr.Error()); err != nil {
			logger.Error("failed to record disconnect", "err", err)
		}
		s.metrics.BatchFinished(workflow, "")
		em.Emit(stream.Error("client disconnected"))
		summary.Status = models.BatchStatusRunning
		return &summary, runErr
	}

	status := batch.ClassifyExpected(summary.Succeeded, len(p.run))
	summary.Status = status

	b.Status = status
	b.Succeeded, b.Failed, b.Skipped = summary.Succeeded, summary.Failed, summary.Skipped
	b.TokenUsage = summary.TokensUsed
	if status != models.BatchStatusSucceeded {
		b.ErrorCode = models.ErrorCodeBelowThreshold
		b.ErrorMessage = fmt.Sprintf("%d of %d items succeeded", summary.Succeeded, len(p.run))
	}
	if err := s.batches.Finish(final, b); err != nil {
		return nil, s.abort(final, b, em, tally, fmt.Errorf("finish batch: %w", err))
	}
	s.metrics.BatchFinished(workflow, string(status))
	s.metrics.TokensUsed(workflow, summary.TokensUsed)

	if batch.NeedsException(status, b.Mode) {
		s.recorder.Record(final, b.ID, models.ErrorCodeBelowThreshold, exception.Detail{
			Kind:      b.Kind,
			Status:    status,
			Total:     summary.Total,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Skipped:   summary.Skipped,
			Expected:  len(p.run),
		})
	}

	logger.Info("transcription batch finished", "status", status,
		"succeeded", summary.Succeeded, "failed", summary.Failed, "skipped", summary.Skipped)
	em.Emit(stream.Done(summary))
	return &summary, nil
}

// processItem runs one video and persists its result. A non-nil error is a
// persistence failure, which is batch-level.
func (s *Service) processItem(ctx context.Context, v *models.Video) (models.ItemStatus, string, int, error) {
	if err := s.items.UpdateStatus(ctx, v.ID, models.ItemStatusProcessing, ""); err != nil {
		return models.ItemStatusFailed, "persistence failure", 0, fmt.Errorf("mark item %s processing: %w", v.ID, err)
	}

	out := s.processor.Process(ctx, v)

	if out.Status != models.ItemStatusSuccess {
		msg := "processing failed"
		if out.Err != nil {
			msg = out.Err.Error()
		}
		if err := s.items.UpdateStatus(ctx, v.ID, models.ItemStatusFailed, msg); err != nil {
			return models.ItemStatusFailed, msg, out.TokensUsed, fmt.Errorf("mark item %s failed: %w", v.ID, err)
		}
		return models.ItemStatusFailed, msg, out.TokensUsed, nil
	}

	if err := s.items.UpdateResult(ctx, v.ID, out.Transcript); err != nil {
		return models.ItemStatusFailed, "persistence failure", out.TokensUsed, fmt.Errorf("save item %s result: %w", v.ID, err)
	}
	return models.ItemStatusSuccess, "", out.TokensUsed, nil
}

// abort finishes the batch as FAILED after a batch-level exception.
func (s *Service) abort(ctx context.Context, b *models.Batch, em stream.Emitter, tally *batch.Tally, cause error) error {
	ctx = context.WithoutCancel(ctx)
	s.logger.Error("transcription batch aborted", "batch_id", b.ID, "err", cause)

	detail := exception.Detail{Kind: b.Kind, Status: models.BatchStatusFailed, Total: b.Total, Message: cause.Error()}
	if tally != nil {
		sum := tally.Snapshot()
		b.Succeeded, b.Failed, b.Skipped, b.TokenUsage = sum.Succeeded, sum.Failed, sum.Skipped, sum.TokensUsed
		detail.Succeeded, detail.Failed, detail.Skipped = sum.Succeeded, sum.Failed, sum.Skipped
	}
	b.Status = models.BatchStatusFailed
	b.ErrorCode = models.ErrorCodeBatchException
	b.ErrorMessage = cause.Error()
	if err := s.batches.Finish(ctx, b); err != nil {
		s.logger.Error("failed to mark batch failed", "batch_id", b.ID, "err", err)
	}
	if tally != nil {
		s.metrics.BatchFinished(workflow, string(models.BatchStatusFailed))
	}

	s.recorder.Record(ctx, b.ID, models.ErrorCodeBatchException, detail)
	em.Emit(stream.Error(cause.Error()))
	return cause
}

func videoIDs(videos []*models.Video) []string {
	ids := make([]string, len(videos))
	for i, v := range videos {
		ids[i] = v.ID
	}
	return ids
}
