// Package copygen writes marketing copies for a project with one model
// request per batch.
package copygen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"clipwright/internal/batch"
	"clipwright/internal/exception"
	"clipwright/internal/metrics"
	"clipwright/internal/models"
	"clipwright/internal/provider"
	"clipwright/internal/stream"
)

const workflow = string(models.BatchKindCopy)

var (
	ErrBatchNotFound   = errors.New("copy batch not found")
	ErrProjectNotFound = errors.New("project not found")
	ErrInvalidSequence = fmt.Errorf("sequence must be between 1 and %d", batch.BulkCopyCount)
)

// ProjectStore loads the project a batch writes copies for.
type ProjectStore interface {
	GetByID(ctx context.Context, id string) (*models.Project, error)
}

// BatchStore persists copy batches and their status transitions.
type BatchStore interface {
	Create(ctx context.Context, b *models.Batch) error
	GetByID(ctx context.Context, id string) (*models.Batch, error)
	UpdateStatus(ctx context.Context, id string, to models.BatchStatus) error
	Finish(ctx context.Context, b *models.Batch) error
}

// CopyStore saves accepted copies with their first revision.
type CopyStore interface {
	CreateCopies(ctx context.Context, copies []*models.Copy) error
}

// Service queues and runs copy generation batches.
type Service struct {
	projects ProjectStore
	batches  BatchStore
	copies   CopyStore
	provider provider.Provider
	recorder *exception.Recorder
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewService creates a copy generation service. A nil logger uses slog.Default.
func NewService(projects ProjectStore, batches BatchStore, copies CopyStore, p provider.Provider, rec *exception.Recorder, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		projects: projects,
		batches:  batches,
		copies:   copies,
		provider: p,
		recorder: rec,
		metrics:  m,
		logger:   logger,
	}
}

// Queue creates a PENDING bulk batch for projectID.
func (s *Service) Queue(ctx context.Context, projectID string) (*models.Batch, error) {
	if err := s.checkProject(ctx, projectID); err != nil {
		return nil, err
	}
	b := &models.Batch{
		Kind:      models.BatchKindCopy,
		Mode:      models.BatchModeBulk,
		ProjectID: projectID,
		Total:     batch.BulkCopyCount,
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create copy batch: %w", err)
	}
	s.logger.Info("copy batch queued", "batch_id", b.ID, "project_id", projectID)
	return b, nil
}

// QueueRegen creates a PENDING single-item regen batch for one sequence.
func (s *Service) QueueRegen(ctx context.Context, projectID string, sequence int, previousDraft, instructions string) (*models.Batch, error) {
	if sequence < 1 || sequence > batch.BulkCopyCount {
		return nil, ErrInvalidSequence
	}
	if err := s.checkProject(ctx, projectID); err != nil {
		return nil, err
	}
	b := &models.Batch{
		Kind:           models.BatchKindCopy,
		Mode:           models.BatchModeRegen,
		TargetSequence: &sequence,
		ProjectID:      projectID,
		PreviousDraft:  previousDraft,
		Instructions:   instructions,
		Total:          1,
	}
	if err := s.batches.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("create regen batch: %w", err)
	}
	s.logger.Info("copy regen queued", "batch_id", b.ID, "project_id", projectID, "sequence", sequence)
	return b, nil
}

func (s *Service) checkProject(ctx context.Context, projectID string) error {
	p, err := s.projects.GetByID(ctx, projectID)
	if err != nil {
		return fmt.Errorf("load project: %w", err)
	}
	if p == nil {
		return ErrProjectNotFound
	}
	return nil
}

// expected returns the sequences a batch must produce.
func expected(b *models.Batch) []int {
	if b.TargetSequence != nil {
		return []int{*b.TargetSequence}
	}
	seqs := make([]int, batch.BulkCopyCount)
	for i := range seqs {
		seqs[i] = i + 1
	}
	return seqs
}

func itemID(seq int) string {
	return fmt.Sprintf("copy-%d", seq)
}

// Run claims a PENDING batch and generates its copies. A batch that is no
// longer PENDING yields storage's status regression error untouched.
func (s *Service) Run(ctx context.Context, batchID string, em stream.Emitter) (*batch.Summary, error) {
	if em == nil {
		em = stream.Discard
	}

	b, err := s.batches.GetByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("load batch: %w", err)
	}
	if b == nil || b.Kind != models.BatchKindCopy {
		return nil, ErrBatchNotFound
	}
	if err := s.batches.UpdateStatus(ctx, b.ID, models.BatchStatusRunning); err != nil {
		return nil, fmt.Errorf("claim batch %s: %w", b.ID, err)
	}
	s.metrics.BatchStarted(workflow)

	logger := s.logger.With("batch_id", b.ID, "project_id", b.ProjectID)
	em = stream.NewSequencer(stream.WithBatchID(b.ID, em), logger)

	seqs := expected(b)
	em.Emit(stream.Start(len(seqs)))

	project, err := s.projects.GetByID(ctx, b.ProjectID)
	if err != nil {
		return nil, s.abort(ctx, b, em, fmt.Errorf("load project: %w", err))
	}
	if project == nil {
		return nil, s.abort(ctx, b, em, ErrProjectNotFound)
	}

	for _, seq := range seqs {
		em.Emit(stream.Processing(itemID(seq), fmt.Sprintf("COPY-%d", seq)))
	}

	req := Request{
		Project:       project,
		Target:        b.TargetSequence,
		PreviousDraft: b.PreviousDraft,
		Instructions:  b.Instructions,
	}
	var (
		parsed   *Parsed
		genErr   error
		tokens   int64
		copiesOK []*models.Copy
	)
	res, err := s.provider.Complete(ctx, provider.Completion{
		System:      SystemPrompt(req),
		User:        UserPrompt(req),
		Temperature: 0.8,
	})
	// The reply is paid for; persist it even if the caller went away.
	store := context.WithoutCancel(ctx)
	if err != nil {
		genErr = fmt.Errorf("generate copies: %w", err)
	} else {
		tokens = int64(res.TokensUsed)
		parsed, genErr = Parse(res.Text, b.TargetSequence)
	}

	if parsed != nil {
		if parsed.Mode == models.ParseModeParagraph {
			logger.Warn("model ignored section markers, fell back to paragraphs", "sections", len(parsed.Sections))
		}
		for _, sec := range parsed.Sections {
			copiesOK = append(copiesOK, &models.Copy{
				ProjectID: b.ProjectID,
				BatchID:   b.ID,
				Sequence:  sec.Sequence,
				Content:   sec.Content,
				Status:    models.ItemStatusSuccess,
				ParseMode: parsed.Mode,
			})
		}
		if err := s.copies.CreateCopies(store, copiesOK); err != nil {
			b.TokenUsage = tokens
			return nil, s.abort(store, b, em, fmt.Errorf("save copies: %w", err))
		}
	}

	produced := make(map[int]bool, len(copiesOK))
	for _, c := range copiesOK {
		produced[c.Sequence] = true
	}

	tally := batch.NewTally(len(seqs), 0)
	for _, seq := range seqs {
		status, msg := models.ItemStatusSuccess, ""
		if !produced[seq] {
			status, msg = models.ItemStatusFailed, "copy not returned by model"
			if genErr != nil {
				msg = genErr.Error()
			}
		}
		settled := tally.Record(status, 0)
		s.metrics.ItemSettled(workflow, string(status))
		em.Emit(stream.Item(itemID(seq), status, settled, len(seqs), msg))
	}

	summary := tally.Snapshot()
	summary.BatchID = b.ID
	summary.TokensUsed = tokens
	status := batch.Classify(summary.Succeeded, b.TargetSequence)
	summary.Status = status

	b.Status = status
	b.Total, b.Succeeded, b.Failed, b.Skipped = summary.Total, summary.Succeeded, summary.Failed, 0
	b.TokenUsage = tokens
	if status != models.BatchStatusSucceeded {
		b.ErrorCode = models.ErrorCodeBelowThreshold
		b.ErrorMessage = fmt.Sprintf("%d of %d copies produced", summary.Succeeded, len(seqs))
		if genErr != nil {
			b.ErrorMessage = genErr.Error()
		}
	}
	if err := s.batches.Finish(store, b); err != nil {
		return nil, s.abort(store, b, em, fmt.Errorf("finish batch: %w", err))
	}
	s.metrics.BatchFinished(workflow, string(status))
	s.metrics.TokensUsed(workflow, tokens)

	if batch.NeedsException(status, b.Mode) {
		detail := exception.Detail{
			Kind:      b.Kind,
			Status:    status,
			Total:     summary.Total,
			Succeeded: summary.Succeeded,
			Failed:    summary.Failed,
			Expected:  len(seqs),
		}
		if genErr != nil {
			detail.Errors = []string{genErr.Error()}
		}
		if parsed != nil && parsed.Mode == models.ParseModeParagraph {
			detail.Message = "parsed by paragraph fallback"
		}
		s.recorder.Record(store, b.ID, models.ErrorCodeBelowThreshold, detail)
	}

	logger.Info("copy batch finished", "status", status, "succeeded", summary.Succeeded, "tokens", tokens)
	em.Emit(stream.Done(summary))
	return &summary, nil
}

// abort marks the batch FAILED after a batch-level exception.
func (s *Service) abort(ctx context.Context, b *models.Batch, em stream.Emitter, cause error) error {
	ctx = context.WithoutCancel(ctx)
	s.logger.Error("copy batch aborted", "batch_id", b.ID, "err", cause)

	b.Status = models.BatchStatusFailed
	b.Succeeded, b.Failed = 0, b.Total
	b.ErrorCode = models.ErrorCodeBatchException
	b.ErrorMessage = cause.Error()
	if err := s.batches.Finish(ctx, b); err != nil {
		s.logger.Error("failed to mark batch failed", "batch_id", b.ID, "err", err)
	}
	s.metrics.BatchFinished(workflow, string(models.BatchStatusFailed))

	s.recorder.Record(ctx, b.ID, models.ErrorCodeBatchException, exception.Detail{
		Kind:    b.Kind,
		Status:  models.BatchStatusFailed,
		Total:   b.Total,
		Failed:  b.Total,
		Message: cause.Error(),
	})
	em.Emit(stream.Error(cause.Error()))
	return cause
}
