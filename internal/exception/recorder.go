// Package exception records anomalous batch outcomes for later triage.
package exception

import (
	"context"
	"encoding/json"
	"log/slog"

	"clipwright/internal/models"
)

// Store persists exception records.
type Store interface {
	Create(ctx context.Context, rec *models.ExceptionRecord) error
}

// Recorder writes one OPEN record per anomalous batch.
type Recorder struct {
	store  Store
	logger *slog.Logger
}

// NewRecorder creates a recorder.
func NewRecorder(store Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{store: store, logger: logger}
}

// Record stores an exception for batchID. A failure to record is logged and
// yields nil; it never changes the batch result.
func (r *Recorder) Record(ctx context.Context, batchID, code string, detail any) *models.ExceptionRecord {
	if r == nil {
		return nil
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		r.logger.Error("encode exception detail failed", "batch_id", batchID, "code", code, "err", err)
		raw = json.RawMessage(`{}`)
	}

	rec := &models.ExceptionRecord{
		BatchID:   batchID,
		ErrorCode: code,
		Detail:    raw,
		Status:    models.ExceptionStatusOpen,
	}
	if err := r.store.Create(context.WithoutCancel(ctx), rec); err != nil {
		r.logger.Error("record batch exception failed", "batch_id", batchID, "code", code, "err", err)
		return nil
	}

	r.logger.Warn("batch exception recorded", "batch_id", batchID, "code", code, "exception_id", rec.ID)
	return rec
}

// Detail is the structured payload of a batch exception.
type Detail struct {
	Kind      models.BatchKind   `json:"kind"`
	Status    models.BatchStatus `json:"status"`
	Total     int                `json:"total"`
	Succeeded int                `json:"succeeded"`
	Failed    int                `json:"failed"`
	Skipped   int                `json:"skipped"`
	Expected  int                `json:"expected"`
	Errors    []string           `json:"errors,omitempty"`
	Message   string             `json:"message,omitempty"`
}
