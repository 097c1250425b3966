package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"clipwright/internal/batch"
	"clipwright/internal/models"
	"clipwright/internal/stream"

	"github.com/labstack/echo/v4"
)

// BatchStore はバッチの参照を行う
type BatchStore interface {
	GetByID(ctx context.Context, id string) (*models.Batch, error)
	ListRecent(ctx context.Context, limit int) ([]*models.Batch, error)
}

// ExceptionStore は例外記録の参照を行う
type ExceptionStore interface {
	ListByBatch(ctx context.Context, batchID string) ([]*models.ExceptionRecord, error)
}

// BatchHandler はバッチAPIのハンドラー
type BatchHandler struct {
	batches    BatchStore
	exceptions ExceptionStore
	broker     *stream.Broker
	heartbeat  time.Duration
	logger     *slog.Logger
}

// NewBatchHandler は新しいBatchHandlerを作成
func NewBatchHandler(batches BatchStore, exceptions ExceptionStore, broker *stream.Broker, heartbeat time.Duration, logger *slog.Logger) *BatchHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &BatchHandler{batches: batches, exceptions: exceptions, broker: broker, heartbeat: heartbeat, logger: logger}
}

// List は最近のバッチ一覧を取得
// GET /api/batches
func (h *BatchHandler) List(c echo.Context) error {
	limit := 50
	if l := c.QueryParam("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil {
			limit = parsed
		}
	}

	batches, err := h.batches.ListRecent(c.Request().Context(), limit)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if batches == nil {
		batches = []*models.Batch{}
	}
	return c.JSON(http.StatusOK, batches)
}

// Get はバッチを取得
// GET /api/batches/:id
func (h *BatchHandler) Get(c echo.Context) error {
	b, err := h.batches.GetByID(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if b == nil {
		return jsonError(c, http.StatusNotFound, "batch not found")
	}
	return c.JSON(http.StatusOK, b)
}

// Exceptions はバッチの例外記録を取得
// GET /api/batches/:id/exceptions
func (h *BatchHandler) Exceptions(c echo.Context) error {
	recs, err := h.exceptions.ListByBatch(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if recs == nil {
		recs = []*models.ExceptionRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

// Events はバックグラウンド実行中のバッチの進捗をSSEで配信
// GET /api/batches/:id/events
func (h *BatchHandler) Events(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")

	// 終了直後の取りこぼしを防ぐため、参照より先に購読する
	events, cancel := h.broker.Subscribe(id)
	defer cancel()

	b, err := h.batches.GetByID(ctx, id)
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if b == nil {
		return jsonError(c, http.StatusNotFound, "batch not found")
	}

	w := openStream(c)
	if b.Status.IsTerminal() {
		e := stream.Done(batch.Summary{
			BatchID:    b.ID,
			Total:      b.Total,
			Succeeded:  b.Succeeded,
			Failed:     b.Failed,
			Skipped:    b.Skipped,
			Status:     b.Status,
			TokensUsed: b.TokenUsage,
		})
		e.BatchID = b.ID
		return w.Write(e)
	}

	if err := stream.Pump(ctx, events, w, h.heartbeat); err != nil && ctx.Err() == nil {
		h.logger.Warn("batch event stream ended", "batch_id", id, "err", err)
	}
	return nil
}
