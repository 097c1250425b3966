package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"clipwright/internal/batch"
	"clipwright/internal/stream"
	"clipwright/internal/transcription"

	"github.com/labstack/echo/v4"
)

// TranscriptionRunner は文字起こしバッチを実行する
type TranscriptionRunner interface {
	Run(ctx context.Context, req transcription.Request, em stream.Emitter) (*batch.Summary, error)
}

// TranscriptionHandler は文字起こしAPIのハンドラー
type TranscriptionHandler struct {
	svc       TranscriptionRunner
	emitters  func(batchID string) stream.Emitter
	heartbeat time.Duration
	logger    *slog.Logger
}

// NewTranscriptionHandler は新しいTranscriptionHandlerを作成
func NewTranscriptionHandler(svc TranscriptionRunner, heartbeat time.Duration, logger *slog.Logger) *TranscriptionHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TranscriptionHandler{svc: svc, heartbeat: heartbeat, logger: logger}
}

// Mirror は各バッチのイベントを追加の送信先にも流す
func (h *TranscriptionHandler) Mirror(fn func(batchID string) stream.Emitter) {
	h.emitters = fn
}

// Batch はバッチを実行して集計を返す
// POST /api/transcriptions/batch
func (h *TranscriptionHandler) Batch(c echo.Context) error {
	var req transcription.Request
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}
	if err := validateRequest(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	summary, err := h.svc.Run(c.Request().Context(), req, h.mirror())
	if err != nil {
		return h.runError(c, err)
	}
	return c.JSON(http.StatusOK, summary)
}

// Stream はバッチを実行し、進捗をSSEで配信する
// GET /api/transcriptions/stream?itemIds=a,b&mode=missing&concurrency=3
func (h *TranscriptionHandler) Stream(c echo.Context) error {
	req := transcription.Request{
		ItemIDs: splitIDs(c.QueryParam("itemIds")),
		Mode:    transcription.Mode(c.QueryParam("mode")),
	}
	if v := c.QueryParam("concurrency"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return jsonError(c, http.StatusBadRequest, "concurrency must be a positive integer")
		}
		req.Concurrency = n
	}
	if err := validateRequest(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	ch := stream.NewChannel(32)
	seq := stream.NewSequencer(ch, h.logger)

	go func() {
		defer ch.Close()
		_, err := h.svc.Run(ctx, req, stream.Tee(h.mirror(), seq))
		if err != nil && !seq.Finished() {
			// バッチ作成前のエラーもプロトコルに沿って通知する
			seq.Emit(stream.Start(len(req.ItemIDs)))
			seq.Emit(stream.Error(err.Error()))
		}
	}()

	w := openStream(c)
	err := stream.Pump(ctx, ch.Events(), w, h.heartbeat)
	ch.Abandon()
	if err != nil && !errors.Is(err, context.Canceled) {
		h.logger.Warn("progress stream ended", "err", err)
	}
	return nil
}

func (h *TranscriptionHandler) mirror() stream.Emitter {
	if h.emitters == nil {
		return nil
	}
	return stream.EmitterFunc(func(e stream.Event) {
		if e.BatchID != "" {
			h.emitters(e.BatchID).Emit(e)
		}
	})
}

func (h *TranscriptionHandler) runError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, transcription.ErrInvalidRequest):
		return jsonError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, transcription.ErrNoItems):
		return jsonError(c, http.StatusNotFound, err.Error())
	}
	h.logger.Error("transcription batch failed", "err", err)
	return jsonError(c, http.StatusInternalServerError, err.Error())
}

func validateRequest(req *transcription.Request) error {
	if len(req.ItemIDs) == 0 {
		return errors.New("itemIds is required")
	}
	mode, err := transcription.ParseMode(string(req.Mode))
	if err != nil {
		return err
	}
	req.Mode = mode
	if req.Concurrency < 0 {
		return errors.New("concurrency must be a positive integer")
	}
	return nil
}

func splitIDs(s string) []string {
	var ids []string
	for _, id := range strings.Split(s, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}
