package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"clipwright/internal/copygen"
	"clipwright/internal/models"
	"clipwright/internal/storage"

	"github.com/labstack/echo/v4"
)

// CopyQueuer はコピー生成バッチを登録する
type CopyQueuer interface {
	Queue(ctx context.Context, projectID string) (*models.Batch, error)
	QueueRegen(ctx context.Context, projectID string, sequence int, previousDraft, instructions string) (*models.Batch, error)
}

// CopyStore はコピーの参照と編集を行う
type CopyStore interface {
	ListByProject(ctx context.Context, projectID string) ([]*models.Copy, error)
	ListRevisions(ctx context.Context, copyID string) ([]*models.Revision, error)
	CreateRevision(ctx context.Context, copyID, content string, source models.RevisionSource) (*models.Revision, error)
}

// CopyHandler はコピーAPIのハンドラー
type CopyHandler struct {
	svc    CopyQueuer
	copies CopyStore
}

// NewCopyHandler は新しいCopyHandlerを作成
func NewCopyHandler(svc CopyQueuer, copies CopyStore) *CopyHandler {
	return &CopyHandler{svc: svc, copies: copies}
}

type queuedResponse struct {
	BatchID string             `json:"batch_id"`
	Status  models.BatchStatus `json:"status"`
	Events  string             `json:"events"`
}

func queued(c echo.Context, b *models.Batch) error {
	return c.JSON(http.StatusAccepted, queuedResponse{
		BatchID: b.ID,
		Status:  b.Status,
		Events:  "/api/batches/" + b.ID + "/events",
	})
}

// Generate は5件一括生成のバッチを登録
// POST /api/projects/:id/copies
func (h *CopyHandler) Generate(c echo.Context) error {
	b, err := h.svc.Queue(c.Request().Context(), c.Param("id"))
	if err != nil {
		return copyError(c, err)
	}
	return queued(c, b)
}

type regenerateRequest struct {
	PreviousDraft string `json:"previousDraft"`
	Instructions  string `json:"instructions"`
}

// Regenerate は1件だけ再生成するバッチを登録
// POST /api/projects/:id/copies/:sequence/regenerate
func (h *CopyHandler) Regenerate(c echo.Context) error {
	seq, err := strconv.Atoi(c.Param("sequence"))
	if err != nil {
		return jsonError(c, http.StatusBadRequest, "sequence must be a number")
	}
	var req regenerateRequest
	if err := c.Bind(&req); err != nil {
		return jsonError(c, http.StatusBadRequest, "invalid request body")
	}

	b, err := h.svc.QueueRegen(c.Request().Context(), c.Param("id"), seq, req.PreviousDraft, req.Instructions)
	if err != nil {
		return copyError(c, err)
	}
	return queued(c, b)
}

// List はプロジェクトのコピー一覧を取得
// GET /api/projects/:id/copies
func (h *CopyHandler) List(c echo.Context) error {
	copies, err := h.copies.ListByProject(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if copies == nil {
		copies = []*models.Copy{}
	}
	return c.JSON(http.StatusOK, copies)
}

// Revisions はコピーの版一覧を取得
// GET /api/copies/:id/revisions
func (h *CopyHandler) Revisions(c echo.Context) error {
	revs, err := h.copies.ListRevisions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	if len(revs) == 0 {
		return jsonError(c, http.StatusNotFound, "copy not found")
	}
	return c.JSON(http.StatusOK, revs)
}

type reviseRequest struct {
	Content string `json:"content"`
}

// Revise はユーザー編集を新しい版として保存
// POST /api/copies/:id/revisions
func (h *CopyHandler) Revise(c echo.Context) error {
	var req reviseRequest
	if err := c.Bind(&req); err != nil || req.Content == "" {
		return jsonError(c, http.StatusBadRequest, "content is required")
	}

	rev, err := h.copies.CreateRevision(c.Request().Context(), c.Param("id"), req.Content, models.RevisionSourceUser)
	if errors.Is(err, storage.ErrNotFound) {
		return jsonError(c, http.StatusNotFound, "copy not found")
	}
	if err != nil {
		return jsonError(c, http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, rev)
}

func copyError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, copygen.ErrProjectNotFound):
		return jsonError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, copygen.ErrInvalidSequence):
		return jsonError(c, http.StatusBadRequest, err.Error())
	}
	return jsonError(c, http.StatusInternalServerError, err.Error())
}
