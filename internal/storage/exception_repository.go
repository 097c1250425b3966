package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"clipwright/internal/models"

	"github.com/google/uuid"
)

// ExceptionRepository は例外記録のデータアクセス層
type ExceptionRepository struct {
	db *DB
}

// NewExceptionRepository は新しいExceptionRepositoryを作成
func NewExceptionRepository(db *DB) *ExceptionRepository {
	return &ExceptionRepository{db: db}
}

// Create は例外記録を作成
func (r *ExceptionRepository) Create(ctx context.Context, rec *models.ExceptionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Status == "" {
		rec.Status = models.ExceptionStatusOpen
	}
	if len(rec.Detail) == 0 {
		rec.Detail = json.RawMessage(`{}`)
	}
	rec.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `INSERT INTO exceptions
		(id, batch_id, error_code, detail, status, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.BatchID, rec.ErrorCode, string(rec.Detail), rec.Status, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create exception record: %w", err)
	}
	return nil
}

// ListByBatch はバッチの例外記録を取得
func (r *ExceptionRepository) ListByBatch(ctx context.Context, batchID string) ([]*models.ExceptionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, batch_id, error_code, detail, status, created_at
		FROM exceptions WHERE batch_id = ? ORDER BY created_at`, batchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.ExceptionRecord
	for rows.Next() {
		var (
			rec    models.ExceptionRecord
			detail string
		)
		if err := rows.Scan(&rec.ID, &rec.BatchID, &rec.ErrorCode, &detail, &rec.Status, &rec.CreatedAt); err != nil {
			return nil, err
		}
		rec.Detail = json.RawMessage(detail)
		recs = append(recs, &rec)
	}
	return recs, rows.Err()
}
