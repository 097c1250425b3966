package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"clipwright/internal/models"

	"github.com/google/uuid"
)

// BatchRepository はバッチのデータアクセス層
type BatchRepository struct {
	db *DB
}

// NewBatchRepository は新しいBatchRepositoryを作成
func NewBatchRepository(db *DB) *BatchRepository {
	return &BatchRepository{db: db}
}

const batchColumns = `id, kind, status, mode, target_sequence, project_id, item_ids,
	previous_draft, instructions, total, succeeded, failed, skipped, token_usage,
	error_code, error_message, created_at, started_at, completed_at`

// statusRank はステータスの順位をSQL上で計算する
const statusRank = `CASE status WHEN 'PENDING' THEN 0 WHEN 'RUNNING' THEN 1 ELSE 2 END`

// Create は新しいバッチを作成
func (r *BatchRepository) Create(ctx context.Context, b *models.Batch) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = models.BatchStatusPending
	}
	if b.Mode == "" {
		b.Mode = models.BatchModeBulk
	}
	b.CreatedAt = time.Now()

	var target sql.NullInt64
	if b.TargetSequence != nil {
		target = sql.NullInt64{Int64: int64(*b.TargetSequence), Valid: true}
	}

	_, err := r.db.ExecContext(ctx, `INSERT INTO batches (`+batchColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, string(b.Kind), string(b.Status), string(b.Mode), target, b.ProjectID,
		encodeList(b.ItemIDs), b.PreviousDraft, b.Instructions,
		b.Total, b.Succeeded, b.Failed, b.Skipped, b.TokenUsage,
		b.ErrorCode, b.ErrorMessage, b.CreatedAt, b.StartedAt, b.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create batch: %w", err)
	}
	return nil
}

// GetByID はIDでバッチを取得
func (r *BatchRepository) GetByID(ctx context.Context, id string) (*models.Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches WHERE id = ?`, id)
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// NextPending は最も古い未着手バッチを取得
func (r *BatchRepository) NextPending(ctx context.Context, kind models.BatchKind) (*models.Batch, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+batchColumns+` FROM batches
		WHERE kind = ? AND status = ? ORDER BY created_at LIMIT 1`,
		string(kind), string(models.BatchStatusPending))
	b, err := scanBatch(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// UpdateStatus はステータスを前進させる（後退・終端間の遷移は ErrStatusRegression）
func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, to models.BatchStatus) error {
	rank := to.Rank()
	if rank < 0 {
		return fmt.Errorf("unknown batch status %q", to)
	}

	now := time.Now()
	res, err := r.db.ExecContext(ctx, `UPDATE batches SET
			status = ?,
			started_at = CASE WHEN ? = 1 THEN COALESCE(started_at, ?) ELSE started_at END,
			completed_at = CASE WHEN ? = 2 THEN ? ELSE completed_at END
		WHERE id = ? AND `+statusRank+` < ?`,
		string(to), rank, now, rank, now, id, rank)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	return r.checkTransition(ctx, res, id)
}

// Finish は集計結果と終端ステータスを書き込む
func (r *BatchRepository) Finish(ctx context.Context, b *models.Batch) error {
	if !b.Status.IsTerminal() {
		return fmt.Errorf("batch status %q is not terminal", b.Status)
	}

	now := time.Now()
	res, err := r.db.ExecContext(ctx, `UPDATE batches SET
			status = ?, total = ?, succeeded = ?, failed = ?, skipped = ?, token_usage = ?,
			error_code = ?, error_message = ?, completed_at = ?
		WHERE id = ? AND `+statusRank+` < 2`,
		string(b.Status), b.Total, b.Succeeded, b.Failed, b.Skipped, b.TokenUsage,
		b.ErrorCode, b.ErrorMessage, now, b.ID)
	if err != nil {
		return fmt.Errorf("failed to finish batch: %w", err)
	}
	if err := r.checkTransition(ctx, res, b.ID); err != nil {
		return err
	}
	b.CompletedAt = &now
	return nil
}

// SetError はステータスを変えずにエラー情報を記録
func (r *BatchRepository) SetError(ctx context.Context, id, code, message string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE batches SET error_code = ?, error_message = ? WHERE id = ?`, code, message, id)
	if err != nil {
		return fmt.Errorf("failed to set batch error: %w", err)
	}
	return expectOne(res)
}

// ListRecent は最近のバッチ一覧を取得
func (r *BatchRepository) ListRecent(ctx context.Context, limit int) ([]*models.Batch, error) {
	if limit == 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+batchColumns+` FROM batches ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var batches []*models.Batch
	for rows.Next() {
		b, err := scanBatch(rows)
		if err != nil {
			return nil, err
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// checkTransition は更新件数ゼロの理由を判定する
func (r *BatchRepository) checkTransition(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	var exists int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM batches WHERE id = ?`, id).Scan(&exists)
	if err != nil {
		return err
	}
	if exists == 0 {
		return ErrNotFound
	}
	return ErrStatusRegression
}

func scanBatch(s scanner) (*models.Batch, error) {
	var (
		b                      models.Batch
		kind, status, mode     string
		target                 sql.NullInt64
		itemIDs                string
		startedAt, completedAt sql.NullTime
	)
	err := s.Scan(&b.ID, &kind, &status, &mode, &target, &b.ProjectID, &itemIDs,
		&b.PreviousDraft, &b.Instructions, &b.Total, &b.Succeeded, &b.Failed, &b.Skipped,
		&b.TokenUsage, &b.ErrorCode, &b.ErrorMessage, &b.CreatedAt, &startedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	b.Kind = models.BatchKind(kind)
	b.Status = models.BatchStatus(status)
	b.Mode = models.BatchMode(mode)
	b.ItemIDs = decodeList(itemIDs)
	if target.Valid {
		seq := int(target.Int64)
		b.TargetSequence = &seq
	}
	if startedAt.Valid {
		b.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		b.CompletedAt = &completedAt.Time
	}
	return &b, nil
}
