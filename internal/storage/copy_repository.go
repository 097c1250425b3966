package storage

import (
	"context"
	"fmt"
	"time"

	"clipwright/internal/models"

	"github.com/google/uuid"
)

// CopyRepository はコピーとリビジョンのデータアクセス層
type CopyRepository struct {
	db *DB
}

// NewCopyRepository は新しいCopyRepositoryを作成
func NewCopyRepository(db *DB) *CopyRepository {
	return &CopyRepository{db: db}
}

// CreateCopies はコピーと初版リビジョンを1トランザクションで作成
func (r *CopyRepository) CreateCopies(ctx context.Context, copies []*models.Copy) error {
	if len(copies) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	for _, c := range copies {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		if c.Status == "" {
			c.Status = models.ItemStatusSuccess
		}
		if c.ParseMode == "" {
			c.ParseMode = models.ParseModeDelimited
		}
		c.CreatedAt = now

		_, err := tx.ExecContext(ctx, `INSERT INTO copies
			(id, project_id, batch_id, sequence, content, status, parse_mode, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.ProjectID, c.BatchID, c.Sequence, c.Content,
			string(c.Status), string(c.ParseMode), c.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to create copy %d: %w", c.Sequence, err)
		}

		_, err = tx.ExecContext(ctx, `INSERT INTO copy_revisions
			(id, copy_id, content, source, version, created_at)
			VALUES (?, ?, ?, ?, 1, ?)`,
			uuid.New().String(), c.ID, c.Content, string(models.RevisionSourceModel), now)
		if err != nil {
			return fmt.Errorf("failed to create revision for copy %d: %w", c.Sequence, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit copies: %w", err)
	}
	return nil
}

// CreateRevision はコピーに新しい版を追加
func (r *CopyRepository) CreateRevision(ctx context.Context, copyID, content string, source models.RevisionSource) (*models.Revision, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var version int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version), 0) FROM copy_revisions WHERE copy_id = ?`, copyID).Scan(&version)
	if err != nil {
		return nil, err
	}
	if version == 0 {
		return nil, ErrNotFound
	}

	rev := &models.Revision{
		ID:        uuid.New().String(),
		CopyID:    copyID,
		Content:   content,
		Source:    source,
		Version:   version + 1,
		CreatedAt: time.Now(),
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO copy_revisions
		(id, copy_id, content, source, version, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		rev.ID, rev.CopyID, rev.Content, string(rev.Source), rev.Version, rev.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create revision: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE copies SET content = ? WHERE id = ?`, content, copyID); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return rev, nil
}

// ListByBatch はバッチのコピーを番号順に取得
func (r *CopyRepository) ListByBatch(ctx context.Context, batchID string) ([]*models.Copy, error) {
	return r.list(ctx, `WHERE batch_id = ? ORDER BY sequence`, batchID)
}

// ListByProject はプロジェクトのコピーを新しい順に取得
func (r *CopyRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Copy, error) {
	return r.list(ctx, `WHERE project_id = ? ORDER BY created_at DESC, sequence`, projectID)
}

// ListRevisions はコピーの版を古い順に取得
func (r *CopyRepository) ListRevisions(ctx context.Context, copyID string) ([]*models.Revision, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, copy_id, content, source, version, created_at
		FROM copy_revisions WHERE copy_id = ? ORDER BY version`, copyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var revs []*models.Revision
	for rows.Next() {
		var (
			rev    models.Revision
			source string
		)
		if err := rows.Scan(&rev.ID, &rev.CopyID, &rev.Content, &source, &rev.Version, &rev.CreatedAt); err != nil {
			return nil, err
		}
		rev.Source = models.RevisionSource(source)
		revs = append(revs, &rev)
	}
	return revs, rows.Err()
}

func (r *CopyRepository) list(ctx context.Context, where string, args ...any) ([]*models.Copy, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, project_id, batch_id, sequence, content,
		status, parse_mode, created_at FROM copies `+where, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var copies []*models.Copy
	for rows.Next() {
		c, err := scanCopy(rows)
		if err != nil {
			return nil, err
		}
		copies = append(copies, c)
	}
	return copies, rows.Err()
}

func scanCopy(s scanner) (*models.Copy, error) {
	var (
		c                 models.Copy
		status, parseMode string
	)
	if err := s.Scan(&c.ID, &c.ProjectID, &c.BatchID, &c.Sequence, &c.Content,
		&status, &parseMode, &c.CreatedAt); err != nil {
		return nil, err
	}
	c.Status = models.ItemStatus(status)
	c.ParseMode = models.ParseMode(parseMode)
	return &c, nil
}
