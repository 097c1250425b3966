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

// VideoRepository は動画アイテムのデータアクセス層
type VideoRepository struct {
	db *DB
}

// NewVideoRepository は新しいVideoRepositoryを作成
func NewVideoRepository(db *DB) *VideoRepository {
	return &VideoRepository{db: db}
}

const videoColumns = `id, project_id, position, external_ref, title, author, hashtags, topic_tags,
	audio_url, video_url, share_url, status, transcript, error_message, updated_at`

// Create は新しい動画を作成
func (r *VideoRepository) Create(ctx context.Context, v *models.Video) error {
	if v.ID == "" {
		v.ID = uuid.New().String()
	}
	if v.Status == "" {
		v.Status = models.ItemStatusPending
	}
	v.UpdatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `INSERT INTO videos (`+videoColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ProjectID, v.Position, v.ExternalRef, v.Title, v.Author,
		encodeList(v.Hashtags), encodeList(v.TopicTags),
		v.AudioURL, v.VideoURL, v.ShareURL,
		string(v.Status), v.Transcript, v.ErrorMessage, v.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create video: %w", err)
	}
	return nil
}

// GetByID はIDで動画を取得
func (r *VideoRepository) GetByID(ctx context.Context, id string) (*models.Video, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+videoColumns+` FROM videos WHERE id = ?`, id)
	v, err := scanVideo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// ListByIDs は指定IDの動画を指定順で取得（存在しないIDは含まない）
func (r *VideoRepository) ListByIDs(ctx context.Context, ids []string) ([]*models.Video, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE id IN (`+placeholders(len(ids))+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]*models.Video, len(ids))
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		byID[v.ID] = v
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	videos := make([]*models.Video, 0, len(byID))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if v, ok := byID[id]; ok && !seen[id] {
			seen[id] = true
			videos = append(videos, v)
		}
	}
	return videos, nil
}

// ListByProject はプロジェクトの動画一覧を取得
func (r *VideoRepository) ListByProject(ctx context.Context, projectID string) ([]*models.Video, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+videoColumns+` FROM videos WHERE project_id = ? ORDER BY position`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var videos []*models.Video
	for rows.Next() {
		v, err := scanVideo(rows)
		if err != nil {
			return nil, err
		}
		videos = append(videos, v)
	}
	return videos, rows.Err()
}

// UpdateStatus は動画の処理状態を更新
func (r *VideoRepository) UpdateStatus(ctx context.Context, id string, status models.ItemStatus, errMsg string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE videos SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		string(status), errMsg, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update video status: %w", err)
	}
	return expectOne(res)
}

// UpdateResult は文字起こし結果を保存し、成功状態にする
func (r *VideoRepository) UpdateResult(ctx context.Context, id, transcript string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE videos SET status = ?, transcript = ?, error_message = '', updated_at = ? WHERE id = ?`,
		string(models.ItemStatusSuccess), transcript, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update video result: %w", err)
	}
	return expectOne(res)
}

func scanVideo(s scanner) (*models.Video, error) {
	var (
		v                  models.Video
		status             string
		hashtags, topicTag string
	)
	err := s.Scan(&v.ID, &v.ProjectID, &v.Position, &v.ExternalRef, &v.Title, &v.Author,
		&hashtags, &topicTag, &v.AudioURL, &v.VideoURL, &v.ShareURL,
		&status, &v.Transcript, &v.ErrorMessage, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = models.ItemStatus(status)
	v.Hashtags = decodeList(hashtags)
	v.TopicTags = decodeList(topicTag)
	return &v, nil
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
