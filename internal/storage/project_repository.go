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

// ProjectRepository はプロジェクトのデータアクセス層
type ProjectRepository struct {
	db *DB
}

// NewProjectRepository は新しいProjectRepositoryを作成
func NewProjectRepository(db *DB) *ProjectRepository {
	return &ProjectRepository{db: db}
}

// Create は新しいプロジェクトを作成
func (r *ProjectRepository) Create(ctx context.Context, p *models.Project) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	p.CreatedAt = time.Now()

	_, err := r.db.ExecContext(ctx, `INSERT INTO projects
		(id, name, product, audience, tone, key_points, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Name, p.Product, p.Audience, p.Tone, encodeList(p.KeyPoints), p.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}
	return nil
}

// GetByID はIDでプロジェクトを取得
func (r *ProjectRepository) GetByID(ctx context.Context, id string) (*models.Project, error) {
	var (
		p         models.Project
		keyPoints string
	)
	err := r.db.QueryRowContext(ctx, `SELECT id, name, product, audience, tone, key_points, created_at
		FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Product, &p.Audience, &p.Tone, &keyPoints, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.KeyPoints = decodeList(keyPoints)
	return &p, nil
}
