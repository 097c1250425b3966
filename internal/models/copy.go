package models

import "time"

// Project はコピー生成の対象となる案件
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Product   string    `json:"product"`
	Audience  string    `json:"audience,omitempty"`
	Tone      string    `json:"tone,omitempty"`
	KeyPoints []string  `json:"key_points,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ParseMode はコピー抽出の方法
type ParseMode string

// 抽出方法
const (
	ParseModeDelimited ParseMode = "delimited"
	ParseModeParagraph ParseMode = "paragraph" // 区切りなしの劣化復旧
)

// Copy は生成されたマーケティングコピー
type Copy struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	BatchID   string     `json:"batch_id"`
	Sequence  int        `json:"sequence"`
	Content   string     `json:"content"`
	Status    ItemStatus `json:"status"`
	ParseMode ParseMode  `json:"parse_mode"`
	CreatedAt time.Time  `json:"created_at"`
}

// RevisionSource はリビジョンの作成元
type RevisionSource string

// リビジョン作成元
const (
	RevisionSourceModel RevisionSource = "MODEL"
	RevisionSourceUser  RevisionSource = "USER"
)

// Revision はコピーの版
type Revision struct {
	ID        string         `json:"id"`
	CopyID    string         `json:"copy_id"`
	Content   string         `json:"content"`
	Source    RevisionSource `json:"source"`
	Version   int            `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
}
