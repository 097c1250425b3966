package models

import "time"

// ItemStatus はアイテムの処理状態
type ItemStatus string

// アイテムステータス
const (
	ItemStatusPending    ItemStatus = "pending"
	ItemStatusProcessing ItemStatus = "processing"
	ItemStatusSuccess    ItemStatus = "success"
	ItemStatusFailed     ItemStatus = "failed"
	ItemStatusSkipped    ItemStatus = "skipped"
)

// Video は文字起こし対象のショート動画
type Video struct {
	ID          string   `json:"id"`
	ProjectID   string   `json:"project_id,omitempty"`
	Position    int      `json:"position"`
	ExternalRef string   `json:"external_ref,omitempty"`
	Title       string   `json:"title"`
	Author      string   `json:"author,omitempty"`
	Hashtags    []string `json:"hashtags,omitempty"`
	TopicTags   []string `json:"topic_tags,omitempty"`

	// 取得元
	AudioURL string `json:"audio_url,omitempty"`
	VideoURL string `json:"video_url,omitempty"`
	ShareURL string `json:"share_url,omitempty"`

	Status       ItemStatus `json:"status"`
	Transcript   string     `json:"transcript,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// HasResult は既に文字起こし結果を持っているかどうか
func (v *Video) HasResult() bool {
	return v.Transcript != ""
}
