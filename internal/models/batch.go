package models

import "time"

// BatchStatus はバッチの状態
type BatchStatus string

// バッチステータス
const (
	BatchStatusPending        BatchStatus = "PENDING"
	BatchStatusRunning        BatchStatus = "RUNNING"
	BatchStatusSucceeded      BatchStatus = "SUCCEEDED"
	BatchStatusPartialSuccess BatchStatus = "PARTIAL_SUCCESS"
	BatchStatusFailed         BatchStatus = "FAILED"
)

// Rank は状態遷移の順序を返す（終端状態はすべて同じ順位）
func (s BatchStatus) Rank() int {
	switch s {
	case BatchStatusPending:
		return 0
	case BatchStatusRunning:
		return 1
	case BatchStatusSucceeded, BatchStatusPartialSuccess, BatchStatusFailed:
		return 2
	}
	return -1
}

// IsTerminal は終端状態かどうか
func (s BatchStatus) IsTerminal() bool {
	return s.Rank() == 2
}

// CanTransition は from から to への遷移が前進かどうかを返す
func CanTransition(from, to BatchStatus) bool {
	if to.Rank() < 0 || from.Rank() < 0 {
		return false
	}
	return to.Rank() > from.Rank()
}

// BatchKind はバッチのワークフロー種別
type BatchKind string

// ワークフロー種別
const (
	BatchKindTranscription BatchKind = "transcription"
	BatchKindCopy          BatchKind = "copy"
)

// BatchMode はバッチの実行モード
type BatchMode string

// 実行モード
const (
	BatchModeBulk  BatchMode = "bulk"
	BatchModeRegen BatchMode = "single-item-regen"
)

// Batch は一括処理の単位
type Batch struct {
	ID             string      `json:"id"`
	Kind           BatchKind   `json:"kind"`
	Status         BatchStatus `json:"status"`
	Mode           BatchMode   `json:"mode"`
	TargetSequence *int        `json:"target_sequence,omitempty"`
	ProjectID      string      `json:"project_id,omitempty"`
	ItemIDs        []string    `json:"item_ids,omitempty"`

	// 再生成モードの入力
	PreviousDraft string `json:"previous_draft,omitempty"`
	Instructions  string `json:"instructions,omitempty"`

	Total      int   `json:"total"`
	Succeeded  int   `json:"succeeded"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	TokenUsage int64 `json:"token_usage"`

	ErrorCode    string `json:"error_code,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// エラーコード
const (
	ErrorCodeBelowThreshold     = "BELOW_FULL_SUCCESS"
	ErrorCodeBatchException     = "BATCH_EXCEPTION"
	ErrorCodeClientDisconnected = "CLIENT_DISCONNECTED"
)
