package models

import (
	"encoding/json"
	"time"
)

// ExceptionRecord はバッチ単位の異常記録
type ExceptionRecord struct {
	ID        string          `json:"id"`
	BatchID   string          `json:"batch_id"`
	ErrorCode string          `json:"error_code"`
	Detail    json.RawMessage `json:"detail"`
	Status    string          `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
}

// 例外ステータス
const (
	ExceptionStatusOpen     = "OPEN"
	ExceptionStatusResolved = "RESOLVED"
)
