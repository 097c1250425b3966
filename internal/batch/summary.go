package batch

import (
	"sync"

	"clipwright/internal/models"
)

// Summary is the per-batch accounting reported on the terminal event.
type Summary struct {
	BatchID    string             `json:"batch_id,omitempty"`
	Total      int                `json:"total"`
	Succeeded  int                `json:"succeeded"`
	Failed     int                `json:"failed"`
	Skipped    int                `json:"skipped"`
	Status     models.BatchStatus `json:"status,omitempty"`
	TokensUsed int64              `json:"tokens_used,omitempty"`
}

// Valid reports whether every item is accounted for exactly once.
func (s Summary) Valid() bool {
	return s.Succeeded+s.Failed+s.Skipped == s.Total
}

// Tally counts item outcomes from concurrent workers.
type Tally struct {
	mu      sync.Mutex
	summary Summary
}

// NewTally starts a tally for total items, skipped of which never run.
func NewTally(total, skipped int) *Tally {
	return &Tally{summary: Summary{Total: total, Skipped: skipped}}
}

// Record counts one settled item and returns the number settled so far.
func (t *Tally) Record(status models.ItemStatus, tokens int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch status {
	case models.ItemStatusSuccess:
		t.summary.Succeeded++
	case models.ItemStatusSkipped:
		t.summary.Skipped++
	default:
		t.summary.Failed++
	}
	t.summary.TokensUsed += tokens
	return t.summary.Succeeded + t.summary.Failed + t.summary.Skipped
}

// Snapshot returns a copy of the current counts.
func (t *Tally) Snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.summary
}
