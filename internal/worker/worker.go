package worker

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"clipwright/internal/models"
)

// BatchHandler runs one PENDING batch to completion
type BatchHandler func(ctx context.Context, b *models.Batch) error

// BatchQueue returns the oldest PENDING batch of a kind, or nil
type BatchQueue interface {
	NextPending(ctx context.Context, kind models.BatchKind) (*models.Batch, error)
}

var errPanic = errors.New("batch handler panicked")

// Worker polls the batch table and dispatches PENDING batches to handlers
type Worker struct {
	queue    BatchQueue
	handlers map[models.BatchKind]BatchHandler
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	mu       sync.RWMutex
}

// NewWorker creates a new worker
func NewWorker(queue BatchQueue, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		queue:    queue,
		handlers: make(map[models.BatchKind]BatchHandler),
		interval: 1 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
	}
}

// RegisterHandler registers a handler for a batch kind
func (w *Worker) RegisterHandler(kind models.BatchKind, handler BatchHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers[kind] = handler
}

// SetInterval sets the polling interval
func (w *Worker) SetInterval(interval time.Duration) {
	if interval > 0 {
		w.interval = interval
	}
}

// Start begins processing batches
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
	w.logger.Info("worker started", "interval", w.interval)
}

// Stop waits for the batch in progress and stops the worker
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	w.wg.Wait()
	w.logger.Info("worker stopped")
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.ProcessPending(ctx)
		}
	}
}

// ProcessPending drains every registered kind once. It returns the number of
// batches dispatched.
func (w *Worker) ProcessPending(ctx context.Context) int {
	w.mu.RLock()
	kinds := make([]models.BatchKind, 0, len(w.handlers))
	for kind := range w.handlers {
		kinds = append(kinds, kind)
	}
	w.mu.RUnlock()
	slices.Sort(kinds)

	n := 0
	seen := make(map[string]bool)
	for _, kind := range kinds {
		for ctx.Err() == nil {
			id, ok := w.processNext(ctx, kind, seen)
			if !ok {
				break
			}
			seen[id] = true
			n++
		}
	}
	return n
}

// processNext dispatches the next batch of kind. A batch already seen in
// this pass is left for the next tick.
func (w *Worker) processNext(ctx context.Context, kind models.BatchKind, seen map[string]bool) (string, bool) {
	b, err := w.queue.NextPending(ctx, kind)
	if err != nil {
		w.logger.Error("get next batch failed", "kind", kind, "err", err)
		return "", false
	}
	if b == nil || seen[b.ID] {
		return "", false
	}

	w.mu.RLock()
	handler := w.handlers[kind]
	w.mu.RUnlock()

	w.logger.Info("processing batch", "batch_id", b.ID, "kind", kind, "mode", b.Mode)

	// バッチは一度きりの処理として扱い、再試行しない
	if err := w.safeHandle(ctx, handler, b); err != nil {
		w.logger.Error("batch failed", "batch_id", b.ID, "err", err)
		return b.ID, true
	}

	w.logger.Info("batch completed", "batch_id", b.ID)
	return b.ID, true
}

func (w *Worker) safeHandle(ctx context.Context, handler BatchHandler, b *models.Batch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("batch handler panicked", "batch_id", b.ID, "panic", r)
			err = errPanic
		}
	}()
	return handler(ctx, b)
}
