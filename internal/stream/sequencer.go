package stream

import (
	"log/slog"
	"sync"
)

// Sequencer forwards events only when they respect the stream protocol.
// Out-of-order events are dropped and logged. Safe for concurrent use.
type Sequencer struct {
	mu         sync.Mutex
	next       Emitter
	logger     *slog.Logger
	started    bool
	processing bool
	finished   bool
	open       map[string]bool
	settled    map[string]bool
	dropped    int
}

// NewSequencer wraps next.
func NewSequencer(next Emitter, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		next:    next,
		logger:  logger,
		open:    make(map[string]bool),
		settled: make(map[string]bool),
	}
}

// Emit validates e against the events seen so far.
func (s *Sequencer) Emit(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.accept(e) {
		s.dropped++
		s.logger.Warn("dropping out-of-order progress event", "type", e.Type)
		return
	}
	s.next.Emit(e)
}

func (s *Sequencer) accept(e Event) bool {
	if s.finished {
		return false
	}

	switch e.Type {
	case EventStart:
		if s.started {
			return false
		}
		s.started = true
	case EventFiltered:
		if !s.started || s.processing {
			return false
		}
	case EventProcessing:
		d, ok := e.Data.(ProcessingData)
		if !s.started || !ok || s.open[d.ItemID] || s.settled[d.ItemID] {
			return false
		}
		s.processing = true
		s.open[d.ItemID] = true
	case EventItem:
		d, ok := e.Data.(ItemData)
		if !s.started || !ok || !s.open[d.ItemID] {
			return false
		}
		delete(s.open, d.ItemID)
		s.settled[d.ItemID] = true
	case EventDone, EventError:
		if !s.started {
			return false
		}
		s.finished = true
	default:
		return false
	}
	return true
}

// Finished reports whether a terminal event went through.
func (s *Sequencer) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.finished
}

// Dropped returns the number of rejected events.
func (s *Sequencer) Dropped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dropped
}
