// Package stream carries batch progress to remote subscribers as an ordered,
// typed event sequence:
//
//	start → [filtered] → (processing → item)* → done | error
package stream

import (
	"encoding/json"

	"clipwright/internal/batch"
	"clipwright/internal/models"
)

// EventType names an event on the wire.
type EventType string

const (
	EventStart      EventType = "start"
	EventFiltered   EventType = "filtered"
	EventProcessing EventType = "processing"
	EventItem       EventType = "item"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// IsTerminal reports whether no event may follow t.
func (t EventType) IsTerminal() bool {
	return t == EventDone || t == EventError
}

// Event is one progress notification. Data holds the typed payload.
type Event struct {
	Type    EventType `json:"type"`
	BatchID string    `json:"batchId,omitempty"`
	Data    any       `json:"data"`
}

// StartData opens the stream. Total is the number of items in the batch and
// always equals the total reported by the closing summary.
type StartData struct {
	Total int `json:"total"`
}

// FilteredData reports the pre-filter. Total is the number of items left to
// run; Skipped counts requested items that will not run, whether they stay
// in the batch as skipped or were dropped from it.
type FilteredData struct {
	Total   int `json:"total"`
	Skipped int `json:"skipped"`
}

// ProcessingData announces an item entering processing.
type ProcessingData struct {
	ItemID string `json:"itemId"`
	Title  string `json:"title"`
}

// Progress counts settled items.
type Progress struct {
	Completed int `json:"completed"`
	Total     int `json:"total"`
}

// ItemData reports a settled item.
type ItemData struct {
	ItemID   string            `json:"itemId"`
	Status   models.ItemStatus `json:"status"`
	Progress Progress          `json:"progress"`
	Error    string            `json:"error,omitempty"`
}

// DoneData closes a batch that ran to completion.
type DoneData struct {
	Summary batch.Summary `json:"summary"`
}

// ErrorData closes a batch aborted by a batch-level exception.
type ErrorData struct {
	Message string `json:"message"`
}

func Start(total int) Event {
	return Event{Type: EventStart, Data: StartData{Total: total}}
}

func Filtered(total, skipped int) Event {
	return Event{Type: EventFiltered, Data: FilteredData{Total: total, Skipped: skipped}}
}

func Processing(itemID, title string) Event {
	return Event{Type: EventProcessing, Data: ProcessingData{ItemID: itemID, Title: title}}
}

func Item(itemID string, status models.ItemStatus, completed, total int, errMsg string) Event {
	return Event{Type: EventItem, Data: ItemData{
		ItemID:   itemID,
		Status:   status,
		Progress: Progress{Completed: completed, Total: total},
		Error:    errMsg,
	}}
}

func Done(summary batch.Summary) Event {
	return Event{Type: EventDone, Data: DoneData{Summary: summary}}
}

func Error(message string) Event {
	return Event{Type: EventError, Data: ErrorData{Message: message}}
}

// Payload returns the JSON data frame.
func (e Event) Payload() ([]byte, error) {
	return json.Marshal(e.Data)
}

// Emitter receives events from the coordinator.
type Emitter interface {
	Emit(Event)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Event)

func (f EmitterFunc) Emit(e Event) { f(e) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(Event) {})

// Tee fans every event out to all emitters in order.
func Tee(emitters ...Emitter) Emitter {
	return EmitterFunc(func(e Event) {
		for _, em := range emitters {
			if em != nil {
				em.Emit(e)
			}
		}
	})
}

// WithBatchID stamps events with the batch id before forwarding.
func WithBatchID(id string, next Emitter) Emitter {
	return EmitterFunc(func(e Event) {
		e.BatchID = id
		next.Emit(e)
	})
}
