package stream

import (
	"log/slog"

	"clipwright/internal/bus"
)

// NATSPublisher mirrors events to batches.<id>.events. Publish failures are
// logged and never reach the batch.
type NATSPublisher struct {
	client *bus.Client
	logger *slog.Logger
}

// NewNATSPublisher creates a publisher over client.
func NewNATSPublisher(client *bus.Client, logger *slog.Logger) *NATSPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &NATSPublisher{client: client, logger: logger}
}

// Emitter returns an Emitter publishing events of batchID.
func (p *NATSPublisher) Emitter(batchID string) Emitter {
	subject := bus.EventSubject(batchID)
	return EmitterFunc(func(e Event) {
		e.BatchID = batchID
		if err := p.client.PublishJSON(subject, e); err != nil {
			p.logger.Error("publish progress event failed", "subject", subject, "type", e.Type, "err", err)
		}
	})
}
