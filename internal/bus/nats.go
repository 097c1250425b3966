// Package bus mirrors batch progress onto NATS subjects.
package bus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
)

// Publisher is the publishing half of a NATS connection.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type Client struct {
	nc  *nats.Conn
	pub Publisher
}

func Connect(url string) (*Client, error) {
	nc, err := nats.Connect(url,
		nats.Name("clipwright"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.Timeout(5*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	return &Client{nc: nc, pub: nc}, nil
}

// NewClient wraps an existing publisher.
func NewClient(pub Publisher) *Client {
	return &Client{pub: pub}
}

func (c *Client) Close() {
	if c.nc != nil {
		_ = c.nc.Drain()
	}
}

func (c *Client) PublishJSON(subject string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.pub.Publish(subject, b)
}

// EventSubject is the subject carrying events of one batch.
func EventSubject(batchID string) string {
	return "batches." + batchID + ".events"
}
