package stream

import "sync"

// Channel is an Emitter drained by a transport adapter. Emit blocks while the
// buffer is full, which slows producers to the subscriber's pace, until the
// subscriber abandons the stream.
type Channel struct {
	mu     sync.RWMutex
	ch     chan Event
	done   chan struct{}
	once   sync.Once
	closed bool
}

// NewChannel creates a channel emitter with the given buffer.
func NewChannel(buffer int) *Channel {
	return &Channel{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Emit queues e unless the channel is closed or abandoned.
func (c *Channel) Emit(e Event) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.ch <- e:
	case <-c.done:
	}
}

// Events is read by the transport.
func (c *Channel) Events() <-chan Event {
	return c.ch
}

// Close is called by the producer once it will emit nothing more.
func (c *Channel) Close() {
	c.Abandon()
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.ch)
	}
}

// Abandon is called by the consumer when the subscriber went away.
// Pending and future Emit calls return immediately.
func (c *Channel) Abandon() {
	c.once.Do(func() { close(c.done) })
}
