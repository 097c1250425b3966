package stream

import "sync"

// Broker fans events of background batches out to any number of
// subscribers keyed by batch id. Slow subscribers lose progress events
// rather than stalling the worker, but always receive the terminal event.
type Broker struct {
	mu     sync.Mutex
	subs   map[string]map[chan Event]struct{}
	buffer int
}

// NewBroker creates a broker whose subscriber channels hold buffer events.
func NewBroker(buffer int) *Broker {
	if buffer <= 0 {
		buffer = 64
	}
	return &Broker{subs: make(map[string]map[chan Event]struct{}), buffer: buffer}
}

// Subscribe returns a channel of events for batchID and a cancel func.
// The channel is closed after a terminal event or on cancel.
func (b *Broker) Subscribe(batchID string) (<-chan Event, func()) {
	ch := make(chan Event, b.buffer)

	b.mu.Lock()
	if b.subs[batchID] == nil {
		b.subs[batchID] = make(map[chan Event]struct{})
	}
	b.subs[batchID][ch] = struct{}{}
	b.mu.Unlock()

	return ch, func() { b.remove(batchID, ch) }
}

// Emitter returns an Emitter publishing to batchID's subscribers.
func (b *Broker) Emitter(batchID string) Emitter {
	return EmitterFunc(func(e Event) { b.Publish(batchID, e) })
}

// Publish delivers e to every current subscriber of batchID.
func (b *Broker) Publish(batchID string, e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for ch := range b.subs[batchID] {
		if !e.Type.IsTerminal() {
			select {
			case ch <- e:
			default:
			}
			continue
		}
		deliverTerminal(ch, e)
		close(ch)
	}
	if e.Type.IsTerminal() {
		delete(b.subs, batchID)
	}
}

// deliverTerminal makes room by evicting the oldest buffered events so the
// stream always ends in done or error. Only Publish sends on ch, under b.mu.
func deliverTerminal(ch chan Event, e Event) {
	for {
		select {
		case ch <- e:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func (b *Broker) remove(batchID string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subs[batchID]
	if !ok {
		return
	}
	if _, ok := subs[ch]; !ok {
		return
	}
	delete(subs, ch)
	close(ch)
	if len(subs) == 0 {
		delete(b.subs, batchID)
	}
}

// Subscribers returns the number of live subscribers for batchID.
func (b *Broker) Subscribers(batchID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[batchID])
}
