package pubsub

import (
	"context"
	"sync"
)

// Broker is an in-process Publisher for single-instance deployments and tests.
type Broker struct {
	mu   sync.Mutex
	subs map[chan Event]Filter
}

func NewBroker() *Broker {
	return &Broker{subs: make(map[chan Event]Filter)}
}

// Publish delivers the event to every matching subscriber. A subscriber that
// has fallen behind loses its oldest buffered event instead of blocking the
// writer; reconcile-by-refetch covers the gap.
func (b *Broker) Publish(_ context.Context, event Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch, filter := range b.subs {
		if !filter.Matches(event) {
			continue
		}
		select {
		case ch <- event:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- event
		}
	}
	return nil
}

// Subscribe registers a buffered event channel matching the filter.
func (b *Broker) Subscribe(_ context.Context, filter Filter) (<-chan Event, func(), error) {
	ch := make(chan Event, 16)

	b.mu.Lock()
	b.subs[ch] = filter
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel, nil
}
