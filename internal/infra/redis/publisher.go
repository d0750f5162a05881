package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"

	"skipper-live-service/internal/pubsub"
)

const channelPrefix = "live:session:"

// Publisher propagates session change events over Redis pub/sub so every
// service instance sees writes made by any of them. Delivery is at-least-once
// and fire-and-forget; subscribers that reconnect re-fetch full state.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, event pubsub.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, channelPrefix+event.SessionID, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Subscribe opens a Redis subscription on the session's channel, or a pattern
// subscription over all sessions when the filter names none.
func (p *Publisher) Subscribe(ctx context.Context, filter pubsub.Filter) (<-chan pubsub.Event, func(), error) {
	var ps *redis.PubSub
	if filter.SessionID != "" {
		ps = p.client.Subscribe(ctx, channelPrefix+filter.SessionID)
	} else {
		ps = p.client.PSubscribe(ctx, channelPrefix+"*")
	}
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe: %w", err)
	}

	out := make(chan pubsub.Event, 16)
	go func() {
		defer close(out)
		for msg := range ps.Channel() {
			var event pubsub.Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Printf("drop malformed event on %s: %v", msg.Channel, err)
				continue
			}
			if !filter.Matches(event) {
				continue
			}
			select {
			case out <- event:
			default:
				// Slow subscriber: shed the oldest buffered event rather
				// than blocking every other session watcher.
				select {
				case <-out:
				default:
				}
				out <- event
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = ps.Close() })
	}
	return out, cancel, nil
}
