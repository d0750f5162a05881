// Package pubsub defines the change propagation contract the live session
// engine publishes through. Delivery is at-least-once: subscribers must treat
// events as idempotent re-render triggers and re-fetch full state after a gap.
package pubsub

import (
	"context"
	"encoding/json"
	"time"
)

// Kind classifies what part of a session changed.
type Kind string

const (
	// KindSession signals a lifecycle or question-index change on the session.
	KindSession Kind = "session"
	// KindRoster signals a participant joining or leaving.
	KindRoster Kind = "roster"
	// KindAnswer signals a recorded answer submission.
	KindAnswer Kind = "answer"
)

// Event is one change notification for a session. Payload carries a JSON
// snapshot of the changed entity so subscribers can render without a read,
// though they may not rely on having seen every intermediate event.
type Event struct {
	Kind      Kind            `json:"kind"`
	SessionID string          `json:"sessionId"`
	At        time.Time       `json:"at"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Filter selects the events a subscriber wants. A zero Kinds slice means all
// kinds for the session.
type Filter struct {
	SessionID string
	Kinds     []Kind
}

// Matches reports whether the event passes the filter.
func (f Filter) Matches(e Event) bool {
	if f.SessionID != "" && f.SessionID != e.SessionID {
		return false
	}
	if len(f.Kinds) == 0 {
		return true
	}
	for _, k := range f.Kinds {
		if k == e.Kind {
			return true
		}
	}
	return false
}

// Publisher fans session change events out to subscribers. The returned
// cancel func must be called to release the subscription.
type Publisher interface {
	Publish(ctx context.Context, event Event) error
	Subscribe(ctx context.Context, filter Filter) (<-chan Event, func(), error)
}

// NewEvent builds an event with the payload marshalled to JSON. A payload
// that fails to marshal is dropped rather than blocking the write path.
func NewEvent(kind Kind, sessionID string, payload any) Event {
	e := Event{Kind: kind, SessionID: sessionID, At: time.Now()}
	if payload != nil {
		if data, err := json.Marshal(payload); err == nil {
			e.Payload = data
		}
	}
	return e
}
