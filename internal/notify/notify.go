// Package notify publishes ledger lifecycle events to subscribers.
package notify

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	InvestmentRequested = "investment.requested"
	InvestmentConfirmed = "investment.confirmed"
	InvestmentFailed    = "investment.failed"
	InvestmentCompleted = "investment.completed"
	InvestmentDefaulted = "investment.defaulted"
	AssetTokenized      = "asset.tokenized"
	AssetUpdated        = "asset.updated"
	DistributionDone    = "distribution.completed"
	PayoutFlagged       = "distribution.payout_flagged"
)

// Event is the envelope published for every notification.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	Payload    any       `json:"payload"`
	OccurredAt time.Time `json:"occurredAt"`
}

// NewEvent wraps payload in an envelope with a fresh id.
func NewEvent(eventType string, payload any) Event {
	return Event{
		ID:         uuid.New(),
		Type:       eventType,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

// Notifier publishes events. Publishing is best effort; callers log errors
// and continue.
type Notifier interface {
	Publish(ctx context.Context, eventType string, payload any) error
	Close()
}

// Nop is a Notifier that drops everything.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }

func (Nop) Close() {}

// Recorder is a Notifier that keeps published events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Publish records the event.
func (r *Recorder) Publish(_ context.Context, eventType string, payload any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, NewEvent(eventType, payload))
	return nil
}

// Close is a no-op.
func (r *Recorder) Close() {}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in publish order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}
