// Package outbox stores billing events in the same database transaction as
// the account change that raised them, then relays them to the broker.
package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/voltage/internal/shared/domain"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/eventbus"
)

// Message is one row of the outbox table.
type Message struct {
	ID            int64
	EventID       uuid.UUID
	AggregateType string
	AggregateID   string
	RoutingKey    string
	// Payload is the full broker envelope, ready to publish.
	Payload  json.RawMessage
	Metadata json.RawMessage

	CreatedAt   time.Time
	PublishedAt *time.Time
	NextRetryAt *time.Time
	RetryCount  int
	LastError   *string

	DeadLetteredAt   *time.Time
	DeadLetterReason *string
}

// NewMessage encodes event into an unsaved message.
func NewMessage(event domain.DomainEvent) (*Message, error) {
	payload, err := eventbus.EncodeEvent(event)
	if err != nil {
		return nil, err
	}
	metadata, err := json.Marshal(event.Metadata())
	if err != nil {
		return nil, err
	}
	return &Message{
		EventID:       event.EventID(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		RoutingKey:    event.RoutingKey(),
		Payload:       payload,
		Metadata:      metadata,
		CreatedAt:     event.OccurredAt(),
	}, nil
}

// Pending reports whether the relay still owes this message a publish.
func (m *Message) Pending() bool {
	return m.PublishedAt == nil && m.DeadLetteredAt == nil
}

// correlationID digs the correlation id out of the stored metadata for logs.
func (m *Message) correlationID() string {
	var meta domain.EventMetadata
	if len(m.Metadata) > 0 {
		_ = json.Unmarshal(m.Metadata, &meta)
	}
	return meta.CorrelationID
}
