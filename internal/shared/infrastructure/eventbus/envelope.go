package eventbus

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/felixgeelhaar/voltage/internal/shared/domain"
)

// Envelope is the JSON body carried by the broker for every domain event.
type Envelope struct {
	EventID       uuid.UUID            `json:"event_id"`
	AggregateType string               `json:"aggregate_type"`
	AggregateID   string               `json:"aggregate_id"`
	RoutingKey    string               `json:"routing_key"`
	OccurredAt    time.Time            `json:"occurred_at"`
	Metadata      domain.EventMetadata `json:"metadata"`
	Data          json.RawMessage      `json:"data"`
}

// EncodeEvent wraps a domain event in an Envelope. The event's exported
// fields become the data section.
func EncodeEvent(event domain.DomainEvent) ([]byte, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{
		EventID:       event.EventID(),
		AggregateType: event.AggregateType(),
		AggregateID:   event.AggregateID(),
		RoutingKey:    event.RoutingKey(),
		OccurredAt:    event.OccurredAt(),
		Metadata:      event.Metadata(),
		Data:          data,
	})
}

// DecodeEnvelope parses a published payload. routingKey fills in a missing
// routing key from the transport.
func DecodeEnvelope(payload []byte, routingKey string) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, err
	}
	if env.RoutingKey == "" {
		env.RoutingKey = routingKey
	}
	return &env, nil
}
