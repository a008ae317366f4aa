package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

// Publisher delivers an encoded envelope under a routing key.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, payload []byte) error
	Close() error
}

// EventConsumer reacts to billing events, e.g. by messaging the user.
type EventConsumer interface {
	// EventTypes lists the routing keys handled, e.g.
	// "billing.subscription.grace".
	EventTypes() []string
	Handle(ctx context.Context, event *Envelope) error
}

// ConsumerRegistry routes envelopes to consumers by routing key.
type ConsumerRegistry struct {
	mu        sync.RWMutex
	consumers map[string][]EventConsumer
	logger    *slog.Logger
}

func NewConsumerRegistry(logger *slog.Logger) *ConsumerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConsumerRegistry{
		consumers: make(map[string][]EventConsumer),
		logger:    logger,
	}
}

// Register subscribes consumer to each of its event types.
func (r *ConsumerRegistry) Register(consumer EventConsumer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range consumer.EventTypes() {
		r.consumers[key] = append(r.consumers[key], consumer)
	}
}

// Consumers returns the consumers of one routing key.
func (r *ConsumerRegistry) Consumers(routingKey string) []EventConsumer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.consumers[routingKey])
}

// RoutingKeys returns every key with at least one consumer, sorted.
func (r *ConsumerRegistry) RoutingKeys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.consumers))
	for k := range r.consumers {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Dispatch hands event to every consumer of its routing key. All consumers
// run even when one fails; the failures are joined.
func (r *ConsumerRegistry) Dispatch(ctx context.Context, event *Envelope) error {
	consumers := r.Consumers(event.RoutingKey)
	if len(consumers) == 0 {
		r.logger.DebugContext(ctx, "no consumer for event", "routing_key", event.RoutingKey)
		return nil
	}

	var errs []error
	for _, c := range consumers {
		if err := c.Handle(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", c, err))
		}
	}
	return errors.Join(errs...)
}
