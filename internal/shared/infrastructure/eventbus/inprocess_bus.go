package eventbus

import (
	"context"
	"log/slog"
)

// InProcessBus dispatches published envelopes synchronously to local
// consumers. It replaces RabbitMQ when no broker URL is configured, so it
// never fails a publish: consumer errors are only logged.
type InProcessBus struct {
	registry *ConsumerRegistry
	logger   *slog.Logger
}

func NewInProcessBus(logger *slog.Logger) *InProcessBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &InProcessBus{registry: NewConsumerRegistry(logger), logger: logger}
}

func (b *InProcessBus) RegisterConsumer(consumer EventConsumer) {
	b.registry.Register(consumer)
}

func (b *InProcessBus) Publish(ctx context.Context, routingKey string, payload []byte) error {
	event, err := DecodeEnvelope(payload, routingKey)
	if err != nil {
		b.logger.ErrorContext(ctx, "dropping undecodable event", "routing_key", routingKey, "error", err)
		return nil
	}
	if err := b.registry.Dispatch(ctx, event); err != nil {
		b.logger.WarnContext(ctx, "event consumer failed",
			"routing_key", routingKey,
			"event_id", event.EventID,
			"error", err,
		)
	}
	return nil
}

func (b *InProcessBus) Close() error { return nil }
