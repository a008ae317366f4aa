// Package notify delivers billing events after a state change commits.
package notify

import (
	"context"
	"fmt"

	"github.com/felixgeelhaar/voltage/internal/billing/application"
	sharedDomain "github.com/felixgeelhaar/voltage/internal/shared/domain"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/outbox"
)

// OutboxNotifier stores events in the outbox table. The worker's outbox
// processor publishes them to the broker with retries.
type OutboxNotifier struct {
	repo outbox.Repository
}

// NewOutboxNotifier creates a notifier backed by an outbox repository.
func NewOutboxNotifier(repo outbox.Repository) *OutboxNotifier {
	return &OutboxNotifier{repo: repo}
}

func (n *OutboxNotifier) Notify(ctx context.Context, event sharedDomain.DomainEvent) error {
	msg, err := outbox.NewMessage(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.RoutingKey(), err)
	}
	if err := n.repo.Save(ctx, msg); err != nil {
		return fmt.Errorf("store %s in outbox: %w", event.RoutingKey(), err)
	}
	return nil
}

// PublisherNotifier publishes events straight to a broker. It is used by
// stores without an outbox table.
type PublisherNotifier struct {
	publisher eventbus.Publisher
}

// NewPublisherNotifier creates a notifier on publisher.
func NewPublisherNotifier(publisher eventbus.Publisher) *PublisherNotifier {
	return &PublisherNotifier{publisher: publisher}
}

func (n *PublisherNotifier) Notify(ctx context.Context, event sharedDomain.DomainEvent) error {
	payload, err := eventbus.EncodeEvent(event)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event.RoutingKey(), err)
	}
	return n.publisher.Publish(ctx, event.RoutingKey(), payload)
}

var (
	_ application.Notifier = (*OutboxNotifier)(nil)
	_ application.Notifier = (*PublisherNotifier)(nil)
)
