package application

import (
	"context"
	"time"

	sharedDomain "github.com/felixgeelhaar/voltage/internal/shared/domain"
)

// Notifier delivers domain events to users and downstream systems. It is
// called after the state change has been committed; errors are logged only.
type Notifier interface {
	Notify(ctx context.Context, event sharedDomain.DomainEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event sharedDomain.DomainEvent) error

func (f NotifierFunc) Notify(ctx context.Context, event sharedDomain.DomainEvent) error {
	return f(ctx, event)
}

// NoopNotifier drops every event.
type NoopNotifier struct{}

func (NoopNotifier) Notify(context.Context, sharedDomain.DomainEvent) error { return nil }

// Locker serializes sweeps across worker processes.
type Locker interface {
	// TryLock acquires key for ttl. acquired is false when another holder owns it.
	TryLock(ctx context.Context, key string, ttl time.Duration) (release func(context.Context) error, acquired bool, err error)
}

// Clock returns the current time.
type Clock func() time.Time
