// Package application holds helpers shared by the services of every
// bounded context.
package application

import (
	"github.com/google/uuid"

	"github.com/felixgeelhaar/voltage/internal/shared/domain"
)

// StampEvents tags a batch of events raised by one command. They share the
// caller's correlation id, or a fresh one when the caller has none, and a
// causation id naming the command itself. Events that cannot carry
// metadata are left alone.
func StampEvents(correlationID string, events ...domain.DomainEvent) domain.EventMetadata {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	meta := domain.EventMetadata{CorrelationID: correlationID, CausationID: uuid.NewString()}
	for _, e := range events {
		if s, ok := e.(interface{ SetMetadata(domain.EventMetadata) }); ok {
			s.SetMetadata(meta)
		}
	}
	return meta
}
