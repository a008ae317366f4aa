package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/voltage/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	domain.BaseEvent
	Data string
}

func TestNewBaseEvent(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("MSK", 3*3600))

	event := domain.NewBaseEvent("42", "Account", "billing.test.created", at)

	assert.NotEqual(t, uuid.Nil, event.EventID())
	assert.Equal(t, "42", event.AggregateID())
	assert.Equal(t, "Account", event.AggregateType())
	assert.Equal(t, "billing.test.created", event.RoutingKey())
	assert.Equal(t, at.UTC(), event.OccurredAt())
	assert.Equal(t, time.UTC, event.OccurredAt().Location())
}

func TestNewBaseEvent_ZeroTimeUsesNow(t *testing.T) {
	before := time.Now().UTC()
	event := domain.NewBaseEvent("1", "Account", "billing.test.created", time.Time{})
	after := time.Now().UTC()

	assert.False(t, event.OccurredAt().Before(before))
	assert.False(t, event.OccurredAt().After(after))
}

func TestBaseEvent_WithMetadata(t *testing.T) {
	event := domain.NewBaseEvent("7", "Account", "billing.test.created", time.Now())
	event.SetMetadata(domain.EventMetadata{CorrelationID: "corr", CausationID: "cause"})

	assert.Equal(t, "corr", event.Metadata().CorrelationID)
	assert.Equal(t, "cause", event.Metadata().CausationID)
}

func TestEventRecorder(t *testing.T) {
	var rec domain.EventRecorder
	assert.Empty(t, rec.Events())

	first := testEvent{BaseEvent: domain.NewBaseEvent("1", "Account", "a", time.Now()), Data: "first"}
	second := testEvent{BaseEvent: domain.NewBaseEvent("1", "Account", "b", time.Now()), Data: "second"}
	rec.Record(first)
	rec.Record(second)

	events := rec.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "a", events[0].RoutingKey())
	assert.Equal(t, "b", events[1].RoutingKey())

	// Returned slice is a copy.
	events[0] = nil
	assert.NotNil(t, rec.Events()[0])

	rec.ClearEvents()
	assert.Empty(t, rec.Events())
}
