package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/shared/domain"
)

type recordingConsumer struct {
	types []string
	err   error

	mu     sync.Mutex
	events []*Envelope
}

func (c *recordingConsumer) EventTypes() []string { return c.types }

func (c *recordingConsumer) Handle(ctx context.Context, event *Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

type graceEvent struct {
	domain.BaseEvent
	Plan string `json:"plan"`
}

func TestInProcessBus_DispatchesByRoutingKey(t *testing.T) {
	bus := NewInProcessBus(nil)
	grace := &recordingConsumer{types: []string{"billing.subscription.grace"}}
	other := &recordingConsumer{types: []string{"billing.subscription.expired"}}
	bus.RegisterConsumer(grace)
	bus.RegisterConsumer(other)

	event := &graceEvent{
		BaseEvent: domain.NewBaseEvent("42", "Account", "billing.subscription.grace", time.Now()),
		Plan:      "pro",
	}
	payload, err := EncodeEvent(event)
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), event.RoutingKey(), payload))

	require.Len(t, grace.events, 1)
	assert.Equal(t, "42", grace.events[0].AggregateID)
	assert.Equal(t, event.EventID(), grace.events[0].EventID)
	assert.JSONEq(t, `{"plan":"pro"}`, string(grace.events[0].Data))
	assert.Empty(t, other.events)
}

func TestInProcessBus_SwallowsConsumerAndDecodeErrors(t *testing.T) {
	bus := NewInProcessBus(nil)
	failing := &recordingConsumer{types: []string{"billing.subscription.grace"}, err: errors.New("telegram down")}
	healthy := &recordingConsumer{types: []string{"billing.subscription.grace"}}
	bus.RegisterConsumer(failing)
	bus.RegisterConsumer(healthy)

	payload, err := EncodeEvent(&graceEvent{BaseEvent: domain.NewBaseEvent("1", "Account", "billing.subscription.grace", time.Now())})
	require.NoError(t, err)

	assert.NoError(t, bus.Publish(context.Background(), "billing.subscription.grace", payload))
	assert.Len(t, healthy.events, 1)

	assert.NoError(t, bus.Publish(context.Background(), "billing.subscription.grace", []byte("not json")))
	assert.Len(t, healthy.events, 1)
}

func TestConsumerRegistry_Dispatch(t *testing.T) {
	registry := NewConsumerRegistry(nil)
	boom := errors.New("boom")
	registry.Register(&recordingConsumer{types: []string{"a", "b"}, err: boom})
	registry.Register(&recordingConsumer{types: []string{"a"}})

	assert.Equal(t, []string{"a", "b"}, registry.RoutingKeys())
	assert.Len(t, registry.Consumers("a"), 2)

	err := registry.Dispatch(context.Background(), &Envelope{RoutingKey: "a"})
	assert.ErrorIs(t, err, boom)

	assert.NoError(t, registry.Dispatch(context.Background(), &Envelope{RoutingKey: "unknown"}))
}

func TestDecodeEnvelope_FillsRoutingKey(t *testing.T) {
	env, err := DecodeEnvelope([]byte(`{"aggregate_id":"7","data":{}}`), "billing.energy.insufficient")
	require.NoError(t, err)
	assert.Equal(t, "billing.energy.insufficient", env.RoutingKey)
	assert.Equal(t, "7", env.AggregateID)
}
