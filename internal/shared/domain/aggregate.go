package domain

// EventRecorder collects the domain events raised while an aggregate is mutated.
// Embed it in aggregates that publish events after they are persisted.
type EventRecorder struct {
	events []DomainEvent
}

// Record appends an event.
func (r *EventRecorder) Record(event DomainEvent) {
	r.events = append(r.events, event)
}

// Events returns the recorded events in the order they were raised.
func (r *EventRecorder) Events() []DomainEvent {
	out := make([]DomainEvent, len(r.events))
	copy(out, r.events)
	return out
}

// ClearEvents drops all recorded events.
func (r *EventRecorder) ClearEvents() {
	r.events = nil
}
