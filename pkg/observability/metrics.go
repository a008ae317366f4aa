package observability

import (
	"strings"
	"sync"
	"time"
)

// Metrics records counters and timings. Production wiring can back it
// with any exporter; the engine only needs these two shapes.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Timing(name string, d time.Duration, tags ...Tag)
}

// Tag labels a metric.
type Tag struct {
	Key   string
	Value string
}

// T is shorthand for Tag{key, value}.
func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)        {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// InMemoryMetrics keeps metrics in maps keyed by name and tags, in tag order.
type InMemoryMetrics struct {
	mu       sync.RWMutex
	counters map[string]int64
	timings  map[string][]time.Duration
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters: make(map[string]int64),
		timings:  make(map[string][]time.Duration),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	m.counters[metricKey(name, tags)] += value
	m.mu.Unlock()
}

func (m *InMemoryMetrics) Timing(name string, d time.Duration, tags ...Tag) {
	m.mu.Lock()
	key := metricKey(name, tags)
	m.timings[key] = append(m.timings[key], d)
	m.mu.Unlock()
}

// GetCounter returns the counter total for name and tags.
func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, tags)]
}

// GetTimings returns a copy of the recorded durations.
func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]time.Duration(nil), m.timings[metricKey(name, tags)]...)
}

// Snapshot returns every counter, for health and stats endpoints.
func (m *InMemoryMetrics) Snapshot() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		out[k] = v
	}
	return out
}

func metricKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	var b strings.Builder
	b.WriteString(name)
	for _, t := range tags {
		b.WriteByte(':')
		b.WriteString(t.Key)
		b.WriteByte('=')
		b.WriteString(t.Value)
	}
	return b.String()
}

const (
	// Ledger
	MetricEnergyCredited = "voltage.energy.credited"
	MetricEnergyDebited  = "voltage.energy.debited"
	MetricDebitsRejected = "voltage.energy.debits_rejected"
	MetricDailyGrants    = "voltage.energy.daily_grants"

	MetricSubscriptionTransitions = "voltage.subscription.transitions"

	// Gateway
	MetricChargesAttempted = "voltage.gateway.charges"
	MetricChargesDeclined  = "voltage.gateway.declined"
	MetricChargesUnknown   = "voltage.gateway.unknown"

	// Sweeps
	MetricSweepProcessed = "voltage.sweep.processed"
	MetricSweepSkipped   = "voltage.sweep.skipped"
	MetricSweepErrors    = "voltage.sweep.errors"
	MetricSweepDuration  = "voltage.sweep.duration"

	// Events
	MetricEventsPublished = "voltage.events.published"
	MetricEventsConsumed  = "voltage.events.consumed"
)
