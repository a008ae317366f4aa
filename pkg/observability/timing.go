package observability

import "time"

// Timer measures one operation and reports it as a timing metric.
type Timer struct {
	metric  string
	start   time.Time
	metrics Metrics
	tags    []Tag
}

// StartTimer starts timing against the named timing metric.
func StartTimer(metric string) *Timer {
	return &Timer{metric: metric, start: time.Now()}
}

// WithMetrics sets the collector the timer reports to.
func (t *Timer) WithMetrics(m Metrics) *Timer {
	t.metrics = m
	return t
}

// WithTags adds tags to every metric the timer emits.
func (t *Timer) WithTags(tags ...Tag) *Timer {
	t.tags = append(t.tags, tags...)
	return t
}

// Elapsed returns the time since the timer started.
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop records the elapsed time and returns it.
func (t *Timer) Stop() time.Duration {
	d := time.Since(t.start)
	if t.metrics != nil {
		t.metrics.Timing(t.metric, d, t.tags...)
	}
	return d
}

// StopWithError records the elapsed time and, when err is non-nil, bumps
// the metric's ".errors" counter.
func (t *Timer) StopWithError(err error) time.Duration {
	d := t.Stop()
	if err != nil && t.metrics != nil {
		t.metrics.Counter(t.metric+".errors", 1, t.tags...)
	}
	return d
}
