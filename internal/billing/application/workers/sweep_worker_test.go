package workers

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/voltage/internal/billing/application"
)

type countingSweeper struct {
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func newCountingSweeper() *countingSweeper {
	return &countingSweeper{calls: make(map[string]int)}
}

func (s *countingSweeper) record(name string) (application.SweepResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name]++
	return application.SweepResult{Name: name}, s.err
}

func (s *countingSweeper) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *countingSweeper) RunDailyGrantSweep(context.Context) (application.SweepResult, error) {
	return s.record(application.SweepDailyGrant)
}

func (s *countingSweeper) RunRetrySweep(context.Context) (application.SweepResult, error) {
	return s.record(application.SweepRetry)
}

func (s *countingSweeper) RunExpirySweep(context.Context) (application.SweepResult, error) {
	return s.record(application.SweepExpiry)
}

func TestSweepWorker_RunsOnTicks(t *testing.T) {
	sweeper := newCountingSweeper()
	w := NewSweepWorker(sweeper, SweepWorkerConfig{
		DailyGrantInterval: time.Hour,
		RetryInterval:      10 * time.Millisecond,
		ExpiryInterval:     0,
		RunOnStart:         true,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return sweeper.count(application.SweepRetry) >= 3 }, time.Second, 5*time.Millisecond)
	assert.True(t, w.IsRunning())

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.False(t, w.IsRunning())

	assert.Equal(t, 1, sweeper.count(application.SweepDailyGrant), "only the start run before the first hourly tick")
	assert.Zero(t, sweeper.count(application.SweepExpiry), "disabled sweep never runs")
}

func TestSweepWorker_KeepsRunningAfterErrors(t *testing.T) {
	sweeper := newCountingSweeper()
	sweeper.err = errors.New("database unavailable")
	w := NewSweepWorker(sweeper, SweepWorkerConfig{RetryInterval: 5 * time.Millisecond}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()

	require.Eventually(t, func() bool { return sweeper.count(application.SweepRetry) >= 2 }, time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, w.Runs(), int64(2))
}

func TestDefaultSweepWorkerConfig(t *testing.T) {
	cfg := DefaultSweepWorkerConfig()
	assert.Equal(t, 24*time.Hour, cfg.DailyGrantInterval)
	assert.Equal(t, 30*time.Minute, cfg.RetryInterval)
	assert.Equal(t, time.Hour, cfg.ExpiryInterval)
	assert.True(t, cfg.RunOnStart)
}
