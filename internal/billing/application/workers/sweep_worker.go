// Package workers runs the billing sweeps on timers.
package workers

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/voltage/internal/billing/application"
)

const (
	DefaultDailyGrantInterval = 24 * time.Hour
	DefaultRetryInterval      = 30 * time.Minute
	DefaultExpiryInterval     = time.Hour
)

// SweepWorkerConfig sets how often each sweep runs. A non-positive interval
// disables that sweep.
type SweepWorkerConfig struct {
	DailyGrantInterval time.Duration
	RetryInterval      time.Duration
	ExpiryInterval     time.Duration
	// RunOnStart runs every enabled sweep once before the first tick.
	RunOnStart bool
}

// DefaultSweepWorkerConfig returns the default configuration.
func DefaultSweepWorkerConfig() SweepWorkerConfig {
	return SweepWorkerConfig{
		DailyGrantInterval: DefaultDailyGrantInterval,
		RetryInterval:      DefaultRetryInterval,
		ExpiryInterval:     DefaultExpiryInterval,
		RunOnStart:         true,
	}
}

type sweepJob struct {
	name     string
	interval time.Duration
	run      func(context.Context) (application.SweepResult, error)
}

// SweepWorker drives the daily grant, retry and expiry sweeps.
type SweepWorker struct {
	jobs    []sweepJob
	config  SweepWorkerConfig
	logger  *slog.Logger
	running atomic.Bool
	runs    atomic.Int64
}

// NewSweepWorker creates a worker for sweeper.
func NewSweepWorker(sweeper application.Sweeper, config SweepWorkerConfig, logger *slog.Logger) *SweepWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &SweepWorker{
		jobs: []sweepJob{
			{name: application.SweepDailyGrant, interval: config.DailyGrantInterval, run: sweeper.RunDailyGrantSweep},
			{name: application.SweepRetry, interval: config.RetryInterval, run: sweeper.RunRetrySweep},
			{name: application.SweepExpiry, interval: config.ExpiryInterval, run: sweeper.RunExpirySweep},
		},
		config: config,
		logger: logger,
	}
}

// Run blocks until ctx is cancelled.
func (w *SweepWorker) Run(ctx context.Context) error {
	w.running.Store(true)
	defer w.running.Store(false)

	g, gctx := errgroup.WithContext(ctx)
	for _, job := range w.jobs {
		if job.interval <= 0 {
			w.logger.Info("sweep disabled", "sweep", job.name)
			continue
		}
		g.Go(func() error {
			w.loop(gctx, job)
			return nil
		})
	}
	w.logger.Info("sweep worker started",
		"daily_grant_interval", w.config.DailyGrantInterval,
		"retry_interval", w.config.RetryInterval,
		"expiry_interval", w.config.ExpiryInterval,
	)
	_ = g.Wait()
	w.logger.Info("sweep worker stopped")
	return ctx.Err()
}

func (w *SweepWorker) loop(ctx context.Context, job sweepJob) {
	if w.config.RunOnStart {
		w.runOnce(ctx, job)
	}

	ticker := time.NewTicker(job.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runOnce(ctx, job)
		}
	}
}

func (w *SweepWorker) runOnce(ctx context.Context, job sweepJob) {
	w.runs.Add(1)
	_, err := job.run(ctx)
	switch {
	case err == nil, errors.Is(err, context.Canceled):
	case errors.Is(err, application.ErrSweepInProgress):
		w.logger.Debug("sweep held by another worker", "sweep", job.name)
	default:
		w.logger.Error("sweep failed", "sweep", job.name, "error", err)
	}
}

// IsRunning returns true while Run is active.
func (w *SweepWorker) IsRunning() bool {
	return w.running.Load()
}

// Runs returns how many sweep runs were started.
func (w *SweepWorker) Runs() int64 {
	return w.runs.Load()
}
