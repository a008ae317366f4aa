package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

// ErrSweepInProgress is returned when another process holds the sweep lock.
var ErrSweepInProgress = errors.New("sweep already running")

const (
	SweepDailyGrant = "daily_grant"
	SweepRetry      = "retry"
	SweepExpiry     = "expiry"
)

// Sweeper runs the periodic batch jobs.
type Sweeper interface {
	RunDailyGrantSweep(ctx context.Context) (SweepResult, error)
	RunRetrySweep(ctx context.Context) (SweepResult, error)
	RunExpirySweep(ctx context.Context) (SweepResult, error)
}

var _ Sweeper = (*Service)(nil)

// SweepResult summarizes one sweep run.
type SweepResult struct {
	Name      string        `json:"name"`
	Total     int           `json:"total"`
	Processed int           `json:"processed"`
	Skipped   int           `json:"skipped"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration"`
}

type sweepStep struct {
	find  func(ctx context.Context) ([]domain.UserID, error)
	apply func(ctx context.Context, id domain.UserID) (itemOutcome, error)
}

// accountsWhere finds candidates with an indexed account query.
func (s *Service) accountsWhere(q domain.AccountQuery) func(ctx context.Context) ([]domain.UserID, error) {
	return func(ctx context.Context) ([]domain.UserID, error) {
		return s.accounts.Find(ctx, q)
	}
}

// RunDailyGrantSweep tops up free accounts with no energy left.
func (s *Service) RunDailyGrantSweep(ctx context.Context) (SweepResult, error) {
	free, zero := domain.PlanFree, int64(0)
	return s.runSweep(ctx, SweepDailyGrant, sweepStep{
		find:  s.accountsWhere(domain.AccountQuery{Plan: &free, Balance: &zero}),
		apply: func(ctx context.Context, id domain.UserID) (itemOutcome, error) {
			_, granted, err := s.GrantDailyFree(ctx, id)
			if err != nil || !granted {
				return itemSkipped, err
			}
			return itemProcessed, nil
		},
	})
}

// RunRetrySweep settles in-flight renewal charges, makes due retries and
// then resolves renewal payments that outlived the grace they were made in.
func (s *Service) RunRetrySweep(ctx context.Context) (SweepResult, error) {
	return s.runSweep(ctx, SweepRetry,
		sweepStep{
			find:  s.accountsWhere(domain.AccountQuery{Status: domain.StatusGrace}),
			apply: s.retryOne,
		},
		sweepStep{
			find:  s.usersWithStaleCharges,
			apply: s.settleStaleCharges,
		},
	)
}

// RunExpirySweep suspends subscriptions whose grace ended and expires those
// suspended for longer than the suspension period.
func (s *Service) RunExpirySweep(ctx context.Context) (SweepResult, error) {
	now := s.now()
	expireBy := now.Add(-domain.SuspensionPeriod)
	return s.runSweep(ctx, SweepExpiry,
		sweepStep{
			find:  s.accountsWhere(domain.AccountQuery{Status: domain.StatusGrace, GraceEndsBy: &now}),
			apply: s.transitionStep(func(a *domain.Account) error { return a.Suspend(s.now()) }),
		},
		sweepStep{
			find:  s.accountsWhere(domain.AccountQuery{Status: domain.StatusSuspended, GraceEndsBy: &expireBy}),
			apply: s.transitionStep(func(a *domain.Account) error { return a.Expire(s.now()) }),
		},
	)
}

// transitionStep applies a time-based transition. Candidates that are no
// longer eligible when the transaction runs are skipped.
func (s *Service) transitionStep(fn domain.MutateFunc) func(ctx context.Context, id domain.UserID) (itemOutcome, error) {
	return func(ctx context.Context, id domain.UserID) (itemOutcome, error) {
		acct, err := s.accounts.Transact(ctx, id, fn)
		switch {
		case errors.Is(err, domain.ErrTransitionNotDue),
			errors.Is(err, domain.ErrChargeInFlight),
			errors.Is(err, domain.ErrInvalidTransition),
			errors.Is(err, domain.ErrNoActiveSubscription):
			return itemSkipped, nil
		case err != nil:
			return itemSkipped, err
		}
		s.logger.InfoContext(ctx, "subscription transitioned", "user_id", id, "status", acct.SubscriptionStatus())
		s.publishAccount(ctx, acct)
		return itemProcessed, nil
	}
}

func (s *Service) runSweep(ctx context.Context, name string, steps ...sweepStep) (SweepResult, error) {
	result := SweepResult{Name: name}
	logger := observability.LogOperation(s.logger, "sweep."+name)

	if s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx, "voltage:sweep:"+name, s.lockTTL)
		if err != nil {
			return result, fmt.Errorf("acquire %s sweep lock: %w", name, err)
		}
		if !acquired {
			logger.InfoContext(ctx, "sweep skipped, lock held elsewhere")
			return result, ErrSweepInProgress
		}
		defer func() {
			if err := release(context.WithoutCancel(ctx)); err != nil {
				logger.WarnContext(ctx, "failed to release sweep lock", "error", err)
			}
		}()
	}

	timer := observability.StartTimer(observability.MetricSweepDuration).WithMetrics(s.metrics).WithTags(observability.T("sweep", name))
	var processed, skipped, failed atomic.Int64

	for _, step := range steps {
		ids, err := step.find(ctx)
		if err != nil {
			result.Duration = timer.StopWithError(err)
			return result, fmt.Errorf("find %s sweep candidates: %w", name, err)
		}
		result.Total += len(ids)

		var g errgroup.Group
		g.SetLimit(s.concurrency)
		for _, id := range ids {
			g.Go(func() error {
				if ctx.Err() != nil {
					skipped.Add(1)
					return nil
				}
				outcome, err := step.apply(ctx, id)
				switch {
				case err != nil:
					failed.Add(1)
					logger.ErrorContext(ctx, "sweep item failed", "user_id", id, "error", err)
				case outcome == itemProcessed:
					processed.Add(1)
				default:
					skipped.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	result.Processed = int(processed.Load())
	result.Skipped = int(skipped.Load())
	result.Errors = int(failed.Load())
	result.Duration = timer.Stop()

	tag := observability.T("sweep", name)
	s.metrics.Counter(observability.MetricSweepProcessed, int64(result.Processed), tag)
	s.metrics.Counter(observability.MetricSweepSkipped, int64(result.Skipped), tag)
	s.metrics.Counter(observability.MetricSweepErrors, int64(result.Errors), tag)

	logger.InfoContext(ctx, "sweep completed",
		"total", result.Total,
		"processed", result.Processed,
		"skipped", result.Skipped,
		"errors", result.Errors,
		"duration_ms", result.Duration.Milliseconds(),
	)
	return result, ctx.Err()
}
