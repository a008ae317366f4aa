package outbox

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/eventbus"
)

// ProcessorConfig tunes the relay loop.
type ProcessorConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// MaxRetries counts publish attempts; the last failed one dead-letters.
	MaxRetries       int
	RetryBackoffBase time.Duration
	RetryBackoffMax  time.Duration

	// Retention is how long published rows are kept. Zero keeps them forever.
	Retention       time.Duration
	CleanupInterval time.Duration
}

func DefaultProcessorConfig() ProcessorConfig {
	return ProcessorConfig{
		PollInterval:     time.Second,
		BatchSize:        100,
		MaxRetries:       5,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
		Retention:        7 * 24 * time.Hour,
		CleanupInterval:  time.Hour,
	}
}

// Stats is a point-in-time view of the relay for health endpoints.
type Stats struct {
	IsRunning       bool
	PublishedCount  uint64
	FailedCount     uint64
	DeadCount       uint64
	LagSeconds      float64
	LastError       string
	LastErrorAt     *time.Time
	LastProcessedAt *time.Time
	OldestMessageAt *time.Time
}

// Processor relays pending outbox rows to a broker. Delivery is at least
// once: a crash between publish and MarkPublished republishes the row, and
// consumers dedupe on the envelope's event id.
type Processor struct {
	repo      Repository
	publisher eventbus.Publisher
	config    ProcessorConfig
	logger    *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}

	published, failed, dead atomic.Uint64

	statsMu sync.Mutex
	stats   Stats
}

func NewProcessor(repo Repository, publisher eventbus.Publisher, config ProcessorConfig, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultProcessorConfig().PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultProcessorConfig().BatchSize
	}
	return &Processor{repo: repo, publisher: publisher, config: config, logger: logger}
}

// Start launches the relay loop. Calling Start on a running processor is
// a no-op.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	ctx, p.cancel = context.WithCancel(ctx)
	p.stopped = make(chan struct{})
	go p.loop(ctx, p.stopped)
	return nil
}

// Stop cancels the loop and waits for the in-flight batch to finish.
func (p *Processor) Stop() {
	p.mu.Lock()
	cancel, stopped := p.cancel, p.stopped
	p.cancel = nil
	p.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
	p.logger.Info("outbox processor stopped")
}

func (p *Processor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cancel != nil
}

func (p *Processor) loop(ctx context.Context, stopped chan struct{}) {
	defer close(stopped)

	poll := time.NewTicker(p.config.PollInterval)
	defer poll.Stop()

	var cleanup <-chan time.Time
	if p.config.Retention > 0 && p.config.CleanupInterval > 0 {
		t := time.NewTicker(p.config.CleanupInterval)
		defer t.Stop()
		cleanup = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-poll.C:
			if err := p.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox batch failed", "error", err)
			}
		case <-cleanup:
			if _, err := p.Cleanup(ctx); err != nil && ctx.Err() == nil {
				p.logger.Error("outbox cleanup failed", "error", err)
			}
		}
	}
}

// ProcessOnce relays one batch. Publish failures are recorded on the rows
// and never returned; only a failed read is an error.
func (p *Processor) ProcessOnce(ctx context.Context) error {
	batch, err := p.repo.GetUnpublished(ctx, p.config.BatchSize)
	if err != nil {
		p.setLastError(err)
		return err
	}
	p.observeBatch(batch)

	for _, msg := range batch {
		if err := p.publisher.Publish(ctx, msg.RoutingKey, msg.Payload); err != nil {
			p.handleFailure(ctx, msg, err)
			continue
		}
		if err := p.repo.MarkPublished(ctx, msg.ID); err != nil {
			p.logger.Error("outbox row published but not marked",
				"id", msg.ID,
				"event_id", msg.EventID,
				"error", err,
			)
			continue
		}
		p.published.Add(1)
	}
	return nil
}

func (p *Processor) handleFailure(ctx context.Context, msg *Message, err error) {
	p.setLastError(err)
	attempt := msg.RetryCount + 1
	logger := p.logger.With(
		"id", msg.ID,
		"routing_key", msg.RoutingKey,
		"event_id", msg.EventID,
		"correlation_id", msg.correlationID(),
		"attempt", attempt,
	)

	if p.config.MaxRetries <= 0 || attempt >= p.config.MaxRetries {
		p.dead.Add(1)
		logger.Error("outbox message dead-lettered", "error", err)
		if markErr := p.repo.MarkDead(ctx, msg.ID, err.Error()); markErr != nil {
			logger.Error("failed to dead-letter outbox message", "error", markErr)
		}
		return
	}

	p.failed.Add(1)
	next := time.Now().Add(p.retryDelay(attempt))
	logger.Warn("outbox publish failed", "next_retry_at", next, "error", err)
	if markErr := p.repo.MarkFailed(ctx, msg.ID, err.Error(), next); markErr != nil {
		logger.Error("failed to record outbox failure", "error", markErr)
	}
}

// retryDelay returns the wait before attempt+1: base, 2*base, 4*base...
// capped at RetryBackoffMax.
func (p *Processor) retryDelay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.config.RetryBackoffBase
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxInterval = p.config.RetryBackoffMax
	if b.MaxInterval <= 0 {
		b.MaxInterval = time.Minute
	}
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.Reset()

	d := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}

// Cleanup deletes published rows past the retention window.
func (p *Processor) Cleanup(ctx context.Context) (int64, error) {
	if p.config.Retention <= 0 {
		return 0, nil
	}
	n, err := p.repo.DeleteOld(ctx, p.config.Retention)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		p.logger.Info("outbox cleanup", "deleted", n)
	}
	return n, nil
}

func (p *Processor) GetStats() Stats {
	p.statsMu.Lock()
	s := p.stats
	p.statsMu.Unlock()

	s.IsRunning = p.IsRunning()
	s.PublishedCount = p.published.Load()
	s.FailedCount = p.failed.Load()
	s.DeadCount = p.dead.Load()
	return s
}

func (p *Processor) setLastError(err error) {
	now := time.Now()
	p.statsMu.Lock()
	p.stats.LastError = err.Error()
	p.stats.LastErrorAt = &now
	p.statsMu.Unlock()
}

func (p *Processor) observeBatch(batch []*Message) {
	now := time.Now()
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	p.stats.LastProcessedAt = &now
	p.stats.OldestMessageAt = nil
	p.stats.LagSeconds = 0
	for _, msg := range batch {
		if p.stats.OldestMessageAt == nil || msg.CreatedAt.Before(*p.stats.OldestMessageAt) {
			created := msg.CreatedAt
			p.stats.OldestMessageAt = &created
		}
	}
	if p.stats.OldestMessageAt != nil {
		p.stats.LagSeconds = now.Sub(*p.stats.OldestMessageAt).Seconds()
	}
}
