package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/voltage/internal/app"
	"github.com/felixgeelhaar/voltage/internal/billing/application/workers"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/voltage/pkg/config"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

func main() {
	logger := observability.LoggerFromEnv()
	logger.Info("starting voltage worker")

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize container", "error", err)
		os.Exit(1)
	}
	defer container.Close()

	sweeper := workers.NewSweepWorker(container.BillingService, workers.SweepWorkerConfig{
		DailyGrantInterval: cfg.DailyGrantInterval,
		RetryInterval:      cfg.RetrySweepInterval,
		ExpiryInterval:     cfg.ExpirySweepInterval,
		RunOnStart:         true,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return ignoreCanceled(sweeper.Run(gctx))
	})

	if container.OutboxProcessor != nil {
		if err := container.OutboxProcessor.Start(gctx); err != nil {
			logger.Error("failed to start outbox processor", "error", err)
			os.Exit(1)
		}
		logger.Info("outbox processor started",
			"poll_interval", cfg.OutboxPollInterval,
			"batch_size", cfg.OutboxBatchSize,
			"max_retries", cfg.OutboxMaxRetries,
		)
		go logOutboxStats(gctx, container, cfg.OutboxStatsInterval, logger)
	}

	if cfg.RabbitMQURL != "" {
		registry := eventbus.NewConsumerRegistry(logger)
		registry.Register(container.Messenger)
		consumer, err := eventbus.NewRabbitMQConsumer(eventbus.RabbitMQConsumerConfig{
			URL:       cfg.RabbitMQURL,
			QueueName: eventbus.DefaultConsumerQueueName,
			Exchange:  eventbus.ExchangeName,
			Logger:    logger,
		}, registry)
		if err != nil {
			logger.Error("failed to create event consumer", "error", err)
			os.Exit(1)
		}
		defer func() { _ = consumer.Close() }()
		g.Go(func() error {
			return ignoreCanceled(consumer.Start(gctx))
		})
	}

	if cfg.WorkerHealthAddr != "" {
		startHealthServer(gctx, cfg.WorkerHealthAddr, container, sweeper, logger)
	}

	if err := g.Wait(); err != nil {
		logger.Error("worker stopped with error", "error", err)
		container.Close()
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func logOutboxStats(ctx context.Context, c *app.Container, interval time.Duration, logger *slog.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := c.OutboxProcessor.GetStats()
			logger.Info("outbox stats",
				"running", stats.IsRunning,
				"published", stats.PublishedCount,
				"failed", stats.FailedCount,
				"dead", stats.DeadCount,
				"lag_seconds", stats.LagSeconds,
				"last_error", stats.LastError,
			)
		}
	}
}

func startHealthServer(ctx context.Context, addr string, c *app.Container, sweeper *workers.SweepWorker, logger *slog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"status":         "ok",
			"sweeps_running": sweeper.IsRunning(),
			"sweep_runs":     sweeper.Runs(),
			"gateway":        c.Breaker.State(),
			"metrics":        c.Metrics.Snapshot(),
		}
		if c.OutboxProcessor != nil {
			stats := c.OutboxProcessor.GetStats()
			response["outbox"] = map[string]any{
				"running":   stats.IsRunning,
				"published": stats.PublishedCount,
				"failed":    stats.FailedCount,
				"dead":      stats.DeadCount,
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response)
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		checkCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		health := c.Health.GetOverallHealth(checkCtx)
		w.Header().Set("Content-Type", "application/json")
		if health.Status == observability.HealthStatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(health)
	})

	healthSrv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("health server starting", "addr", addr)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthSrv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("health server shutdown error", "error", err)
		}
	}()
}
