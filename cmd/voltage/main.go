package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/voltage/adapter/cli"
	"github.com/felixgeelhaar/voltage/adapter/cli/account"
	"github.com/felixgeelhaar/voltage/adapter/cli/billing"
	"github.com/felixgeelhaar/voltage/adapter/cli/sweep"
	"github.com/felixgeelhaar/voltage/internal/app"
	"github.com/felixgeelhaar/voltage/pkg/config"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

func main() {
	os.Exit(run())
}

func run() int {
	logger := observability.LoggerFromEnv()
	cli.SetLogger(logger)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		cancel()
	}()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		return 1
	}

	// Commands that need the ledger report ErrNoDatabase when this fails
	var cliApp *cli.App
	container, err := app.NewContainer(ctx, cfg, logger)
	if err != nil {
		if !cfg.IsDevelopment() {
			logger.Error("failed to initialize container", "error", err)
			return 1
		}
		logger.Warn("failed to initialize container, running in limited mode", "error", err)
	} else {
		defer container.Close()

		// Events written to the outbox are relayed by the worker.
		cliApp = cli.NewApp(container.BillingService)
		cliApp.SetHealth(container.Health)
		cliApp.SetWebhookSecret(cfg.GatewayAPISecret)
	}
	cli.SetApp(cliApp)

	cli.AddCommand(account.Cmd)
	cli.AddCommand(billing.Cmd)
	cli.AddCommand(sweep.Cmd)

	if err := cli.Execute(ctx); err != nil {
		return 1
	}
	return 0
}
