package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	billingApp "github.com/felixgeelhaar/voltage/internal/billing/application"
	"github.com/felixgeelhaar/voltage/internal/billing/application/subscribers"
	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/internal/billing/infrastructure/gateway"
	"github.com/felixgeelhaar/voltage/internal/billing/infrastructure/lock"
	"github.com/felixgeelhaar/voltage/internal/billing/infrastructure/notify"
	sharedCrypto "github.com/felixgeelhaar/voltage/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/voltage/pkg/config"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *observability.InMemoryMetrics

	// Storage
	Stores *Stores

	// Redis
	RedisClient *redis.Client

	// Events. EventPublisher is the broker when RABBITMQ_URL is set and the
	// in-process bus otherwise.
	EventPublisher eventbus.Publisher
	EventBus       *eventbus.InProcessBus
	Messenger      *subscribers.UserMessenger

	// Outbox Processor, nil unless a broker and a SQL store are configured.
	OutboxProcessor *outbox.Processor

	// Gateway
	Gateway domain.Gateway
	Breaker *gateway.BreakerGateway

	Locker         billingApp.Locker
	BillingService *billingApp.Service

	Health *observability.HealthRegistry
}

// NewContainer creates and wires all dependencies.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	sealer, err := newSealer(cfg)
	if err != nil {
		return nil, err
	}

	stores, err := NewRepositoryFactory(cfg, sealer, logger).Open(ctx)
	if err != nil {
		return nil, err
	}
	c.Stores = stores
	c.Health.Register("database", observability.DatabaseHealthChecker(stores.Ping))
	logger.Info("storage ready", "driver", stores.Driver)

	// Connect to Redis (optional in development)
	if cfg.RedisURL != "" {
		if err := c.connectRedis(ctx); err != nil {
			c.Close()
			return nil, err
		}
	}
	if c.RedisClient != nil {
		c.Locker = lock.NewRedisLocker(c.RedisClient)
	} else {
		c.Locker = lock.NewMemoryLocker()
	}

	c.Messenger = subscribers.NewUserMessenger(subscribers.LogSender{Logger: logger}, logger, c.Metrics)
	notifier, err := c.wireEvents()
	if err != nil {
		c.Close()
		return nil, err
	}

	c.Gateway = c.newGateway()

	c.BillingService = billingApp.NewService(billingApp.Deps{
		Accounts:       stores.Accounts,
		Payments:       stores.Payments,
		Gateway:        c.Gateway,
		Notifier:       notifier,
		Locker:         c.Locker,
		Logger:         logger,
		Metrics:        c.Metrics,
		Concurrency:    cfg.SweepConcurrency,
		InitialBalance: cfg.StarterBalance,
		ChargeTimeout:  cfg.GatewayTimeout,
		LockTTL:        cfg.SweepLockTTL,
	})

	return c, nil
}

func newSealer(cfg *config.Config) (sharedCrypto.Sealer, error) {
	if cfg.EncryptionKey == "" {
		return sharedCrypto.PlainSealer{}, nil
	}
	sealer, err := sharedCrypto.NewAESSealerFromBase64Key(cfg.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("invalid VOLTAGE_ENCRYPTION_KEY: %w", err)
	}
	return sealer, nil
}

func (c *Container) connectRedis(ctx context.Context) error {
	opt, err := redis.ParseURL(c.Config.RedisURL)
	if err != nil {
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		c.Logger.Warn("invalid Redis URL, sweeps will use a process-local lock", "error", err)
		return nil
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, sweeps will use a process-local lock", "error", err)
		return nil
	}
	c.RedisClient = client
	c.Health.Register("redis", observability.RedisHealthChecker(func(ctx context.Context) error {
		return client.Ping(ctx).Err()
	}))
	c.Logger.Info("connected to Redis")
	return nil
}

// wireEvents picks how committed billing events leave the service. With a
// broker and a SQL store events go through the outbox. Without a broker
// they are delivered to the messenger in process.
func (c *Container) wireEvents() (billingApp.Notifier, error) {
	c.EventBus = eventbus.NewInProcessBus(c.Logger)
	c.EventBus.RegisterConsumer(c.Messenger)

	if c.Config.RabbitMQURL == "" {
		c.EventPublisher = c.EventBus
		return notify.NewPublisherNotifier(c.EventBus), nil
	}

	publisher, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Logger)
	if err != nil {
		// Fall back to in-process delivery in development
		if !c.Config.IsDevelopment() {
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		c.Logger.Warn("RabbitMQ not available, delivering events in process", "error", err)
		c.EventPublisher = c.EventBus
		return notify.NewPublisherNotifier(c.EventBus), nil
	}
	c.EventPublisher = publisher
	c.Health.Register("rabbitmq", observability.RabbitMQHealthChecker(publisher.Ping))

	if c.Stores.Outbox == nil {
		return notify.NewPublisherNotifier(publisher), nil
	}

	if c.Config.OutboxProcessorEnabled {
		c.OutboxProcessor = outbox.NewProcessor(c.Stores.Outbox, publisher, c.outboxConfig(), c.Logger)
	}
	return notify.NewOutboxNotifier(c.Stores.Outbox), nil
}

func (c *Container) outboxConfig() outbox.ProcessorConfig {
	pc := outbox.DefaultProcessorConfig()
	if c.Config.OutboxPollInterval > 0 {
		pc.PollInterval = c.Config.OutboxPollInterval
	}
	if c.Config.OutboxBatchSize > 0 {
		pc.BatchSize = c.Config.OutboxBatchSize
	}
	if c.Config.OutboxMaxRetries > 0 {
		pc.MaxRetries = c.Config.OutboxMaxRetries
	}
	pc.Retention = durationDays(c.Config.OutboxRetentionDays)
	if c.Config.OutboxCleanupInterval > 0 {
		pc.CleanupInterval = c.Config.OutboxCleanupInterval
	}
	return pc
}

// durationDays converts a retention in days. Non-positive disables cleanup.
func durationDays(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}

func (c *Container) newGateway() domain.Gateway {
	var next domain.Gateway
	if c.Config.GatewaySimulated || (c.Config.IsDevelopment() && c.Config.GatewayPublicID == "") {
		c.Logger.Warn("using simulated payment gateway")
		next = gateway.NewSimulatedGateway()
	} else {
		next = gateway.NewHTTPGateway(gateway.HTTPConfig{
			BaseURL:   c.Config.GatewayURL,
			PublicID:  c.Config.GatewayPublicID,
			APISecret: c.Config.GatewayAPISecret,
		}, &http.Client{}, c.Logger)
	}

	bc := gateway.DefaultBreakerConfig()
	if c.Config.GatewayBreakerThreshold > 0 {
		bc.FailureThreshold = uint32(c.Config.GatewayBreakerThreshold)
	}
	if c.Config.GatewayBreakerCooldown > 0 {
		bc.Cooldown = c.Config.GatewayBreakerCooldown
	}
	c.Breaker = gateway.NewBreakerGateway(next, bc, c.Logger)
	return c.Breaker
}

// Close releases all resources.
func (c *Container) Close() {
	if c.OutboxProcessor != nil && c.OutboxProcessor.IsRunning() {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		} else {
			c.Logger.Info("Redis connection closed")
		}
	}

	if c.Stores != nil {
		if err := c.Stores.Close(context.Background()); err != nil {
			c.Logger.Warn("error closing storage", "driver", c.Stores.Driver, "error", err)
		} else {
			c.Logger.Info("storage closed", "driver", c.Stores.Driver)
		}
	}
}
