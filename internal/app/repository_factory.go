package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	billingPersistence "github.com/felixgeelhaar/voltage/internal/billing/infrastructure/persistence"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/crypto"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database/postgres" // Register PostgreSQL driver
	_ "github.com/felixgeelhaar/voltage/internal/shared/infrastructure/database/sqlite"   // Register SQLite driver
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/voltage/pkg/config"
)

// Stores bundles the repositories for one storage backend.
type Stores struct {
	Driver   database.Driver
	Accounts domain.AccountRepository
	Payments domain.PaymentRepository
	// Outbox is nil for backends without an outbox table.
	Outbox outbox.Repository
	// Conn is set for SQL backends.
	Conn database.Connection

	ping  func(ctx context.Context) error
	close func(ctx context.Context) error
}

// Ping checks the backend is reachable.
func (s *Stores) Ping(ctx context.Context) error {
	if s.ping == nil {
		return nil
	}
	return s.ping(ctx)
}

// Close releases the backend connection.
func (s *Stores) Close(ctx context.Context) error {
	if s.close == nil {
		return nil
	}
	return s.close(ctx)
}

// NewMemoryStores returns process-local stores with no outbox.
func NewMemoryStores() *Stores {
	return &Stores{
		Driver:   "memory",
		Accounts: billingPersistence.NewMemoryAccountRepository(),
		Payments: billingPersistence.NewMemoryPaymentRepository(),
	}
}

// RepositoryFactory opens the storage backend named by the configuration.
type RepositoryFactory struct {
	cfg    *config.Config
	sealer crypto.Sealer
	logger *slog.Logger
}

// NewRepositoryFactory creates a new repository factory. A nil sealer
// stores credentials as plain text.
func NewRepositoryFactory(cfg *config.Config, sealer crypto.Sealer, logger *slog.Logger) *RepositoryFactory {
	if sealer == nil {
		sealer = crypto.PlainSealer{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RepositoryFactory{cfg: cfg, sealer: sealer, logger: logger}
}

// Driver returns the backend DATABASE_URL selects.
func (f *RepositoryFactory) Driver() database.Driver {
	return database.DetectDriver(f.cfg.DatabaseURL)
}

// Open connects to the backend and prepares its schema.
func (f *RepositoryFactory) Open(ctx context.Context) (*Stores, error) {
	if driver := f.Driver(); driver.IsSQL() {
		return f.openSQL(ctx, driver)
	}
	return f.openMongo(ctx)
}

func (f *RepositoryFactory) openSQL(ctx context.Context, driver database.Driver) (*Stores, error) {
	conn, err := database.NewConnection(ctx, database.Config{
		Driver:     driver,
		URL:        f.cfg.DatabaseURL,
		SQLitePath: f.cfg.SQLitePath,
		MaxConns:   f.cfg.DatabaseMaxConns,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", driver, err)
	}

	f.logger.Info("running migrations", "driver", driver)
	if err := migrations.Run(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &Stores{
		Driver:   driver,
		Accounts: billingPersistence.NewSQLAccountRepository(conn, f.sealer),
		Payments: billingPersistence.NewSQLPaymentRepository(conn),
		Outbox:   outbox.NewSQLRepository(conn),
		Conn:     conn,
		ping:     conn.Ping,
		close:    func(context.Context) error { return conn.Close() },
	}, nil
}

func (f *RepositoryFactory) openMongo(ctx context.Context) (*Stores, error) {
	store, err := billingPersistence.NewMongoStore(ctx, f.cfg.DatabaseURL, f.cfg.MongoDatabase, f.sealer)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close(ctx)
		return nil, fmt.Errorf("failed to create MongoDB indexes: %w", err)
	}

	return &Stores{
		Driver:   database.DriverMongo,
		Accounts: store.Accounts(),
		Payments: store.Payments(),
		ping:     store.Ping,
		close:    store.Close,
	}, nil
}
