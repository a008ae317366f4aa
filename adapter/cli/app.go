package cli

import (
	"errors"
	"fmt"
	"strconv"

	billingApp "github.com/felixgeelhaar/voltage/internal/billing/application"
	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

// ErrNoDatabase is returned by commands that need the ledger when the CLI
// started without one.
var ErrNoDatabase = errors.New("this command requires a database connection")

// App holds the CLI application dependencies.
type App struct {
	BillingService *billingApp.Service
	Health         *observability.HealthRegistry

	// WebhookSecret verifies gateway notification signatures.
	WebhookSecret string
}

// NewApp creates a new CLI application.
func NewApp(service *billingApp.Service) *App {
	return &App{BillingService: service}
}

// SetHealth sets the dependency health registry.
func (a *App) SetHealth(registry *observability.HealthRegistry) {
	a.Health = registry
}

// SetWebhookSecret sets the gateway notification secret.
func (a *App) SetWebhookSecret(secret string) {
	a.WebhookSecret = secret
}

// app is the global CLI application instance
var app *App

// SetApp sets the global CLI application instance.
func SetApp(a *App) {
	app = a
}

// GetApp returns the global CLI application instance.
func GetApp() *App {
	return app
}

// Service returns the billing service or ErrNoDatabase.
func Service() (*billingApp.Service, error) {
	if app == nil || app.BillingService == nil {
		return nil, ErrNoDatabase
	}
	return app.BillingService, nil
}

// ParseUserID parses a messaging-platform user id argument.
func ParseUserID(s string) (domain.UserID, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return domain.UserID(id), nil
}
