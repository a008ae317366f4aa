package subscribers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/voltage/pkg/observability"
)

// Sender delivers a text message to a user on the chat platform.
type Sender interface {
	Send(ctx context.Context, user domain.UserID, text string) error
}

// LogSender writes messages to the log instead of a chat platform.
type LogSender struct {
	Logger *slog.Logger
}

func (s LogSender) Send(ctx context.Context, user domain.UserID, text string) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "user message", "user_id", user, "text", text)
	return nil
}

// UserMessenger turns billing events into user-facing messages.
type UserMessenger struct {
	sender  Sender
	logger  *slog.Logger
	metrics observability.Metrics
}

// NewUserMessenger creates a messenger. A nil metrics recorder is allowed.
func NewUserMessenger(sender Sender, logger *slog.Logger, metrics observability.Metrics) *UserMessenger {
	if logger == nil {
		logger = slog.Default()
	}
	if metrics == nil {
		metrics = observability.NoopMetrics{}
	}
	return &UserMessenger{sender: sender, logger: logger, metrics: metrics}
}

// EventTypes returns the routing keys that produce a user message.
func (m *UserMessenger) EventTypes() []string {
	return []string{
		domain.RoutingSubscriptionCreated,
		domain.RoutingSubscriptionRenewed,
		domain.RoutingSubscriptionGrace,
		domain.RoutingSubscriptionSuspended,
		domain.RoutingSubscriptionExpired,
		domain.RoutingSubscriptionCanceled,
		domain.RoutingEnergyInsufficient,
		domain.RoutingPackPurchased,
		domain.RoutingPaymentFailed,
		domain.RoutingPaymentRefunded,
		domain.RoutingRefundRequired,
	}
}

// Handle renders and sends the message for one event.
func (m *UserMessenger) Handle(ctx context.Context, event *eventbus.Envelope) error {
	user, err := strconv.ParseInt(event.AggregateID, 10, 64)
	if err != nil {
		return fmt.Errorf("event %s: aggregate id %q: %w", event.EventID, event.AggregateID, err)
	}

	text, err := Render(event.RoutingKey, event.Data)
	if err != nil {
		return fmt.Errorf("event %s: %w", event.EventID, err)
	}
	if text == "" {
		m.logger.DebugContext(ctx, "no message for event", "routing_key", event.RoutingKey)
		return nil
	}

	if err := m.sender.Send(ctx, domain.UserID(user), text); err != nil {
		return fmt.Errorf("send %s to %d: %w", event.RoutingKey, user, err)
	}
	m.metrics.Counter(observability.MetricEventsConsumed, 1, observability.T("routing_key", event.RoutingKey))
	return nil
}

type messageData struct {
	Plan            domain.PlanID `json:"plan"`
	Pack            domain.PackID `json:"pack"`
	Energy          int64         `json:"energy"`
	Balance         int64         `json:"balance"`
	Requested       int64         `json:"requested"`
	Forfeited       int64         `json:"forfeited"`
	RetryCount      int           `json:"retry_count"`
	Reclaimed       int64         `json:"reclaimed"`
	Reason          string        `json:"reason"`
	Product         string        `json:"product"`
	DiscountPercent int           `json:"discount_percent"`
	AppliedDiscount int           `json:"applied_discount"`
	Resumed         bool          `json:"resumed"`
	NextBillingAt   time.Time     `json:"next_billing_at"`
	GraceEndsAt     time.Time     `json:"grace_ends_at"`
	Amount          domain.Money  `json:"amount"`
}

const dateLayout = "2006-01-02"

// Render builds the message text for an event. Unknown keys render empty.
func Render(routingKey string, data json.RawMessage) (string, error) {
	var d messageData
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return "", fmt.Errorf("decode %s: %w", routingKey, err)
		}
	}

	switch routingKey {
	case domain.RoutingSubscriptionCreated:
		text := fmt.Sprintf("Your %s subscription is active: +%d energy, balance %d. Next charge on %s.",
			d.Plan, d.Energy, d.Balance, d.NextBillingAt.Format(dateLayout))
		if d.Resumed && d.AppliedDiscount > 0 {
			text += fmt.Sprintf(" Welcome back, you got %d%% off.", d.AppliedDiscount)
		}
		return text, nil
	case domain.RoutingSubscriptionRenewed:
		return fmt.Sprintf("Your %s subscription was renewed: +%d energy, balance %d. Next charge on %s.",
			d.Plan, d.Energy, d.Balance, d.NextBillingAt.Format(dateLayout)), nil
	case domain.RoutingSubscriptionGrace:
		return fmt.Sprintf("We could not charge your card for %s. We will retry until %s; your energy stays available until then.",
			d.Plan, d.GraceEndsAt.Format(dateLayout)), nil
	case domain.RoutingSubscriptionSuspended:
		return fmt.Sprintf("Your %s subscription is suspended after %d failed retries. %d energy was removed; balance %d.",
			d.Plan, d.RetryCount, d.Forfeited, d.Balance), nil
	case domain.RoutingSubscriptionExpired:
		return fmt.Sprintf("Your %s subscription has expired. Come back any time with %d%% off.",
			d.Plan, d.DiscountPercent), nil
	case domain.RoutingSubscriptionCanceled:
		return fmt.Sprintf("Your %s subscription is canceled. You keep your %d energy. Resume any time with %d%% off.",
			d.Plan, d.Balance, d.DiscountPercent), nil
	case domain.RoutingEnergyInsufficient:
		return fmt.Sprintf("Not enough energy: you have %d, this needs %d. Buy a pack or subscribe to continue.",
			d.Balance, d.Requested), nil
	case domain.RoutingPackPurchased:
		return fmt.Sprintf("Pack %s purchased: +%d energy, balance %d.", d.Pack, d.Energy, d.Balance), nil
	case domain.RoutingPaymentFailed:
		return fmt.Sprintf("Payment for %s failed: %s.", d.Product, d.Reason), nil
	case domain.RoutingPaymentRefunded:
		if d.Reclaimed > 0 {
			return fmt.Sprintf("Refund of %s issued. %d energy was removed.", d.Amount, d.Reclaimed), nil
		}
		return fmt.Sprintf("Refund of %s issued.", d.Amount), nil
	case domain.RoutingRefundRequired:
		return fmt.Sprintf("Your payment of %s for %s could not be applied and will be refunded.", d.Amount, d.Product), nil
	default:
		return "", nil
	}
}
