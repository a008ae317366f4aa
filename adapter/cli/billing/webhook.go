package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/voltage/adapter/cli"
	billingApp "github.com/felixgeelhaar/voltage/internal/billing/application"
	"github.com/felixgeelhaar/voltage/internal/billing/domain"
	"github.com/felixgeelhaar/voltage/internal/billing/infrastructure/gateway"
	"github.com/felixgeelhaar/voltage/internal/shared/infrastructure/security"
)

const maxWebhookBytes = 64 << 10

var (
	webhookEventPath string
	webhookKind      string
	webhookSignature string
)

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Apply a payment gateway notification",
	Long: `Verifies and applies a gateway notification body.

Kinds:
  pay        a checkout payment succeeded
  fail       a checkout payment failed
  recurrent  a scheduled renewal charge finished
  refund     a payment was refunded

When a webhook secret is configured the Content-HMAC value must be
passed with --signature.

Examples:
  voltage billing webhook --kind pay --event ./pay.json --signature "$HMAC"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if webhookEventPath == "" {
			return errors.New("event path is required")
		}
		svc, err := cli.Service()
		if err != nil {
			return err
		}

		payload, err := security.SafeReadFileMax(webhookEventPath, maxWebhookBytes)
		if err != nil {
			return err
		}
		if secret := cli.GetApp().WebhookSecret; secret != "" {
			if err := gateway.VerifySignature(payload, webhookSignature, secret); err != nil {
				return err
			}
		}

		n, err := gateway.ParseNotification(gateway.NotificationKind(webhookKind), payload)
		if err != nil {
			return err
		}
		if err := applyNotification(cmd.Context(), svc, n); err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), `{"code":0}`)
		return nil
	},
}

func applyNotification(ctx context.Context, svc *billingApp.Service, n gateway.Notification) error {
	if n.Kind == gateway.NotifyRecurrent {
		_, err := svc.HandleChargeResult(ctx, billingApp.ChargeResult{
			UserID:        n.UserID,
			Success:       n.Success,
			TransactionID: n.TransactionID,
			Reason:        n.Reason,
		})
		return err
	}

	paymentID, err := domain.ParsePaymentID(n.InvoiceID)
	if err != nil {
		return err
	}
	switch n.Kind {
	case gateway.NotifyPay:
		_, err = svc.HandlePaymentSucceeded(ctx, paymentID, n.TransactionID, n.Token)
	case gateway.NotifyFail:
		_, err = svc.HandlePaymentFailed(ctx, paymentID, n.Reason)
	case gateway.NotifyRefund:
		_, err = svc.HandleRefund(ctx, paymentID)
	default:
		err = fmt.Errorf("%w: %q", gateway.ErrUnknownNotification, n.Kind)
	}
	return err
}

func init() {
	webhookCmd.Flags().StringVar(&webhookEventPath, "event", "", "path to notification JSON")
	webhookCmd.Flags().StringVar(&webhookKind, "kind", string(gateway.NotifyPay), "notification kind (pay, fail, recurrent, refund)")
	webhookCmd.Flags().StringVar(&webhookSignature, "signature", "", "Content-HMAC header value")
}
