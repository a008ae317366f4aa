package billing

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/voltage/adapter/cli"
	"github.com/felixgeelhaar/voltage/adapter/cli/account"
	billingApp "github.com/felixgeelhaar/voltage/internal/billing/application"
	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

var (
	subscribeToken string
	subscribeTxn   string

	chargeFailed bool
	chargeTxn    string
	chargeReason string
)

var subscribeCmd = &cobra.Command{
	Use:   "subscribe <user-id> <plan>",
	Short: "Start a subscription after its first charge succeeded",
	Long: `Records a successful first charge and starts the subscription.
Replaying the same transaction id is a no-op.

Examples:
  voltage billing subscribe 42 basic --token tk_abc --txn 1001`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.Service()
		if err != nil {
			return err
		}
		id, err := cli.ParseUserID(args[0])
		if err != nil {
			return err
		}
		if subscribeToken == "" {
			return errors.New("--token is required")
		}

		acct, err := svc.CreateSubscription(cmd.Context(), id, domain.PlanID(args[1]), subscribeToken, subscribeTxn)
		if err != nil {
			return err
		}
		account.PrintAccount(cmd.OutOrStdout(), acct)
		return nil
	},
}

var chargeResultCmd = &cobra.Command{
	Use:   "charge-result <user-id>",
	Short: "Apply a recurring charge result",
	Long: `Applies the outcome of a scheduled renewal charge. A success renews
the subscription. A failure starts the grace period.

Examples:
  voltage billing charge-result 42 --txn 1002
  voltage billing charge-result 42 --failed --reason "Insufficient funds"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.Service()
		if err != nil {
			return err
		}
		id, err := cli.ParseUserID(args[0])
		if err != nil {
			return err
		}

		acct, err := svc.HandleChargeResult(cmd.Context(), billingApp.ChargeResult{
			UserID:        id,
			Success:       !chargeFailed,
			TransactionID: chargeTxn,
			Reason:        chargeReason,
		})
		if err != nil {
			return err
		}
		account.PrintAccount(cmd.OutOrStdout(), acct)
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel <user-id>",
	Short: "Cancel a subscription",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.Service()
		if err != nil {
			return err
		}
		id, err := cli.ParseUserID(args[0])
		if err != nil {
			return err
		}

		acct, err := svc.Cancel(cmd.Context(), id)
		if err != nil {
			return err
		}
		account.PrintAccount(cmd.OutOrStdout(), acct)
		return nil
	},
}

var quoteCmd = &cobra.Command{
	Use:   "quote <user-id> <plan>",
	Short: "Show what resuming on a plan would charge",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.Service()
		if err != nil {
			return err
		}
		id, err := cli.ParseUserID(args[0])
		if err != nil {
			return err
		}

		price, err := svc.QuoteResume(cmd.Context(), id, domain.PlanID(args[1]))
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Resume %s: %s\n", args[1], price)
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume <user-id> <plan>",
	Short: "Charge the stored card and resume a subscription",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.Service()
		if err != nil {
			return err
		}
		id, err := cli.ParseUserID(args[0])
		if err != nil {
			return err
		}

		acct, err := svc.Resume(cmd.Context(), id, domain.PlanID(args[1]))
		if err != nil {
			return err
		}
		account.PrintAccount(cmd.OutOrStdout(), acct)
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <user-id>",
	Short: "Retry a failed renewal now",
	Long: `Runs the retry step for one user in grace, outside the retry
sweep. The attempt is skipped when the next retry is not due.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.Service()
		if err != nil {
			return err
		}
		id, err := cli.ParseUserID(args[0])
		if err != nil {
			return err
		}

		acct, err := svc.RetryRenewal(cmd.Context(), id)
		if err != nil {
			return err
		}
		account.PrintAccount(cmd.OutOrStdout(), acct)
		return nil
	},
}

func init() {
	subscribeCmd.Flags().StringVar(&subscribeToken, "token", "", "stored card token")
	subscribeCmd.Flags().StringVar(&subscribeTxn, "txn", "", "gateway transaction id of the first charge")

	chargeResultCmd.Flags().BoolVar(&chargeFailed, "failed", false, "the charge failed")
	chargeResultCmd.Flags().StringVar(&chargeTxn, "txn", "", "gateway transaction id")
	chargeResultCmd.Flags().StringVar(&chargeReason, "reason", "", "decline reason")
}
