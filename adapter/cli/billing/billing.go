package billing

import "github.com/spf13/cobra"

// Cmd is the billing command group.
var Cmd = &cobra.Command{
	Use:   "billing",
	Short: "Manage subscriptions, packs and payments",
	Long: `Check out energy packs and plans, drive the subscription lifecycle
and feed payment gateway notifications into the ledger.`,
}

func init() {
	Cmd.AddCommand(plansCmd)
	Cmd.AddCommand(checkoutCmd)
	Cmd.AddCommand(subscribeCmd)
	Cmd.AddCommand(chargeResultCmd)
	Cmd.AddCommand(cancelCmd)
	Cmd.AddCommand(quoteCmd)
	Cmd.AddCommand(resumeCmd)
	Cmd.AddCommand(retryCmd)
	Cmd.AddCommand(paymentsCmd)
	Cmd.AddCommand(webhookCmd)
}
