package billing

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/voltage/adapter/cli"
	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

var plansCmd = &cobra.Command{
	Use:   "plans",
	Short: "List plans and energy packs",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.Service()
		if err != nil {
			return err
		}
		catalog := svc.Catalog()
		out := cmd.OutOrStdout()

		fmt.Fprintln(out, "Plans:")
		for _, p := range catalog.Plans() {
			fmt.Fprintf(out, "  %-6s %-6s %4d energy  %s\n", p.ID, p.Name, p.Energy, p.Price)
		}
		fmt.Fprintln(out, "Packs:")
		for _, p := range catalog.Packs() {
			fmt.Fprintf(out, "  %-8s %4d energy  %s\n", p.ID, p.Energy, p.Price)
		}
		return nil
	},
}

var checkoutCmd = &cobra.Command{
	Use:   "checkout <user-id> <product>",
	Short: "Create an invoice for a pack or a plan",
	Long: `Creates a pending payment. The product is a pack id (pack_10) or a
paid plan id (basic, pro). Subscription checkouts carry the win-back
discount when the user left a paid plan.

The printed payment id is the gateway InvoiceId.

Examples:
  voltage billing checkout 42 pack_50
  voltage billing checkout 42 pro`,
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

		p, err := svc.Checkout(cmd.Context(), id, args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Payment %s: %s %s (%s)\n", p.ID, p.Product, p.Amount, p.Type)
		return nil
	},
}

var paymentsLimit int

var paymentsCmd = &cobra.Command{
	Use:   "payments <user-id>",
	Short: "List a user's payments, newest first",
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

		payments, err := svc.ListPayments(cmd.Context(), id, paymentsLimit)
		if err != nil {
			return err
		}
		if len(payments) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No payments.")
			return nil
		}
		for _, p := range payments {
			printPayment(cmd, p)
		}
		return nil
	},
}

func printPayment(cmd *cobra.Command, p *domain.Payment) {
	line := fmt.Sprintf("%s  %s  %-12s %-9s %s",
		p.CreatedAt.UTC().Format("2006-01-02 15:04"), p.ID, p.Product, p.Status, p.Amount)
	if p.FailureReason != "" {
		line += "  " + p.FailureReason
	}
	fmt.Fprintln(cmd.OutOrStdout(), line)
}

func init() {
	paymentsCmd.Flags().IntVarP(&paymentsLimit, "limit", "n", 20, "maximum number of payments")
}
