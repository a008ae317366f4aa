package account

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

// Cmd is the account command group.
var Cmd = &cobra.Command{
	Use:   "account",
	Short: "Manage user energy balances",
	Long:  `Register users, inspect balances and move energy in or out of the ledger.`,
}

func init() {
	Cmd.AddCommand(registerCmd)
	Cmd.AddCommand(showCmd)
	Cmd.AddCommand(creditCmd)
	Cmd.AddCommand(debitCmd)
	Cmd.AddCommand(grantDailyCmd)
}

// PrintAccount writes a human-readable account summary.
func PrintAccount(w io.Writer, acct *domain.Account) {
	fmt.Fprintf(w, "User:    %s\n", acct.ID)
	fmt.Fprintf(w, "Balance: %d\n", acct.Balance)
	fmt.Fprintf(w, "Plan:    %s\n", acct.Plan)

	sub := acct.Subscription
	if sub == nil {
		return
	}
	fmt.Fprintf(w, "Subscription: %s (%s)\n", sub.Plan, sub.Status())
	switch st := sub.State.(type) {
	case domain.Active:
		fmt.Fprintf(w, "  Renews:       %s\n", formatTime(sub.NextBillingAt))
	case domain.Grace:
		fmt.Fprintf(w, "  Grace ends:   %s\n", formatTime(st.EndsAt))
		fmt.Fprintf(w, "  Retries:      %d\n", st.RetryCount)
		if st.Pending != nil {
			fmt.Fprintf(w, "  Pending:      %s\n", st.Pending.IdempotencyKey)
		}
	case domain.Suspended:
		fmt.Fprintf(w, "  Suspended:    %s\n", formatTime(st.Since))
	case domain.Expired:
		fmt.Fprintf(w, "  Expired:      %s\n", formatTime(st.At))
	case domain.Canceled:
		fmt.Fprintf(w, "  Canceled:     %s\n", formatTime(st.At))
	}
	if sub.DiscountPercent > 0 {
		fmt.Fprintf(w, "  Win-back:     %d%% off\n", sub.DiscountPercent)
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
