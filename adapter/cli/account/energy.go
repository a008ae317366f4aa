package account

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/voltage/adapter/cli"
	"github.com/felixgeelhaar/voltage/internal/billing/domain"
)

func parseAmount(s string) (int64, error) {
	amount, err := strconv.ParseInt(s, 10, 64)
	if err != nil || amount <= 0 {
		return 0, fmt.Errorf("invalid amount %q: %w", s, domain.ErrInvalidAmount)
	}
	return amount, nil
}

var creditCmd = &cobra.Command{
	Use:   "credit <user-id> <amount>",
	Short: "Add energy to a balance",
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
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}

		balance, err := svc.Credit(cmd.Context(), id, amount)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Credited %d. Balance: %d\n", amount, balance)
		return nil
	},
}

var debitCmd = &cobra.Command{
	Use:   "debit <user-id> <amount>",
	Short: "Spend energy from a balance",
	Long: `Spends energy. A debit larger than the balance is rejected, the
balance is left unchanged and the user is notified.`,
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
		amount, err := parseAmount(args[1])
		if err != nil {
			return err
		}

		balance, err := svc.Debit(cmd.Context(), id, amount)
		if errors.Is(err, domain.ErrInsufficientBalance) {
			return fmt.Errorf("insufficient energy: balance %d, requested %d", balance, amount)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Debited %d. Balance: %d\n", amount, balance)
		return nil
	},
}

var grantDailyCmd = &cobra.Command{
	Use:   "grant-daily <user-id>",
	Short: "Apply the free-tier daily top-up to one user",
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

		balance, granted, err := svc.GrantDailyFree(cmd.Context(), id)
		if err != nil {
			return err
		}
		if granted {
			fmt.Fprintf(cmd.OutOrStdout(), "Granted daily energy. Balance: %d\n", balance)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "Not eligible today. Balance: %d\n", balance)
		}
		return nil
	},
}
