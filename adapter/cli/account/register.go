package account

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/voltage/adapter/cli"
)

var registerCmd = &cobra.Command{
	Use:   "register <user-id>",
	Short: "Register a user with the starter balance",
	Long: `Creates the user's account. Registering an existing user is a no-op
and prints the current account.

Examples:
  voltage account register 42`,
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

		acct, created, err := svc.RegisterUser(cmd.Context(), id)
		if err != nil {
			return err
		}
		if created {
			fmt.Fprintf(cmd.OutOrStdout(), "Registered user %s\n", id)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "User %s already registered\n", id)
		}
		PrintAccount(cmd.OutOrStdout(), acct)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show <user-id>",
	Short: "Show a user's balance and subscription",
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

		acct, err := svc.GetAccount(cmd.Context(), id)
		if err != nil {
			return err
		}
		PrintAccount(cmd.OutOrStdout(), acct)
		return nil
	},
}
