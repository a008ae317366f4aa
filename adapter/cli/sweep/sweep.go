package sweep

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/voltage/adapter/cli"
	billingApp "github.com/felixgeelhaar/voltage/internal/billing/application"
)

// Cmd is the sweep command group.
var Cmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a billing sweep once",
	Long: `Runs a sweep over all matching accounts and prints its tally.
The worker runs the same sweeps on timers.`,
}

type sweepFunc func(context.Context) (billingApp.SweepResult, error)

func newSweepCmd(use, short string, pick func(billingApp.Sweeper) sweepFunc) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := cli.Service()
			if err != nil {
				return err
			}
			return runSweep(cmd.Context(), cmd.OutOrStdout(), pick(svc))
		},
	}
}

var dailyCmd = newSweepCmd("daily", "Grant daily energy to empty free accounts",
	func(s billingApp.Sweeper) sweepFunc { return s.RunDailyGrantSweep })

var retryCmd = newSweepCmd("retry", "Retry failed renewals that are due",
	func(s billingApp.Sweeper) sweepFunc { return s.RunRetrySweep })

var expiryCmd = newSweepCmd("expiry", "Suspend ended grace periods and expire old suspensions",
	func(s billingApp.Sweeper) sweepFunc { return s.RunExpirySweep })

var allCmd = &cobra.Command{
	Use:   "all",
	Short: "Run every sweep in order",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := cli.Service()
		if err != nil {
			return err
		}
		var errs []error
		for _, run := range []sweepFunc{svc.RunDailyGrantSweep, svc.RunRetrySweep, svc.RunExpirySweep} {
			if err := runSweep(cmd.Context(), cmd.OutOrStdout(), run); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	},
}

func runSweep(ctx context.Context, w io.Writer, run sweepFunc) error {
	res, err := run(ctx)
	if errors.Is(err, billingApp.ErrSweepInProgress) {
		fmt.Fprintf(w, "%s: already running elsewhere\n", res.Name)
		return nil
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "%s: %d accounts, %d processed, %d skipped, %d errors in %s\n",
		res.Name, res.Total, res.Processed, res.Skipped, res.Errors, res.Duration.Round(time.Millisecond))
	return nil
}

func init() {
	Cmd.AddCommand(dailyCmd)
	Cmd.AddCommand(retryCmd)
	Cmd.AddCommand(expiryCmd)
	Cmd.AddCommand(allCmd)
}
