package cli

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/voltage/pkg/observability"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check storage and broker connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		app := GetApp()
		if app == nil || app.Health == nil {
			return fmt.Errorf("app not initialized")
		}

		overall := app.Health.GetOverallHealth(cmd.Context())
		names := make([]string, 0, len(overall.Checks))
		for name := range overall.Checks {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			check := overall.Checks[name]
			line := fmt.Sprintf("%-10s %s", name, check.Status)
			if check.Message != "" {
				line += "  " + check.Message
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "overall    %s\n", overall.Status)

		if overall.Status == observability.HealthStatusUnhealthy {
			return fmt.Errorf("unhealthy")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
