package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <unit>",
	Short: "Queue an immediate reconciliation pass",
	Long: `Queues an immediate reconciliation pass for the unit's head revision,
ahead of the next poll interval. The pass diffs the declared resources
against the cluster and applies only what drifted.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

func runSync(cmd *cobra.Command, args []string) error {
	if err := newClient().Sync(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "sync queued for %s\n", args[0])
	return nil
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
