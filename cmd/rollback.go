package cmd

import (
	"fmt"

	"caravel/internal/cli"
	"caravel/internal/release"

	"github.com/spf13/cobra"
)

// rollbackNoWait returns immediately after the rollback is queued.
var rollbackNoWait bool

// rollbackQuiet disables the progress spinner.
var rollbackQuiet bool

var rollbackCmd = &cobra.Command{
	Use:   "rollback <unit>",
	Short: "Roll a unit back to its last healthy revision",
	Long: `Queues a manual rollback to the unit's most recent revision that was
verified healthy, excluding the one currently live. The rollback appends a
new revision; history is never rewritten.

The command refuses to preempt a release that is still in flight.`,
	Args: cobra.ExactArgs(1),
	RunE: runRollback,
}

func runRollback(cmd *cobra.Command, args []string) error {
	unit := args[0]
	client := newClient()
	ctx := cmd.Context()

	rel, err := client.Rollback(ctx, unit)
	if err != nil {
		return err
	}

	if rollbackNoWait {
		fmt.Fprintf(cmd.OutOrStdout(), "rollback %s queued for %s\n", rel.ID, unit)
		return nil
	}

	final, err := cli.WaitForRelease(ctx, client, unit, rel.ID, rollbackQuiet)
	if err != nil {
		return err
	}
	if final.State != release.StateHealthy {
		return fmt.Errorf("rollback ended %s: %s", final.State, final.LastError)
	}
	if rollbackQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s rolled back to revision %d\n", unit, final.RevisionSeq)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(rollbackCmd)

	rollbackCmd.Flags().BoolVar(&rollbackNoWait, "no-wait", false, "Return after queueing instead of waiting for the outcome")
	rollbackCmd.Flags().BoolVar(&rollbackQuiet, "quiet", false, "Disable the progress spinner")
}
