package cmd

import (
	"fmt"

	"caravel/internal/cli"
	"caravel/internal/release"

	"github.com/spf13/cobra"
)

// triggerNoWait returns immediately after the release is queued instead of
// waiting for it to reach a terminal state.
var triggerNoWait bool

// triggerQuiet disables the progress spinner.
var triggerQuiet bool

var triggerCmd = &cobra.Command{
	Use:   "trigger <unit> <commit>",
	Short: "Release a commit to a unit",
	Long: `Queues a release of the given commit to the given unit and waits until
the release ends Healthy or Fatal. The release runs through build, scan,
publish, manifest append, reconciliation and health verification; a
revision that fails verification is rolled back automatically.

With --no-wait the command returns as soon as the release is queued.`,
	Args: cobra.ExactArgs(2),
	RunE: runTrigger,
}

func runTrigger(cmd *cobra.Command, args []string) error {
	unit, commit := args[0], args[1]
	client := newClient()
	ctx := cmd.Context()

	rel, err := client.Trigger(ctx, unit, commit)
	if err != nil {
		return err
	}

	if triggerNoWait {
		fmt.Fprintf(cmd.OutOrStdout(), "release %s queued for %s at commit %s\n", rel.ID, unit, commit)
		return nil
	}

	final, err := cli.WaitForRelease(ctx, client, unit, rel.ID, triggerQuiet)
	if err != nil {
		return err
	}
	if final.State != release.StateHealthy {
		return fmt.Errorf("release ended %s: %s", final.State, final.LastError)
	}
	if triggerQuiet {
		fmt.Fprintf(cmd.OutOrStdout(), "%s is healthy at revision %d\n", unit, final.RevisionSeq)
	}
	return nil
}

func init() {
	rootCmd.AddCommand(triggerCmd)

	triggerCmd.Flags().BoolVar(&triggerNoWait, "no-wait", false, "Return after queueing instead of waiting for the outcome")
	triggerCmd.Flags().BoolVar(&triggerQuiet, "quiet", false, "Disable the progress spinner")
}
