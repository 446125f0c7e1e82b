package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var clearFatalCmd = &cobra.Command{
	Use:   "clear-fatal <unit>",
	Short: "Lift a unit's fatal latch",
	Long: `Lifts the fatal latch on a unit so it accepts triggers again. A unit
goes fatal when a release degrades and its automatic rollback fails or
degrades too; caravel then refuses further releases to the unit until an
operator has investigated and cleared it.`,
	Args: cobra.ExactArgs(1),
	RunE: runClearFatal,
}

func runClearFatal(cmd *cobra.Command, args []string) error {
	if err := newClient().ClearFatal(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "fatal latch cleared for %s\n", args[0])
	return nil
}

func init() {
	rootCmd.AddCommand(clearFatalCmd)
}
