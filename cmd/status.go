package cmd

import (
	"caravel/internal/cli"
	"caravel/internal/server"

	"github.com/spf13/cobra"
)

// statusHistory shows the release history of the unit instead of the
// current state. Requires a unit argument.
var statusHistory bool

// statusHistoryLimit bounds how many history entries are shown.
var statusHistoryLimit int

var statusCmd = &cobra.Command{
	Use:   "status [unit]",
	Short: "Show release and sync state",
	Long: `Shows the current release, manifest head and last reconciliation pass for
one unit, or for every unit when no argument is given.

With --history the command lists the unit's retained release history
instead, newest first. History entries are the rollback targets.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := newClient()
	ctx := cmd.Context()

	if statusHistory {
		if len(args) == 0 {
			return cmd.Help()
		}
		history, err := client.History(ctx, args[0], statusHistoryLimit)
		if err != nil {
			return err
		}
		cli.RenderHistoryTable(cmd.OutOrStdout(), history)
		return nil
	}

	var statuses []server.UnitStatus
	if len(args) == 1 {
		status, err := client.Status(ctx, args[0])
		if err != nil {
			return err
		}
		statuses = []server.UnitStatus{status}
	} else {
		var err error
		statuses, err = client.StatusAll(ctx)
		if err != nil {
			return err
		}
	}

	cli.RenderStatusTable(cmd.OutOrStdout(), statuses)
	return nil
}

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusHistory, "history", false, "List the unit's release history instead of the current state")
	statusCmd.Flags().IntVar(&statusHistoryLimit, "limit", 0, "Maximum history entries to show (0 = all retained)")
}
