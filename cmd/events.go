package cmd

import (
	"caravel/internal/cli"

	"github.com/spf13/cobra"
)

// eventsLimit bounds how many events are shown.
var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events [unit]",
	Short: "Show recorded release and sync events",
	Long: `Lists recorded events newest first: release stage transitions, sync
outcomes, rollbacks and fatal latches. Without a unit argument events of
all units are shown. The event ring is bounded; old events fall off.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runEvents,
}

func runEvents(cmd *cobra.Command, args []string) error {
	unit := ""
	if len(args) == 1 {
		unit = args[0]
	}

	list, err := newClient().Events(cmd.Context(), unit, eventsLimit)
	if err != nil {
		return err
	}
	cli.RenderEventsTable(cmd.OutOrStdout(), list)
	return nil
}

func init() {
	rootCmd.AddCommand(eventsCmd)

	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 50, "Maximum events to show (0 = all retained)")
}
