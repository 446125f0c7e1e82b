package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"
)

// manifestSeq pins a specific revision. Zero means the head revision.
var manifestSeq int64

var manifestCmd = &cobra.Command{
	Use:   "manifest <unit>",
	Short: "Print a unit's manifest revision as YAML",
	Long: `Prints one revision of a unit's declarative manifest as YAML: the
resources the reconciler applies, plus the revision metadata (sequence,
parent, commit, rollback lineage).

Without --seq the head revision is printed.`,
	Args: cobra.ExactArgs(1),
	RunE: runManifest,
}

func runManifest(cmd *cobra.Command, args []string) error {
	rev, err := newClient().Manifest(cmd.Context(), args[0], manifestSeq)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(rev)
	if err != nil {
		return fmt.Errorf("rendering revision: %w", err)
	}
	fmt.Fprint(cmd.OutOrStdout(), string(out))
	return nil
}

func init() {
	rootCmd.AddCommand(manifestCmd)

	manifestCmd.Flags().Int64Var(&manifestSeq, "seq", 0, "Revision sequence to print (0 = head)")
}
