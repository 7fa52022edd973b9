package cmd

import (
	"github.com/spf13/cobra"
)

// ApplyCommand represents the apply command for the podstage CLI.
type ApplyCommand struct{}

var applyAll bool

// GetCobraCommand returns the cobra command for applying staged
// unit-sets.
func (c *ApplyCommand) GetCobraCommand() *cobra.Command {
	applyCmd := &cobra.Command{
		Use:   "apply [unit-set...]",
		Short: "Promote staged unit-sets into the live quadlet tree",
		Long: `Promote staged unit-sets into the live quadlet tree.

When a current installation exists it is backed up first, then its
services are stopped, the tree is replaced, systemd is reloaded and the
new services are started. Staging artifacts are removed only after a
fully successful apply.`,
		Args: func(_ *cobra.Command, args []string) error {
			return requireNamesOrAll(args, applyAll)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd.Context())

			results, err := app.Staging.Apply(cmd.Context(), namesOrAll(args, applyAll))
			outcomes := make([]outcome, 0, len(results))
			for _, r := range results {
				outcomes = append(outcomes, outcome{Name: r.Name, Skipped: r.Skipped, Reason: r.Reason, Err: r.Err})
			}
			printOutcomes("applied", outcomes)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	applyCmd.Flags().BoolVarP(&applyAll, "all", "a", false, "Apply every staged unit-set")

	return applyCmd
}
