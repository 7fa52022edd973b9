package cmd

import (
	"github.com/spf13/cobra"
)

// DiscardCommand represents the discard command for the podstage CLI.
type DiscardCommand struct{}

var discardAll bool

// GetCobraCommand returns the cobra command for discarding staged
// unit-sets.
func (c *DiscardCommand) GetCobraCommand() *cobra.Command {
	discardCmd := &cobra.Command{
		Use:   "discard [unit-set...]",
		Short: "Remove unit-sets from the staging area",
		Long: `Remove unit-sets from the staging area.

The installed tree and running services are untouched; only the staged
files and their manifest are removed.`,
		Args: func(_ *cobra.Command, args []string) error {
			return requireNamesOrAll(args, discardAll)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd.Context())

			results, err := app.Staging.Discard(namesOrAll(args, discardAll))
			outcomes := make([]outcome, 0, len(results))
			for _, r := range results {
				outcomes = append(outcomes, outcome{Name: r.Name, Skipped: r.Skipped, Reason: r.Reason, Err: r.Err})
			}
			printOutcomes("discarded", outcomes)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	discardCmd.Flags().BoolVarP(&discardAll, "all", "a", false, "Discard every staged unit-set")

	return discardCmd
}
