package cmd

import (
	"github.com/spf13/cobra"
)

// StageCommand represents the stage command for the podstage CLI.
type StageCommand struct{}

var stageAll bool

// GetCobraCommand returns the cobra command for staging unit-sets.
func (c *StageCommand) GetCobraCommand() *cobra.Command {
	stageCmd := &cobra.Command{
		Use:   "stage [unit-set...]",
		Short: "Fetch and validate unit-sets into the staging area",
		Long: `Fetch and validate unit-sets into the staging area.

Each configured unit-set is fetched from its source, validated, and on a
clean report placed in the staging area. The live quadlet tree is never
touched; run 'podstage apply' to promote a staged set. Run with
--verbose to see per-file validation progress.`,
		Args: func(_ *cobra.Command, args []string) error {
			return requireNamesOrAll(args, stageAll)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd.Context())

			results, err := app.Staging.Stage(cmd.Context(), namesOrAll(args, stageAll))
			outcomes := make([]outcome, 0, len(results))
			for _, r := range results {
				o := outcome{Name: r.Name, Skipped: r.Skipped, Reason: r.Reason, Err: r.Err}
				if len(r.Warnings) > 0 {
					o.Detail = warningsDetail(len(r.Warnings))
				}
				outcomes = append(outcomes, o)
			}
			printOutcomes("staged", outcomes)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	stageCmd.Flags().BoolVarP(&stageAll, "all", "a", false, "Stage every configured unit-set")

	return stageCmd
}
