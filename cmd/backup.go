package cmd

import (
	"github.com/spf13/cobra"
)

// BackupCommand represents the backup command for the podstage CLI.
type BackupCommand struct{}

var backupAll bool

// GetCobraCommand returns the cobra command for backing up installed
// unit-sets.
func (c *BackupCommand) GetCobraCommand() *cobra.Command {
	backupCmd := &cobra.Command{
		Use:   "backup [unit-set...]",
		Short: "Snapshot installed unit-sets and their volumes",
		Long: `Snapshot installed unit-sets and their volumes.

Each snapshot captures the installed file tree plus an archive of every
named volume its container units reference. Snapshots are kept under the
backup directory per unit-set and timestamp.`,
		Args: func(_ *cobra.Command, args []string) error {
			return requireNamesOrAll(args, backupAll)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd.Context())

			results, err := app.Backups.Backup(cmd.Context(), namesOrAll(args, backupAll))
			outcomes := make([]outcome, 0, len(results))
			for _, r := range results {
				outcomes = append(outcomes, outcome{
					Name:    r.Name,
					Skipped: r.Skipped,
					Reason:  r.Reason,
					Detail:  r.TimestampID,
					Err:     r.Err,
				})
			}
			printOutcomes("backed up", outcomes)
			return err
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	backupCmd.Flags().BoolVarP(&backupAll, "all", "a", false, "Back up every configured unit-set")

	return backupCmd
}
