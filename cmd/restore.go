package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RestoreCommand represents the restore command for the podstage CLI.
type RestoreCommand struct{}

var restoreBackupID string

// GetCobraCommand returns the cobra command for restoring a unit-set
// from a backup snapshot.
func (c *RestoreCommand) GetCobraCommand() *cobra.Command {
	restoreCmd := &cobra.Command{
		Use:   "restore <unit-set> [backup-id]",
		Short: "Restore a unit-set from a backup snapshot",
		Long: `Restore a unit-set from a backup snapshot.

The installed tree is replaced with the snapshot and archived volumes
are recreated from their backups. Without a backup id the most recent
snapshot is used.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd.Context())

			backupID := restoreBackupID
			if len(args) == 2 {
				backupID = args[1]
			}
			if err := app.Backups.Restore(cmd.Context(), args[0], backupID); err != nil {
				return err
			}
			fmt.Printf("Restored %s.\n", args[0])
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	restoreCmd.Flags().StringVarP(&restoreBackupID, "backup-id", "b", "", "Snapshot id to restore (defaults to the latest)")

	return restoreCmd
}
