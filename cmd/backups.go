package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

// BackupsCommand represents the backup listing command.
type BackupsCommand struct{}

// GetCobraCommand returns the cobra command for listing backups.
func (c *BackupsCommand) GetCobraCommand() *cobra.Command {
	backupsCmd := &cobra.Command{
		Use:     "backups [unit-set]",
		Aliases: []string{"list-backups"},
		Short:   "List backup snapshots, newest first",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd.Context())

			name := ""
			if len(args) == 1 {
				name = args[0]
			}

			snapshots, err := app.Backups.ListBackups(name)
			if err != nil {
				return err
			}
			if len(snapshots) == 0 {
				fmt.Println("No backups found.")
				return nil
			}

			headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
			columnFmt := color.New(color.FgYellow).SprintfFunc()
			tbl := table.New("Name", "ID", "Backed Up At", "Files", "Volumes")
			tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt)

			for _, s := range snapshots {
				backedUp := "unknown"
				if s.HasManifest {
					backedUp = s.BackedUpAt.Format("2006-01-02 15:04:05")
				}
				tbl.AddRow(s.Name, s.TimestampID, backedUp, s.Files, s.Volumes)
			}
			tbl.Print()
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return backupsCmd
}
