package cmd

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/rodaine/table"
	"github.com/spf13/cobra"
)

// StagedCommand represents the staged listing command.
type StagedCommand struct{}

// GetCobraCommand returns the cobra command for listing staged
// unit-sets.
func (c *StagedCommand) GetCobraCommand() *cobra.Command {
	stagedCmd := &cobra.Command{
		Use:     "staged",
		Aliases: []string{"list"},
		Short:   "List unit-sets currently in the staging area",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app := getApp(cmd.Context())

			sets, err := app.Staging.List()
			if err != nil {
				return err
			}
			if len(sets) == 0 {
				fmt.Println("No unit-sets staged.")
				return nil
			}

			headerFmt := color.New(color.FgGreen, color.Underline).SprintfFunc()
			columnFmt := color.New(color.FgYellow).SprintfFunc()
			tbl := table.New("Name", "Source", "Branch", "Staged At", "Files")
			tbl.WithHeaderFormatter(headerFmt).WithFirstColumnFormatter(columnFmt)

			for _, s := range sets {
				branch := s.Branch
				if branch == "" {
					branch = "-"
				}
				tbl.AddRow(s.Name, s.Source, branch, s.StagedAt.Format("2006-01-02 15:04:05"), s.Files)
			}
			tbl.Print()
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return stagedCmd
}
