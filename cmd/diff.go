package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/podstage/podstage/internal/diff"
)

// DiffCommand represents the diff command for the podstage CLI.
type DiffCommand struct{}

// GetCobraCommand returns the cobra command for diffing a staged
// unit-set against its installed version.
func (c *DiffCommand) GetCobraCommand() *cobra.Command {
	diffCmd := &cobra.Command{
		Use:   "diff <unit-set>",
		Short: "Show what applying a staged unit-set would change",
		Long: `Show what applying a staged unit-set would change.

Compares the staged tree against the installed tree file by file. A
unit-set that is staged but not yet installed reports every file as an
addition.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app := getApp(cmd.Context())

			diffs, err := app.Staging.Diff(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if !diff.HasChanges(diffs) {
				fmt.Printf("No differences for %s.\n", args[0])
				return nil
			}

			title := cases.Title(language.English)
			for _, d := range diffs {
				if d.Status == diff.StatusUnchanged {
					continue
				}
				fmt.Printf("%s: %s\n", title.String(string(d.Status)), d.Path)
				diff.Render(os.Stdout, d.Patch)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	return diffCmd
}
