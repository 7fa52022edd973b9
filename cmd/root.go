package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/podstage/podstage/internal/config"
	"github.com/podstage/podstage/internal/log"
)

// RootCommand represents the root command for the podstage CLI.
type RootCommand struct{}

var (
	userMode       bool
	verbose        bool
	configFilePath string
	quadletDir     string
	stagingDir     string
	backupDir      string
	lockDir        string
)

// GetCobraCommand returns the cobra root command for the podstage CLI.
func (c *RootCommand) GetCobraCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "podstage",
		Short: "Podstage stages, validates and deploys quadlet unit-sets.",
		Long: `Podstage stages, validates and deploys quadlet unit-sets.

Unit-sets are fetched from Git repositories or local directories into a
staging area, validated, and promoted into the systemd quadlet tree only
on request. Installed sets can be snapshotted together with their
persistent volumes and rolled back.`,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			if configFilePath != "" {
				config.SetConfigFilePath(configFilePath)
			}
			cfg := config.InitConfig()
			log.Init(verbose)

			if verbose {
				fmt.Printf("%s using config: %s\n\n", cmd.Root().Use, viper.GetViper().ConfigFileUsed())
				cfg.Verbose = verbose
			}

			if userMode {
				cfg.ApplyUserMode()
			}
			if quadletDir != "" {
				cfg.QuadletDir = quadletDir
			}
			if stagingDir != "" {
				cfg.StagingDir = stagingDir
			}
			if backupDir != "" {
				cfg.BackupDir = backupDir
			}
			if lockDir != "" {
				cfg.LockDir = lockDir
			}

			app := NewApp(log.GetLogger(), cfg)
			cmd.SetContext(context.WithValue(cmd.Context(), appContextKey, app))
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&userMode, "user", "u", false, "Run in user mode")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configFilePath, "config", "", "Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&quadletDir, "quadlet-dir", "", "Path to the quadlet directory")
	rootCmd.PersistentFlags().StringVar(&stagingDir, "staging-dir", "", "Path to the staging directory")
	rootCmd.PersistentFlags().StringVar(&backupDir, "backup-dir", "", "Path to the backup directory")
	rootCmd.PersistentFlags().StringVar(&lockDir, "lock-dir", "", "Path to the lock directory")

	rootCmd.AddCommand(
		(&StageCommand{}).GetCobraCommand(),
		(&StagedCommand{}).GetCobraCommand(),
		(&DiffCommand{}).GetCobraCommand(),
		(&ApplyCommand{}).GetCobraCommand(),
		(&DiscardCommand{}).GetCobraCommand(),
		(&BackupCommand{}).GetCobraCommand(),
		(&BackupsCommand{}).GetCobraCommand(),
		(&RestoreCommand{}).GetCobraCommand(),
		(&UpdateCommand{}).GetCobraCommand(),
		(&VersionCommand{}).GetCobraCommand(),
	)

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := (&RootCommand{}).GetCobraCommand().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.New(color.FgRed).Sprint("Error:"), err)
		os.Exit(1)
	}
}
