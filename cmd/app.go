// Package cmd provides the command line interface for podstage.
package cmd

import (
	"context"

	"github.com/podstage/podstage/internal/backup"
	"github.com/podstage/podstage/internal/config"
	"github.com/podstage/podstage/internal/diff"
	"github.com/podstage/podstage/internal/execx"
	"github.com/podstage/podstage/internal/git"
	"github.com/podstage/podstage/internal/log"
	"github.com/podstage/podstage/internal/podman"
	"github.com/podstage/podstage/internal/probe"
	"github.com/podstage/podstage/internal/staging"
	"github.com/podstage/podstage/internal/systemd"
	"github.com/podstage/podstage/internal/validate"
)

type contextKey string

const appContextKey contextKey = "podstage-app"

// App holds the application dependencies for the command line interface.
type App struct {
	Logger  log.Logger
	Config  *config.Settings
	Staging *staging.Manager
	Backups *backup.Manager
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(logger log.Logger, cfg *config.Settings) *App {
	runner := execx.NewRealRunner()

	volumes := podman.NewBindingsStore(logger, runner)
	ports := probe.NewSocketProber(logger, runner)
	validator := validate.New(logger, ports, volumes)

	control := systemd.NewClient(systemd.NewConnectionFactory(logger), logger)
	backups := backup.NewManager(cfg, volumes, control, logger)

	stagingMgr := staging.NewManager(cfg, git.NewFetcher(logger), validator,
		backupTaker{backups}, control, diff.NewUnifiedDiffer(), logger)

	return &App{
		Logger:  logger,
		Config:  cfg,
		Staging: stagingMgr,
		Backups: backups,
	}
}

// backupTaker adapts the backup manager to the narrower interface the
// staging manager consumes for pre-apply snapshots.
type backupTaker struct {
	m *backup.Manager
}

func (b backupTaker) BackupUnit(ctx context.Context, unit config.UnitConfig) error {
	_, err := b.m.BackupUnit(ctx, unit)
	return err
}

// getApp retrieves the App from the command context.
func getApp(ctx context.Context) *App {
	return ctx.Value(appContextKey).(*App)
}
