package staging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/podstage/podstage/internal/config"
	"github.com/podstage/podstage/internal/diff"
	"github.com/podstage/podstage/internal/fs"
	"github.com/podstage/podstage/internal/lock"
	"github.com/podstage/podstage/internal/log"
	"github.com/podstage/podstage/internal/quadlet"
	"github.com/podstage/podstage/internal/validate"
)

// Sentinel errors callers branch on.
var (
	ErrNotStaged      = errors.New("unit-set has nothing staged")
	ErrUnknownUnitSet = errors.New("unit-set is not configured")
)

// Fetcher retrieves a unit-set source into a destination directory.
type Fetcher interface {
	Fetch(ctx context.Context, source, branch, dest string) error
}

// Validator validates a unit-set directory before it is accepted into
// the staging area. Conflict probes run against the unit-set's scope.
type Validator interface {
	ValidateDir(ctx context.Context, dir string, checkConflicts, userMode bool) (*validate.Report, error)
}

// BackupTaker snapshots an installed unit-set. Apply calls it while
// holding the unit-set lock, so the implementation must not lock.
type BackupTaker interface {
	BackupUnit(ctx context.Context, unit config.UnitConfig) error
}

// ServiceController is the init-system interface the staging manager
// consumes. Every call carries the unit-set's scope.
type ServiceController interface {
	DaemonReload(ctx context.Context, userMode bool) error
	StartUnits(ctx context.Context, services []string, userMode bool) error
	StopUnits(ctx context.Context, services []string, userMode bool) error
}

// Result is the outcome for one unit-set in a batch operation.
type Result struct {
	Name     string
	Skipped  bool
	Reason   string
	Warnings []validate.Issue
	Err      error
}

// StagedSet summarizes one staged unit-set for listings.
type StagedSet struct {
	Name     string
	Source   string
	Branch   string
	StagedAt time.Time
	Files    int
}

// Manager stages, diffs, applies and discards unit-sets.
type Manager struct {
	cfg       *config.Settings
	fetcher   Fetcher
	validator Validator
	backups   BackupTaker
	control   ServiceController
	differ    diff.Differ
	logger    log.Logger

	now func() time.Time
}

// NewManager creates a staging manager.
func NewManager(cfg *config.Settings, fetcher Fetcher, validator Validator,
	backups BackupTaker, control ServiceController, differ diff.Differ, logger log.Logger) *Manager {
	return &Manager{
		cfg:       cfg,
		fetcher:   fetcher,
		validator: validator,
		backups:   backups,
		control:   control,
		differ:    differ,
		logger:    logger,
		now:       time.Now,
	}
}

// Stage fetches and validates each named unit-set and, when clean,
// replaces its staged tree. Failures are isolated per unit-set. The
// live quadlet tree is never touched.
func (m *Manager) Stage(ctx context.Context, names []string) ([]Result, error) {
	units, err := resolveUnits(m.cfg, names)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(units))
	failed := 0
	for _, unit := range units {
		result := m.stageOne(ctx, unit)
		if result.Err != nil {
			failed++
		}
		results = append(results, result)
	}

	if failed > 0 {
		return results, fmt.Errorf("%d unit-set(s) failed to stage", failed)
	}
	return results, nil
}

func (m *Manager) stageOne(ctx context.Context, unit config.UnitConfig) Result {
	if unit.ManagedExternally {
		return Result{Name: unit.Name, Skipped: true, Reason: "managed externally"}
	}
	if !unit.IsFetchable() {
		return Result{Name: unit.Name, Skipped: true, Reason: "no source configured"}
	}

	l, err := lock.Acquire(m.cfg.LockDir, unit.Name)
	if err != nil {
		return Result{Name: unit.Name, Err: err}
	}
	defer func() { _ = l.Release() }()

	m.logger.Info("Staging unit-set", "name", unit.Name, "source", unit.Source)

	scratch, err := os.MkdirTemp("", "podstage-fetch-"+unit.Name+"-*")
	if err != nil {
		return Result{Name: unit.Name, Err: fmt.Errorf("failed to create fetch directory: %w", err)}
	}
	defer func() { _ = os.RemoveAll(scratch) }()

	if err := m.fetcher.Fetch(ctx, unit.Source, unit.Branch, scratch); err != nil {
		return Result{Name: unit.Name, Err: err}
	}

	report, err := m.validator.ValidateDir(ctx, scratch, true, m.cfg.UnitUserMode(unit))
	if err != nil {
		return Result{Name: unit.Name, Err: err}
	}
	for _, w := range report.Warnings {
		m.logger.Warn("Validation warning", "name", unit.Name, "issue", w.String())
	}
	if !report.OK() {
		for _, e := range report.Errors {
			m.logger.Error("Validation error", "name", unit.Name, "issue", e.String())
		}
		return Result{Name: unit.Name, Warnings: report.Warnings, Err: report.Err()}
	}

	// Only now, with a clean report, does the staged tree change.
	stagedDir := m.stagedUnitsDir(unit.Name)
	if err := fs.ReplaceTree(scratch, stagedDir, fs.SkipPrefix(".git")); err != nil {
		return Result{Name: unit.Name, Err: err}
	}

	files, err := fs.ListFiles(stagedDir)
	if err != nil {
		return Result{Name: unit.Name, Err: err}
	}

	manifest := &Manifest{
		Name:     unit.Name,
		Source:   unit.Source,
		Branch:   unit.Branch,
		StagedAt: m.now(),
		Files:    files,
	}
	if err := manifest.Save(m.manifestPath(unit.Name)); err != nil {
		// A staged tree without a manifest must not exist; remove the
		// tree so the set reads as unstaged rather than half-staged.
		_ = os.RemoveAll(stagedDir)
		return Result{Name: unit.Name, Err: err}
	}

	return Result{Name: unit.Name, Warnings: report.Warnings}
}

// List enumerates staged unit-sets in manifest order. Listing never
// mutates state.
func (m *Manager) List() ([]StagedSet, error) {
	entries, err := os.ReadDir(m.cfg.StagingManifestDir())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read staging manifests: %w", err)
	}

	var sets []StagedSet
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".yaml" {
			continue
		}
		manifest, err := LoadManifest(filepath.Join(m.cfg.StagingManifestDir(), e.Name()))
		if err != nil {
			m.logger.Warn("Skipping unreadable staging manifest", "file", e.Name(), "error", err)
			continue
		}
		sets = append(sets, StagedSet{
			Name:     manifest.Name,
			Source:   manifest.Source,
			Branch:   manifest.Branch,
			StagedAt: manifest.StagedAt,
			Files:    len(manifest.Files),
		})
	}
	return sets, nil
}

// Diff compares the staged tree of a unit-set against its installed
// tree. A unit-set that is staged but not installed reports every file
// as an addition. Diff takes no locks and changes nothing.
func (m *Manager) Diff(ctx context.Context, name string) ([]diff.FileDiff, error) {
	unit, ok := m.cfg.FindUnit(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownUnitSet, name)
	}

	// The manifest is the gate: it exists exactly when a staged tree
	// does, and a tree that lost its manifest is not a staged set.
	if !fs.Exists(m.manifestPath(name)) {
		return nil, fmt.Errorf("%w: %s", ErrNotStaged, name)
	}

	return diff.Trees(m.differ, m.cfg.InstallDir(unit), m.stagedUnitsDir(name))
}

// Apply promotes each named staged unit-set into the live quadlet tree:
// snapshot the current installation when one exists, stop its services,
// replace the tree, reload the init system and start the new services.
// Staging artifacts are removed only after a fully successful apply, so
// a failed apply can be retried or discarded.
func (m *Manager) Apply(ctx context.Context, names []string) ([]Result, error) {
	units, err := resolveUnits(m.cfg, names)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(units))
	failed := 0
	for _, unit := range units {
		result := m.applyOne(ctx, unit)
		if result.Err != nil {
			failed++
		}
		results = append(results, result)
	}

	if failed > 0 {
		return results, fmt.Errorf("%d unit-set(s) failed to apply", failed)
	}
	return results, nil
}

func (m *Manager) applyOne(ctx context.Context, unit config.UnitConfig) Result {
	if unit.ManagedExternally {
		return Result{Name: unit.Name, Skipped: true, Reason: "managed externally"}
	}

	l, err := lock.Acquire(m.cfg.LockDir, unit.Name)
	if err != nil {
		return Result{Name: unit.Name, Err: err}
	}
	defer func() { _ = l.Release() }()

	stagedDir := m.stagedUnitsDir(unit.Name)
	if !fs.Exists(m.manifestPath(unit.Name)) || !fs.IsNonEmptyDir(stagedDir) {
		return Result{Name: unit.Name, Err: fmt.Errorf("%w: %s", ErrNotStaged, unit.Name)}
	}

	userUnit := m.cfg.UnitUserMode(unit)
	installDir := m.cfg.InstallDir(unit)
	installed := fs.IsNonEmptyDir(installDir)

	if installed {
		m.logger.Info("Backing up current installation before apply", "name", unit.Name)
		if err := m.backups.BackupUnit(ctx, unit); err != nil {
			return Result{Name: unit.Name, Err: fmt.Errorf("pre-apply backup failed: %w", err)}
		}

		installedFiles, err := fs.ListFiles(installDir)
		if err != nil {
			return Result{Name: unit.Name, Err: err}
		}
		if err := m.control.StopUnits(ctx, quadlet.StartableServices(installedFiles), userUnit); err != nil {
			m.logger.Warn("Some services failed to stop before apply", "name", unit.Name, "error", err)
		}
	}

	m.logger.Info("Applying staged unit-set", "name", unit.Name)

	if err := fs.ReplaceTree(stagedDir, installDir, nil); err != nil {
		return Result{Name: unit.Name, Err: fmt.Errorf("apply of %s left a partially replaced directory: %w", unit.Name, err)}
	}

	if err := m.control.DaemonReload(ctx, userUnit); err != nil {
		return Result{Name: unit.Name, Err: err}
	}

	if unit.SetupDelay > 0 {
		m.logger.Debug("Waiting before starting services", "name", unit.Name, "delay", unit.SetupDelay)
		time.Sleep(unit.SetupDelay)
	}

	appliedFiles, err := fs.ListFiles(installDir)
	if err != nil {
		return Result{Name: unit.Name, Err: err}
	}
	if err := m.control.StartUnits(ctx, quadlet.StartableServices(appliedFiles), userUnit); err != nil {
		return Result{Name: unit.Name, Err: err}
	}

	if err := m.removeStagingArtifacts(unit.Name); err != nil {
		return Result{Name: unit.Name, Err: err}
	}

	return Result{Name: unit.Name}
}

// Discard removes the staged tree and manifest of each named unit-set.
// The installed tree and running services are untouched.
func (m *Manager) Discard(names []string) ([]Result, error) {
	units, err := resolveUnits(m.cfg, names)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(units))
	failed := 0
	for _, unit := range units {
		result := m.discardOne(unit)
		if result.Err != nil {
			failed++
		}
		results = append(results, result)
	}

	if failed > 0 {
		return results, fmt.Errorf("%d unit-set(s) failed to discard", failed)
	}
	return results, nil
}

func (m *Manager) discardOne(unit config.UnitConfig) Result {
	l, err := lock.Acquire(m.cfg.LockDir, unit.Name)
	if err != nil {
		return Result{Name: unit.Name, Err: err}
	}
	defer func() { _ = l.Release() }()

	if !fs.Exists(m.manifestPath(unit.Name)) && !fs.IsNonEmptyDir(m.stagedUnitsDir(unit.Name)) {
		return Result{Name: unit.Name, Skipped: true, Reason: "nothing staged"}
	}

	m.logger.Info("Discarding staged unit-set", "name", unit.Name)
	if err := m.removeStagingArtifacts(unit.Name); err != nil {
		return Result{Name: unit.Name, Err: err}
	}
	return Result{Name: unit.Name}
}

func (m *Manager) removeStagingArtifacts(name string) error {
	if err := os.RemoveAll(m.stagedUnitsDir(name)); err != nil {
		return fmt.Errorf("failed to remove staged tree for %s: %w", name, err)
	}
	if err := os.Remove(m.manifestPath(name)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove staging manifest for %s: %w", name, err)
	}
	return nil
}

func (m *Manager) stagedUnitsDir(name string) string {
	return filepath.Join(m.cfg.StagingUnitsDir(), name)
}

func (m *Manager) manifestPath(name string) string {
	return filepath.Join(m.cfg.StagingManifestDir(), name+".yaml")
}

// resolveUnits expands names ("all" or explicit) into configured
// unit-sets, failing before any mutation when a name is unknown.
func resolveUnits(cfg *config.Settings, names []string) ([]config.UnitConfig, error) {
	if len(names) == 1 && names[0] == "all" {
		return cfg.Units, nil
	}

	units := make([]config.UnitConfig, 0, len(names))
	for _, name := range names {
		unit, ok := cfg.FindUnit(name)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownUnitSet, name)
		}
		units = append(units, unit)
	}
	return units, nil
}
