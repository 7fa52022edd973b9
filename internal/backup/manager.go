package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/podstage/podstage/internal/config"
	"github.com/podstage/podstage/internal/fs"
	"github.com/podstage/podstage/internal/lock"
	"github.com/podstage/podstage/internal/log"
	"github.com/podstage/podstage/internal/quadlet"
)

const (
	manifestFileName = "manifest.yaml"
	volumesDirName   = "volumes"
	timestampLayout  = "20060102-150405"
)

// Sentinel errors callers branch on.
var (
	ErrBackupNotFound = errors.New("backup not found")
	ErrNotInstalled   = errors.New("unit-set is not installed")
	ErrUnknownUnitSet = errors.New("unit-set is not configured")
)

// VolumeStore is the volume interface the backup manager consumes.
// Every call carries the unit-set's scope so a user-scoped set's
// volumes come from the rootless engine.
type VolumeStore interface {
	Exists(ctx context.Context, name string, userMode bool) (bool, error)
	Create(ctx context.Context, name string, userMode bool) error
	Remove(ctx context.Context, name string, userMode bool) error
	Export(ctx context.Context, name, destArchive string, userMode bool) error
	Import(ctx context.Context, name, srcArchive string, userMode bool) error
}

// ServiceController is the init-system interface the backup manager
// consumes. Every call carries the unit-set's scope.
type ServiceController interface {
	DaemonReload(ctx context.Context, userMode bool) error
	StartUnits(ctx context.Context, services []string, userMode bool) error
	StopUnits(ctx context.Context, services []string, userMode bool) error
}

// Result is the outcome for one unit-set in a batch operation.
type Result struct {
	Name        string
	TimestampID string
	Skipped     bool
	Reason      string
	Err         error
}

// Snapshot summarizes one backup for listings.
type Snapshot struct {
	Name        string
	TimestampID string
	BackedUpAt  time.Time
	Files       int
	Volumes     int
	HasManifest bool
}

// Manager snapshots and restores installed unit-sets.
type Manager struct {
	cfg     *config.Settings
	store   VolumeStore
	control ServiceController
	logger  log.Logger

	now func() time.Time
}

// NewManager creates a backup manager.
func NewManager(cfg *config.Settings, store VolumeStore, control ServiceController, logger log.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		store:   store,
		control: control,
		logger:  logger,
		now:     time.Now,
	}
}

// Backup snapshots each named unit-set, isolating per-item failures.
// The returned error is non-nil when any item failed.
func (m *Manager) Backup(ctx context.Context, names []string) ([]Result, error) {
	units, err := resolveUnits(m.cfg, names)
	if err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(units))
	failed := 0
	for _, unit := range units {
		result := m.backupWithLock(ctx, unit)
		if result.Err != nil {
			failed++
		}
		results = append(results, result)
	}

	if failed > 0 {
		return results, fmt.Errorf("%d unit-set(s) failed to back up", failed)
	}
	return results, nil
}

func (m *Manager) backupWithLock(ctx context.Context, unit config.UnitConfig) Result {
	if unit.ManagedExternally {
		return Result{Name: unit.Name, Skipped: true, Reason: "managed externally"}
	}

	l, err := lock.Acquire(m.cfg.LockDir, unit.Name)
	if err != nil {
		return Result{Name: unit.Name, Err: err}
	}
	defer func() { _ = l.Release() }()

	manifest, err := m.BackupUnit(ctx, unit)
	if err != nil {
		if errors.Is(err, ErrNotInstalled) {
			return Result{Name: unit.Name, Skipped: true, Reason: "not installed"}
		}
		return Result{Name: unit.Name, Err: err}
	}
	return Result{Name: unit.Name, TimestampID: manifest.TimestampID}
}

// BackupUnit snapshots one installed unit-set: its file tree plus an
// archive of every referenced volume that currently exists. The caller
// is responsible for holding the unit-set lock. A volume export failure
// is logged and skipped so the remaining files and volumes still get
// snapshotted.
func (m *Manager) BackupUnit(ctx context.Context, unit config.UnitConfig) (*Manifest, error) {
	installDir := m.cfg.InstallDir(unit)
	if !fs.IsNonEmptyDir(installDir) {
		return nil, fmt.Errorf("%w: %s", ErrNotInstalled, unit.Name)
	}

	setDir := filepath.Join(m.cfg.BackupDir, unit.Name)
	backedUpAt := m.now()
	timestampID := uniqueTimestampID(setDir, backedUpAt)
	snapshotDir := filepath.Join(setDir, timestampID)

	m.logger.Info("Backing up unit-set", "name", unit.Name, "id", timestampID)

	if err := fs.CopyTree(installDir, snapshotDir, nil); err != nil {
		_ = os.RemoveAll(snapshotDir)
		return nil, fmt.Errorf("failed to snapshot %s: %w", unit.Name, err)
	}

	files, err := fs.ListFiles(snapshotDir)
	if err != nil {
		_ = os.RemoveAll(snapshotDir)
		return nil, err
	}

	archived := m.exportVolumes(ctx, snapshotDir, files, m.cfg.UnitUserMode(unit))

	manifest := &Manifest{
		Name:        unit.Name,
		Scope:       m.cfg.UnitScope(unit),
		BackedUpAt:  backedUpAt,
		TimestampID: timestampID,
		Files:       files,
		Volumes:     archived,
	}
	if err := manifest.Save(filepath.Join(snapshotDir, manifestFileName)); err != nil {
		_ = os.RemoveAll(snapshotDir)
		return nil, err
	}

	return manifest, nil
}

// exportVolumes archives every named volume referenced by container
// units in the snapshot. Only volumes that exist in the engine's store
// are exported; the returned list names the archives actually written.
func (m *Manager) exportVolumes(ctx context.Context, snapshotDir string, files []string, userMode bool) []string {
	seen := make(map[string]struct{})
	var archived []string

	for _, file := range files {
		if !strings.HasSuffix(file, ".container") {
			continue
		}

		unit, err := quadlet.ParseFile(filepath.Join(snapshotDir, filepath.FromSlash(file)))
		if err != nil {
			m.logger.Warn("Skipping unparsable container unit during volume export", "file", file, "error", err)
			continue
		}

		for _, ref := range unit.Volumes() {
			if _, dup := seen[ref.Name]; dup {
				continue
			}
			seen[ref.Name] = struct{}{}

			exists, err := m.store.Exists(ctx, ref.Name, userMode)
			if err != nil {
				m.logger.Warn("Could not check volume, skipping export", "volume", ref.Name, "error", err)
				continue
			}
			if !exists {
				m.logger.Debug("Volume does not exist yet, nothing to export", "volume", ref.Name)
				continue
			}

			archive := filepath.Join(snapshotDir, volumesDirName, ref.Name+".tar")
			if err := os.MkdirAll(filepath.Dir(archive), 0o755); err != nil {
				m.logger.Warn("Could not create volumes directory", "error", err)
				continue
			}
			if err := m.store.Export(ctx, ref.Name, archive, userMode); err != nil {
				m.logger.Warn("Volume export failed, continuing with remaining volumes",
					"volume", ref.Name, "error", err)
				continue
			}
			archived = append(archived, ref.Name)
		}
	}

	sort.Strings(archived)
	return archived
}

// Restore replaces the installed unit-set with a backup snapshot and
// re-imports its archived volumes. An empty backupID selects the latest
// snapshot. Restore is not atomic: a failure partway through is
// surfaced so the operator knows the unit-set may be partially
// restored.
func (m *Manager) Restore(ctx context.Context, name, backupID string) error {
	unit, ok := m.cfg.FindUnit(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownUnitSet, name)
	}
	if unit.ManagedExternally {
		return fmt.Errorf("unit-set %s is managed externally and cannot be restored", name)
	}

	l, err := lock.Acquire(m.cfg.LockDir, name)
	if err != nil {
		return err
	}
	defer func() { _ = l.Release() }()

	snapshotDir, err := m.resolveSnapshot(name, backupID)
	if err != nil {
		return err
	}

	manifest, err := LoadManifest(filepath.Join(snapshotDir, manifestFileName))
	if err != nil {
		m.logger.Warn("Backup has no readable manifest, falling back to directory contents",
			"name", name, "error", err)
		manifest = nil
	}

	userUnit := m.cfg.UnitUserMode(unit)
	installDir := m.cfg.InstallDir(unit)

	// Stop whatever is currently running before touching files.
	stopFiles, _ := fs.ListFiles(installDir)
	if len(stopFiles) == 0 {
		stopFiles, _ = fs.ListFiles(snapshotDir)
	}
	if err := m.control.StopUnits(ctx, quadlet.StartableServices(stopFiles), userUnit); err != nil {
		m.logger.Warn("Some services failed to stop before restore", "name", name, "error", err)
	}

	m.logger.Info("Restoring unit-set", "name", name, "from", filepath.Base(snapshotDir))

	// The volumes/ archives and the manifest are snapshot metadata, not
	// unit files; they must not land in the live config directory.
	skip := fs.SkipPrefix(volumesDirName, manifestFileName)
	if err := fs.ReplaceTree(snapshotDir, installDir, skip); err != nil {
		return fmt.Errorf("restore of %s left a partially replaced directory: %w", name, err)
	}

	volErr := m.importVolumes(ctx, snapshotDir, manifest, userUnit)

	if err := m.control.DaemonReload(ctx, userUnit); err != nil {
		return errors.Join(volErr, err)
	}

	if unit.SetupDelay > 0 {
		time.Sleep(unit.SetupDelay)
	}

	restoredFiles, err := fs.ListFiles(installDir)
	if err != nil {
		return errors.Join(volErr, err)
	}
	startErr := m.control.StartUnits(ctx, quadlet.StartableServices(restoredFiles), userUnit)

	return errors.Join(volErr, startErr)
}

// importVolumes recreates and refills every archived volume. Failures
// are collected so the remaining volumes still get restored, and the
// joined error makes the partial state visible.
func (m *Manager) importVolumes(ctx context.Context, snapshotDir string, manifest *Manifest, userMode bool) error {
	names := manifest.volumeNames()
	if names == nil {
		// Manifests written before the explicit inventory fall back to
		// the archive directory contents.
		names = archivedVolumeNames(filepath.Join(snapshotDir, volumesDirName))
	}

	var errs []error
	for _, name := range names {
		archive := filepath.Join(snapshotDir, volumesDirName, name+".tar")
		if !fs.Exists(archive) {
			errs = append(errs, fmt.Errorf("volume archive missing for %s", name))
			continue
		}

		exists, err := m.store.Exists(ctx, name, userMode)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if exists {
			if err := m.store.Remove(ctx, name, userMode); err != nil {
				errs = append(errs, err)
				continue
			}
		}
		if err := m.store.Create(ctx, name, userMode); err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.store.Import(ctx, name, archive, userMode); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manifest) volumeNames() []string {
	if m == nil {
		return nil
	}
	return m.Volumes
}

// ListBackups enumerates snapshots newest-first. An empty name lists
// every unit-set that has any backups. Listing never mutates state.
func (m *Manager) ListBackups(name string) ([]Snapshot, error) {
	var setNames []string
	if name != "" {
		setNames = []string{name}
	} else {
		entries, err := os.ReadDir(m.cfg.BackupDir)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, nil
			}
			return nil, fmt.Errorf("failed to read backup directory: %w", err)
		}
		for _, e := range entries {
			if e.IsDir() {
				setNames = append(setNames, e.Name())
			}
		}
		sort.Strings(setNames)
	}

	var snapshots []Snapshot
	for _, setName := range setNames {
		setDir := filepath.Join(m.cfg.BackupDir, setName)
		ids, err := snapshotIDs(setDir)
		if err != nil {
			return nil, err
		}

		// Timestamp ids are time-sortable by construction.
		sort.Sort(sort.Reverse(sort.StringSlice(ids)))

		for _, id := range ids {
			snap := Snapshot{Name: setName, TimestampID: id}
			if manifest, err := LoadManifest(filepath.Join(setDir, id, manifestFileName)); err == nil {
				snap.BackedUpAt = manifest.BackedUpAt
				snap.Files = len(manifest.Files)
				snap.Volumes = len(manifest.Volumes)
				snap.HasManifest = true
			}
			snapshots = append(snapshots, snap)
		}
	}

	return snapshots, nil
}

func (m *Manager) resolveSnapshot(name, backupID string) (string, error) {
	setDir := filepath.Join(m.cfg.BackupDir, name)

	if backupID != "" {
		dir := filepath.Join(setDir, backupID)
		if !fs.IsNonEmptyDir(dir) {
			return "", fmt.Errorf("%w: %s/%s", ErrBackupNotFound, name, backupID)
		}
		return dir, nil
	}

	ids, err := snapshotIDs(setDir)
	if err != nil || len(ids) == 0 {
		return "", fmt.Errorf("%w: no backups for %s", ErrBackupNotFound, name)
	}
	sort.Strings(ids)
	return filepath.Join(setDir, ids[len(ids)-1]), nil
}

// uniqueTimestampID generates a time-sortable snapshot id unique within
// the unit-set's backup history; second-resolution collisions get a
// numeric suffix.
func uniqueTimestampID(setDir string, at time.Time) string {
	base := at.Format(timestampLayout)
	id := base
	for n := 2; fs.Exists(filepath.Join(setDir, id)); n++ {
		id = fmt.Sprintf("%s-%d", base, n)
	}
	return id
}

// archivedVolumeNames lists volume names by their .tar archives in the
// snapshot's volumes directory.
func archivedVolumeNames(volumesDir string) []string {
	entries, err := os.ReadDir(volumesDir)
	if err != nil {
		return nil
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".tar") {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".tar"))
	}
	sort.Strings(names)
	return names
}

func snapshotIDs(setDir string) ([]string, error) {
	entries, err := os.ReadDir(setDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read backups for %s: %w", filepath.Base(setDir), err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	return ids, nil
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
