package backup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/podstage/podstage/internal/config"
	"github.com/podstage/podstage/internal/fs"
	"github.com/podstage/podstage/internal/log"
)

type fakeVolumeStore struct {
	existing map[string]bool

	exported []string
	imported []string
	created  []string
	removed  []string

	exportErr error

	userModes []bool
}

func (f *fakeVolumeStore) Exists(_ context.Context, name string, userMode bool) (bool, error) {
	f.userModes = append(f.userModes, userMode)
	return f.existing[name], nil
}

func (f *fakeVolumeStore) Create(_ context.Context, name string, userMode bool) error {
	f.created = append(f.created, name)
	f.userModes = append(f.userModes, userMode)
	if f.existing == nil {
		f.existing = make(map[string]bool)
	}
	f.existing[name] = true
	return nil
}

func (f *fakeVolumeStore) Remove(_ context.Context, name string, userMode bool) error {
	f.removed = append(f.removed, name)
	f.userModes = append(f.userModes, userMode)
	delete(f.existing, name)
	return nil
}

func (f *fakeVolumeStore) Export(_ context.Context, name, destArchive string, userMode bool) error {
	f.userModes = append(f.userModes, userMode)
	if f.exportErr != nil {
		return f.exportErr
	}
	if err := os.WriteFile(destArchive, []byte("tar:"+name), 0600); err != nil {
		return err
	}
	f.exported = append(f.exported, name)
	return nil
}

func (f *fakeVolumeStore) Import(_ context.Context, name, srcArchive string, userMode bool) error {
	f.userModes = append(f.userModes, userMode)
	if _, err := os.Stat(srcArchive); err != nil {
		return err
	}
	f.imported = append(f.imported, name)
	return nil
}

type fakeControl struct {
	reloads int
	started [][]string
	stopped [][]string

	userModes []bool
}

func (f *fakeControl) DaemonReload(_ context.Context, userMode bool) error {
	f.reloads++
	f.userModes = append(f.userModes, userMode)
	return nil
}

func (f *fakeControl) StartUnits(_ context.Context, services []string, userMode bool) error {
	f.started = append(f.started, services)
	f.userModes = append(f.userModes, userMode)
	return nil
}

func (f *fakeControl) StopUnits(_ context.Context, services []string, userMode bool) error {
	f.stopped = append(f.stopped, services)
	f.userModes = append(f.userModes, userMode)
	return nil
}

type testEnv struct {
	cfg     *config.Settings
	store   *fakeVolumeStore
	control *fakeControl
	mgr     *Manager
}

func newTestEnv(t *testing.T, units ...config.UnitConfig) *testEnv {
	t.Helper()
	base := t.TempDir()
	cfg := &config.Settings{
		QuadletDir: filepath.Join(base, "quadlets"),
		StagingDir: filepath.Join(base, "staging"),
		BackupDir:  filepath.Join(base, "backups"),
		LockDir:    filepath.Join(base, "locks"),
		Units:      units,
	}

	store := &fakeVolumeStore{existing: map[string]bool{}}
	control := &fakeControl{}
	mgr := NewManager(cfg, store, control, log.NewLogger(false))

	return &testEnv{cfg: cfg, store: store, control: control, mgr: mgr}
}

func webStack() config.UnitConfig {
	return config.UnitConfig{Name: "web-stack"}
}

func installUnitSet(t *testing.T, env *testEnv, files map[string]string) {
	t.Helper()
	installDir := env.cfg.InstallDir(webStack())
	require.NoError(t, os.MkdirAll(installDir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(installDir, name), []byte(content), 0600))
	}
}

func TestBackupUnitNotInstalled(t *testing.T) {
	env := newTestEnv(t, webStack())

	_, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotInstalled))
}

func TestBackupUnitSnapshotsFilesAndVolumes(t *testing.T) {
	env := newTestEnv(t, webStack())
	env.store.existing["web-data"] = true
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:latest\nVolume=web-data:/var/www\nVolume=missing-vol:/tmp/x\n",
		"helper.service": "[Service]\nExecStart=/bin/true\n",
	})

	manifest, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)

	assert.Equal(t, "web-stack", manifest.Name)
	assert.Equal(t, config.ScopeSystem, manifest.Scope)
	assert.Equal(t, []string{"helper.service", "web.container"}, manifest.Files)

	// Only the volume that exists in the engine is archived.
	assert.Equal(t, []string{"web-data"}, manifest.Volumes)
	assert.Equal(t, []string{"web-data"}, env.store.exported)

	snapshotDir := filepath.Join(env.cfg.BackupDir, "web-stack", manifest.TimestampID)
	assert.True(t, fs.Exists(filepath.Join(snapshotDir, "web.container")))
	assert.True(t, fs.Exists(filepath.Join(snapshotDir, "volumes", "web-data.tar")))

	loaded, err := LoadManifest(filepath.Join(snapshotDir, "manifest.yaml"))
	require.NoError(t, err)
	assert.Equal(t, manifest.Volumes, loaded.Volumes)
}

func TestBackupUnitVolumeExportFailureIsNotFatal(t *testing.T) {
	env := newTestEnv(t, webStack())
	env.store.existing["web-data"] = true
	env.store.exportErr = errors.New("export failed")
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:latest\nVolume=web-data:/var/www\n",
	})

	manifest, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)

	// Files are snapshotted even though the volume export failed, and
	// the failed volume is not claimed by the manifest.
	assert.Equal(t, []string{"web.container"}, manifest.Files)
	assert.Empty(t, manifest.Volumes)
}

func TestBackupTimestampCollision(t *testing.T) {
	env := newTestEnv(t, webStack())
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:latest\n",
	})

	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	env.mgr.now = func() time.Time { return fixed }

	first, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)
	second, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)

	assert.Equal(t, "20260830-120000", first.TimestampID)
	assert.Equal(t, "20260830-120000-2", second.TimestampID)
}

func TestBackupBatch(t *testing.T) {
	env := newTestEnv(t, webStack(), config.UnitConfig{Name: "not-installed"})
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:latest\n",
	})

	results, err := env.mgr.Backup(context.Background(), []string{"all"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	assert.NotEmpty(t, results[0].TimestampID)
	assert.True(t, results[1].Skipped)
}

func TestBackupUnknownUnitSet(t *testing.T) {
	env := newTestEnv(t, webStack())

	_, err := env.mgr.Backup(context.Background(), []string{"missing"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownUnitSet))
}

func TestRestoreRoundTrip(t *testing.T) {
	env := newTestEnv(t, webStack())
	env.store.existing["web-data"] = true
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:1.25\nVolume=web-data:/var/www\n",
	})

	_, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)

	// The installation drifts after the backup.
	installDir := env.cfg.InstallDir(webStack())
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "web.container"),
		[]byte("[Container]\nImage=nginx:1.26\nVolume=web-data:/var/www\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "extra.network"), []byte("[Network]\n"), 0600))

	require.NoError(t, env.mgr.Restore(context.Background(), "web-stack", ""))

	data, err := os.ReadFile(filepath.Join(installDir, "web.container"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "nginx:1.25")
	assert.False(t, fs.Exists(filepath.Join(installDir, "extra.network")))

	// Snapshot metadata never lands in the live tree.
	assert.False(t, fs.Exists(filepath.Join(installDir, "manifest.yaml")))
	assert.False(t, fs.Exists(filepath.Join(installDir, "volumes")))

	// The volume was recreated from its archive.
	assert.Equal(t, []string{"web-data"}, env.store.removed)
	assert.Equal(t, []string{"web-data"}, env.store.created)
	assert.Equal(t, []string{"web-data"}, env.store.imported)

	assert.Equal(t, 1, env.control.reloads)
	require.Len(t, env.control.stopped, 1)
	require.Len(t, env.control.started, 1)
	assert.Equal(t, []string{"web.service"}, env.control.started[0])
}

func TestUserScopedSetUsesUserEngineAndBus(t *testing.T) {
	unit := config.UnitConfig{Name: "web-stack", Scope: config.ScopeUser}
	env := newTestEnv(t, unit)
	env.store.existing["web-data"] = true

	installDir := env.cfg.InstallDir(unit)
	require.NoError(t, os.MkdirAll(installDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "web.container"),
		[]byte("[Container]\nImage=nginx:latest\nVolume=web-data:/var/www\n"), 0600))

	manifest, err := env.mgr.BackupUnit(context.Background(), unit)
	require.NoError(t, err)
	assert.Equal(t, config.ScopeUser, manifest.Scope)

	require.NoError(t, env.mgr.Restore(context.Background(), "web-stack", ""))

	// Every volume and service operation for the user-scoped set carries
	// the user scope, so files, services and volumes stay in one world.
	require.NotEmpty(t, env.store.userModes)
	for _, userMode := range env.store.userModes {
		assert.True(t, userMode)
	}
	require.NotEmpty(t, env.control.userModes)
	for _, userMode := range env.control.userModes {
		assert.True(t, userMode)
	}
}

func TestRestorePicksLatestSnapshot(t *testing.T) {
	env := newTestEnv(t, webStack())
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:1.25\n",
	})

	times := []time.Time{
		time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
	idx := 0
	env.mgr.now = func() time.Time { t := times[idx]; idx++; return t }

	_, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)

	installDir := env.cfg.InstallDir(webStack())
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "web.container"),
		[]byte("[Container]\nImage=nginx:1.26\n"), 0600))
	_, err = env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(installDir, "web.container"),
		[]byte("[Container]\nImage=nginx:1.27\n"), 0600))

	require.NoError(t, env.mgr.Restore(context.Background(), "web-stack", ""))

	data, err := os.ReadFile(filepath.Join(installDir, "web.container"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "nginx:1.26")
}

func TestRestoreExplicitSnapshot(t *testing.T) {
	env := newTestEnv(t, webStack())
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:1.25\n",
	})

	manifest, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)

	installDir := env.cfg.InstallDir(webStack())
	require.NoError(t, os.WriteFile(filepath.Join(installDir, "web.container"),
		[]byte("[Container]\nImage=nginx:1.27\n"), 0600))

	require.NoError(t, env.mgr.Restore(context.Background(), "web-stack", manifest.TimestampID))

	data, err := os.ReadFile(filepath.Join(installDir, "web.container"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "nginx:1.25")
}

func TestRestoreBackupNotFound(t *testing.T) {
	env := newTestEnv(t, webStack())

	err := env.mgr.Restore(context.Background(), "web-stack", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackupNotFound))

	err = env.mgr.Restore(context.Background(), "web-stack", "20990101-000000")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrBackupNotFound))
}

func TestRestoreUnknownUnitSet(t *testing.T) {
	env := newTestEnv(t, webStack())

	err := env.mgr.Restore(context.Background(), "missing", "")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownUnitSet))
}

func TestListBackupsNewestFirst(t *testing.T) {
	env := newTestEnv(t, webStack())
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:latest\n",
	})

	times := []time.Time{
		time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC),
		time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC),
	}
	idx := 0
	env.mgr.now = func() time.Time { t := times[idx]; idx++; return t }

	_, err := env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)
	_, err = env.mgr.BackupUnit(context.Background(), webStack())
	require.NoError(t, err)

	snapshots, err := env.mgr.ListBackups("web-stack")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)

	assert.Equal(t, "20260830-100000", snapshots[0].TimestampID)
	assert.Equal(t, "20260829-100000", snapshots[1].TimestampID)
	assert.True(t, snapshots[0].HasManifest)
	assert.Equal(t, 1, snapshots[0].Files)
}

func TestListBackupsAllSets(t *testing.T) {
	env := newTestEnv(t, webStack(), config.UnitConfig{Name: "db-stack"})
	installUnitSet(t, env, map[string]string{
		"web.container": "[Container]\nImage=nginx:latest\n",
	})

	dbDir := env.cfg.InstallDir(config.UnitConfig{Name: "db-stack"})
	require.NoError(t, os.MkdirAll(dbDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dbDir, "db.container"),
		[]byte("[Container]\nImage=postgres:16\n"), 0600))

	_, err := env.mgr.Backup(context.Background(), []string{"all"})
	require.NoError(t, err)

	snapshots, err := env.mgr.ListBackups("")
	require.NoError(t, err)
	require.Len(t, snapshots, 2)
}

func TestListBackupsEmpty(t *testing.T) {
	env := newTestEnv(t, webStack())

	snapshots, err := env.mgr.ListBackups("")
	require.NoError(t, err)
	assert.Empty(t, snapshots)
}
