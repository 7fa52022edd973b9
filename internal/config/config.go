// Package config provides configuration management for podstage.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Provider defines the interface for configuration providers.
type Provider interface {
	// GetConfig returns the current application configuration.
	GetConfig() *Settings
	// SetConfig sets the application configuration.
	SetConfig(c *Settings)
	// InitConfig initializes the application configuration.
	InitConfig() *Settings
	// SetConfigFilePath sets the configuration file path.
	SetConfigFilePath(p string)
}

// defaultConfigProvider implements the Provider interface.
type defaultConfigProvider struct {
	cfg *Settings
}

// NewDefaultConfigProvider creates a new default config provider.
func NewDefaultConfigProvider() Provider {
	return &defaultConfigProvider{}
}

var defaultProvider = NewDefaultConfigProvider()

// Default configuration values for the podstage directory trees. The
// staging, backup and lock areas are deliberately separate from the live
// quadlet tree so that a staged or snapshotted unit-set is never picked
// up by the systemd generator.
const (
	DefaultQuadletDir     = "/etc/containers/systemd"
	DefaultStagingDir     = "/var/lib/podstage/staging"
	DefaultBackupDir      = "/var/lib/podstage/backups"
	DefaultLockDir        = "/var/lib/podstage/locks"
	DefaultUserQuadletDir = "$HOME/.config/containers/systemd"
	DefaultUserStagingDir = "$HOME/.local/share/podstage/staging"
	DefaultUserBackupDir  = "$HOME/.local/share/podstage/backups"
	DefaultUserLockDir    = "$HOME/.local/share/podstage/locks"
	DefaultUserMode       = false
	DefaultVerbose        = false
)

// Unit-set scopes. Scope decides which init-system context the set runs
// under and therefore which quadlet tree its files are installed to.
const (
	ScopeSystem = "system"
	ScopeUser   = "user"
)

// UnitConfig describes one configured deployable unit-set. Entries are
// read once at startup and treated as immutable during a run.
type UnitConfig struct {
	Name              string        `yaml:"name"`
	Source            string        `yaml:"source,omitempty"`
	Scope             string        `yaml:"scope,omitempty"`
	Branch            string        `yaml:"branch,omitempty"`
	ManagedExternally bool          `yaml:"managedExternally,omitempty"`
	SetupDelay        time.Duration `yaml:"setupDelay,omitempty"`
}

// IsFetchable reports whether the unit-set has a source that can be
// staged. Externally managed sets and sets without a source are only
// discovered, never staged or overwritten.
func (u UnitConfig) IsFetchable() bool {
	return !u.ManagedExternally && u.Source != ""
}

// Settings represents the configuration for podstage: the directory
// trees it manages and the unit-sets it is responsible for.
type Settings struct {
	QuadletDir string       `yaml:"quadletDir"`
	StagingDir string       `yaml:"stagingDir"`
	BackupDir  string       `yaml:"backupDir"`
	LockDir    string       `yaml:"lockDir"`
	UserMode   bool         `yaml:"userMode"`
	Verbose    bool         `yaml:"verbose"`
	Units      []UnitConfig `yaml:"units"`
}

// FindUnit returns the configured unit-set with the given name.
func (s *Settings) FindUnit(name string) (UnitConfig, bool) {
	for _, u := range s.Units {
		if u.Name == name {
			return u, true
		}
	}
	return UnitConfig{}, false
}

// UnitNames returns the names of all configured unit-sets in order.
func (s *Settings) UnitNames() []string {
	names := make([]string, 0, len(s.Units))
	for _, u := range s.Units {
		names = append(names, u.Name)
	}
	return names
}

// UnitUserMode reports whether a unit-set runs under the per-user
// init-system context, either because the whole run is in user mode or
// because the set itself is scoped to a user. File placement, service
// control and volume operations all follow this one answer so a
// user-scoped set never ends up split across both worlds.
func (s *Settings) UnitUserMode(u UnitConfig) bool {
	return s.UserMode || u.Scope == ScopeUser
}

// UnitScope returns the effective scope name for a unit-set.
func (s *Settings) UnitScope(u UnitConfig) string {
	if s.UnitUserMode(u) {
		return ScopeUser
	}
	return ScopeSystem
}

// InstallDir returns the live install directory for a unit-set: one
// subdirectory per set under the scope's quadlet tree. An explicitly
// overridden quadlet dir wins for every scope.
func (s *Settings) InstallDir(u UnitConfig) string {
	dir := s.QuadletDir
	if s.UnitUserMode(u) && s.QuadletDir == DefaultQuadletDir {
		dir = os.ExpandEnv(DefaultUserQuadletDir)
	}
	return filepath.Join(dir, u.Name)
}

// StagingUnitsDir returns the directory holding staged unit-set trees.
func (s *Settings) StagingUnitsDir() string {
	return filepath.Join(s.StagingDir, "units")
}

// StagingManifestDir returns the directory holding staging manifests.
func (s *Settings) StagingManifestDir() string {
	return filepath.Join(s.StagingDir, "manifests")
}

// ApplyUserMode switches all default directory trees to their per-user
// locations. Explicitly overridden paths are left alone.
func (s *Settings) ApplyUserMode() {
	s.UserMode = true
	if s.QuadletDir == DefaultQuadletDir {
		s.QuadletDir = os.ExpandEnv(DefaultUserQuadletDir)
	}
	if s.StagingDir == DefaultStagingDir {
		s.StagingDir = os.ExpandEnv(DefaultUserStagingDir)
	}
	if s.BackupDir == DefaultBackupDir {
		s.BackupDir = os.ExpandEnv(DefaultUserBackupDir)
	}
	if s.LockDir == DefaultLockDir {
		s.LockDir = os.ExpandEnv(DefaultUserLockDir)
	}
}

// Implementation of Provider methods for defaultConfigProvider

func (p *defaultConfigProvider) SetConfig(c *Settings) {
	p.cfg = c
}

func (p *defaultConfigProvider) GetConfig() *Settings {
	return p.cfg
}

func (p *defaultConfigProvider) SetConfigFilePath(path string) {
	viper.SetConfigFile(path)
}

func (p *defaultConfigProvider) InitConfig() *Settings {
	p.cfg = initConfigInternal()
	return p.cfg
}

// Pass-throughs to the default provider.

// SetConfig sets the application configuration.
func SetConfig(c *Settings) {
	defaultProvider.SetConfig(c)
}

// GetConfig returns the current application configuration.
func GetConfig() *Settings {
	return defaultProvider.GetConfig()
}

// SetConfigFilePath sets the configuration file path.
func SetConfigFilePath(p string) {
	defaultProvider.SetConfigFilePath(p)
}

// InitConfig initializes the application configuration.
func InitConfig() *Settings {
	return defaultProvider.InitConfig()
}

// DefaultProvider returns the process-wide configuration provider.
func DefaultProvider() Provider {
	return defaultProvider
}

func initConfigInternal() *Settings {
	cfg := &Settings{
		QuadletDir: DefaultQuadletDir,
		StagingDir: DefaultStagingDir,
		BackupDir:  DefaultBackupDir,
		LockDir:    DefaultLockDir,
		UserMode:   DefaultUserMode,
		Verbose:    DefaultVerbose,
	}

	viper.SetDefault("quadletDir", DefaultQuadletDir)
	viper.SetDefault("stagingDir", DefaultStagingDir)
	viper.SetDefault("backupDir", DefaultBackupDir)
	viper.SetDefault("lockDir", DefaultLockDir)
	viper.SetDefault("userMode", DefaultUserMode)
	viper.SetDefault("verbose", DefaultVerbose)

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(os.ExpandEnv("$HOME/.config/podstage"))
	viper.AddConfigPath("/etc/podstage")
	viper.AddConfigPath(".")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			panic(err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		panic(err)
	}

	return cfg
}
