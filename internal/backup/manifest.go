// Package backup snapshots installed unit-sets, including their
// persistent volumes, and restores them on demand.
package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest records one backup snapshot. The volume inventory is
// explicit and authoritative; the volumes/ directory is just where the
// archives live.
type Manifest struct {
	Name        string    `yaml:"name"`
	Scope       string    `yaml:"scope"`
	BackedUpAt  time.Time `yaml:"backedUpAt"`
	TimestampID string    `yaml:"timestampId"`
	Files       []string  `yaml:"files"`
	Volumes     []string  `yaml:"volumes,omitempty"`
}

// LoadManifest reads a backup manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Manifests live under the managed backup tree
	if err != nil {
		return nil, fmt.Errorf("failed to read backup manifest: %w", err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse backup manifest: %w", err)
	}
	return m, nil
}

// Save writes the manifest to disk, creating parent directories as
// needed.
func (m *Manifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal backup manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write backup manifest: %w", err)
	}
	return nil
}
