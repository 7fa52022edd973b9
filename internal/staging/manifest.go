// Package staging fetches unit-set sources into a staging area,
// validates them and promotes them into the live quadlet tree.
package staging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest records one staged unit-set: where it came from and exactly
// which files were staged.
type Manifest struct {
	Name     string    `yaml:"name"`
	Source   string    `yaml:"source"`
	Branch   string    `yaml:"branch,omitempty"`
	StagedAt time.Time `yaml:"stagedAt"`
	Files    []string  `yaml:"files"`
}

// LoadManifest reads a staging manifest from disk.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Manifests live under the managed staging tree
	if err != nil {
		return nil, fmt.Errorf("failed to read staging manifest: %w", err)
	}

	m := &Manifest{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("failed to parse staging manifest: %w", err)
	}
	return m, nil
}

// Save writes the manifest to disk, creating parent directories as
// needed.
func (m *Manifest) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create staging manifest directory: %w", err)
	}

	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to marshal staging manifest: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write staging manifest: %w", err)
	}
	return nil
}
