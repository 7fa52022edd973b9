// Package podman provides access to the container engine's volume
// store.
package podman

import (
	"context"
	"fmt"
	"os"

	"github.com/containers/podman/v5/pkg/bindings"
	"github.com/containers/podman/v5/pkg/bindings/volumes"
	"github.com/containers/podman/v5/pkg/domain/entities"

	"github.com/podstage/podstage/internal/execx"
	"github.com/podstage/podstage/internal/log"
)

// VolumeStore is the narrow volume interface consumed by the validator
// and the backup manager. Every call names its scope: a user-scoped
// unit-set talks to the rootless engine even when podstage itself runs
// as root.
type VolumeStore interface {
	Exists(ctx context.Context, name string, userMode bool) (bool, error)
	Create(ctx context.Context, name string, userMode bool) error
	Remove(ctx context.Context, name string, userMode bool) error
	Export(ctx context.Context, name, destArchive string, userMode bool) error
	Import(ctx context.Context, name, srcArchive string, userMode bool) error
}

// BindingsStore implements VolumeStore against the podman API socket.
// Export and import shell out to the podman CLI through the runner:
// the REST bindings expose no volume archive endpoints, so the CLI is
// the only route for moving volume contents. The CLI is pointed at the
// same scope's socket so archives come from the engine that owns the
// volume.
type BindingsStore struct {
	logger log.Logger
	runner execx.Runner

	// connect is swappable for tests.
	connect func(ctx context.Context, userMode bool) (context.Context, error)
}

// NewBindingsStore creates a store that connects to the scope-appropriate
// podman socket per call.
func NewBindingsStore(logger log.Logger, runner execx.Runner) *BindingsStore {
	s := &BindingsStore{logger: logger, runner: runner}
	s.connect = func(ctx context.Context, userMode bool) (context.Context, error) {
		return bindings.NewConnection(ctx, socketURI(userMode))
	}
	return s
}

// Exists reports whether a named volume exists.
func (s *BindingsStore) Exists(ctx context.Context, name string, userMode bool) (bool, error) {
	conn, err := s.connect(ctx, userMode)
	if err != nil {
		return false, fmt.Errorf("failed to connect to podman: %w", err)
	}

	exists, err := volumes.Exists(conn, name, nil)
	if err != nil {
		return false, fmt.Errorf("failed to check volume %s: %w", name, err)
	}
	return exists, nil
}

// Create creates a named volume.
func (s *BindingsStore) Create(ctx context.Context, name string, userMode bool) error {
	conn, err := s.connect(ctx, userMode)
	if err != nil {
		return fmt.Errorf("failed to connect to podman: %w", err)
	}

	s.logger.Debug("Creating volume", "name", name, "userMode", userMode)
	if _, err := volumes.Create(conn, entities.VolumeCreateOptions{Name: name}, nil); err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	return nil
}

// Remove removes a named volume.
func (s *BindingsStore) Remove(ctx context.Context, name string, userMode bool) error {
	conn, err := s.connect(ctx, userMode)
	if err != nil {
		return fmt.Errorf("failed to connect to podman: %w", err)
	}

	s.logger.Debug("Removing volume", "name", name, "userMode", userMode)
	if err := volumes.Remove(conn, name, nil); err != nil {
		return fmt.Errorf("failed to remove volume %s: %w", name, err)
	}
	return nil
}

// Export writes the full contents of a volume to destArchive.
func (s *BindingsStore) Export(ctx context.Context, name, destArchive string, userMode bool) error {
	s.logger.Debug("Exporting volume", "name", name, "archive", destArchive, "userMode", userMode)

	out, err := s.runner.CombinedOutput(ctx, "podman", "--url", socketURI(userMode),
		"volume", "export", name, "--output", destArchive)
	if err != nil {
		return fmt.Errorf("failed to export volume %s: %w: %s", name, err, string(out))
	}
	return nil
}

// Import loads the contents of srcArchive into an existing volume.
func (s *BindingsStore) Import(ctx context.Context, name, srcArchive string, userMode bool) error {
	s.logger.Debug("Importing volume", "name", name, "archive", srcArchive, "userMode", userMode)

	out, err := s.runner.CombinedOutput(ctx, "podman", "--url", socketURI(userMode),
		"volume", "import", name, srcArchive)
	if err != nil {
		return fmt.Errorf("failed to import volume %s: %w: %s", name, err, string(out))
	}
	return nil
}

func socketURI(userMode bool) string {
	if userMode {
		runtimeDir := os.Getenv("XDG_RUNTIME_DIR")
		if runtimeDir == "" {
			runtimeDir = fmt.Sprintf("/run/user/%d", os.Getuid())
		}
		return "unix://" + runtimeDir + "/podman/podman.sock"
	}
	return "unix:///run/podman/podman.sock"
}
