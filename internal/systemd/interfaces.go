// Package systemd provides init-system control for unit-set services.
package systemd

import "context"

// Connection wraps systemd D-Bus operations for testability.
type Connection interface {
	// StartUnit starts a systemd unit and returns its job result channel.
	StartUnit(ctx context.Context, unitName, mode string) (chan string, error)

	// StopUnit stops a systemd unit and returns its job result channel.
	StopUnit(ctx context.Context, unitName, mode string) (chan string, error)

	// RestartUnit restarts a systemd unit and returns its job result channel.
	RestartUnit(ctx context.Context, unitName, mode string) (chan string, error)

	// ResetFailedUnit resets the failed state of a unit.
	ResetFailedUnit(ctx context.Context, unitName string) error

	// Reload reloads systemd configuration.
	Reload(ctx context.Context) error

	// Close closes the connection.
	Close() error
}

// ConnectionFactory creates Connection instances for the configured
// init-system scope.
type ConnectionFactory interface {
	// NewConnection creates a new systemd connection, user or system bus.
	NewConnection(ctx context.Context, userMode bool) (Connection, error)
}
