package systemd

import (
	"context"
	"errors"
	"fmt"

	"github.com/podstage/podstage/internal/log"
)

// Client is the service controller used by the staging and backup
// managers: a thin wrapper over init-system reload, stop and start.
// Every operation takes the target scope, so one invocation can manage
// system-scoped and user-scoped unit-sets side by side. Each operation
// opens a fresh connection so a stale bus connection cannot poison
// later calls.
type Client struct {
	factory ConnectionFactory
	logger  log.Logger
}

// NewClient creates a Client.
func NewClient(factory ConnectionFactory, logger log.Logger) *Client {
	return &Client{factory: factory, logger: logger}
}

// DaemonReload reloads systemd configuration so newly installed or
// removed quadlet files are picked up by the generator.
func (c *Client) DaemonReload(ctx context.Context, userMode bool) error {
	conn, err := c.factory.NewConnection(ctx, userMode)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	c.logger.Debug("Reloading systemd daemon", "userMode", userMode)
	return conn.Reload(ctx)
}

// StartUnit starts a service, resetting a failed state first so a
// previously crashed unit can come back up.
func (c *Client) StartUnit(ctx context.Context, service string, userMode bool) error {
	conn, err := c.factory.NewConnection(ctx, userMode)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	_ = conn.ResetFailedUnit(ctx, service)

	c.logger.Debug("Starting unit", "name", service, "userMode", userMode)
	ch, err := conn.StartUnit(ctx, service, "replace")
	if err != nil {
		return err
	}
	return waitJob(ctx, service, "start", ch)
}

// StopUnit stops a service. Stopping a unit that is not loaded is not
// an error: the caller is converging toward "not running" either way.
func (c *Client) StopUnit(ctx context.Context, service string, userMode bool) error {
	conn, err := c.factory.NewConnection(ctx, userMode)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	c.logger.Debug("Stopping unit", "name", service, "userMode", userMode)
	ch, err := conn.StopUnit(ctx, service, "replace")
	if err != nil {
		return err
	}
	return waitJob(ctx, service, "stop", ch)
}

// RestartUnit restarts a service.
func (c *Client) RestartUnit(ctx context.Context, service string, userMode bool) error {
	conn, err := c.factory.NewConnection(ctx, userMode)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	c.logger.Debug("Restarting unit", "name", service, "userMode", userMode)
	ch, err := conn.RestartUnit(ctx, service, "replace")
	if err != nil {
		return err
	}
	return waitJob(ctx, service, "restart", ch)
}

// StopUnits stops every service in the list, collecting failures rather
// than aborting, so one stuck unit does not strand its siblings.
func (c *Client) StopUnits(ctx context.Context, services []string, userMode bool) error {
	var errs []error
	for _, service := range services {
		if err := c.StopUnit(ctx, service, userMode); err != nil {
			c.logger.Warn("Failed to stop unit", "name", service, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StartUnits starts every service in the list, collecting failures.
func (c *Client) StartUnits(ctx context.Context, services []string, userMode bool) error {
	var errs []error
	for _, service := range services {
		if err := c.StartUnit(ctx, service, userMode); err != nil {
			c.logger.Warn("Failed to start unit", "name", service, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// waitJob waits for a systemd job result. Anything but "done" is a
// failure.
func waitJob(ctx context.Context, service, op string, ch chan string) error {
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("unit %s failed for %s: %s", op, service, result)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("unit %s interrupted for %s: %w", op, service, ctx.Err())
	}
}
