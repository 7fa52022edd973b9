// Package validate checks unit-set directories for structural problems
// and live system conflicts before they are staged.
package validate

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/podstage/podstage/internal/log"
	"github.com/podstage/podstage/internal/quadlet"
)

// Issue is a single validation finding tied to a file.
type Issue struct {
	File    string
	Message string
}

func (i Issue) String() string {
	if i.File == "" {
		return i.Message
	}
	return fmt.Sprintf("%s: %s", i.File, i.Message)
}

// Report aggregates everything found while validating a unit-set
// directory. It is ephemeral: callers act on it and throw it away.
// A non-empty Errors slice fails the set; Warnings never block.
type Report struct {
	Errors       []Issue
	Warnings     []Issue
	Dependencies []quadlet.DependencyEdge
	Ports        []quadlet.PortBinding
	Volumes      []quadlet.VolumeRef
	Files        []string
	Passthrough  []string
}

// OK reports whether the unit-set passed validation.
func (r *Report) OK() bool {
	return len(r.Errors) == 0
}

// Err returns an error summarizing the report's errors, or nil.
func (r *Report) Err() error {
	if r.OK() {
		return nil
	}
	return fmt.Errorf("validation failed with %d error(s): %s", len(r.Errors), r.Errors[0])
}

func (r *Report) errorf(file, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{File: file, Message: fmt.Sprintf(format, args...)})
}

func (r *Report) warnf(file, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{File: file, Message: fmt.Sprintf(format, args...)})
}

// PortProber reports host ports that currently have a listening socket.
type PortProber interface {
	ListeningPorts(ctx context.Context) (map[int]struct{}, error)
}

// VolumeChecker reports whether a named volume already exists in the
// container engine's volume store for the given scope.
type VolumeChecker interface {
	Exists(ctx context.Context, name string, userMode bool) (bool, error)
}

// Validator validates unit-set directories. Conflict probes are
// injected so the validator can run against a fake system in tests.
type Validator struct {
	logger  log.Logger
	ports   PortProber
	volumes VolumeChecker
}

// New creates a Validator with the given logger and live-system probes.
func New(logger log.Logger, ports PortProber, volumes VolumeChecker) *Validator {
	return &Validator{logger: logger, ports: ports, volumes: volumes}
}

// ValidateDir validates every unit file in dir and returns the
// aggregated report. Structural errors are collected, not
// short-circuited, so the caller sees every problem in one pass.
// Conflict probes run against the unit-set's scope. The returned error
// is reserved for I/O failures reading the directory itself.
func (v *Validator) ValidateDir(ctx context.Context, dir string, checkConflicts, userMode bool) (*Report, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read unit-set directory %s: %w", dir, err)
	}

	report := &Report{}
	var units []*quadlet.UnitFile

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		if !quadlet.IsUnitFile(name) {
			if quadlet.IsCompanionFile(name) {
				v.logger.Info("Passing through systemd companion unit", "file", name)
			} else {
				v.logger.Info("Passing through unrecognized file", "file", name)
			}
			report.Passthrough = append(report.Passthrough, name)
			continue
		}

		unit, err := quadlet.ParseFile(filepath.Join(dir, name))
		if err != nil {
			report.errorf(name, "unparsable unit file: %v", err)
			continue
		}

		v.logger.Info("Validating unit file", "file", name, "kind", unit.Kind.String())
		report.Files = append(report.Files, name)
		units = append(units, unit)

		v.checkStructure(unit, report)
		report.Dependencies = append(report.Dependencies, unit.Dependencies()...)

		ports, err := unit.PublishPorts()
		if err != nil {
			report.errorf(name, "%v", err)
		} else {
			report.Ports = append(report.Ports, ports...)
		}
		report.Volumes = append(report.Volumes, unit.Volumes()...)
	}

	if len(units) == 0 {
		report.errorf("", "no recognized quadlet unit files found")
		return report, nil
	}

	for _, cycle := range findCycles(report.Dependencies) {
		report.errorf("", "circular dependency: %s", formatCycle(cycle))
	}

	if checkConflicts {
		v.checkConflicts(ctx, report, userMode)
	}

	return report, nil
}

// checkStructure applies the per-kind structural rules. The kind set is
// closed, so a single switch covers every variant.
func (v *Validator) checkStructure(u *quadlet.UnitFile, report *Report) {
	name := u.FileName

	switch u.Kind {
	case quadlet.KindContainer:
		if !u.HasSection("Container") {
			report.errorf(name, "missing required [Container] section")
			return
		}
		if u.Image() == "" {
			report.errorf(name, "container unit must declare Image=")
		}
		if _, ok := u.Lookup("Container", "Exec"); ok {
			report.warnf(name, "Exec= is deprecated for containers, prefer the image entrypoint")
		}
		if !v.hasSecurityLabel(u) {
			report.warnf(name, "no security label directive set, container runs with default labeling")
		}
	case quadlet.KindPod:
		if !u.HasSection("Pod") {
			report.errorf(name, "missing required [Pod] section")
			return
		}
		if _, ok := u.Lookup("Pod", "PodName"); !ok {
			report.warnf(name, "PodName= not set, pod name will be derived from the file name")
		}
	case quadlet.KindNetwork:
		if !u.HasSection("Network") {
			report.errorf(name, "missing required [Network] section")
		}
	case quadlet.KindVolume:
		if !u.HasSection("Volume") {
			report.errorf(name, "missing required [Volume] section")
		}
	case quadlet.KindKube:
		if _, ok := u.Lookup("Kube", "Yaml"); !ok {
			report.errorf(name, "kube unit must declare Yaml=")
		}
	case quadlet.KindImage:
		if u.Image() == "" {
			report.errorf(name, "image unit must declare Image=")
		}
	}
}

func (v *Validator) hasSecurityLabel(u *quadlet.UnitFile) bool {
	for _, key := range []string{"SecurityLabelDisable", "SecurityLabelType", "SecurityLabelLevel", "SecurityLabelFileType"} {
		if _, ok := u.Lookup("Container", key); ok {
			return true
		}
	}
	return false
}

// checkConflicts cross-references declared ports and volumes against
// the live system. Conflicts are always warnings: an occupied port may
// belong to the very service being replaced.
func (v *Validator) checkConflicts(ctx context.Context, report *Report, userMode bool) {
	listening, err := v.ports.ListeningPorts(ctx)
	if err != nil {
		report.warnf("", "could not probe listening ports: %v", err)
	} else {
		for _, binding := range report.Ports {
			if binding.HostPort == 0 {
				continue
			}
			if _, inUse := listening[binding.HostPort]; inUse {
				report.warnf("", "host port %d is already in use by a listening socket", binding.HostPort)
			}
		}
	}

	seen := make(map[string]struct{})
	for _, ref := range report.Volumes {
		if _, dup := seen[ref.Name]; dup {
			continue
		}
		seen[ref.Name] = struct{}{}

		exists, err := v.volumes.Exists(ctx, ref.Name, userMode)
		if err != nil {
			report.warnf("", "could not check volume %q: %v", ref.Name, err)
			continue
		}
		if exists {
			report.warnf("", "volume %q already exists and will be reused", ref.Name)
		}
	}
}
