package quadlet

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Relation is a systemd [Unit] dependency directive name.
type Relation string

// The dependency relations extracted from the [Unit] section.
const (
	RelationRequires  Relation = "Requires"
	RelationRequisite Relation = "Requisite"
	RelationWants     Relation = "Wants"
	RelationBindsTo   Relation = "BindsTo"
	RelationPartOf    Relation = "PartOf"
	RelationAfter     Relation = "After"
	RelationBefore    Relation = "Before"
)

// Relations lists all dependency relations in directive order.
var Relations = []Relation{
	RelationRequires,
	RelationRequisite,
	RelationWants,
	RelationBindsTo,
	RelationPartOf,
	RelationAfter,
	RelationBefore,
}

// DependencyEdge is one dependency relationship between two units,
// derived from a [Unit] section directive.
type DependencyEdge struct {
	SourceUnit string
	Relation   Relation
	TargetUnit string
}

// PortBinding is one published port extracted from a PublishPort=
// directive. HostPort is zero when the binding publishes to an
// engine-assigned port.
type PortBinding struct {
	HostPort      int
	ContainerPort int
	Protocol      string
}

// VolumeRef names a persistent volume referenced by a Volume= directive.
type VolumeRef struct {
	Name string
}

// UnitFile is a parsed quadlet unit file. It is derived fresh from the
// on-disk text on every validate or stage call and never persisted.
type UnitFile struct {
	FileName string
	Name     string
	Kind     Kind

	file *ini.File
}

// quadlet files are systemd unit syntax: repeated keys are meaningful
// (shadows) and ":" must not act as a key/value delimiter.
var loadOptions = ini.LoadOptions{
	AllowShadows:       true,
	KeyValueDelimiters: "=",
}

// ParseFile parses the quadlet unit file at path. The kind is derived
// from the file extension; unrecognized extensions are an error
// (callers decide which files are passthrough before parsing).
func ParseFile(path string) (*UnitFile, error) {
	base := filepath.Base(path)
	ext := strings.TrimPrefix(filepath.Ext(base), ".")
	kind, ok := ParseKind(ext)
	if !ok {
		return nil, fmt.Errorf("not a quadlet unit file: %s", base)
	}

	f, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse unit file %s: %w", base, err)
	}

	return &UnitFile{
		FileName: base,
		Name:     strings.TrimSuffix(base, "."+ext),
		Kind:     kind,
		file:     f,
	}, nil
}

// HasSection reports whether the named section is present.
func (u *UnitFile) HasSection(name string) bool {
	s, err := u.file.GetSection(name)
	return err == nil && s != nil
}

// Lookup returns the first value of a key in a section.
func (u *UnitFile) Lookup(section, key string) (string, bool) {
	s, err := u.file.GetSection(section)
	if err != nil {
		return "", false
	}
	k, err := s.GetKey(key)
	if err != nil {
		return "", false
	}
	return k.Value(), true
}

// Values returns all values of a key in a section, including shadowed
// repetitions. Missing sections or keys yield nil.
func (u *UnitFile) Values(section, key string) []string {
	s, err := u.file.GetSection(section)
	if err != nil {
		return nil
	}
	k, err := s.GetKey(key)
	if err != nil {
		return nil
	}
	return k.ValueWithShadows()
}

// Image returns the image reference declared by a container or image
// unit, or the empty string.
func (u *UnitFile) Image() string {
	v, _ := u.Lookup(u.Kind.Section(), "Image")
	return v
}

// ServiceName returns the systemd service name for this unit.
func (u *UnitFile) ServiceName() string {
	return ServiceName(u.Name, u.Kind)
}

// Dependencies returns the dependency edges declared in the [Unit]
// section. Multi-target values are space-split per systemd syntax.
func (u *UnitFile) Dependencies() []DependencyEdge {
	var edges []DependencyEdge
	for _, rel := range Relations {
		for _, value := range u.Values("Unit", string(rel)) {
			for _, target := range strings.Fields(value) {
				edges = append(edges, DependencyEdge{
					SourceUnit: u.FileName,
					Relation:   rel,
					TargetUnit: target,
				})
			}
		}
	}
	return edges
}

// PublishPorts returns the port bindings declared by PublishPort=
// directives. Accepted forms are containerPort, hostPort:containerPort
// and ip:hostPort:containerPort, each with an optional /tcp or /udp
// suffix.
func (u *UnitFile) PublishPorts() ([]PortBinding, error) {
	var bindings []PortBinding
	for _, value := range u.Values(u.Kind.Section(), "PublishPort") {
		b, err := parsePortBinding(value)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", u.FileName, err)
		}
		bindings = append(bindings, b)
	}
	return bindings, nil
}

// Volumes returns the named volumes referenced by Volume= directives.
// Host-path and anonymous mounts are not named volumes and are skipped.
func (u *UnitFile) Volumes() []VolumeRef {
	var refs []VolumeRef
	for _, value := range u.Values(u.Kind.Section(), "Volume") {
		name, _, found := strings.Cut(value, ":")
		if !found {
			// Anonymous volume, no name to track.
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.HasPrefix(name, "/") || strings.HasPrefix(name, ".") ||
			strings.HasPrefix(name, "~") || strings.HasPrefix(name, "%") {
			continue
		}
		refs = append(refs, VolumeRef{Name: name})
	}
	return refs
}

func parsePortBinding(value string) (PortBinding, error) {
	b := PortBinding{Protocol: "tcp"}

	spec := value
	if base, proto, found := strings.Cut(spec, "/"); found {
		proto = strings.ToLower(proto)
		if proto != "tcp" && proto != "udp" {
			return b, fmt.Errorf("invalid protocol in PublishPort=%s", value)
		}
		b.Protocol = proto
		spec = base
	}

	parts := strings.Split(spec, ":")
	var host, container string
	switch len(parts) {
	case 1:
		container = parts[0]
	case 2:
		host, container = parts[0], parts[1]
	case 3:
		// ip:hostPort:containerPort; the ip is irrelevant here.
		host, container = parts[1], parts[2]
	default:
		return b, fmt.Errorf("invalid PublishPort=%s", value)
	}

	// Ranges like 8080-8090 are passed through to the engine unparsed.
	if strings.Contains(container, "-") || strings.Contains(host, "-") {
		return b, nil
	}

	cp, err := strconv.Atoi(container)
	if err != nil {
		return b, fmt.Errorf("invalid container port in PublishPort=%s", value)
	}
	b.ContainerPort = cp

	if host != "" {
		hp, err := strconv.Atoi(host)
		if err != nil {
			return b, fmt.Errorf("invalid host port in PublishPort=%s", value)
		}
		b.HostPort = hp
	}

	return b, nil
}

// ServiceNameForFile maps a quadlet file name to its generated systemd
// service name. The second return is false for non-quadlet files.
func ServiceNameForFile(fileName string) (string, bool) {
	ext := strings.TrimPrefix(filepath.Ext(fileName), ".")
	kind, ok := ParseKind(ext)
	if !ok {
		return "", false
	}
	return ServiceName(strings.TrimSuffix(fileName, "."+ext), kind), true
}

// StartableServices returns the service names of all runnable units in
// a unit-set file list, in list order.
func StartableServices(files []string) []string {
	var services []string
	for _, f := range files {
		base := filepath.Base(f)
		ext := strings.TrimPrefix(filepath.Ext(base), ".")
		kind, ok := ParseKind(ext)
		if !ok || !kind.Runnable() {
			continue
		}
		services = append(services, ServiceName(strings.TrimSuffix(base, "."+ext), kind))
	}
	return services
}

// IsUnitFile reports whether the file name has a recognized quadlet
// extension.
func IsUnitFile(name string) bool {
	_, ok := ParseKind(strings.TrimPrefix(filepath.Ext(name), "."))
	return ok
}

// IsCompanionFile reports whether the file is a plain systemd companion
// unit that is installed alongside quadlets without validation.
func IsCompanionFile(name string) bool {
	switch filepath.Ext(name) {
	case ".service", ".timer":
		return true
	default:
		return false
	}
}
