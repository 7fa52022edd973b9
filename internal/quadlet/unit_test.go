package quadlet

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUnit(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestParseFile(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "web.container", `[Unit]
Description=Web frontend
After=db.service cache.service
Wants=db.service

[Container]
Image=docker.io/library/nginx:latest
PublishPort=8080:80
PublishPort=127.0.0.1:8443:443/tcp
Volume=web-data:/var/www
Volume=/etc/certs:/certs:ro

[Service]
Restart=always
`)

	unit, err := ParseFile(path)
	require.NoError(t, err)

	assert.Equal(t, "web", unit.Name)
	assert.Equal(t, KindContainer, unit.Kind)
	assert.Equal(t, "web.service", unit.ServiceName())
	assert.Equal(t, "docker.io/library/nginx:latest", unit.Image())
	assert.True(t, unit.HasSection("Container"))
	assert.False(t, unit.HasSection("Pod"))
}

func TestParseFileRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "notes.txt", "hello")

	_, err := ParseFile(path)
	require.Error(t, err)
}

func TestDependencies(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "app.container", `[Unit]
After=db.service cache.service
Before=proxy.service
Requires=db.service

[Container]
Image=app:1
`)

	unit, err := ParseFile(path)
	require.NoError(t, err)

	edges := unit.Dependencies()
	require.Len(t, edges, 4)

	// Space-separated targets are split into individual edges.
	var afterTargets []string
	for _, e := range edges {
		assert.Equal(t, "app.container", e.SourceUnit)
		if e.Relation == RelationAfter {
			afterTargets = append(afterTargets, e.TargetUnit)
		}
	}
	assert.Equal(t, []string{"db.service", "cache.service"}, afterTargets)
}

func TestPublishPorts(t *testing.T) {
	tests := []struct {
		name      string
		directive string
		want      PortBinding
		wantErr   bool
	}{
		{"container only", "PublishPort=80", PortBinding{ContainerPort: 80, Protocol: "tcp"}, false},
		{"host and container", "PublishPort=8080:80", PortBinding{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"}, false},
		{"with ip", "PublishPort=127.0.0.1:8080:80", PortBinding{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"}, false},
		{"udp suffix", "PublishPort=5353:53/udp", PortBinding{HostPort: 5353, ContainerPort: 53, Protocol: "udp"}, false},
		{"range passthrough", "PublishPort=8080-8090:8080-8090", PortBinding{Protocol: "tcp"}, false},
		{"bad host port", "PublishPort=eighty:80", PortBinding{}, true},
		{"bad protocol", "PublishPort=80/sctp", PortBinding{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := writeUnit(t, dir, "p.container", "[Container]\nImage=x\n"+tt.directive+"\n")

			unit, err := ParseFile(path)
			require.NoError(t, err)

			ports, err := unit.PublishPorts()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, ports, 1)
			assert.Equal(t, tt.want, ports[0])
		})
	}
}

func TestVolumesSkipsHostPathsAndAnonymous(t *testing.T) {
	dir := t.TempDir()
	path := writeUnit(t, dir, "v.container", `[Container]
Image=x
Volume=named-vol:/data
Volume=/host/path:/mnt
Volume=./relative:/rel
Volume=%h/home:/home
Volume=/anonymous
`)

	unit, err := ParseFile(path)
	require.NoError(t, err)

	refs := unit.Volumes()
	require.Len(t, refs, 1)
	assert.Equal(t, "named-vol", refs[0].Name)
}

func TestServiceName(t *testing.T) {
	assert.Equal(t, "web.service", ServiceName("web", KindContainer))
	assert.Equal(t, "app-pod.service", ServiceName("app", KindPod))
	assert.Equal(t, "backend-network.service", ServiceName("backend", KindNetwork))
	assert.Equal(t, "data-volume.service", ServiceName("data", KindVolume))
}

func TestServiceNameForFile(t *testing.T) {
	name, ok := ServiceNameForFile("web.container")
	require.True(t, ok)
	assert.Equal(t, "web.service", name)

	name, ok = ServiceNameForFile("data.volume")
	require.True(t, ok)
	assert.Equal(t, "data-volume.service", name)

	_, ok = ServiceNameForFile("README.md")
	assert.False(t, ok)
}

func TestStartableServices(t *testing.T) {
	services := StartableServices([]string{
		"web.container",
		"app.pod",
		"deploy.kube",
		"backend.network",
		"data.volume",
		"base.image",
		"helper.service",
		"README.md",
	})

	assert.Equal(t, []string{"web.service", "app-pod.service", "deploy-kube.service"}, services)
}

func TestIsUnitFile(t *testing.T) {
	assert.True(t, IsUnitFile("web.container"))
	assert.True(t, IsUnitFile("net.network"))
	assert.False(t, IsUnitFile("helper.service"))
	assert.False(t, IsUnitFile("README.md"))
}

func TestIsCompanionFile(t *testing.T) {
	assert.True(t, IsCompanionFile("helper.service"))
	assert.True(t, IsCompanionFile("cleanup.timer"))
	assert.False(t, IsCompanionFile("web.container"))
}

func TestKindRunnable(t *testing.T) {
	assert.True(t, KindContainer.Runnable())
	assert.True(t, KindPod.Runnable())
	assert.True(t, KindKube.Runnable())
	assert.False(t, KindNetwork.Runnable())
	assert.False(t, KindVolume.Runnable())
	assert.False(t, KindImage.Runnable())
}
