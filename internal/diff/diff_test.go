package diff

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, rel, content string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
}

func TestTrees(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()

	writeFile(t, oldDir, "web.container", "[Container]\nImage=nginx:1.25\n")
	writeFile(t, oldDir, "old.network", "[Network]\n")
	writeFile(t, newDir, "web.container", "[Container]\nImage=nginx:1.26\n")
	writeFile(t, newDir, "new.volume", "[Volume]\n")

	diffs, err := Trees(NewUnifiedDiffer(), oldDir, newDir)
	require.NoError(t, err)
	require.Len(t, diffs, 3)

	byPath := make(map[string]FileDiff)
	for _, d := range diffs {
		byPath[d.Path] = d
	}

	assert.Equal(t, StatusAdded, byPath["new.volume"].Status)
	assert.Equal(t, StatusRemoved, byPath["old.network"].Status)
	assert.Equal(t, StatusModified, byPath["web.container"].Status)

	patch := byPath["web.container"].Patch
	assert.Contains(t, patch, "-Image=nginx:1.25")
	assert.Contains(t, patch, "+Image=nginx:1.26")
	assert.Contains(t, patch, "installed/web.container")
	assert.Contains(t, patch, "staged/web.container")
}

func TestTreesIdentical(t *testing.T) {
	oldDir := t.TempDir()
	newDir := t.TempDir()

	writeFile(t, oldDir, "web.container", "[Container]\nImage=nginx:1.25\n")
	writeFile(t, newDir, "web.container", "[Container]\nImage=nginx:1.25\n")

	diffs, err := Trees(NewUnifiedDiffer(), oldDir, newDir)
	require.NoError(t, err)
	require.Len(t, diffs, 1)

	assert.Equal(t, StatusUnchanged, diffs[0].Status)
	assert.Empty(t, diffs[0].Patch)
	assert.False(t, HasChanges(diffs))
}

func TestTreesMissingOldDirReportsAllAdded(t *testing.T) {
	newDir := t.TempDir()
	writeFile(t, newDir, "web.container", "[Container]\nImage=nginx:1.25\n")
	writeFile(t, newDir, "web-data.volume", "[Volume]\n")

	diffs, err := Trees(NewUnifiedDiffer(), filepath.Join(t.TempDir(), "missing"), newDir)
	require.NoError(t, err)
	require.Len(t, diffs, 2)

	for _, d := range diffs {
		assert.Equal(t, StatusAdded, d.Status)
	}
	assert.True(t, HasChanges(diffs))
}

func TestRender(t *testing.T) {
	var buf bytes.Buffer
	Render(&buf, "--- a\n+++ b\n@@ -1 +1 @@\n-old\n+new\n context\n")

	out := buf.String()
	assert.Contains(t, out, "-old")
	assert.Contains(t, out, "+new")
	assert.Contains(t, out, "@@ -1 +1 @@")
	assert.Contains(t, out, " context")
}
