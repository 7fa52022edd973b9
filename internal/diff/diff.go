// Package diff computes and renders differences between installed and
// staged unit-set directories.
package diff

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/pmezard/go-difflib/difflib"

	"github.com/podstage/podstage/internal/fs"
)

// Status classifies a file-level difference.
type Status string

// File difference statuses.
const (
	StatusAdded     Status = "added"
	StatusRemoved   Status = "removed"
	StatusModified  Status = "modified"
	StatusUnchanged Status = "unchanged"
)

// FileDiff is the difference for a single file between two trees.
type FileDiff struct {
	Path   string
	Status Status
	Patch  string
}

// Differ produces unified diffs between two file contents.
type Differ interface {
	Unified(aLabel, bLabel string, a, b []byte) (string, error)
}

// UnifiedDiffer implements Differ with three lines of context.
type UnifiedDiffer struct{}

// NewUnifiedDiffer creates a UnifiedDiffer.
func NewUnifiedDiffer() *UnifiedDiffer {
	return &UnifiedDiffer{}
}

// Unified returns a unified diff between a and b, empty when identical.
func (d *UnifiedDiffer) Unified(aLabel, bLabel string, a, b []byte) (string, error) {
	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(a)),
		B:        difflib.SplitLines(string(b)),
		FromFile: aLabel,
		ToFile:   bLabel,
		Context:  3,
	})
	if err != nil {
		return "", fmt.Errorf("failed to compute diff for %s: %w", bLabel, err)
	}
	return text, nil
}

// Trees diffs every file in the union of oldDir and newDir, returned in
// path order. A missing oldDir is treated as empty, so a first install
// reports every file as an addition.
func Trees(differ Differ, oldDir, newDir string) ([]FileDiff, error) {
	oldFiles, err := listOrEmpty(oldDir)
	if err != nil {
		return nil, err
	}
	newFiles, err := listOrEmpty(newDir)
	if err != nil {
		return nil, err
	}

	union := make(map[string]struct{}, len(oldFiles)+len(newFiles))
	for _, f := range oldFiles {
		union[f] = struct{}{}
	}
	for _, f := range newFiles {
		union[f] = struct{}{}
	}

	paths := make([]string, 0, len(union))
	for p := range union {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var diffs []FileDiff
	for _, rel := range paths {
		oldBytes, oldOK, err := readIfExists(filepath.Join(oldDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}
		newBytes, newOK, err := readIfExists(filepath.Join(newDir, filepath.FromSlash(rel)))
		if err != nil {
			return nil, err
		}

		fd := FileDiff{Path: rel}
		switch {
		case !oldOK:
			fd.Status = StatusAdded
		case !newOK:
			fd.Status = StatusRemoved
		case string(oldBytes) == string(newBytes):
			fd.Status = StatusUnchanged
		default:
			fd.Status = StatusModified
		}

		if fd.Status != StatusUnchanged {
			patch, err := differ.Unified("installed/"+rel, "staged/"+rel, oldBytes, newBytes)
			if err != nil {
				return nil, err
			}
			fd.Patch = patch
		}
		diffs = append(diffs, fd)
	}

	return diffs, nil
}

// HasChanges reports whether any file in the diff set differs.
func HasChanges(diffs []FileDiff) bool {
	for _, d := range diffs {
		if d.Status != StatusUnchanged {
			return true
		}
	}
	return false
}

// Render writes a colorized unified diff to w: additions green,
// removals red, hunk headers cyan.
func Render(w io.Writer, patch string) {
	add := color.New(color.FgGreen)
	del := color.New(color.FgRed)
	hunk := color.New(color.FgCyan)

	for _, line := range strings.Split(patch, "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			_, _ = add.Fprintln(w, line)
		case strings.HasPrefix(line, "-"):
			_, _ = del.Fprintln(w, line)
		case strings.HasPrefix(line, "@@"):
			_, _ = hunk.Fprintln(w, line)
		default:
			_, _ = fmt.Fprintln(w, line)
		}
	}
}

func listOrEmpty(dir string) ([]string, error) {
	if !fs.Exists(dir) {
		return nil, nil
	}
	return fs.ListFiles(dir)
}

func readIfExists(path string) ([]byte, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Paths come from managed trees
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, true, nil
}
