// Package git retrieves unit-set sources into working directories.
package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/podstage/podstage/internal/fs"
	"github.com/podstage/podstage/internal/log"
)

// Fetcher retrieves a unit-set source into dest. The staging manager
// treats it as a black box returning a directory of files or an error.
type Fetcher interface {
	Fetch(ctx context.Context, source, branch, dest string) error
}

// GitFetcher implements Fetcher for git remotes and local paths.
type GitFetcher struct {
	logger log.Logger
}

// NewFetcher creates a GitFetcher.
func NewFetcher(logger log.Logger) *GitFetcher {
	return &GitFetcher{logger: logger}
}

// Fetch retrieves source into dest. Git remotes are cloned (or opened
// and pulled when dest already holds a clone); local directory sources
// are copied.
func (f *GitFetcher) Fetch(ctx context.Context, source, branch, dest string) error {
	if isLocalSource(source) {
		return f.copyLocal(source, dest)
	}

	f.logger.Info("Fetching unit-set source", "url", source, "dest", dest)

	repo, err := gogit.PlainCloneContext(ctx, dest, false, &gogit.CloneOptions{
		URL: source,
	})
	if err == gogit.ErrRepositoryAlreadyExists {
		f.logger.Debug("Destination already holds a clone, pulling", "dest", dest)
		repo, err = f.openAndPull(ctx, dest)
	}
	if err != nil {
		return fmt.Errorf("failed to fetch %s: %w", source, err)
	}

	if branch != "" {
		return f.checkout(repo, branch)
	}
	return nil
}

func (f *GitFetcher) openAndPull(ctx context.Context, dest string) (*gogit.Repository, error) {
	repo, err := gogit.PlainOpen(dest)
	if err != nil {
		return nil, err
	}

	worktree, err := repo.Worktree()
	if err != nil {
		return nil, err
	}

	err = worktree.PullContext(ctx, &gogit.PullOptions{RemoteName: "origin"})
	if err != nil && err != gogit.NoErrAlreadyUpToDate {
		return nil, err
	}
	if err == gogit.NoErrAlreadyUpToDate {
		f.logger.Debug("Source is already up to date", "dest", dest)
	}
	return repo, nil
}

// checkout tries the target as a commit hash first, then as a branch or
// tag name.
func (f *GitFetcher) checkout(repo *gogit.Repository, target string) error {
	worktree, err := repo.Worktree()
	if err != nil {
		return err
	}

	f.logger.Debug("Attempting to checkout target as commit hash", "target", target)
	err = worktree.Checkout(&gogit.CheckoutOptions{
		Hash: plumbing.NewHash(target),
	})
	if err == nil {
		return nil
	}

	f.logger.Debug("Attempting to checkout target as branch", "target", target)
	return worktree.Checkout(&gogit.CheckoutOptions{
		Branch: plumbing.NewBranchReferenceName(target),
	})
}

func (f *GitFetcher) copyLocal(source, dest string) error {
	f.logger.Info("Copying local unit-set source", "path", source, "dest", dest)

	source = strings.TrimPrefix(source, "file://")
	info, err := os.Stat(source)
	if err != nil {
		return fmt.Errorf("failed to read local source %s: %w", source, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("local source %s is not a directory", source)
	}

	// Skip VCS metadata when the local source happens to be a checkout.
	return fs.ReplaceTree(source, dest, fs.SkipPrefix(".git"))
}

func isLocalSource(source string) bool {
	return strings.HasPrefix(source, "file://") ||
		strings.HasPrefix(source, "/") ||
		strings.HasPrefix(source, "./") ||
		filepath.IsAbs(source)
}
