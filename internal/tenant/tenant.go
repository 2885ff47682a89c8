// Package tenant derives the per-project isolation key (group_id) from the
// host's working directory.
package tenant

import (
	"errors"
	"path/filepath"
	"regexp"
	"strings"

	git "github.com/go-git/go-git/v5"
)

// MaxGroupIDLength bounds group identifiers.
const MaxGroupIDLength = 50

// ErrEmptyPath indicates a missing working directory.
var ErrEmptyPath = errors.New("working directory is empty")

var nonIdentifier = regexp.MustCompile(`[^a-z0-9]+`)

// GroupIDFromPath derives the tenant key for a working directory.
//
// The project name is the basename of the enclosing git worktree root when
// one exists, so every subdirectory of a repository maps to the same tenant.
// Paths outside a repository fall back to their own basename. The result is
// lowercase-hyphenated, at most MaxGroupIDLength characters, and
// deterministic for a given path.
func GroupIDFromPath(cwd string) (string, error) {
	if strings.TrimSpace(cwd) == "" {
		return "", ErrEmptyPath
	}

	root := cwd
	if wt := gitWorktreeRoot(cwd); wt != "" {
		root = wt
	}

	return Normalize(filepath.Base(root)), nil
}

// Normalize converts an arbitrary name to group_id form: lowercase, runs of
// non-alphanumerics collapsed to single hyphens, trimmed, capped at
// MaxGroupIDLength without leaving a trailing hyphen.
func Normalize(name string) string {
	id := strings.ToLower(name)
	id = nonIdentifier.ReplaceAllString(id, "-")
	id = strings.Trim(id, "-")
	if id == "" {
		return "unnamed-project"
	}
	if len(id) > MaxGroupIDLength {
		id = id[:MaxGroupIDLength]
		id = strings.TrimRight(id, "-")
	}
	return id
}

// gitWorktreeRoot returns the worktree root containing path, or "" when the
// path is not inside a git repository.
func gitWorktreeRoot(path string) string {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return ""
	}
	wt, err := repo.Worktree()
	if err != nil {
		return ""
	}
	return wt.Filesystem.Root()
}
