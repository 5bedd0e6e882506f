// Package vcs integrates with the git repository holding a project: the files
// changed by the last commit, the post-commit hook, and repository creation.
package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/go-git/go-git/v5/utils/merkletrie"
)

// ErrNotRepository is returned when no repository encloses a directory.
var ErrNotRepository = errors.New("not a git repository")

const sqlExt = ".sql"

// Repo is an opened git repository.
type Repo struct {
	// Root is the absolute worktree root.
	Root string
	repo *git.Repository
}

// Open finds the repository enclosing dir.
func Open(dir string) (*Repo, error) {
	repo, err := git.PlainOpenWithOptions(dir, &git.PlainOpenOptions{DetectDotGit: true})
	if errors.Is(err, git.ErrRepositoryNotExists) {
		return nil, fmt.Errorf("%s: %w", dir, ErrNotRepository)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("failed to get worktree: %w", err)
	}
	return &Repo{Root: wt.Filesystem.Root(), repo: repo}, nil
}

// HooksDir returns the directory git runs hooks from: core.hooksPath when
// set, resolved against the worktree root, otherwise the hooks directory of
// the common git dir. A .git file (linked worktree, submodule) is followed.
func (r *Repo) HooksDir() (string, error) {
	cfg, err := r.repo.Config()
	if err != nil {
		return "", fmt.Errorf("failed to read repository config: %w", err)
	}
	if hooksPath := cfg.Raw.Section("core").Option("hooksPath"); hooksPath != "" {
		if rest, ok := strings.CutPrefix(hooksPath, "~/"); ok {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", fmt.Errorf("failed to expand core.hooksPath: %w", err)
			}
			hooksPath = filepath.Join(home, rest)
		}
		if !filepath.IsAbs(hooksPath) {
			hooksPath = filepath.Join(r.Root, hooksPath)
		}
		return filepath.Clean(hooksPath), nil
	}

	gitDir, err := r.gitDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(commonDir(gitDir), "hooks"), nil
}

func (r *Repo) gitDir() (string, error) {
	storage, ok := r.repo.Storer.(*filesystem.Storage)
	if !ok {
		return "", fmt.Errorf("repository at %s has no on-disk git directory", r.Root)
	}
	return storage.Filesystem().Root(), nil
}

// commonDir follows the commondir file of a linked worktree's git dir.
func commonDir(gitDir string) string {
	content, err := os.ReadFile(filepath.Join(gitDir, "commondir")) //nolint:gosec // G304: inside the git dir
	if err != nil {
		return gitDir
	}
	dir := strings.TrimSpace(string(content))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(gitDir, dir)
	}
	return filepath.Clean(dir)
}

// HeadCommit returns the hash of HEAD.
func (r *Repo) HeadCommit() (string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return "", fmt.Errorf("failed to get HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// ChangedFiles returns the repository-relative paths of .sql files added or
// modified by the HEAD commit, compared with its first parent. For a root
// commit every .sql file is returned. Deleted files are skipped.
func (r *Repo) ChangedFiles() ([]string, error) {
	head, err := r.repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to get HEAD: %w", err)
	}
	commit, err := r.repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("failed to get commit object: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get commit tree: %w", err)
	}

	var files []string
	if commit.NumParents() == 0 {
		err = tree.Files().ForEach(func(f *object.File) error {
			if isSQL(f.Name) {
				files = append(files, f.Name)
			}
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to iterate files: %w", err)
		}
		sort.Strings(files)
		return files, nil
	}

	parent, err := commit.Parent(0)
	if err != nil {
		return nil, fmt.Errorf("failed to get parent commit: %w", err)
	}
	parentTree, err := parent.Tree()
	if err != nil {
		return nil, fmt.Errorf("failed to get parent tree: %w", err)
	}
	changes, err := parentTree.Diff(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to get diff: %w", err)
	}

	for _, change := range changes {
		action, err := change.Action()
		if err != nil {
			return nil, fmt.Errorf("failed to classify change: %w", err)
		}
		if action == merkletrie.Delete {
			continue
		}
		if isSQL(change.To.Name) {
			files = append(files, change.To.Name)
		}
	}
	sort.Strings(files)
	return files, nil
}

// ChangedFiles opens the repository enclosing dir and returns the absolute
// paths of .sql files changed by HEAD.
func ChangedFiles(dir string) ([]string, error) {
	r, err := Open(dir)
	if err != nil {
		return nil, err
	}
	rel, err := r.ChangedFiles()
	if err != nil {
		return nil, err
	}
	abs := make([]string, len(rel))
	for i, p := range rel {
		abs[i] = filepath.Join(r.Root, filepath.FromSlash(p))
	}
	return abs, nil
}

// Init creates a repository in dir unless one already encloses it.
// It reports whether a repository was created.
func Init(dir string) (bool, error) {
	if _, err := Open(dir); err == nil {
		return false, nil
	} else if !errors.Is(err, ErrNotRepository) {
		return false, err
	}
	if _, err := git.PlainInit(dir, false); err != nil {
		return false, fmt.Errorf("failed to initialize repository: %w", err)
	}
	return true, nil
}

func isSQL(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), sqlExt)
}
