package vcs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// HookName is the git hook bqviews installs.
const HookName = "post-commit"

const hookMarker = "# bqviews post-commit hook"

// HookScript is the content of the installed hook.
const HookScript = `#!/bin/sh
` + hookMarker + `
# Deploys the views changed by the last commit.
if ! command -v bqviews >/dev/null 2>&1; then
    echo "bqviews not found in PATH; skipping view deployment" >&2
    exit 0
fi
exec bqviews run --changed --trigger hook
`

// ErrForeignHook is returned when a hook not written by bqviews is in the way.
var ErrForeignHook = errors.New("existing hook was not installed by bqviews")

// HookPath returns the post-commit hook location of the repository
// enclosing dir.
func HookPath(dir string) (string, error) {
	r, err := Open(dir)
	if err != nil {
		return "", err
	}
	hooks, err := r.HooksDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(hooks, HookName), nil
}

// InstallHook writes the post-commit hook. An existing hook written by
// another tool is only replaced when force is set.
func InstallHook(dir string, force bool) (string, error) {
	path, err := HookPath(dir)
	if err != nil {
		return "", err
	}

	existing, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the hooks directory
	switch {
	case err == nil:
		if !isOurs(existing) && !force {
			return path, fmt.Errorf("%s: %w (use --force to overwrite)", path, ErrForeignHook)
		}
	case !errors.Is(err, os.ErrNotExist):
		return path, fmt.Errorf("failed to read hook: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return path, fmt.Errorf("failed to create hooks directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(HookScript), 0o755); err != nil { //nolint:gosec // G306: hooks must be executable
		return path, fmt.Errorf("failed to write hook: %w", err)
	}
	// WriteFile keeps the mode of an existing file.
	if err := os.Chmod(path, 0o755); err != nil { //nolint:gosec // G302: hooks must be executable
		return path, fmt.Errorf("failed to make hook executable: %w", err)
	}
	return path, nil
}

// UninstallHook removes the post-commit hook if bqviews installed it.
// It reports whether a hook was removed.
func UninstallHook(dir string) (bool, error) {
	path, err := HookPath(dir)
	if err != nil {
		return false, err
	}
	existing, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the hooks directory
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read hook: %w", err)
	}
	if !isOurs(existing) {
		return false, fmt.Errorf("%s: %w", path, ErrForeignHook)
	}
	if err := os.Remove(path); err != nil {
		return false, fmt.Errorf("failed to remove hook: %w", err)
	}
	return true, nil
}

// HookInstalled reports whether the bqviews hook is present.
func HookInstalled(dir string) bool {
	path, err := HookPath(dir)
	if err != nil {
		return false
	}
	content, err := os.ReadFile(path) //nolint:gosec // G304: path is inside the hooks directory
	return err == nil && isOurs(content)
}

func isOurs(content []byte) bool {
	return strings.Contains(string(content), hookMarker)
}
