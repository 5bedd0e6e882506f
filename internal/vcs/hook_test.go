package vcs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInstallHook(t *testing.T) {
	dir, _ := createTestRepository(t)

	path, err := InstallHook(dir, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, ".git", "hooks", HookName), path)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "hook must be executable")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "bqviews run --changed")
	assert.True(t, HookInstalled(dir))

	// Reinstalling our own hook is fine.
	_, err = InstallHook(dir, false)
	require.NoError(t, err)
}

func TestInstallHook_ForeignHook(t *testing.T) {
	dir, _ := createTestRepository(t)
	path := filepath.Join(dir, ".git", "hooks", HookName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o750))
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho other\n"), 0o600))

	_, err := InstallHook(dir, false)
	assert.ErrorIs(t, err, ErrForeignHook)

	_, err = UninstallHook(dir)
	assert.ErrorIs(t, err, ErrForeignHook)
	assert.FileExists(t, path)

	_, err = InstallHook(dir, true)
	require.NoError(t, err)
	assert.True(t, HookInstalled(dir))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)
}

func TestUninstallHook(t *testing.T) {
	dir, _ := createTestRepository(t)

	removed, err := UninstallHook(dir)
	require.NoError(t, err)
	assert.False(t, removed)

	_, err = InstallHook(dir, false)
	require.NoError(t, err)

	removed, err = UninstallHook(dir)
	require.NoError(t, err)
	assert.True(t, removed)
	assert.False(t, HookInstalled(dir))
}

func TestInstallHook_NotRepository(t *testing.T) {
	_, err := InstallHook(t.TempDir(), false)
	assert.ErrorIs(t, err, ErrNotRepository)
}

func TestHookPath_CoreHooksPath(t *testing.T) {
	dir, repo := createTestRepository(t)
	cfg, err := repo.Config()
	require.NoError(t, err)
	cfg.Raw.Section("core").SetOption("hooksPath", "tools/hooks")
	require.NoError(t, repo.SetConfig(cfg))

	path, err := InstallHook(dir, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tools", "hooks", HookName), path)
	assert.FileExists(t, path)
	assert.NoFileExists(t, filepath.Join(dir, ".git", "hooks", HookName))
	assert.True(t, HookInstalled(dir))

	abs := filepath.Join(t.TempDir(), "shared-hooks")
	cfg.Raw.Section("core").SetOption("hooksPath", abs)
	require.NoError(t, repo.SetConfig(cfg))

	path, err = HookPath(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(abs, HookName), path)
}

func TestHookPath_GitFile(t *testing.T) {
	primary, _ := createTestRepository(t)
	linked, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	gitFile := "gitdir: " + filepath.Join(primary, ".git") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(linked, ".git"), []byte(gitFile), 0o600))

	path, err := InstallHook(linked, false)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(primary, ".git", "hooks", HookName), path)
	assert.True(t, HookInstalled(primary))
}

func TestCommonDir(t *testing.T) {
	common := t.TempDir()
	gitDir := filepath.Join(common, "worktrees", "feature")
	require.NoError(t, os.MkdirAll(gitDir, 0o750))
	assert.Equal(t, gitDir, commonDir(gitDir))

	require.NoError(t, os.WriteFile(filepath.Join(gitDir, "commondir"), []byte("../..\n"), 0o600))
	assert.Equal(t, common, commonDir(gitDir))
}
