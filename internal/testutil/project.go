package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// WriteFiles creates files under dir from slash-separated relative paths.
func WriteFiles(t testing.TB, dir string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o750))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

// NewProject creates a temporary project with a bqviews.yaml and the given
// view files under sql/views. It returns the project root.
func NewProject(t testing.TB, config string, views map[string]string) string {
	t.Helper()
	root := t.TempDir()
	if config != "" {
		WriteFiles(t, root, map[string]string{"bqviews.yaml": config})
	}
	prefixed := make(map[string]string, len(views))
	for rel, content := range views {
		prefixed["sql/views/"+rel] = content
	}
	WriteFiles(t, root, prefixed)
	return root
}
