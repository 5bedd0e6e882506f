// Package project discovers view files on disk and resolves user selections
// against them.
package project

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Ext is the file extension of view files.
const Ext = ".sql"

// ViewFile is one SQL file defining a view.
type ViewFile struct {
	// Name is the file name without extension; unique within a project.
	Name string
	// Path is the file location as found on disk.
	Path string
	// RelPath is Path relative to the views directory, slash separated.
	RelPath string
	// Text is the raw file content.
	Text string
}

// NameOf returns the view name a file path defines.
func NameOf(p string) string {
	return strings.TrimSuffix(filepath.Base(p), Ext)
}

// DuplicateViewNameError reports two files that define the same view name.
type DuplicateViewNameError struct {
	Name   string
	First  string
	Second string
}

func (e *DuplicateViewNameError) Error() string {
	return fmt.Sprintf("duplicate view name %q: defined by %s and %s", e.Name, e.First, e.Second)
}

// Scan walks dir recursively and loads every file matching an include pattern
// and no exclude pattern. Patterns are doublestar globs matched against the
// trailing segments of the slash-separated relative path, so "*.sql" matches
// at any depth and "old/*.sql" excludes every old directory. Files are
// returned sorted by relative path.
func Scan(dir string, include, exclude []string) ([]ViewFile, error) {
	if len(include) == 0 {
		include = []string{"*" + Ext}
	}
	for _, pattern := range append(append([]string{}, include...), exclude...) {
		if !doublestar.ValidatePattern(pattern) {
			return nil, fmt.Errorf("invalid file pattern %q: %w", pattern, doublestar.ErrBadPattern)
		}
	}

	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("views directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("views directory %s is not a directory", dir)
	}

	var files []ViewFile
	err = filepath.WalkDir(dir, func(p string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if !matchAny(include, rel) || matchAny(exclude, rel) {
			return nil
		}

		content, err := os.ReadFile(p) //nolint:gosec // G304: p comes from WalkDir under dir
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", p, err)
		}
		files = append(files, ViewFile{
			Name:    NameOf(p),
			Path:    p,
			RelPath: rel,
			Text:    string(content),
		})
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].RelPath < files[j].RelPath })
	if err := CheckUnique(files); err != nil {
		return nil, err
	}
	return files, nil
}

// CheckUnique returns a *DuplicateViewNameError for the first name defined
// by two files.
func CheckUnique(files []ViewFile) error {
	seen := make(map[string]string, len(files))
	for _, f := range files {
		if prev, ok := seen[f.Name]; ok {
			return &DuplicateViewNameError{Name: f.Name, First: prev, Second: f.Path}
		}
		seen[f.Name] = f.Path
	}
	return nil
}

// Select resolves user arguments to view names. An argument may be a view
// name, a file name with extension, a path relative to the views directory,
// or any path (absolute or relative to the working directory) of a scanned
// file. Names are returned deduplicated in argument order; arguments that
// match no file are returned in missing.
func Select(files []ViewFile, args []string) (names, missing []string) {
	byName := make(map[string]string, len(files))
	byRel := make(map[string]string, len(files))
	byAbs := make(map[string]string, len(files))
	for _, f := range files {
		byName[f.Name] = f.Name
		byRel[f.RelPath] = f.Name
		if abs, err := filepath.Abs(f.Path); err == nil {
			byAbs[abs] = f.Name
		}
	}

	seen := make(map[string]bool)
	for _, arg := range args {
		name, ok := lookup(arg, byName, byRel, byAbs)
		if !ok {
			missing = append(missing, arg)
			continue
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names, missing
}

func lookup(arg string, byName, byRel, byAbs map[string]string) (string, bool) {
	if name, ok := byName[arg]; ok {
		return name, true
	}
	if name, ok := byName[strings.TrimSuffix(arg, Ext)]; ok && !strings.ContainsAny(arg, `/\`) {
		return name, true
	}
	if name, ok := byRel[filepath.ToSlash(arg)]; ok {
		return name, true
	}
	if abs, err := filepath.Abs(arg); err == nil {
		if name, ok := byAbs[abs]; ok {
			return name, true
		}
	}
	return "", false
}

// matchAny reports whether a pattern matches rel or one of its trailing
// segment runs: "b.sql", "old/b.sql" and "reports/old/b.sql" for
// "reports/old/b.sql". A leading "/" anchors a pattern at the views directory.
func matchAny(patterns []string, rel string) bool {
	for _, pattern := range patterns {
		if anchored, ok := strings.CutPrefix(pattern, "/"); ok {
			if doublestar.MatchUnvalidated(anchored, rel) {
				return true
			}
			continue
		}
		for tail := rel; ; {
			if doublestar.MatchUnvalidated(pattern, tail) {
				return true
			}
			i := strings.IndexByte(tail, '/')
			if i < 0 {
				break
			}
			tail = tail[i+1:]
		}
	}
	return false
}
