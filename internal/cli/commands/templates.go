package commands

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/leapstack-labs/bqviews/internal/cli/config"
)

//go:embed all:templates
var templateFS embed.FS

const projectNamePlaceholder = "{{PROJECT_NAME}}"

// copyTemplate copies an embedded template directory to the target path and
// returns the files written, relative to targetDir. Existing files are kept
// unless force is set.
func copyTemplate(templateName, targetDir, projectName string, force bool) ([]string, error) {
	root := path.Join("templates", templateName)
	var written []string

	err := fs.WalkDir(templateFS, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath := strings.TrimPrefix(strings.TrimPrefix(p, root), "/")
		if relPath == "" {
			return nil
		}

		relPath = renameSpecialFiles(relPath)
		targetPath := filepath.Join(targetDir, filepath.FromSlash(relPath))

		if d.IsDir() {
			return os.MkdirAll(targetPath, 0o750)
		}

		if !force {
			if _, err := os.Stat(targetPath); err == nil {
				return nil // Skip existing files
			}
		}

		content, err := templateFS.ReadFile(p)
		if err != nil {
			return err
		}
		if path.Ext(relPath) == ".md" {
			content = bytes.ReplaceAll(content, []byte(projectNamePlaceholder), []byte(projectName))
		}
		if err := os.WriteFile(targetPath, content, 0o600); err != nil {
			return err
		}
		written = append(written, relPath)
		return nil
	})

	return written, err
}

// renameSpecialFiles handles files that need renaming (e.g., dotfiles).
func renameSpecialFiles(p string) string {
	dir, base := path.Split(p)
	switch base {
	case "gitignore":
		return dir + ".gitignore"
	default:
		return p
	}
}

// scaffoldConfig is the bqviews.yaml written by init.
type scaffoldConfig struct {
	BigQuery struct {
		ProjectID string `yaml:"project_id"`
		DatasetID string `yaml:"dataset_id"`
		Location  string `yaml:"location"`
	} `yaml:"bigquery"`
	SQL struct {
		ViewsDir    string   `yaml:"views_dir"`
		CompiledDir string   `yaml:"compiled_dir"`
		Include     []string `yaml:"include"`
		Exclude     []string `yaml:"exclude"`
	} `yaml:"sql"`
	Deployment struct {
		DryRun       bool   `yaml:"dry_run"`
		SaveCompiled bool   `yaml:"save_compiled"`
		Concurrency  int    `yaml:"concurrency"`
		MaxRetries   int    `yaml:"max_retries"`
		Timeout      string `yaml:"timeout"`
	} `yaml:"deployment"`
}

const configHeader = `# bqviews configuration.
#
# Every key can be overridden with a BQVIEWS_ environment variable, using a
# double underscore between levels: BQVIEWS_BIGQUERY__DATASET_ID=staging.
# Credentials come from Application Default Credentials unless
# bigquery.credentials_file names a service account key.

`

// renderConfig returns the content of a new bqviews.yaml.
func renderConfig(projectID, datasetID string) ([]byte, error) {
	var c scaffoldConfig
	c.BigQuery.ProjectID = projectID
	c.BigQuery.DatasetID = datasetID
	c.BigQuery.Location = config.DefaultLocation
	c.SQL.ViewsDir = config.DefaultViewsDir
	c.SQL.CompiledDir = config.DefaultCompiledDir
	c.SQL.Include = config.DefaultInclude
	c.SQL.Exclude = config.DefaultExclude
	c.Deployment.SaveCompiled = true
	c.Deployment.Concurrency = config.DefaultConcurrency
	c.Deployment.MaxRetries = config.DefaultMaxRetries
	c.Deployment.Timeout = config.DefaultTimeout.String()

	var buf bytes.Buffer
	buf.WriteString(configHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&c); err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
