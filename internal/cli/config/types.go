// Package config provides configuration management for the bqviews CLI.
//
// Configuration comes from bqviews.yaml, BQVIEWS_ environment variables and
// command-line flags, merged by the koanf loader in loader.go.
package config

import (
	"time"
)

// BigQueryConfig selects the BigQuery project and dataset views deploy to.
type BigQueryConfig struct {
	ProjectID       string `koanf:"project_id"`
	DatasetID       string `koanf:"dataset_id"`
	Location        string `koanf:"location"`
	CredentialsFile string `koanf:"credentials_file"`
}

// SQLConfig locates the view sources and the compiled output.
type SQLConfig struct {
	ViewsDir    string   `koanf:"views_dir"`
	CompiledDir string   `koanf:"compiled_dir"`
	Include     []string `koanf:"include"`
	Exclude     []string `koanf:"exclude"`
}

// DeploymentConfig controls how compiled views are pushed.
type DeploymentConfig struct {
	DryRun       bool          `koanf:"dry_run"`
	SaveCompiled bool          `koanf:"save_compiled"`
	Concurrency  int           `koanf:"concurrency"`
	MaxRetries   int           `koanf:"max_retries"`
	Timeout      time.Duration `koanf:"timeout"`
	StatePath    string        `koanf:"state_path"`
}

// Config holds all CLI configuration options.
type Config struct {
	BigQuery   BigQueryConfig   `koanf:"bigquery"`
	SQL        SQLConfig        `koanf:"sql"`
	Deployment DeploymentConfig `koanf:"deployment"`
	Verbose    bool             `koanf:"verbose"`
	Output     string           `koanf:"output"`

	// ProjectRoot is the directory relative paths were resolved against.
	ProjectRoot string `koanf:"-"`
}

// Default configuration values.
const (
	DefaultLocation    = "US"
	DefaultViewsDir    = "sql/views"
	DefaultCompiledDir = "compiled/views"
	DefaultStateFile   = ".bqviews/state.db"
	DefaultConcurrency = 1
	DefaultMaxRetries  = 3
	DefaultTimeout     = 5 * time.Minute
	DefaultOutput      = "auto" // Auto-detect: TTY=text, non-TTY=markdown
)

// Config file names, in lookup order.
var configFileNames = []string{"bqviews.yaml", "bqviews.yml"}

// DefaultInclude and DefaultExclude are the file patterns used when the
// configuration names none.
var (
	DefaultInclude = []string{"*.sql"}
	DefaultExclude = []string{"*.backup.sql"}
)

func defaults() map[string]any {
	return map[string]any{
		"bigquery.location":        DefaultLocation,
		"sql.views_dir":            DefaultViewsDir,
		"sql.compiled_dir":         DefaultCompiledDir,
		"sql.include":              DefaultInclude,
		"sql.exclude":              DefaultExclude,
		"deployment.dry_run":       false,
		"deployment.save_compiled": true,
		"deployment.concurrency":   DefaultConcurrency,
		"deployment.max_retries":   DefaultMaxRetries,
		"deployment.timeout":       DefaultTimeout.String(),
		"deployment.state_path":    DefaultStateFile,
		"verbose":                  false,
		"output":                   DefaultOutput,
	}
}
