package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// Error reports an invalid or unreadable configuration.
type Error struct {
	// Key is the offending configuration key, if any.
	Key string
	Err error
}

func (e *Error) Error() string {
	if e.Key == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// OutputModes lists the accepted values of the output key.
var OutputModes = []string{"auto", "text", "markdown", "json"}

// Validate checks if the configuration is valid. Every problem is reported;
// each is an *Error.
func (c *Config) Validate() error {
	var errs *multierror.Error
	invalid := func(key, msg string) {
		errs = multierror.Append(errs, &Error{Key: key, Err: errors.New(msg)})
	}

	if strings.TrimSpace(c.BigQuery.ProjectID) == "" {
		invalid("bigquery.project_id", "is required (set it in bqviews.yaml or use --project)")
	}
	if strings.TrimSpace(c.BigQuery.DatasetID) == "" {
		invalid("bigquery.dataset_id", "is required (set it in bqviews.yaml or use --dataset)")
	}
	if c.SQL.ViewsDir == "" {
		invalid("sql.views_dir", "is required")
	}
	if c.Deployment.Concurrency < 1 {
		invalid("deployment.concurrency", fmt.Sprintf("must be at least 1, got %d", c.Deployment.Concurrency))
	}
	if c.Deployment.MaxRetries < 0 {
		invalid("deployment.max_retries", fmt.Sprintf("must not be negative, got %d", c.Deployment.MaxRetries))
	}
	if c.Deployment.Timeout < 0 {
		invalid("deployment.timeout", fmt.Sprintf("must not be negative, got %s", c.Deployment.Timeout))
	}
	if c.Output != "" && !slices.Contains(OutputModes, c.Output) {
		invalid("output", fmt.Sprintf("unknown mode %q (valid: %s)", c.Output, strings.Join(OutputModes, ", ")))
	}
	return errs.ErrorOrNil()
}

// ValidateDirectories checks if required directories exist.
func (c *Config) ValidateDirectories() error {
	info, err := os.Stat(c.SQL.ViewsDir)
	if errors.Is(err, os.ErrNotExist) {
		return &Error{Key: "sql.views_dir", Err: fmt.Errorf("views directory does not exist: %s\nHint: Create the directory or use --views-dir to specify a different path", c.SQL.ViewsDir)}
	}
	if err != nil {
		return &Error{Key: "sql.views_dir", Err: err}
	}
	if !info.IsDir() {
		return &Error{Key: "sql.views_dir", Err: fmt.Errorf("not a directory: %s", c.SQL.ViewsDir)}
	}
	return nil
}
