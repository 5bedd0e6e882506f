package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/bqviews/internal/testutil"
)

const baseConfig = `bigquery:
  project_id: my-project
  dataset_id: analytics
sql:
  views_dir: views
`

// projectDir creates a project with the given config and changes into it.
func projectDir(t *testing.T, cfg string) string {
	t.Helper()
	ResetConfig()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	if cfg != "" {
		testutil.WriteFiles(t, dir, map[string]string{"bqviews.yaml": cfg})
	}
	t.Chdir(dir)
	return dir
}

func testFlags() *pflag.FlagSet {
	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("config", "", "")
	flags.String("project", "", "")
	flags.String("dataset", "", "")
	flags.String("views-dir", "", "")
	flags.BoolP("verbose", "v", false, "")
	flags.StringP("output", "o", "", "")
	return flags
}

func TestLoadConfig_Defaults(t *testing.T) {
	dir := projectDir(t, "")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, DefaultLocation, cfg.BigQuery.Location)
	assert.Equal(t, filepath.Join(dir, "sql", "views"), cfg.SQL.ViewsDir)
	assert.Equal(t, filepath.Join(dir, "compiled", "views"), cfg.SQL.CompiledDir)
	assert.Equal(t, []string{"*.sql"}, cfg.SQL.Include)
	assert.Equal(t, []string{"*.backup.sql"}, cfg.SQL.Exclude)
	assert.False(t, cfg.Deployment.DryRun)
	assert.True(t, cfg.Deployment.SaveCompiled)
	assert.Equal(t, 1, cfg.Deployment.Concurrency)
	assert.Equal(t, 3, cfg.Deployment.MaxRetries)
	assert.Equal(t, 5*time.Minute, cfg.Deployment.Timeout)
	assert.Equal(t, filepath.Join(dir, ".bqviews", "state.db"), cfg.Deployment.StatePath)
	assert.Equal(t, "auto", cfg.Output)
	assert.Empty(t, GetConfigFileUsed())
	assert.Same(t, cfg, GetCurrentConfig())
}

func TestLoadConfig_File(t *testing.T) {
	dir := projectDir(t, `bigquery:
  project_id: my-project
  dataset_id: analytics
  location: EU
sql:
  views_dir: views
  include: ["*.sql", "*.view"]
  exclude: []
deployment:
  concurrency: 4
  timeout: 90s
  save_compiled: false
`)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(dir, "bqviews.yaml"), GetConfigFileUsed())
	assert.Equal(t, "my-project", cfg.BigQuery.ProjectID)
	assert.Equal(t, "analytics", cfg.BigQuery.DatasetID)
	assert.Equal(t, "EU", cfg.BigQuery.Location)
	assert.Equal(t, filepath.Join(dir, "views"), cfg.SQL.ViewsDir)
	assert.Equal(t, []string{"*.sql", "*.view"}, cfg.SQL.Include)
	assert.Empty(t, cfg.SQL.Exclude)
	assert.Equal(t, 4, cfg.Deployment.Concurrency)
	assert.Equal(t, 90*time.Second, cfg.Deployment.Timeout)
	assert.False(t, cfg.Deployment.SaveCompiled)
	require.NoError(t, cfg.Validate())
}

func TestLoadConfig_SearchesUpward(t *testing.T) {
	dir := projectDir(t, baseConfig)
	nested := filepath.Join(dir, "views", "reports")
	testutil.WriteFiles(t, nested, map[string]string{"a.sql": "SELECT 1"})
	t.Chdir(nested)

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(dir, "views"), cfg.SQL.ViewsDir)
}

func TestLoadConfig_ExplicitFile(t *testing.T) {
	projectDir(t, "")
	other, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	testutil.WriteFiles(t, other, map[string]string{"custom.yml": baseConfig})

	cfg, err := LoadConfig(filepath.Join(other, "custom.yml"), nil)
	require.NoError(t, err)
	assert.Equal(t, other, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(other, "views"), cfg.SQL.ViewsDir)
}

func TestLoadConfig_MissingExplicitFile(t *testing.T) {
	projectDir(t, "")

	_, err := LoadConfig("nope.yaml", nil)
	require.Error(t, err)
	var cfgErr *Error
	assert.ErrorAs(t, err, &cfgErr)
	assert.Contains(t, err.Error(), "nope.yaml")
}

func TestLoadConfig_EnvPrecedenceOverFile(t *testing.T) {
	projectDir(t, baseConfig)
	t.Setenv("BQVIEWS_BIGQUERY__DATASET_ID", "from_env")
	t.Setenv("BQVIEWS_DEPLOYMENT__CONCURRENCY", "8")
	t.Setenv("BQVIEWS_DEPLOYMENT__DRY_RUN", "true")
	t.Setenv("BQVIEWS_SQL__EXCLUDE", "*.tmp.sql,scratch/*")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "my-project", cfg.BigQuery.ProjectID)
	assert.Equal(t, "from_env", cfg.BigQuery.DatasetID)
	assert.Equal(t, 8, cfg.Deployment.Concurrency)
	assert.True(t, cfg.Deployment.DryRun)
	assert.Equal(t, []string{"*.tmp.sql", "scratch/*"}, cfg.SQL.Exclude)
}

func TestLoadConfig_FlagPrecedence(t *testing.T) {
	dir := projectDir(t, baseConfig)
	t.Setenv("BQVIEWS_BIGQUERY__DATASET_ID", "from_env")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--dataset", "from_flag", "--views-dir", "other", "-o", "json", "-v"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "my-project", cfg.BigQuery.ProjectID)
	assert.Equal(t, "from_flag", cfg.BigQuery.DatasetID)
	assert.Equal(t, filepath.Join(dir, "other"), cfg.SQL.ViewsDir)
	assert.Equal(t, "json", cfg.Output)
	assert.True(t, cfg.Verbose)
}

func TestLoadConfig_FlagNotSetUsesEnv(t *testing.T) {
	projectDir(t, baseConfig)
	t.Setenv("BQVIEWS_BIGQUERY__PROJECT_ID", "from-env")

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--dataset", "ds"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.BigQuery.ProjectID)
	assert.Equal(t, "ds", cfg.BigQuery.DatasetID)
}

func TestLoadConfig_ViewsDirFlagRelativeToWorkingDir(t *testing.T) {
	dir := projectDir(t, baseConfig)
	sub := filepath.Join(dir, "sub")
	testutil.WriteFiles(t, sub, map[string]string{"x/a.sql": "SELECT 1"})
	t.Chdir(sub)

	flags := testFlags()
	require.NoError(t, flags.Parse([]string{"--views-dir", "x"}))

	cfg, err := LoadConfig("", flags)
	require.NoError(t, err)
	assert.Equal(t, dir, cfg.ProjectRoot)
	assert.Equal(t, filepath.Join(sub, "x"), cfg.SQL.ViewsDir)
}

func TestLoadConfig_ExpandsEnvVars(t *testing.T) {
	dir := projectDir(t, `bigquery:
  project_id: ${TEST_BQ_PROJECT}
  dataset_id: ds
  credentials_file: ${TEST_BQ_KEYS}/sa.json
`)
	t.Setenv("TEST_BQ_PROJECT", "expanded-project")
	t.Setenv("TEST_BQ_KEYS", "keys")

	cfg, err := LoadConfig("", nil)
	require.NoError(t, err)
	assert.Equal(t, "expanded-project", cfg.BigQuery.ProjectID)
	assert.Equal(t, filepath.Join(dir, "keys", "sa.json"), cfg.BigQuery.CredentialsFile)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_VAR_ONE", "value_one")
	t.Setenv("TEST_VAR_TWO", "value_two")

	tests := []struct {
		input    string
		expected string
	}{
		{"plain", "plain"},
		{"${TEST_VAR_ONE}", "value_one"},
		{"${TEST_VAR_ONE}-${TEST_VAR_TWO}", "value_one-value_two"},
		{"prefix_${TEST_VAR_TWO}", "prefix_value_two"},
		{"${TEST_VAR_UNSET_XYZ}", "${TEST_VAR_UNSET_XYZ}"},
		{"$TEST_VAR_ONE", "$TEST_VAR_ONE"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, expandEnvVars(tt.input))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			BigQuery:   BigQueryConfig{ProjectID: "p", DatasetID: "d"},
			SQL:        SQLConfig{ViewsDir: "views"},
			Deployment: DeploymentConfig{Concurrency: 1},
			Output:     "auto",
		}
	}

	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		key    string
	}{
		{"missing project", func(c *Config) { c.BigQuery.ProjectID = "" }, "bigquery.project_id"},
		{"blank project", func(c *Config) { c.BigQuery.ProjectID = "   " }, "bigquery.project_id"},
		{"missing dataset", func(c *Config) { c.BigQuery.DatasetID = "" }, "bigquery.dataset_id"},
		{"missing views dir", func(c *Config) { c.SQL.ViewsDir = "" }, "sql.views_dir"},
		{"zero concurrency", func(c *Config) { c.Deployment.Concurrency = 0 }, "deployment.concurrency"},
		{"negative retries", func(c *Config) { c.Deployment.MaxRetries = -1 }, "deployment.max_retries"},
		{"negative timeout", func(c *Config) { c.Deployment.Timeout = -time.Second }, "deployment.timeout"},
		{"unknown output", func(c *Config) { c.Output = "yaml" }, "output"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)

			var cfgErr *Error
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
		})
	}
}

func TestConfig_Validate_ReportsEveryProblem(t *testing.T) {
	cfg := &Config{Deployment: DeploymentConfig{Concurrency: 0}}

	err := cfg.Validate()
	var merr *multierror.Error
	require.True(t, errors.As(err, &merr))

	var keys []string
	for _, e := range merr.Errors {
		var cfgErr *Error
		require.ErrorAs(t, e, &cfgErr)
		keys = append(keys, cfgErr.Key)
	}
	assert.Equal(t, []string{"bigquery.project_id", "bigquery.dataset_id", "sql.views_dir", "deployment.concurrency"}, keys)
}

func TestConfig_ValidateDirectories(t *testing.T) {
	dir := t.TempDir()
	cfg := &Config{SQL: SQLConfig{ViewsDir: filepath.Join(dir, "missing")}}

	err := cfg.ValidateDirectories()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "views directory does not exist")

	testutil.WriteFiles(t, dir, map[string]string{"missing/a.sql": "SELECT 1"})
	assert.NoError(t, cfg.ValidateDirectories())
}
