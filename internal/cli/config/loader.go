package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

type loggerKey struct{}

// maxUpwardSearchLevels bounds the upward config file search.
const maxUpwardSearchLevels = 10

// EnvPrefix prefixes environment overrides. A double underscore separates
// nested keys: BQVIEWS_BIGQUERY__PROJECT_ID sets bigquery.project_id.
const EnvPrefix = "BQVIEWS_"

// flagKeys maps persistent flags to the configuration keys they override.
// Flags not listed here are not configuration.
var flagKeys = map[string]string{
	"project":   "bigquery.project_id",
	"dataset":   "bigquery.dataset_id",
	"views-dir": "sql.views_dir",
	"verbose":   "verbose",
	"output":    "output",
}

var (
	k              = koanf.New(".")
	configFileUsed string
	currentConfig  *Config
)

// configIn returns the config file in dir, or "".
func configIn(dir string) string {
	for _, name := range configFileNames {
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

// findConfigUpward returns the nearest config file in startDir or one of
// its ancestors, or "".
func findConfigUpward(startDir string) string {
	for dir, i := startDir, 0; i < maxUpwardSearchLevels; i++ {
		if found := configIn(dir); found != "" {
			return found
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// resolvePathRelativeTo joins a relative path onto baseDir. Empty and
// absolute paths are returned unchanged.
func resolvePathRelativeTo(path, baseDir string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(baseDir, path)
}

// ResetConfig resets the koanf instance. Used for testing.
func ResetConfig() {
	k = koanf.New(".")
	configFileUsed = ""
	currentConfig = nil
}

// locate returns the config file to load and the project root. Without an
// explicit cfgFile, bqviews.yaml (or bqviews.yml) is searched upward from cwd.
func locate(cfgFile, cwd string) (file, root string, err error) {
	if cfgFile != "" {
		abs, err := filepath.Abs(cfgFile)
		if err != nil {
			return "", "", err
		}
		return abs, filepath.Dir(abs), nil
	}
	if found := findConfigUpward(cwd); found != "" {
		return found, filepath.Dir(found), nil
	}
	return "", cwd, nil
}

// envKey maps BQVIEWS_BIGQUERY__PROJECT_ID to bigquery.project_id.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// changedFlags yields only flags that were set on the command line and
// name a configuration key.
func changedFlags(flags *pflag.FlagSet) koanf.Provider {
	return posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, any) {
		key, ok := flagKeys[f.Name]
		if !f.Changed || !ok {
			return "", nil
		}
		return key, posflag.FlagVal(flags, f)
	})
}

type layer struct {
	name     string
	provider koanf.Provider
	parser   koanf.Parser
}

// LoadConfig loads configuration with precedence, lowest first:
// defaults, config file, BQVIEWS_ environment, changed flags.
//
// The directory holding the config file is the project root; without a file
// the working directory is. Relative paths from the file, the environment and
// the defaults resolve against the project root, while --views-dir resolves
// against the working directory.
//
// LoadConfig does not validate; see Config.Validate.
func LoadConfig(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	k = koanf.New(".")

	cwd, err := os.Getwd()
	if err != nil {
		return nil, &Error{Err: fmt.Errorf("failed to get working directory: %w", err)}
	}
	configFile, projectRoot, err := locate(cfgFile, cwd)
	if err != nil {
		return nil, &Error{Err: err}
	}
	configFileUsed = configFile

	layers := []layer{{name: "defaults", provider: confmap.Provider(defaults(), ".")}}
	if configFile != "" {
		layers = append(layers, layer{name: "config file " + configFile, provider: file.Provider(configFile), parser: yaml.Parser()})
	}
	layers = append(layers, layer{name: "environment", provider: env.Provider(EnvPrefix, ".", envKey)})

	var flagViewsDir string
	if flags != nil {
		if f := flags.Lookup("views-dir"); f != nil && f.Changed && f.Value.String() != "" {
			flagViewsDir, _ = filepath.Abs(f.Value.String())
		}
		layers = append(layers, layer{name: "flags", provider: changedFlags(flags)})
	}

	for _, l := range layers {
		if err := k.Load(l.provider, l.parser); err != nil {
			return nil, &Error{Err: fmt.Errorf("loading %s: %w", l.name, err)}
		}
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			Result:           &cfg,
			WeaklyTypedInput: true,
		},
	}); err != nil {
		return nil, &Error{Err: fmt.Errorf("unable to decode config: %w", err)}
	}

	cfg.BigQuery.ProjectID = expandEnvVars(cfg.BigQuery.ProjectID)
	cfg.BigQuery.CredentialsFile = resolvePathRelativeTo(expandEnvVars(cfg.BigQuery.CredentialsFile), projectRoot)

	cfg.ProjectRoot = projectRoot
	cfg.SQL.ViewsDir = resolvePathRelativeTo(cfg.SQL.ViewsDir, projectRoot)
	if flagViewsDir != "" {
		cfg.SQL.ViewsDir = flagViewsDir
	}
	cfg.SQL.CompiledDir = resolvePathRelativeTo(cfg.SQL.CompiledDir, projectRoot)
	cfg.Deployment.StatePath = resolvePathRelativeTo(cfg.Deployment.StatePath, projectRoot)

	currentConfig = &cfg
	return &cfg, nil
}

// GetConfigFileUsed returns the path to the config file being used, if any.
func GetConfigFileUsed() string {
	return configFileUsed
}

// GetCurrentConfig returns the configuration of the last LoadConfig call.
func GetCurrentConfig() *Config {
	return currentConfig
}

// LoggerKey returns the context key under which the root command stores the
// logger.
func LoggerKey() any {
	return loggerKey{}
}

// GetLogger retrieves the logger from the command context.
func GetLogger(ctx context.Context) *slog.Logger {
	if ctx != nil {
		if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok {
			return l
		}
	}
	return slog.New(slog.DiscardHandler)
}

var envVarRe = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns in a string with environment variable
// values. Unset variables are left as written.
func expandEnvVars(s string) string {
	return envVarRe.ReplaceAllStringFunc(s, func(ref string) string {
		if val, ok := os.LookupEnv(envVarRe.FindStringSubmatch(ref)[1]); ok {
			return val
		}
		return ref
	})
}
