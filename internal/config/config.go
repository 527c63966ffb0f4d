package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/handoff/internal/delegation"
)

// Parallel limit bounds, shared with the scheduler.
const (
	MinParallelLimit     = delegation.MinParallelLimit
	MaxParallelLimit     = delegation.MaxParallelLimit
	DefaultParallelLimit = delegation.DefaultParallelLimit
)

// MaxRetriesLimit caps delegation.max_retries.
const MaxRetriesLimit = 10

// MaxPerSessionLimit caps delegation.max_per_session.
const MaxPerSessionLimit = delegation.MaxPerSessionLimit

// Config represents the complete handoff configuration
type Config struct {
	Delegation DelegationConfig `mapstructure:"delegation"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Output     OutputConfig     `mapstructure:"output"`
	History    HistoryConfig    `mapstructure:"history"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// DelegationConfig controls classification and the worker pool
type DelegationConfig struct {
	// Enabled turns delegation on. When false, evaluation refuses to plan a session.
	Enabled bool `mapstructure:"enabled"`
	// ParallelLimit is the number of delegates that may run at once (1-5, default: 3)
	ParallelLimit int `mapstructure:"parallel_limit"`
	// TaskTimeout is the max duration of a single delegate (0 = no limit).
	// Accepts Go duration strings such as "90s" or "10m".
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// AdmissionsPerSecond throttles how quickly queued tasks are handed to
	// workers (0 = unlimited)
	AdmissionsPerSecond float64 `mapstructure:"admissions_per_second"`
	// MaxRetries is how many times a failed delegate is requeued automatically
	// before it stays failed (0 = only manual retry)
	MaxRetries int `mapstructure:"max_retries"`
	// MaxPerSession caps how many task units one session delegates; matched
	// units past the cap are kept local (0 = no cap, default: 20)
	MaxPerSession int `mapstructure:"max_per_session"`
	// SummaryMaxWords is the word limit requested from each delegate's summary
	SummaryMaxWords int `mapstructure:"summary_max_words"`
	// ClassifierCacheSize is the number of classification results kept in memory (0 = no cache)
	ClassifierCacheSize int `mapstructure:"classifier_cache_size"`
	// RulesFile is the YAML file holding delegation rules.
	// Empty means {config dir}/rules.yaml.
	RulesFile string `mapstructure:"rules_file"`
	// WatchRules reloads RulesFile while a session is running
	WatchRules bool `mapstructure:"watch_rules"`
}

// WorkerConfig describes the external process that runs a delegated task
type WorkerConfig struct {
	// Command is the executable to run (default: "claude")
	Command string `mapstructure:"command"`
	// Args are passed to Command before the prompt is written to stdin
	Args []string `mapstructure:"args"`
	// Env holds extra KEY=VALUE pairs appended to the worker environment
	Env []string `mapstructure:"env"`
}

// OutputConfig controls how the final synthesis is emitted
type OutputConfig struct {
	// Format is "json" or "yaml"
	Format string `mapstructure:"format"`
	// Dir receives synthesis-{session}.{format} files. Empty prints to stdout only.
	Dir string `mapstructure:"dir"`
}

// HistoryConfig controls the SQLite record of finished sessions
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path to the database file. Empty means {config dir}/history.db.
	Path string `mapstructure:"path"`
}

// MetricsConfig controls Prometheus metric export
type MetricsConfig struct {
	// Textfile is written in Prometheus text format at the end of each session,
	// for pickup by a node_exporter textfile collector. Empty disables export.
	Textfile string `mapstructure:"textfile"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is written (default: false)
	Enabled bool `mapstructure:"enabled"`
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// Dir receives debug.log. Empty means {config dir}/logs.
	Dir string `mapstructure:"dir"`
	// MaxSizeMB is the maximum size of debug.log before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Delegation: DelegationConfig{
			Enabled:             true,
			ParallelLimit:       DefaultParallelLimit,
			TaskTimeout:         0,
			AdmissionsPerSecond: 0,
			MaxRetries:          0,
			MaxPerSession:       delegation.DefaultMaxPerSession,
			SummaryMaxWords:     500,
			ClassifierCacheSize: 256,
			RulesFile:           "",
			WatchRules:          false,
		},
		Worker: WorkerConfig{
			Command: "claude",
			Args:    []string{"--print"},
			Env:     []string{},
		},
		Output: OutputConfig{
			Format: "json",
			Dir:    "",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "",
		},
		Logging: LoggingConfig{
			Enabled:    false,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with the global viper instance
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with v
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	v.SetDefault("delegation.enabled", defaults.Delegation.Enabled)
	v.SetDefault("delegation.parallel_limit", defaults.Delegation.ParallelLimit)
	v.SetDefault("delegation.task_timeout", defaults.Delegation.TaskTimeout)
	v.SetDefault("delegation.admissions_per_second", defaults.Delegation.AdmissionsPerSecond)
	v.SetDefault("delegation.max_retries", defaults.Delegation.MaxRetries)
	v.SetDefault("delegation.max_per_session", defaults.Delegation.MaxPerSession)
	v.SetDefault("delegation.summary_max_words", defaults.Delegation.SummaryMaxWords)
	v.SetDefault("delegation.classifier_cache_size", defaults.Delegation.ClassifierCacheSize)
	v.SetDefault("delegation.rules_file", defaults.Delegation.RulesFile)
	v.SetDefault("delegation.watch_rules", defaults.Delegation.WatchRules)

	v.SetDefault("worker.command", defaults.Worker.Command)
	v.SetDefault("worker.args", defaults.Worker.Args)
	v.SetDefault("worker.env", defaults.Worker.Env)

	v.SetDefault("output.format", defaults.Output.Format)
	v.SetDefault("output.dir", defaults.Output.Dir)

	v.SetDefault("history.enabled", defaults.History.Enabled)
	v.SetDefault("history.path", defaults.History.Path)

	v.SetDefault("metrics.textfile", defaults.Metrics.Textfile)

	v.SetDefault("logging.enabled", defaults.Logging.Enabled)
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from the global viper instance and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads the configuration from v and validates it
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults if it
// cannot be loaded
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "handoff")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".handoff"
	}
	return filepath.Join(home, ".config", "handoff")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ResolveRulesFile returns the rules file path, applying the default location
func (c *DelegationConfig) ResolveRulesFile() string {
	if c.RulesFile != "" {
		return c.RulesFile
	}
	return filepath.Join(ConfigDir(), "rules.yaml")
}

// ResolvePath returns the history database path, applying the default location
func (c *HistoryConfig) ResolvePath() string {
	if c.Path != "" {
		return c.Path
	}
	return filepath.Join(ConfigDir(), "history.db")
}

// ResolveDir returns the log directory, applying the default location
func (c *LoggingConfig) ResolveDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(ConfigDir(), "logs")
}

// ValidOutputFormats returns the list of valid synthesis output formats
func ValidOutputFormats() []string {
	return []string{"json", "yaml"}
}
