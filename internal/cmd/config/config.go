// Package config provides CLI commands for managing handoff configuration.
package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	appconfig "github.com/Iron-Ham/handoff/internal/config"
)

// Wrapper functions for exec to allow testing
var execLookPath = exec.LookPath
var execCommand = exec.Command

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or modify handoff configuration",
	Long: `View or modify handoff configuration.

Use 'config show' to display the effective configuration.
Use subcommands to modify settings or create a config file.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value in the user's config file.

Keys use dot notation, e.g.:
  handoff config set delegation.parallel_limit 4
  handoff config set delegation.task_timeout 10m
  handoff config set output.format yaml

Valid keys:
  delegation.enabled               - Allow sessions to delegate (true/false)
  delegation.parallel_limit        - Delegates running at once (1-5)
  delegation.task_timeout          - Max duration of one delegate (e.g. 90s, 10m; 0 = none)
  delegation.admissions_per_second - Admission throttle (0 = unlimited)
  delegation.max_retries           - Automatic retries of a failed delegate (0-10)
  delegation.max_per_session       - Units one session may delegate (0-100, 0 = no cap)
  delegation.summary_max_words     - Word limit requested for each summary
  delegation.classifier_cache_size - Cached classifications (0 = no cache)
  delegation.rules_file            - Rules file path
  delegation.watch_rules           - Reload the rules file while running (true/false)
  worker.command                   - Worker executable
  output.format                    - Synthesis format: json, yaml
  output.dir                       - Directory receiving synthesis files
  history.enabled                  - Record finished sessions (true/false)
  history.path                     - History database path
  metrics.textfile                 - Prometheus textfile written after each session
  logging.enabled                  - Write debug.log (true/false)
  logging.level                    - debug, info, warn, error`,
	Args: cobra.ExactArgs(2),
	RunE: runConfigSet,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/handoff/config.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configEditCmd = &cobra.Command{
	Use:   "edit",
	Short: "Open config file in your editor",
	Long: `Open the config file in your preferred editor.

Uses $EDITOR environment variable, or falls back to common editors (vim, nano, vi).
If no config file exists, creates one with default values first.`,
	RunE: runConfigEdit,
}

var configResetCmd = &cobra.Command{
	Use:   "reset [key]",
	Short: "Reset configuration to defaults",
	Long: `Reset configuration values to their defaults.

Without arguments, resets all configuration to defaults.
With a key argument, resets only that specific key.

Examples:
  handoff config reset                           # Reset all to defaults
  handoff config reset delegation.parallel_limit # Reset only the parallel limit`,
	Args: cobra.MaximumNArgs(1),
	RunE: runConfigReset,
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configEditCmd)
	configCmd.AddCommand(configResetCmd)
}

// Register adds all config-related commands to the given parent command.
// This is the main entry point for integrating the config subpackage with
// the root command.
func Register(parent *cobra.Command) {
	parent.AddCommand(configCmd)
}

// keyTypes lists the keys "config set" accepts and how their values parse.
var keyTypes = map[string]string{
	"delegation.enabled":               "bool",
	"delegation.parallel_limit":        "int",
	"delegation.task_timeout":          "duration",
	"delegation.admissions_per_second": "float",
	"delegation.max_retries":           "int",
	"delegation.max_per_session":       "int",
	"delegation.summary_max_words":     "int",
	"delegation.classifier_cache_size": "int",
	"delegation.rules_file":            "string",
	"delegation.watch_rules":           "bool",
	"worker.command":                   "string",
	"output.format":                    "string",
	"output.dir":                       "string",
	"history.enabled":                  "bool",
	"history.path":                     "string",
	"metrics.textfile":                 "string",
	"logging.enabled":                  "bool",
	"logging.level":                    "string",
}

// parseValue converts a command-line value to the type of key.
func parseValue(key, value string) (any, error) {
	keyType, ok := keyTypes[key]
	if !ok {
		return nil, unknownKeyError(key)
	}

	switch keyType {
	case "bool":
		if value != "true" && value != "false" {
			return nil, fmt.Errorf("invalid value for %s: expected true or false", key)
		}
		return value == "true", nil
	case "int":
		n, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected integer", key)
		}
		return n, nil
	case "float":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a number", key)
		}
		return f, nil
	case "duration":
		d, err := time.ParseDuration(value)
		if err != nil {
			return nil, fmt.Errorf("invalid value for %s: expected a duration such as 90s or 10m", key)
		}
		return d.String(), nil
	default:
		return value, nil
	}
}

// validateWith checks the configuration that would result from setting key
// to value, without touching the global viper instance.
func validateWith(key string, value any) error {
	v := viper.New()
	appconfig.SetDefaultsOn(v)
	if err := v.MergeConfigMap(viper.AllSettings()); err != nil {
		return err
	}
	v.Set(key, value)
	_, err := appconfig.LoadFrom(v)
	return err
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg := appconfig.Get()
	out := cmd.OutOrStdout()

	_, _ = fmt.Fprintln(out, "Current configuration:")
	_, _ = fmt.Fprintln(out)

	// Show where config is being read from
	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(out, "Config file: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintf(out, "Config file: (none - using defaults)\n")
	}
	_, _ = fmt.Fprintln(out)

	data, err := yaml.Marshal(configView(cfg))
	if err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	_, _ = fmt.Fprint(out, string(data))
	return nil
}

// configView mirrors the config file layout with resolved default paths.
func configView(cfg *appconfig.Config) map[string]any {
	return map[string]any{
		"delegation": map[string]any{
			"enabled":               cfg.Delegation.Enabled,
			"parallel_limit":        cfg.Delegation.ParallelLimit,
			"task_timeout":          cfg.Delegation.TaskTimeout.String(),
			"admissions_per_second": cfg.Delegation.AdmissionsPerSecond,
			"max_retries":           cfg.Delegation.MaxRetries,
			"max_per_session":       cfg.Delegation.MaxPerSession,
			"summary_max_words":     cfg.Delegation.SummaryMaxWords,
			"classifier_cache_size": cfg.Delegation.ClassifierCacheSize,
			"rules_file":            cfg.Delegation.ResolveRulesFile(),
			"watch_rules":           cfg.Delegation.WatchRules,
		},
		"worker": map[string]any{
			"command": cfg.Worker.Command,
			"args":    cfg.Worker.Args,
			"env":     cfg.Worker.Env,
		},
		"output": map[string]any{
			"format": cfg.Output.Format,
			"dir":    cfg.Output.Dir,
		},
		"history": map[string]any{
			"enabled": cfg.History.Enabled,
			"path":    cfg.History.ResolvePath(),
		},
		"metrics": map[string]any{
			"textfile": cfg.Metrics.Textfile,
		},
		"logging": map[string]any{
			"enabled":     cfg.Logging.Enabled,
			"level":       cfg.Logging.Level,
			"dir":         cfg.Logging.ResolveDir(),
			"max_size_mb": cfg.Logging.MaxSizeMB,
			"max_backups": cfg.Logging.MaxBackups,
			"compress":    cfg.Logging.Compress,
		},
	}
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	key := args[0]
	typedValue, err := parseValue(key, args[1])
	if err != nil {
		return err
	}
	if err := validateWith(key, typedValue); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}

	// Ensure config directory exists
	configDir := appconfig.ConfigDir()
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	// Set the value in viper
	viper.Set(key, typedValue)

	// Write to config file
	configFile := appconfig.ConfigFile()
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Set %s = %v\nConfig saved to %s\n", key, typedValue, configFile)
	return nil
}

const defaultConfigContent = `# handoff configuration

# Delegation of task units to sub-agent workers
delegation:
  # Set to false to keep every task local
  enabled: true
  # Number of delegates running at once (1-5)
  parallel_limit: 3
  # Max duration of one delegate; 0 disables the timeout
  task_timeout: 0s
  # Throttle on how fast queued delegates start; 0 means unlimited
  admissions_per_second: 0
  # Automatic retries of a failed delegate before it stays failed (0-10)
  max_retries: 0
  # Units one session may delegate; the rest are kept local (0 = no cap)
  max_per_session: 20
  # Word limit requested for each delegate's summary
  summary_max_words: 500
  # Number of classification results kept in memory
  classifier_cache_size: 256
  # Rules file; empty means rules.yaml next to this file
  rules_file: ""
  # Reload the rules file while a session runs
  watch_rules: false

# The process that runs a delegated task. The prompt is written to stdin
# and stdout becomes the task summary.
worker:
  command: claude
  args: ["--print"]
  # Extra KEY=VALUE environment entries
  env: []

# Synthesis output
output:
  # json or yaml
  format: json
  # Directory receiving synthesis-{session}.{format}; empty prints only
  dir: ""

# SQLite record of finished sessions, used by 'handoff history'
history:
  enabled: true
  path: ""

# Prometheus metrics written after each session for a textfile collector
metrics:
  textfile: ""

# Debug logging
logging:
  enabled: false
  # debug, info, warn or error
  level: info
  dir: ""
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := appconfig.ConfigDir()
	configFile := appconfig.ConfigFile()

	// Check if config file already exists
	if _, err := os.Stat(configFile); err == nil {
		return fmt.Errorf("config file already exists at %s\nUse 'handoff config set' to modify values", configFile)
	}

	// Create config directory
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Edit this file to customize handoff's behavior.")
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	configFile := appconfig.ConfigFile()

	if viper.ConfigFileUsed() != "" {
		_, _ = fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		_, _ = fmt.Fprintf(out, "Default path: %s (not created)\n", configFile)
	}

	// Also show config search paths
	_, _ = fmt.Fprintln(out, "\nSearch paths:")
	_, _ = fmt.Fprintf(out, "  1. %s\n", filepath.Join(appconfig.ConfigDir(), "config.yaml"))
	_, _ = fmt.Fprintf(out, "  2. $HOME/.config/handoff/config.yaml\n")
	_, _ = fmt.Fprintf(out, "  3. ./config.yaml (current directory)\n")
	_, _ = fmt.Fprintln(out, "\nEnvironment variables: HANDOFF_* (e.g., HANDOFF_DELEGATION_PARALLEL_LIMIT)")
	return nil
}

func runConfigEdit(cmd *cobra.Command, args []string) error {
	configFile := appconfig.ConfigFile()

	// Check if config file exists, if not create it
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config file doesn't exist, creating with defaults...\n")
		if err := runConfigInit(cmd, args); err != nil {
			return err
		}
	}

	// Find an editor
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = os.Getenv("VISUAL")
	}
	if editor == "" {
		// Try common editors
		for _, e := range []string{"vim", "nano", "vi"} {
			if _, err := execLookPath(e); err == nil {
				editor = e
				break
			}
		}
	}
	if editor == "" {
		return fmt.Errorf("no editor found. Set $EDITOR environment variable")
	}

	editorCmd := execCommand(editor, configFile)
	editorCmd.Stdin = os.Stdin
	editorCmd.Stdout = os.Stdout
	editorCmd.Stderr = os.Stderr

	if err := editorCmd.Run(); err != nil {
		return fmt.Errorf("editor exited with error: %w", err)
	}

	if _, err := appconfig.Load(); err != nil {
		_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %v\n", err)
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Config file saved: %s\n", configFile)
	return nil
}

// defaultValues maps every settable key to its default.
func defaultValues() map[string]any {
	defaults := appconfig.Default()
	return map[string]any{
		"delegation.enabled":               defaults.Delegation.Enabled,
		"delegation.parallel_limit":        defaults.Delegation.ParallelLimit,
		"delegation.task_timeout":          defaults.Delegation.TaskTimeout.String(),
		"delegation.admissions_per_second": defaults.Delegation.AdmissionsPerSecond,
		"delegation.max_retries":           defaults.Delegation.MaxRetries,
		"delegation.max_per_session":       defaults.Delegation.MaxPerSession,
		"delegation.summary_max_words":     defaults.Delegation.SummaryMaxWords,
		"delegation.classifier_cache_size": defaults.Delegation.ClassifierCacheSize,
		"delegation.rules_file":            defaults.Delegation.RulesFile,
		"delegation.watch_rules":           defaults.Delegation.WatchRules,
		"worker.command":                   defaults.Worker.Command,
		"output.format":                    defaults.Output.Format,
		"output.dir":                       defaults.Output.Dir,
		"history.enabled":                  defaults.History.Enabled,
		"history.path":                     defaults.History.Path,
		"metrics.textfile":                 defaults.Metrics.Textfile,
		"logging.enabled":                  defaults.Logging.Enabled,
		"logging.level":                    defaults.Logging.Level,
	}
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	values := defaultValues()

	if len(args) == 0 {
		keys := make([]string, 0, len(values))
		for key := range values {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			viper.Set(key, values[key])
		}
		_, _ = fmt.Fprintln(out, "Reset all configuration to defaults.")
	} else {
		key := args[0]
		value, ok := values[key]
		if !ok {
			return unknownKeyError(key)
		}
		viper.Set(key, value)
		_, _ = fmt.Fprintf(out, "Reset %s to default: %v\n", key, value)
	}

	configFile := appconfig.ConfigFile()

	// Ensure config directory exists
	if err := os.MkdirAll(appconfig.ConfigDir(), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	_, _ = fmt.Fprintf(out, "Config saved to %s\n", configFile)
	return nil
}

// validKeys returns the settable keys, sorted.
func validKeys() []string {
	keys := make([]string, 0, len(keyTypes))
	for key := range keyTypes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// suggestKey returns a settable key that ends with the given suffix, for
// error messages such as "did you mean delegation.parallel_limit?".
func suggestKey(key string) string {
	for _, k := range validKeys() {
		if strings.HasSuffix(k, "."+key) {
			return k
		}
	}
	return ""
}

func unknownKeyError(key string) error {
	if s := suggestKey(key); s != "" {
		return fmt.Errorf("unknown configuration key: %s (did you mean %s?)", key, s)
	}
	return fmt.Errorf("unknown configuration key: %s\nRun 'handoff config set --help' to see valid keys", key)
}
