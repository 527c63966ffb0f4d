package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	appconfig "github.com/Iron-Ham/handoff/internal/config"
)

// isolate points the config directory at a temp dir and resets viper.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	viper.Reset()
	appconfig.SetDefaults()
	t.Cleanup(viper.Reset)
	return dir
}

func newTestCmd() (*cobra.Command, *bytes.Buffer) {
	cmd := &cobra.Command{}
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	return cmd, buf
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		key     string
		value   string
		want    any
		wantErr bool
	}{
		{"delegation.enabled", "true", true, false},
		{"delegation.enabled", "yes", nil, true},
		{"delegation.parallel_limit", "4", 4, false},
		{"delegation.parallel_limit", "four", nil, true},
		{"delegation.admissions_per_second", "2.5", 2.5, false},
		{"delegation.task_timeout", "90s", "1m30s", false},
		{"delegation.task_timeout", "soon", nil, true},
		{"output.format", "yaml", "yaml", false},
		{"worker.nope", "x", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			got, err := parseValue(tt.key, tt.value)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseValue() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseValue() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUnknownKeySuggestion(t *testing.T) {
	_, err := parseValue("parallel_limit", "2")
	if err == nil {
		t.Fatal("parseValue() error = nil, want unknown key error")
	}
	if !strings.Contains(err.Error(), "did you mean delegation.parallel_limit") {
		t.Errorf("error = %q, want a suggestion", err)
	}
}

func TestRunConfigSet(t *testing.T) {
	dir := isolate(t)
	cmd, buf := newTestCmd()

	if err := runConfigSet(cmd, []string{"delegation.parallel_limit", "5"}); err != nil {
		t.Fatalf("runConfigSet() error = %v", err)
	}
	if !strings.Contains(buf.String(), "Set delegation.parallel_limit = 5") {
		t.Errorf("output = %q, want confirmation", buf.String())
	}

	data, err := os.ReadFile(filepath.Join(dir, "handoff", "config.yaml"))
	if err != nil {
		t.Fatalf("config file not written: %v", err)
	}
	if !strings.Contains(string(data), "parallel_limit: 5") {
		t.Errorf("config file = %q, want parallel_limit: 5", data)
	}
}

func TestRunConfigSet_RejectsInvalid(t *testing.T) {
	dir := isolate(t)

	tests := []struct {
		key   string
		value string
	}{
		{"delegation.parallel_limit", "9"},
		{"delegation.max_retries", "11"},
		{"output.format", "xml"},
		{"logging.level", "verbose"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			cmd, _ := newTestCmd()
			if err := runConfigSet(cmd, []string{tt.key, tt.value}); err == nil {
				t.Errorf("runConfigSet(%s, %s) error = nil, want validation error", tt.key, tt.value)
			}
		})
	}

	if _, err := os.Stat(filepath.Join(dir, "handoff", "config.yaml")); !os.IsNotExist(err) {
		t.Errorf("config file written despite invalid values: %v", err)
	}
}

func TestRunConfigInit(t *testing.T) {
	dir := isolate(t)
	cmd, _ := newTestCmd()

	if err := runConfigInit(cmd, nil); err != nil {
		t.Fatalf("runConfigInit() error = %v", err)
	}

	path := filepath.Join(dir, "handoff", "config.yaml")
	viper.SetConfigFile(path)
	if err := viper.ReadInConfig(); err != nil {
		t.Fatalf("generated config does not parse: %v", err)
	}
	cfg, err := appconfig.Load()
	if err != nil {
		t.Fatalf("generated config does not validate: %v", err)
	}
	if cfg.Delegation.ParallelLimit != appconfig.DefaultParallelLimit {
		t.Errorf("ParallelLimit = %d, want %d", cfg.Delegation.ParallelLimit, appconfig.DefaultParallelLimit)
	}

	if err := runConfigInit(cmd, nil); err == nil {
		t.Error("second runConfigInit() error = nil, want already exists")
	}
}

func TestRunConfigReset(t *testing.T) {
	isolate(t)
	cmd, _ := newTestCmd()

	viper.Set("delegation.parallel_limit", 1)
	viper.Set("output.format", "yaml")

	if err := runConfigReset(cmd, []string{"delegation.parallel_limit"}); err != nil {
		t.Fatalf("runConfigReset(key) error = %v", err)
	}
	if got := viper.GetInt("delegation.parallel_limit"); got != appconfig.DefaultParallelLimit {
		t.Errorf("parallel_limit = %d, want %d", got, appconfig.DefaultParallelLimit)
	}
	if got := viper.GetString("output.format"); got != "yaml" {
		t.Errorf("output.format = %q, want untouched yaml", got)
	}

	if err := runConfigReset(cmd, nil); err != nil {
		t.Fatalf("runConfigReset() error = %v", err)
	}
	if got := viper.GetString("output.format"); got != "json" {
		t.Errorf("output.format = %q, want json", got)
	}

	if err := runConfigReset(cmd, []string{"bogus"}); err == nil {
		t.Error("runConfigReset(bogus) error = nil, want unknown key")
	}
}

func TestRunConfigShow(t *testing.T) {
	isolate(t)
	cmd, buf := newTestCmd()

	if err := runConfigShow(cmd, nil); err != nil {
		t.Fatalf("runConfigShow() error = %v", err)
	}
	for _, want := range []string{"delegation:", "parallel_limit: 3", "worker:", "logging:"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("output missing %q:\n%s", want, buf.String())
		}
	}
}

func TestKeyTypesMatchDefaults(t *testing.T) {
	defaults := defaultValues()
	for key := range keyTypes {
		if _, ok := defaults[key]; !ok {
			t.Errorf("key %s has no default", key)
		}
	}
	if len(defaults) != len(keyTypes) {
		t.Errorf("len(defaultValues()) = %d, want %d", len(defaults), len(keyTypes))
	}
}
