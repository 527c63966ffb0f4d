package rules

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/handoff/internal/errors"
)

// fileRule is the on-disk form of a Rule. Enabled is a pointer so that an
// omitted field means enabled.
type fileRule struct {
	Name        string   `yaml:"name"`
	Patterns    []string `yaml:"patterns"`
	WorkerType  string   `yaml:"worker_type"`
	Priority    int      `yaml:"priority"`
	Enabled     *bool    `yaml:"enabled,omitempty"`
	Constraints []string `yaml:"constraints,omitempty"`
}

type rulesFile struct {
	Rules []fileRule `yaml:"rules"`
}

// ParseYAML decodes a rules document.
func ParseYAML(data []byte) ([]Rule, error) {
	var doc rulesFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse rules: %w", err)
	}
	out := make([]Rule, 0, len(doc.Rules))
	for _, fr := range doc.Rules {
		enabled := true
		if fr.Enabled != nil {
			enabled = *fr.Enabled
		}
		out = append(out, Rule{
			Name:        fr.Name,
			Patterns:    fr.Patterns,
			WorkerType:  fr.WorkerType,
			Priority:    fr.Priority,
			Enabled:     enabled,
			Constraints: fr.Constraints,
		})
	}
	return out, nil
}

// MarshalYAML encodes rules as a rules document.
func MarshalYAML(rules []Rule) ([]byte, error) {
	doc := rulesFile{Rules: make([]fileRule, 0, len(rules))}
	for _, r := range rules {
		enabled := r.Enabled
		doc.Rules = append(doc.Rules, fileRule{
			Name:        r.Name,
			Patterns:    r.Patterns,
			WorkerType:  r.WorkerType,
			Priority:    r.Priority,
			Enabled:     &enabled,
			Constraints: r.Constraints,
		})
	}
	return yaml.Marshal(doc)
}

// LoadFile reads rules from path.
func LoadFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseYAML(data)
}

// SaveFile writes rules to path atomically (temp file + rename).
func SaveFile(path string, rules []Rule) error {
	data, err := MarshalYAML(rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rules directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".rules-*.yaml")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to rename rules file: %w", err)
	}
	return nil
}

// LoadRegistry builds a registry from path. A missing file yields the
// default rule set.
func LoadRegistry(path string) (*Registry, error) {
	rules, err := LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return NewDefaultRegistry(), nil
	}
	if err != nil {
		return nil, err
	}
	reg := NewRegistry()
	if err := reg.Replace(rules); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return reg, nil
}

// SaveRegistry writes the registry's rules to path.
func SaveRegistry(path string, reg *Registry) error {
	return SaveFile(path, reg.List())
}
