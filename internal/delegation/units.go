package delegation

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

type unitsFile struct {
	Feature string     `yaml:"feature"`
	Tasks   []TaskUnit `yaml:"tasks"`
}

// TaskSource is an ordered list of task units, optionally named after the
// feature they belong to.
type TaskSource struct {
	Feature string
	Units   []TaskUnit
}

// ParseUnits decodes a task source. Both a mapping with a "tasks" list and a
// bare list are accepted, in YAML or JSON. Units without an ID are numbered
// task-1, task-2, ... by position.
func ParseUnits(data []byte) (TaskSource, error) {
	var src TaskSource

	var doc unitsFile
	if err := yaml.Unmarshal(data, &doc); err == nil && doc.Tasks != nil {
		src.Feature = doc.Feature
		src.Units = doc.Tasks
	} else {
		var list []TaskUnit
		if err := yaml.Unmarshal(data, &list); err != nil {
			return TaskSource{}, fmt.Errorf("failed to parse task units: %w", err)
		}
		src.Units = list
	}

	for i := range src.Units {
		src.Units[i].Description = strings.TrimSpace(src.Units[i].Description)
		if src.Units[i].ID == "" {
			src.Units[i].ID = fmt.Sprintf("task-%d", i+1)
		}
	}
	return src, nil
}

// LoadUnits reads a task source file.
func LoadUnits(path string) (TaskSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TaskSource{}, err
	}
	return ParseUnits(data)
}

// UnitsFromArgs builds task units from plain descriptions, numbered task-1, task-2, ...
func UnitsFromArgs(descriptions []string) []TaskUnit {
	units := make([]TaskUnit, 0, len(descriptions))
	for i, d := range descriptions {
		units = append(units, TaskUnit{ID: fmt.Sprintf("task-%d", i+1), Description: strings.TrimSpace(d)})
	}
	return units
}
