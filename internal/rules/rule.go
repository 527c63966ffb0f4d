package rules

import "slices"

// Worker types understood by the savings table and the prompt builder.
const (
	WorkerExplore  = "explore"
	WorkerTest     = "test"
	WorkerDocument = "document"
	WorkerReview   = "review"
	WorkerGeneral  = "general"
)

// Rule decides which task descriptions are handed to a delegate and what
// kind of worker handles them.
type Rule struct {
	Name        string   `json:"name" yaml:"name"`
	Patterns    []string `json:"patterns" yaml:"patterns"`
	WorkerType  string   `json:"worker_type" yaml:"worker_type"`
	Priority    int      `json:"priority" yaml:"priority"`
	Enabled     bool     `json:"enabled" yaml:"enabled"`
	Constraints []string `json:"constraints,omitempty" yaml:"constraints,omitempty"`
}

// Clone returns a deep copy of r.
func (r Rule) Clone() Rule {
	r.Patterns = slices.Clone(r.Patterns)
	r.Constraints = slices.Clone(r.Constraints)
	return r
}
