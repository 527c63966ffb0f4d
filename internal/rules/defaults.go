package rules

// DefaultConstraints apply to every delegated task regardless of its rule.
func DefaultConstraints() []string {
	return []string{
		"Keep summaries concise to preserve main agent context",
		"Report file paths as absolute paths",
		"Include specific line numbers when relevant",
	}
}

// DefaultRules returns the built-in rule set in registration order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name: "exploration",
			Patterns: []string{
				"explore.*", "investigate.*", "find.*", "discover.*",
				"search.*", "analyze.*codebase", "understand.*",
			},
			WorkerType:  WorkerExplore,
			Priority:    10,
			Enabled:     true,
			Constraints: []string{"Read-only operations", "Focus on file structure and patterns"},
		},
		{
			Name: "testing",
			Patterns: []string{
				"test.*", "write.*test.*", "unit test.*", "e2e.*",
				"integration test.*", "add.*test.*",
			},
			WorkerType:  WorkerTest,
			Priority:    8,
			Enabled:     true,
			Constraints: []string{"Use project test framework", "Include edge cases", "Mock external services"},
		},
		{
			Name: "documentation",
			Patterns: []string{
				"document.*", "doc.*", "readme.*", "comment.*",
				"write.*doc.*", "update.*doc.*",
			},
			WorkerType:  WorkerDocument,
			Priority:    6,
			Enabled:     true,
			Constraints: []string{"Follow project doc conventions", "Be concise", "Include examples"},
		},
		{
			Name: "review",
			Patterns: []string{
				"review.*", "audit.*", "check.*", "validate.*",
				"security.*", "performance.*",
			},
			WorkerType:  WorkerReview,
			Priority:    7,
			Enabled:     true,
			Constraints: []string{"Focus on critical issues", "Provide actionable feedback"},
		},
	}
}

// NewDefaultRegistry returns a registry populated with DefaultRules.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	if err := r.Replace(DefaultRules()); err != nil {
		panic("rules: invalid default rule set: " + err.Error())
	}
	return r
}
