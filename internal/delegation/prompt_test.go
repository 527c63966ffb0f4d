package delegation

import (
	"strings"
	"testing"

	"github.com/Iron-Ham/handoff/internal/rules"
)

func TestBuildPrompt(t *testing.T) {
	rule := rules.DefaultRules()[1] // testing
	dt := &DelegationTask{
		Unit: TaskUnit{ID: "task-3", Description: "Write unit tests for auth"},
		Rule: &rule,
	}

	t.Run("full options", func(t *testing.T) {
		got, err := BuildPrompt(dt, PromptOptions{
			Feature:         "Login",
			Context:         "Auth lives in internal/auth.",
			RelevantFiles:   []string{"/repo/internal/auth/auth.go"},
			SummaryMaxWords: 300,
		})
		if err != nil {
			t.Fatalf("BuildPrompt() error = %v", err)
		}

		for _, want := range []string{
			"## Delegated Task: Write unit tests for auth\n",
			"**Feature:** Login\n**Task ID:** task-3\n",
			"**Subagent Type:** test\n",
			"### Context\nAuth lives in internal/auth.\n",
			"### Relevant Files\n- /repo/internal/auth/auth.go\n",
			"- Keep summaries concise to preserve main agent context\n",
			"- Mock external services\n",
			"under 300 words",
			"5. **Recommended next steps**",
			"structured YAML",
		} {
			if !strings.Contains(got, want) {
				t.Errorf("prompt missing %q\n---\n%s", want, got)
			}
		}
	})

	t.Run("defaults", func(t *testing.T) {
		got, err := BuildPrompt(dt, PromptOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if strings.Contains(got, "**Feature:**") || strings.Contains(got, "### Relevant Files") {
			t.Errorf("empty options should omit optional sections\n%s", got)
		}
		if !strings.Contains(got, "### Context\n\n### Constraints\n") {
			t.Errorf("unexpected context layout\n%s", got)
		}
		if !strings.Contains(got, "under 500 words") {
			t.Error("default summary limit should be 500 words")
		}
	})

	t.Run("unmatched task uses general worker", func(t *testing.T) {
		got, err := BuildPrompt(&DelegationTask{Unit: TaskUnit{ID: "x", Description: "y"}}, PromptOptions{})
		if err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(got, "**Subagent Type:** general") {
			t.Errorf("prompt = %s", got)
		}
	})
}

func TestConstraints(t *testing.T) {
	rule := rules.Rule{Name: "r", Constraints: []string{"Only read"}}
	got := Constraints(&DelegationTask{Rule: &rule})
	defaults := rules.DefaultConstraints()
	if len(got) != len(defaults)+1 || got[len(got)-1] != "Only read" {
		t.Errorf("Constraints() = %v", got)
	}
	if len(rule.Constraints) != 1 {
		t.Error("Constraints() modified the rule")
	}
}
