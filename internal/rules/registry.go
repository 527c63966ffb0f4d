package rules

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Iron-Ham/handoff/internal/errors"
)

// compiledRule pairs a rule with its compiled patterns.
type compiledRule struct {
	rule     Rule
	matchers []matcher
}

// Registry owns the set of delegation rules. Rules are kept in registration
// order, which the classifier uses to break priority ties. Every mutation
// bumps Version. Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	rules   []*compiledRule
	version uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{}
}

func compileRule(op string, rule Rule) (*compiledRule, error) {
	if strings.TrimSpace(rule.Name) == "" {
		return nil, errors.NewRuleError(op, rule.Name, fmt.Errorf("%w: name is required", errors.ErrInvalidRule))
	}
	if len(rule.Patterns) == 0 {
		return nil, errors.NewRuleError(op, rule.Name, fmt.Errorf("%w: at least one pattern is required", errors.ErrInvalidRule))
	}
	cr := &compiledRule{rule: rule.Clone(), matchers: make([]matcher, 0, len(rule.Patterns))}
	for _, p := range rule.Patterns {
		m, err := compilePattern(p)
		if err != nil {
			return nil, errors.NewRuleError(op, rule.Name, fmt.Errorf("%w: %v", errors.ErrInvalidRule, err))
		}
		cr.matchers = append(cr.matchers, m)
	}
	if cr.rule.WorkerType == "" {
		cr.rule.WorkerType = WorkerGeneral
	}
	return cr, nil
}

// indexOf must be called with mu held.
func (r *Registry) indexOf(name string) int {
	for i, cr := range r.rules {
		if cr.rule.Name == name {
			return i
		}
	}
	return -1
}

// Add registers rule at the end of the registration order.
// Returns ErrDuplicateName if a rule with the same name exists.
func (r *Registry) Add(rule Rule) error {
	cr, err := compileRule("add", rule)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.indexOf(rule.Name) >= 0 {
		return errors.NewRuleError("add", rule.Name, errors.ErrDuplicateName)
	}
	r.rules = append(r.rules, cr)
	r.version++
	return nil
}

// Remove deletes the named rule. Returns ErrNotFound if it does not exist.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(name)
	if i < 0 {
		return errors.NewRuleError("remove", name, errors.ErrNotFound)
	}
	r.rules = append(r.rules[:i:i], r.rules[i+1:]...)
	r.version++
	return nil
}

// Enable marks the named rule as participating in classification.
func (r *Registry) Enable(name string) error {
	return r.setEnabled("enable", name, true)
}

// Disable stops the named rule from matching without removing it.
func (r *Registry) Disable(name string) error {
	return r.setEnabled("disable", name, false)
}

func (r *Registry) setEnabled(op, name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(name)
	if i < 0 {
		return errors.NewRuleError(op, name, errors.ErrNotFound)
	}
	if r.rules[i].rule.Enabled != enabled {
		// copy on write: snapshots handed to the classifier stay immutable
		updated := *r.rules[i]
		updated.rule.Enabled = enabled
		r.rules[i] = &updated
		r.version++
	}
	return nil
}

// Get returns a copy of the named rule.
func (r *Registry) Get(name string) (Rule, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	i := r.indexOf(name)
	if i < 0 {
		return Rule{}, false
	}
	return r.rules[i].rule.Clone(), true
}

// List returns copies of all rules in registration order.
func (r *Registry) List() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Rule, len(r.rules))
	for i, cr := range r.rules {
		out[i] = cr.rule.Clone()
	}
	return out
}

// Len returns the number of registered rules.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Version returns a counter that changes whenever the rule set changes.
func (r *Registry) Version() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}

// Replace swaps the whole rule set. Either every rule is accepted or the
// registry is left unchanged.
func (r *Registry) Replace(rules []Rule) error {
	compiled := make([]*compiledRule, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, rule := range rules {
		if seen[rule.Name] {
			return errors.NewRuleError("replace", rule.Name, errors.ErrDuplicateName)
		}
		seen[rule.Name] = true
		cr, err := compileRule("replace", rule)
		if err != nil {
			return err
		}
		compiled = append(compiled, cr)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = compiled
	r.version++
	return nil
}

// enabledSnapshot returns the enabled rules in registration order together
// with the version they were read at.
func (r *Registry) enabledSnapshot() ([]*compiledRule, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*compiledRule, 0, len(r.rules))
	for _, cr := range r.rules {
		if cr.rule.Enabled {
			out = append(out, cr)
		}
	}
	return out, r.version
}
