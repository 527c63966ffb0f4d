package rules

import (
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// Match is the outcome of a successful classification.
type Match struct {
	Rule             Rule
	EstimatedSavings int
}

type cachedResult struct {
	match   Match
	ok      bool
	version uint64
}

// Classifier maps task descriptions to the rule that should handle them.
// It is safe for concurrent use.
type Classifier struct {
	registry *Registry
	cache    *lru.Cache[string, cachedResult]
}

// NewClassifier creates a classifier over registry. cacheSize <= 0 disables caching.
func NewClassifier(registry *Registry, cacheSize int) (*Classifier, error) {
	c := &Classifier{registry: registry}
	if cacheSize > 0 {
		cache, err := lru.New[string, cachedResult](cacheSize)
		if err != nil {
			return nil, err
		}
		c.cache = cache
	}
	return c, nil
}

// Registry returns the registry the classifier reads from.
func (c *Classifier) Registry() *Registry {
	return c.registry
}

// Classify returns the best matching enabled rule for description: the
// highest priority, then the earliest registered. ok is false when no rule
// matches, in which case the task stays with the primary runner.
func (c *Classifier) Classify(description string) (match Match, ok bool) {
	snapshot, version := c.registry.enabledSnapshot()

	if c.cache != nil {
		if hit, found := c.cache.Get(description); found {
			if hit.version == version {
				return cloneMatch(hit.match), hit.ok
			}
			// the registry moved on; nothing cached before this point is valid
			c.cache.Purge()
		}
	}

	match, ok = classify(snapshot, description)

	if c.cache != nil {
		c.cache.Add(description, cachedResult{match: cloneMatch(match), ok: ok, version: version})
	}
	return match, ok
}

func classify(snapshot []*compiledRule, description string) (Match, bool) {
	text := strings.ToLower(description)

	var best *compiledRule
	for _, cr := range snapshot {
		if best != nil && cr.rule.Priority <= best.rule.Priority {
			continue
		}
		for _, m := range cr.matchers {
			if m.match(text) {
				best = cr
				break
			}
		}
	}

	if best == nil {
		return Match{}, false
	}
	return Match{
		Rule:             best.rule.Clone(),
		EstimatedSavings: EstimateSavings(best.rule.WorkerType),
	}, true
}

func cloneMatch(m Match) Match {
	m.Rule = m.Rule.Clone()
	return m
}
