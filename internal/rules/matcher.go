package rules

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// GlobPrefix marks a pattern that is matched as a glob instead of a regular expression.
const GlobPrefix = "glob:"

// matcher tests an already lower-cased description.
type matcher interface {
	match(text string) bool
}

type regexMatcher struct{ re *regexp.Regexp }

func (m regexMatcher) match(text string) bool { return m.re.MatchString(text) }

type substringMatcher struct{ needle string }

func (m substringMatcher) match(text string) bool { return strings.Contains(text, m.needle) }

type globMatcher struct{ g glob.Glob }

func (m globMatcher) match(text string) bool { return m.g.Match(text) }

// compilePattern turns a rule pattern into a matcher. Only glob patterns can
// fail; a bad regular expression degrades to a substring search.
func compilePattern(pattern string) (matcher, error) {
	lower := strings.ToLower(pattern)

	if expr, ok := strings.CutPrefix(lower, GlobPrefix); ok {
		g, err := glob.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", pattern, err)
		}
		return globMatcher{g: g}, nil
	}

	re, err := regexp.Compile(lower)
	if err != nil {
		return substringMatcher{needle: lower}, nil
	}
	return regexMatcher{re: re}, nil
}

// MatchPattern reports whether pattern matches description using the same
// rules as the classifier. An invalid glob never matches.
func MatchPattern(pattern, description string) bool {
	m, err := compilePattern(pattern)
	if err != nil {
		return false
	}
	return m.match(strings.ToLower(description))
}
