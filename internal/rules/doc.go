// Package rules holds the delegation rule registry and the pattern
// classifier that maps a task description to the rule that should handle it.
//
// A [Rule] names a worker type and a list of patterns. Patterns are
// case-insensitive regular expressions searched anywhere in the description;
// a pattern that is not a valid expression is matched as a plain substring,
// and a pattern written as "glob:<expr>" is matched as a glob against the
// whole lower-cased description.
//
// [Classifier.Classify] returns the enabled rule with the highest priority
// among those that match, breaking ties by registration order. Results are
// cached per description and invalidated whenever the registry changes.
//
// Rules persist as YAML (see [LoadFile] and [SaveFile]) and a [Watcher] can
// reload a registry when the file changes on disk.
package rules
