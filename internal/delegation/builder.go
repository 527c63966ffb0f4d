package delegation

import (
	"fmt"
	"sort"

	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/rules"
)

// Parallel limit bounds for a session.
const (
	MinParallelLimit     = 1
	MaxParallelLimit     = 5
	DefaultParallelLimit = 3
)

// Per-session delegation cap. Zero disables the cap.
const (
	MaxPerSessionLimit   = 100
	DefaultMaxPerSession = 20
)

// ValidateLimit returns an ErrInvalidRange error when n is outside
// [MinParallelLimit, MaxParallelLimit].
func ValidateLimit(n int) error {
	if n < MinParallelLimit || n > MaxParallelLimit {
		return errors.NewRangeError("parallel_limit", n, MinParallelLimit, MaxParallelLimit)
	}
	return nil
}

// ValidateMaxPerSession returns an ErrInvalidRange error when n is outside
// [0, MaxPerSessionLimit].
func ValidateMaxPerSession(n int) error {
	if n < 0 || n > MaxPerSessionLimit {
		return errors.NewRangeError("max_per_session", n, 0, MaxPerSessionLimit)
	}
	return nil
}

// Classifier is the subset of rules.Classifier the builder needs.
type Classifier interface {
	Classify(description string) (rules.Match, bool)
}

// Build classifies units and partitions them into a dispatch queue and a
// keep-local set. Every unit lands in exactly one of the two. The queue is
// ordered by rule priority, highest first, keeping task source order among
// equal priorities. Units already marked done are kept local.
//
// maxPerSession caps the queue: matched units past the cap, lowest priority
// first, are kept local instead. Zero means no cap. The keep-local set stays
// in task source order.
//
// When nothing is delegatable Build returns the session together with
// ErrNoDelegatable so callers can run everything locally.
func Build(units []TaskUnit, classifier Classifier, parallelLimit, maxPerSession int) (*Session, error) {
	if err := ValidateLimit(parallelLimit); err != nil {
		return nil, err
	}
	if err := ValidateMaxPerSession(maxPerSession); err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(units))
	for _, u := range units {
		if seen[u.ID] {
			return nil, fmt.Errorf("task unit %q: %w", u.ID, errors.ErrDuplicateTask)
		}
		seen[u.ID] = true
	}

	session := &Session{
		ParallelLimit: parallelLimit,
		State:         SessionIdle,
		Queue:         make([]DelegationTask, 0, len(units)),
		KeepLocal:     make([]DelegationTask, 0),
	}

	for i, u := range units {
		task := DelegationTask{Unit: u, Index: i}

		if u.Done {
			task.State = TaskKeepLocal
			session.KeepLocal = append(session.KeepLocal, task)
			continue
		}

		match, ok := classifier.Classify(u.Description)
		if !ok {
			task.State = TaskKeepLocal
			session.KeepLocal = append(session.KeepLocal, task)
			continue
		}

		rule := match.Rule
		task.Rule = &rule
		task.EstimatedSavings = match.EstimatedSavings
		task.State = TaskQueued
		session.Queue = append(session.Queue, task)
	}

	sort.SliceStable(session.Queue, func(a, b int) bool {
		return session.Queue[a].Rule.Priority > session.Queue[b].Rule.Priority
	})
	if maxPerSession > 0 && len(session.Queue) > maxPerSession {
		for _, task := range session.Queue[maxPerSession:] {
			task.Rule = nil
			task.EstimatedSavings = 0
			task.State = TaskKeepLocal
			session.KeepLocal = append(session.KeepLocal, task)
		}
		session.Queue = session.Queue[:maxPerSession]
		sort.SliceStable(session.KeepLocal, func(a, b int) bool {
			return session.KeepLocal[a].Index < session.KeepLocal[b].Index
		})
	}
	for i := range session.Queue {
		session.Queue[i].QueuePos = i
	}

	if len(session.Queue) == 0 {
		return session, errors.ErrNoDelegatable
	}
	return session, nil
}
