package delegation

import (
	"time"

	"github.com/Iron-Ham/handoff/internal/rules"
)

// TaskState is the lifecycle state of a DelegationTask.
type TaskState string

const (
	TaskQueued  TaskState = "queued"
	TaskRunning TaskState = "running"
	// TaskPaused is how a running task is reported while the session is paused.
	TaskPaused  TaskState = "paused"
	TaskDone    TaskState = "done"
	TaskFailed  TaskState = "failed"
	TaskSkipped TaskState = "skipped"
	TaskAborted TaskState = "aborted"
	// TaskKeepLocal marks a unit that is not delegated. It never enters the scheduler.
	TaskKeepLocal TaskState = "keep_local"
)

// IsTerminal reports whether no further transition is possible except retry.
func (s TaskState) IsTerminal() bool {
	switch s {
	case TaskDone, TaskFailed, TaskSkipped, TaskAborted, TaskKeepLocal:
		return true
	}
	return false
}

// IsActive reports whether the task holds a worker slot.
func (s TaskState) IsActive() bool {
	return s == TaskRunning || s == TaskPaused
}

// SessionState is the state of the session state machine.
type SessionState string

const (
	SessionIdle        SessionState = "idle"
	SessionEvaluating  SessionState = "evaluating"
	SessionDelegating  SessionState = "delegating"
	SessionWaiting     SessionState = "waiting"
	SessionIntegrating SessionState = "integrating"
	SessionDone        SessionState = "done"
	SessionAborted     SessionState = "aborted"
)

// IsFinal reports whether the session has finished.
func (s SessionState) IsFinal() bool {
	return s == SessionDone || s == SessionAborted
}

// TaskUnit is one atomic piece of work considered for delegation.
type TaskUnit struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	Done        bool   `json:"done,omitempty" yaml:"done,omitempty"`
}

// DelegationTask tracks one task unit through classification and execution.
type DelegationTask struct {
	Unit             TaskUnit
	Rule             *rules.Rule
	EstimatedSavings int
	State            TaskState
	ResultSummary    string
	FailureReason    string
	// Index is the unit's position in the task source.
	Index int
	// QueuePos is the position QueueBuilder assigned; retries do not change it.
	QueuePos    int
	Attempts    int
	StartedAt   time.Time
	CompletedAt time.Time
}

// ID returns the task unit ID.
func (t *DelegationTask) ID() string {
	return t.Unit.ID
}

// WorkerType returns the matched rule's worker type, or "" for keep-local tasks.
func (t *DelegationTask) WorkerType() string {
	if t.Rule == nil {
		return ""
	}
	return t.Rule.WorkerType
}

// RuleName returns the matched rule's name, or "".
func (t *DelegationTask) RuleName() string {
	if t.Rule == nil {
		return ""
	}
	return t.Rule.Name
}

// Duration returns how long the task ran, or zero if it never finished running.
func (t *DelegationTask) Duration() time.Duration {
	if t.StartedAt.IsZero() || t.CompletedAt.IsZero() {
		return 0
	}
	return t.CompletedAt.Sub(t.StartedAt)
}

// Clone returns a deep copy of t.
func (t *DelegationTask) Clone() DelegationTask {
	c := *t
	if t.Rule != nil {
		r := t.Rule.Clone()
		c.Rule = &r
	}
	return c
}

// Session is one run of the scheduler over a task list.
type Session struct {
	ID            string
	Queue         []DelegationTask
	KeepLocal     []DelegationTask
	ParallelLimit int
	State         SessionState
	StartedAt     time.Time
	CompletedAt   time.Time
}

// Clone returns a deep copy of s.
func (s *Session) Clone() Session {
	c := *s
	c.Queue = make([]DelegationTask, len(s.Queue))
	for i := range s.Queue {
		c.Queue[i] = s.Queue[i].Clone()
	}
	c.KeepLocal = make([]DelegationTask, len(s.KeepLocal))
	for i := range s.KeepLocal {
		c.KeepLocal[i] = s.KeepLocal[i].Clone()
	}
	return c
}

// Counts tallies tasks by state.
func (s *Session) Counts() map[TaskState]int {
	counts := make(map[TaskState]int)
	for i := range s.Queue {
		counts[s.Queue[i].State]++
	}
	if len(s.KeepLocal) > 0 {
		counts[TaskKeepLocal] += len(s.KeepLocal)
	}
	return counts
}
