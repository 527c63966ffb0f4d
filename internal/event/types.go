package event

import "time"

// Event type identifiers. Convention: "category.action".
const (
	TypeTaskAdmitted        = "task.admitted"
	TypeTaskFinished        = "task.finished"
	TypeTaskSkipped         = "task.skipped"
	TypeTaskRetried         = "task.retried"
	TypeSessionStateChanged = "session.state_changed"
	TypeSessionControl      = "session.control"
	TypeSynthesisReady      = "synthesis.ready"
	TypeRulesReloaded       = "rules.reloaded"
)

// Event is the interface that all events must implement.
type Event interface {
	// EventType returns a string identifier for this event type.
	EventType() string

	// Timestamp returns when the event occurred.
	Timestamp() time.Time
}

// baseEvent provides common fields for all events.
// Embed this in concrete event types to satisfy the Event interface.
type baseEvent struct {
	eventType string
	timestamp time.Time
}

func (e baseEvent) EventType() string    { return e.eventType }
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent(eventType string) baseEvent {
	return baseEvent{
		eventType: eventType,
		timestamp: time.Now(),
	}
}

// -----------------------------------------------------------------------------
// Task Lifecycle Events
// -----------------------------------------------------------------------------

// TaskAdmittedEvent is emitted when a queued task is handed to a worker.
type TaskAdmittedEvent struct {
	baseEvent
	SessionID  string
	TaskID     string
	WorkerType string
	Attempt    int
}

// NewTaskAdmittedEvent creates a TaskAdmittedEvent.
func NewTaskAdmittedEvent(sessionID, taskID, workerType string, attempt int) TaskAdmittedEvent {
	return TaskAdmittedEvent{
		baseEvent:  newBaseEvent(TypeTaskAdmitted),
		SessionID:  sessionID,
		TaskID:     taskID,
		WorkerType: workerType,
		Attempt:    attempt,
	}
}

// TaskFinishedEvent is emitted when a task reaches done, failed or aborted.
type TaskFinishedEvent struct {
	baseEvent
	SessionID   string
	TaskID      string
	Status      string
	Reason      string // failure reason; empty on success
	Duration    time.Duration
	TokensSaved int
}

// NewTaskFinishedEvent creates a TaskFinishedEvent.
func NewTaskFinishedEvent(sessionID, taskID, status, reason string, duration time.Duration, tokensSaved int) TaskFinishedEvent {
	return TaskFinishedEvent{
		baseEvent:   newBaseEvent(TypeTaskFinished),
		SessionID:   sessionID,
		TaskID:      taskID,
		Status:      status,
		Reason:      reason,
		Duration:    duration,
		TokensSaved: tokensSaved,
	}
}

// Succeeded reports whether the task finished with status "done".
func (e TaskFinishedEvent) Succeeded() bool {
	return e.Status == "done"
}

// TaskSkippedEvent is emitted when a queued task is withdrawn by the user.
type TaskSkippedEvent struct {
	baseEvent
	SessionID string
	TaskID    string
}

// NewTaskSkippedEvent creates a TaskSkippedEvent.
func NewTaskSkippedEvent(sessionID, taskID string) TaskSkippedEvent {
	return TaskSkippedEvent{
		baseEvent: newBaseEvent(TypeTaskSkipped),
		SessionID: sessionID,
		TaskID:    taskID,
	}
}

// TaskRetriedEvent is emitted when a failed task is put back at the head of the queue.
type TaskRetriedEvent struct {
	baseEvent
	SessionID string
	TaskID    string
	Attempt   int
}

// NewTaskRetriedEvent creates a TaskRetriedEvent.
func NewTaskRetriedEvent(sessionID, taskID string, attempt int) TaskRetriedEvent {
	return TaskRetriedEvent{
		baseEvent: newBaseEvent(TypeTaskRetried),
		SessionID: sessionID,
		TaskID:    taskID,
		Attempt:   attempt,
	}
}

// -----------------------------------------------------------------------------
// Session Events
// -----------------------------------------------------------------------------

// SessionStateChangedEvent is emitted on every session state transition.
type SessionStateChangedEvent struct {
	baseEvent
	SessionID string
	Previous  string
	Current   string
}

// NewSessionStateChangedEvent creates a SessionStateChangedEvent.
func NewSessionStateChangedEvent(sessionID, previous, current string) SessionStateChangedEvent {
	return SessionStateChangedEvent{
		baseEvent: newBaseEvent(TypeSessionStateChanged),
		SessionID: sessionID,
		Previous:  previous,
		Current:   current,
	}
}

// SessionControlEvent records a user control action (pause, resume, parallel, abort).
type SessionControlEvent struct {
	baseEvent
	SessionID string
	Action    string
	Detail    string
}

// NewSessionControlEvent creates a SessionControlEvent.
func NewSessionControlEvent(sessionID, action, detail string) SessionControlEvent {
	return SessionControlEvent{
		baseEvent: newBaseEvent(TypeSessionControl),
		SessionID: sessionID,
		Action:    action,
		Detail:    detail,
	}
}

// SynthesisReadyEvent is emitted when all task results have been aggregated.
type SynthesisReadyEvent struct {
	baseEvent
	SessionID   string
	Completed   int
	Failed      int
	TokensSaved int
	Aborted     bool
}

// NewSynthesisReadyEvent creates a SynthesisReadyEvent.
func NewSynthesisReadyEvent(sessionID string, completed, failed, tokensSaved int, aborted bool) SynthesisReadyEvent {
	return SynthesisReadyEvent{
		baseEvent:   newBaseEvent(TypeSynthesisReady),
		SessionID:   sessionID,
		Completed:   completed,
		Failed:      failed,
		TokensSaved: tokensSaved,
		Aborted:     aborted,
	}
}

// -----------------------------------------------------------------------------
// Rule Events
// -----------------------------------------------------------------------------

// RulesReloadedEvent is emitted after the rules file is re-read from disk.
type RulesReloadedEvent struct {
	baseEvent
	Path  string
	Count int
	Err   error // non-nil when the reload was rejected and the old rules kept
}

// NewRulesReloadedEvent creates a RulesReloadedEvent.
func NewRulesReloadedEvent(path string, count int, err error) RulesReloadedEvent {
	return RulesReloadedEvent{
		baseEvent: newBaseEvent(TypeRulesReloaded),
		Path:      path,
		Count:     count,
		Err:       err,
	}
}
