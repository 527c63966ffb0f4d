// Package errors provides centralized error definitions and error handling
// utilities for handoff. It defines the delegation error taxonomy, structured
// error types with context wrapping, and error classification helpers.
//
// # Error Types
//
// Domain errors carry context about the component that produced them:
//   - RuleError: rule registry CRUD failures (duplicate name, unknown rule, bad pattern)
//   - TransitionError: a control call that is inconsistent with the current state
//   - RangeError: a numeric setting outside its allowed range
//   - TaskError: a delegated task that failed or timed out
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewRuleError("add", "exploration", errors.ErrDuplicateName)
//	err := errors.NewTransitionError("start", "delegating")
//	err := errors.NewTaskError("task-2", "worker exited 1")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrInvalidTransition) { ... }
//
//	var taskErr *errors.TaskError
//	if errors.As(err, &taskErr) { ... }
//
// A timed-out task matches both [ErrTimeout] and [ErrExecutionFailure], since
// a timeout is a specialization of an execution failure.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Rule registry sentinel errors
var (
	// ErrDuplicateName indicates a rule with the same name is already registered.
	ErrDuplicateName = New("duplicate rule name")
	// ErrNotFound indicates that a rule or task could not be found.
	ErrNotFound = New("not found")
	// ErrInvalidRule indicates a rule definition that cannot be registered,
	// such as a missing name or a malformed glob pattern.
	ErrInvalidRule = New("invalid rule")
)

// Control surface sentinel errors
var (
	// ErrInvalidTransition indicates a call that is inconsistent with the
	// current session or task state.
	ErrInvalidTransition = New("invalid transition")
	// ErrInvalidRange indicates a numeric value outside its allowed range.
	ErrInvalidRange = New("value out of range")
	// ErrSessionActive indicates another session already owns the task source.
	ErrSessionActive = New("a delegation session is already active")
	// ErrDelegationDisabled indicates delegation is turned off in configuration.
	ErrDelegationDisabled = New("delegation is disabled")
)

// Task execution sentinel errors
var (
	// ErrExecutionFailure indicates that a delegated task failed.
	ErrExecutionFailure = New("execution failure")
	// ErrTimeout indicates that a delegated task exceeded its max duration.
	ErrTimeout = New("timeout")
)

// Planning sentinel errors
var (
	// ErrDuplicateTask indicates two task units share an ID.
	ErrDuplicateTask = New("duplicate task id")
	// ErrNoDelegatable signals that planning found nothing to delegate.
	// It is not fatal: callers run every task unit locally.
	ErrNoDelegatable = New("no delegatable task units")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// HandoffError is the base interface for all handoff errors.
type HandoffError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Severity returns the severity level of this error.
	Severity() Severity

	// IsRetryable returns true if the error is transient and the operation
	// may succeed on retry.
	IsRetryable() bool

	// IsUserFacing returns true if the error message is safe to display
	// to end users.
	IsUserFacing() bool
}

// baseError provides common functionality for all error types.
type baseError struct {
	message    string
	cause      error
	severity   Severity
	retryable  bool
	userFacing bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// IsRetryable returns whether the error is retryable.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsUserFacing returns whether the error is safe to show users.
func (e *baseError) IsUserFacing() bool {
	return e.userFacing
}

// -----------------------------------------------------------------------------
// Domain Errors
// -----------------------------------------------------------------------------

// RuleError represents a failed rule registry operation.
//
// Example:
//
//	err := errors.NewRuleError("remove", "docs", errors.ErrNotFound)
//	fmt.Println(err) // "rule error [op=remove, rule=docs]: not found"
type RuleError struct {
	baseError
	Op       string
	RuleName string
}

// NewRuleError creates a new RuleError wrapping one of the registry sentinels.
func NewRuleError(op, ruleName string, cause error) *RuleError {
	return &RuleError{
		baseError: baseError{
			message:    cause.Error(),
			cause:      cause,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Op:       op,
		RuleName: ruleName,
	}
}

// Error returns the formatted error message.
func (e *RuleError) Error() string {
	return fmt.Sprintf("rule error [op=%s, rule=%s]: %s", e.Op, e.RuleName, e.message)
}

// TransitionError reports a control call made from a state that does not allow it.
type TransitionError struct {
	baseError
	Operation string
	State     string
	Target    string
}

// NewTransitionError creates a TransitionError for the given operation and
// the state the session (or task) was in when it was attempted.
func NewTransitionError(operation, state string) *TransitionError {
	return &TransitionError{
		baseError: baseError{
			message:    ErrInvalidTransition.Error(),
			cause:      ErrInvalidTransition,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Operation: operation,
		State:     state,
	}
}

// WithTarget records the task or rule the operation was aimed at.
func (e *TransitionError) WithTarget(target string) *TransitionError {
	e.Target = target
	return e
}

// Error returns the formatted error message.
func (e *TransitionError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s %s: not allowed in state %s: %s", e.Operation, e.Target, e.State, e.message)
	}
	return fmt.Sprintf("%s: not allowed in state %s: %s", e.Operation, e.State, e.message)
}

// RangeError reports a numeric value outside [Min, Max].
type RangeError struct {
	baseError
	Field string
	Value int
	Min   int
	Max   int
}

// NewRangeError creates a RangeError for field.
func NewRangeError(field string, value, lo, hi int) *RangeError {
	return &RangeError{
		baseError: baseError{
			message:    ErrInvalidRange.Error(),
			cause:      ErrInvalidRange,
			severity:   SeverityWarning,
			userFacing: true,
		},
		Field: field,
		Value: value,
		Min:   lo,
		Max:   hi,
	}
}

// Error returns the formatted error message.
func (e *RangeError) Error() string {
	return fmt.Sprintf("%s must be between %d and %d (got: %d)", e.Field, e.Min, e.Max, e.Value)
}

// TaskError represents a delegated task that ended in failure.
// Timeouts are TaskErrors whose Timeout field is non-zero; they match
// both ErrTimeout and ErrExecutionFailure.
//
// Example:
//
//	err := errors.NewTaskError("task-1", "worker exited with status 2")
//	fmt.Println(err) // "task task-1: execution failure: worker exited with status 2"
type TaskError struct {
	baseError
	TaskID  string
	Reason  string
	Timeout time.Duration
}

// NewTaskError creates an execution failure for taskID carrying reason as its cause string.
func NewTaskError(taskID, reason string) *TaskError {
	return &TaskError{
		baseError: baseError{
			message:    reason,
			severity:   SeverityError,
			retryable:  true,
			userFacing: true,
		},
		TaskID: taskID,
		Reason: reason,
	}
}

// NewTimeoutError creates the execution failure recorded when a task runs
// longer than its max duration.
func NewTimeoutError(taskID string, limit time.Duration) *TaskError {
	e := NewTaskError(taskID, "timeout")
	e.Timeout = limit
	e.severity = SeverityWarning
	return e
}

// WithCause attaches the underlying executor error.
func (e *TaskError) WithCause(cause error) *TaskError {
	e.cause = cause
	return e
}

// IsTimeout reports whether the task failed by exceeding its max duration.
func (e *TaskError) IsTimeout() bool {
	return e.Timeout > 0
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	kind := ErrExecutionFailure.Error()
	if e.IsTimeout() {
		return fmt.Sprintf("task %s: %s after %s", e.TaskID, ErrTimeout.Error(), e.Timeout)
	}
	if e.cause != nil && e.cause.Error() != e.Reason {
		return fmt.Sprintf("task %s: %s: %s: %v", e.TaskID, kind, e.Reason, e.cause)
	}
	return fmt.Sprintf("task %s: %s: %s", e.TaskID, kind, e.Reason)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	switch target {
	case ErrExecutionFailure:
		return true
	case ErrTimeout:
		return e.IsTimeout()
	}
	return false
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// IsRetryable returns true if a failed attempt may succeed when repeated.
// Task failures, timeouts and executor errors without a classification are
// retryable. Cancellations and control surface errors are not.
func IsRetryable(err error) bool {
	if err == nil || Is(err, context.Canceled) {
		return false
	}

	var he HandoffError
	if As(err, &he) {
		return he.IsRetryable()
	}

	return true
}

// IsUserFacing returns true if the error message is safe to display to end users.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}

	var he HandoffError
	if As(err, &he) {
		return he.IsUserFacing()
	}

	return Is(err, ErrNoDelegatable) || Is(err, ErrSessionActive) || Is(err, ErrDelegationDisabled)
}

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement HandoffError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var he HandoffError
	if As(err, &he) {
		return he.Severity()
	}

	if Is(err, ErrNoDelegatable) {
		return SeverityInfo
	}
	return SeverityError
}

// IsControlError returns true for errors produced by rule management or the
// control surface. These are returned synchronously and never change session state.
func IsControlError(err error) bool {
	if err == nil {
		return false
	}
	var ruleErr *RuleError
	var transitionErr *TransitionError
	var rangeErr *RangeError
	return As(err, &ruleErr) || As(err, &transitionErr) || As(err, &rangeErr)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// Describe renders err as a single user-facing line, collapsing whitespace
// in multi-line causes such as worker stderr.
func Describe(err error) string {
	if err == nil {
		return ""
	}
	return strings.Join(strings.Fields(err.Error()), " ")
}
