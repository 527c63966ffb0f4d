// Package scheduler admits delegated tasks to an Executor under a
// concurrency limit and tracks each task through to a terminal state.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
	"golang.org/x/time/rate"

	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/logging"
)

// ReasonTimeout is the failure reason recorded when a task exceeds its
// max duration.
const ReasonTimeout = "timeout"

// Executor runs one delegated task. Invoke blocks until the worker finishes
// and returns its result summary. Cancel is best-effort and may be called
// concurrently with Invoke.
type Executor interface {
	Invoke(ctx context.Context, task *delegation.DelegationTask) (string, error)
	Cancel(taskID string)
}

// Config controls admission.
type Config struct {
	// ParallelLimit bounds the number of tasks holding a worker slot.
	ParallelLimit int
	// TaskTimeout is the max duration of one attempt. Zero disables it.
	TaskTimeout time.Duration
	// AdmissionsPerSecond throttles how fast tasks are handed to workers.
	// Zero means no throttle.
	AdmissionsPerSecond float64
	// MaxRetries is how many times a failed task is requeued automatically.
	MaxRetries int
}

// Options carries optional collaborators.
type Options struct {
	Bus     *event.Bus
	Logger  *logging.Logger
	Metrics *Metrics
}

// runningTask is the bookkeeping for one in-flight attempt. The pointer
// identifies the attempt: results from an attempt that no longer owns the
// running slot are discarded.
type runningTask struct {
	cancel context.CancelFunc
	timer  *time.Timer
}

// Stats is a point-in-time tally of the scheduler.
type Stats struct {
	Queued   int
	Running  int
	Paused   int
	Done     int
	Failed   int
	Skipped  int
	Aborted  int
	Limit    int
	IsPaused bool
	Drained  bool
}

// Scheduler owns the delegation queue of one session. All mutations happen
// under a single mutex and every read returns a copy.
type Scheduler struct {
	mu sync.Mutex

	sessionID string
	tasks     []delegation.DelegationTask
	index     map[string]int
	// pending holds indexes into tasks in admission order.
	pending []int
	running map[string]*runningTask

	limit   int
	paused  bool
	aborted bool
	started bool
	// sealed is set once the drained queue has been handed off for
	// integration; no task may be requeued after that.
	sealed bool

	cfg        Config
	executor   Executor
	limiter    *rate.Limiter
	admitTimer *time.Timer
	baseCtx    context.Context

	idle       chan struct{}
	idleClosed bool

	wg      conc.WaitGroup
	bus     *event.Bus
	logger  *logging.Logger
	metrics *Metrics
}

// New creates a scheduler over the queued tasks of session. The session is
// copied; later changes to it are not observed.
func New(session *delegation.Session, executor Executor, cfg Config, opts Options) (*Scheduler, error) {
	if err := delegation.ValidateLimit(cfg.ParallelLimit); err != nil {
		return nil, err
	}
	if cfg.TaskTimeout < 0 {
		return nil, errors.Wrap(errors.ErrInvalidRange, "task timeout must not be negative")
	}
	if cfg.MaxRetries < 0 {
		return nil, errors.Wrap(errors.ErrInvalidRange, "max retries must not be negative")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}

	snap := session.Clone()
	s := &Scheduler{
		sessionID: snap.ID,
		tasks:     snap.Queue,
		index:     make(map[string]int, len(snap.Queue)),
		running:   make(map[string]*runningTask),
		limit:     cfg.ParallelLimit,
		cfg:       cfg,
		executor:  executor,
		idle:      make(chan struct{}),
		bus:       opts.Bus,
		logger:    logger.WithSession(snap.ID).WithComponent("scheduler"),
		metrics:   opts.Metrics,
	}
	if cfg.AdmissionsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(cfg.AdmissionsPerSecond), 1)
	}
	for i := range s.tasks {
		s.index[s.tasks[i].ID()] = i
		if s.tasks[i].State == delegation.TaskQueued {
			s.pending = append(s.pending, i)
		}
	}
	return s, nil
}

// Start begins admitting tasks. ctx bounds every executor invocation;
// canceling it cancels running tasks but does not change their state until
// the executor returns.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.NewTransitionError("start", "started")
	}
	s.started = true
	s.baseCtx = ctx
	s.logger.Info("scheduler started",
		"queued", len(s.pending),
		"parallel_limit", s.limit,
	)
	events := s.admitLocked()
	s.checkIdleLocked()
	s.mu.Unlock()

	s.publish(events)
	return nil
}

// admitLocked hands pending tasks to the executor while slots are free.
// Must be called with mu held.
func (s *Scheduler) admitLocked() []event.Event {
	var events []event.Event
	for s.started && !s.paused && !s.aborted && len(s.running) < s.limit && len(s.pending) > 0 {
		if s.limiter != nil {
			r := s.limiter.Reserve()
			if delay := r.Delay(); delay > 0 {
				r.Cancel()
				s.armAdmitTimerLocked(delay)
				break
			}
		}

		i := s.pending[0]
		s.pending = s.pending[1:]
		events = append(events, s.launchLocked(i))
	}
	s.updateDepthLocked()
	return events
}

// armAdmitTimerLocked retries admission after a throttle delay.
// Must be called with mu held.
func (s *Scheduler) armAdmitTimerLocked(delay time.Duration) {
	if s.admitTimer != nil {
		return
	}
	s.admitTimer = time.AfterFunc(delay, func() {
		s.mu.Lock()
		s.admitTimer = nil
		events := s.admitLocked()
		s.mu.Unlock()
		s.publish(events)
	})
}

// launchLocked moves tasks[i] to running and starts its worker goroutine.
// Must be called with mu held.
func (s *Scheduler) launchLocked(i int) event.Event {
	task := &s.tasks[i]
	id := task.ID()

	task.State = delegation.TaskRunning
	task.Attempts++
	task.StartedAt = time.Now()
	task.CompletedAt = time.Time{}
	task.ResultSummary = ""
	task.FailureReason = ""

	ctx, cancel := context.WithCancel(s.baseCtx)
	rt := &runningTask{cancel: cancel}
	if s.cfg.TaskTimeout > 0 {
		rt.timer = time.AfterFunc(s.cfg.TaskTimeout, func() { s.expire(id, rt) })
	}
	s.running[id] = rt

	s.logger.Info("task admitted",
		"task_id", id,
		"worker_type", task.WorkerType(),
		"attempt", task.Attempts,
	)
	s.metrics.taskAdmitted(task.WorkerType())

	work := task.Clone()
	s.wg.Go(func() { s.execute(ctx, rt, &work) })

	return event.NewTaskAdmittedEvent(s.sessionID, id, task.WorkerType(), task.Attempts)
}

// execute runs one attempt and records its outcome. A panicking executor
// fails the task instead of crashing the process.
func (s *Scheduler) execute(ctx context.Context, rt *runningTask, task *delegation.DelegationTask) {
	var (
		summary string
		err     error
		pc      panics.Catcher
	)
	pc.Try(func() {
		summary, err = s.executor.Invoke(ctx, task)
	})
	if r := pc.Recovered(); r != nil {
		err = errors.NewTaskError(task.ID(), "worker panicked").WithCause(r.AsError())
	}
	s.complete(task.ID(), rt, summary, err)
}

// complete records the result of an attempt.
func (s *Scheduler) complete(id string, rt *runningTask, summary string, err error) {
	s.mu.Lock()
	if s.running[id] != rt {
		s.mu.Unlock()
		s.logger.Debug("discarding late result", "task_id", id)
		return
	}

	var events []event.Event
	if err != nil {
		events = s.finishLocked(id, delegation.TaskFailed, "", err)
	} else {
		events = s.finishLocked(id, delegation.TaskDone, summary, nil)
	}
	events = append(events, s.admitLocked()...)
	s.checkIdleLocked()
	s.mu.Unlock()

	s.publish(events)
}

// expire fails an attempt that outlived the task timeout and frees its slot
// without waiting for the executor. The attempt's context is canceled in
// finishLocked; Executor.Cancel is not called because a retry may already
// run under the same task ID.
func (s *Scheduler) expire(id string, rt *runningTask) {
	s.mu.Lock()
	if s.running[id] != rt {
		s.mu.Unlock()
		return
	}
	s.logger.Warn("task timed out", "task_id", id, "timeout", s.cfg.TaskTimeout.String())
	events := s.finishLocked(id, delegation.TaskFailed, "", errors.NewTimeoutError(id, s.cfg.TaskTimeout))
	events = append(events, s.admitLocked()...)
	s.checkIdleLocked()
	s.mu.Unlock()

	s.publish(events)
}

// finishLocked releases the running slot of id and moves it to state, with
// cause as the failure of a failed attempt. Failed tasks go back to the head
// of the queue while retries are left and cause is retryable.
// Must be called with mu held.
func (s *Scheduler) finishLocked(id string, state delegation.TaskState, summary string, cause error) []event.Event {
	rt := s.running[id]
	delete(s.running, id)
	if rt.timer != nil {
		rt.timer.Stop()
	}
	rt.cancel()

	i := s.index[id]
	task := &s.tasks[i]
	reason := ""
	if cause != nil {
		reason = failureReason(cause)
	}
	task.State = state
	task.ResultSummary = summary
	task.FailureReason = reason
	task.CompletedAt = time.Now()

	saved := 0
	if state == delegation.TaskDone {
		saved = task.EstimatedSavings
	}
	s.metrics.taskFinished(task.WorkerType(), string(state), task.Duration(), saved)

	logger := s.logger.WithTask(id)
	if state == delegation.TaskFailed {
		logger.Warn("task failed", "reason", reason, "attempt", task.Attempts)
	} else {
		logger.Info("task finished", "state", string(state), "duration", task.Duration().String())
	}

	events := []event.Event{
		event.NewTaskFinishedEvent(s.sessionID, id, string(state), reason, task.Duration(), saved),
	}

	if state == delegation.TaskFailed && !s.aborted && task.Attempts <= s.cfg.MaxRetries && errors.IsRetryable(cause) {
		events = append(events, s.requeueLocked(i))
	}
	return events
}

// requeueLocked puts a failed task at the head of the pending queue.
// Must be called with mu held.
func (s *Scheduler) requeueLocked(i int) event.Event {
	task := &s.tasks[i]
	task.State = delegation.TaskQueued
	task.FailureReason = ""
	task.CompletedAt = time.Time{}
	s.pending = append([]int{i}, s.pending...)

	if s.idleClosed {
		s.idle = make(chan struct{})
		s.idleClosed = false
	}
	s.metrics.taskRetried()
	s.logger.Info("task requeued", "task_id", task.ID(), "attempt", task.Attempts+1)
	return event.NewTaskRetriedEvent(s.sessionID, task.ID(), task.Attempts+1)
}

// checkIdleLocked signals Idle once nothing is pending or running.
// Must be called with mu held.
func (s *Scheduler) checkIdleLocked() {
	if !s.started || s.idleClosed {
		return
	}
	if len(s.running) == 0 && len(s.pending) == 0 {
		close(s.idle)
		s.idleClosed = true
		s.logger.Info("queue drained")
	}
}

// updateDepthLocked must be called with mu held.
func (s *Scheduler) updateDepthLocked() {
	s.metrics.setDepth(len(s.running), len(s.pending))
}

// Pause stops admission. Running tasks keep running and are reported as
// paused until Resume.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.aborted {
		return errors.NewTransitionError("pause", "aborted")
	}
	if s.paused {
		return nil
	}
	s.paused = true
	for id := range s.running {
		s.tasks[s.index[id]].State = delegation.TaskPaused
	}
	if s.admitTimer != nil {
		s.admitTimer.Stop()
		s.admitTimer = nil
	}
	s.logger.Info("scheduler paused", "running", len(s.running))
	return nil
}

// Resume restarts admission.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return errors.NewTransitionError("resume", "aborted")
	}
	if !s.paused {
		s.mu.Unlock()
		return nil
	}
	s.paused = false
	for id := range s.running {
		s.tasks[s.index[id]].State = delegation.TaskRunning
	}
	s.logger.Info("scheduler resumed", "pending", len(s.pending))
	events := s.admitLocked()
	s.mu.Unlock()

	s.publish(events)
	return nil
}

// Skip withdraws a queued task.
func (s *Scheduler) Skip(id string) error {
	s.mu.Lock()
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "task %s", id)
	}
	task := &s.tasks[i]
	if task.State != delegation.TaskQueued {
		s.mu.Unlock()
		return errors.NewTransitionError("skip", string(task.State)).WithTarget(id)
	}

	s.removePendingLocked(i)
	task.State = delegation.TaskSkipped
	task.CompletedAt = time.Now()
	s.metrics.taskFinished(task.WorkerType(), string(delegation.TaskSkipped), 0, 0)
	s.logger.Info("task skipped", "task_id", id)
	s.updateDepthLocked()
	s.checkIdleLocked()
	s.mu.Unlock()

	s.publish([]event.Event{event.NewTaskSkippedEvent(s.sessionID, id)})
	return nil
}

// removePendingLocked must be called with mu held.
func (s *Scheduler) removePendingLocked(i int) {
	for p, idx := range s.pending {
		if idx == i {
			s.pending = append(s.pending[:p:p], s.pending[p+1:]...)
			return
		}
	}
}

// Retry requeues a failed task at the head of the remaining queue. It is
// refused once the scheduler is aborted or sealed.
func (s *Scheduler) Retry(id string) error {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return errors.NewTransitionError("retry", "aborted").WithTarget(id)
	}
	if s.sealed {
		s.mu.Unlock()
		return errors.NewTransitionError("retry", string(delegation.SessionIntegrating)).WithTarget(id)
	}
	i, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return errors.Wrapf(errors.ErrNotFound, "task %s", id)
	}
	if state := s.tasks[i].State; state != delegation.TaskFailed {
		s.mu.Unlock()
		return errors.NewTransitionError("retry", string(state)).WithTarget(id)
	}

	events := []event.Event{s.requeueLocked(i)}
	events = append(events, s.admitLocked()...)
	s.mu.Unlock()

	s.publish(events)
	return nil
}

// SetLimit changes the parallel limit. Raising it admits more tasks at once;
// lowering it never preempts running tasks.
func (s *Scheduler) SetLimit(n int) error {
	if err := delegation.ValidateLimit(n); err != nil {
		return err
	}
	s.mu.Lock()
	s.limit = n
	s.logger.Info("parallel limit changed", "parallel_limit", n)
	events := s.admitLocked()
	s.mu.Unlock()

	s.publish(events)
	return nil
}

// Abort cancels running tasks and marks every unfinished task aborted.
// Done and failed tasks keep their state. Results that arrive afterwards
// are discarded. Calling Abort again is a no-op.
func (s *Scheduler) Abort() {
	s.mu.Lock()
	if s.aborted {
		s.mu.Unlock()
		return
	}
	s.aborted = true
	s.started = true
	if s.admitTimer != nil {
		s.admitTimer.Stop()
		s.admitTimer = nil
	}

	var (
		events    []event.Event
		cancelled []string
	)
	for id, rt := range s.running {
		if rt.timer != nil {
			rt.timer.Stop()
		}
		rt.cancel()
		delete(s.running, id)
		cancelled = append(cancelled, id)
		events = append(events, s.markAbortedLocked(s.index[id]))
	}
	for _, i := range s.pending {
		events = append(events, s.markAbortedLocked(i))
	}
	s.pending = nil
	s.logger.Warn("scheduler aborted", "cancelled", len(cancelled))
	s.updateDepthLocked()
	s.checkIdleLocked()
	s.mu.Unlock()

	for _, id := range cancelled {
		s.executor.Cancel(id)
	}
	s.publish(events)
}

// markAbortedLocked must be called with mu held.
func (s *Scheduler) markAbortedLocked(i int) event.Event {
	task := &s.tasks[i]
	task.State = delegation.TaskAborted
	task.CompletedAt = time.Now()
	s.metrics.taskFinished(task.WorkerType(), string(delegation.TaskAborted), 0, 0)
	return event.NewTaskFinishedEvent(s.sessionID, task.ID(), string(delegation.TaskAborted), "", task.Duration(), 0)
}

// Idle returns a channel that is closed once no task is pending or running.
// A retry after the queue drained replaces the channel, so callers should
// fetch it again after it fires.
func (s *Scheduler) Idle() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idle
}

// Drained reports whether no task is pending or running.
func (s *Scheduler) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idleClosed
}

// Seal freezes a drained queue so that its results can be integrated. It
// reports false, and changes nothing, when the queue is not drained. Once
// sealed, Retry is refused.
func (s *Scheduler) Seal() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.idleClosed {
		return false
	}
	if !s.sealed {
		s.sealed = true
		s.logger.Debug("queue sealed")
	}
	return true
}

// Wait blocks until the queue drains or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Idle():
			if s.Drained() {
				return nil
			}
		}
	}
}

// Shutdown waits for every worker goroutine to return. Call it after Abort
// or once the queue has drained.
func (s *Scheduler) Shutdown() {
	s.wg.Wait()
}

// Snapshot returns copies of all tasks in queue order.
func (s *Scheduler) Snapshot() []delegation.DelegationTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]delegation.DelegationTask, len(s.tasks))
	for i := range s.tasks {
		out[i] = s.tasks[i].Clone()
	}
	return out
}

// Task returns a copy of the named task.
func (s *Scheduler) Task(id string) (delegation.DelegationTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return delegation.DelegationTask{}, false
	}
	return s.tasks[i].Clone(), true
}

// Limit returns the current parallel limit.
func (s *Scheduler) Limit() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.limit
}

// Stats returns a tally of task states.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{Limit: s.limit, IsPaused: s.paused, Drained: s.idleClosed}
	for i := range s.tasks {
		switch s.tasks[i].State {
		case delegation.TaskQueued:
			st.Queued++
		case delegation.TaskRunning:
			st.Running++
		case delegation.TaskPaused:
			st.Paused++
		case delegation.TaskDone:
			st.Done++
		case delegation.TaskFailed:
			st.Failed++
		case delegation.TaskSkipped:
			st.Skipped++
		case delegation.TaskAborted:
			st.Aborted++
		}
	}
	return st
}

func (s *Scheduler) publish(events []event.Event) {
	if s.bus == nil {
		return
	}
	for _, e := range events {
		s.bus.Publish(e)
	}
}

// failureReason renders an executor error as the task's failure reason.
func failureReason(err error) string {
	var taskErr *errors.TaskError
	if errors.As(err, &taskErr) {
		reason := taskErr.Reason
		if cause := errors.Unwrap(taskErr); cause != nil && cause.Error() != reason {
			reason += ": " + errors.Describe(cause)
		}
		return reason
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return errors.Describe(err)
}
