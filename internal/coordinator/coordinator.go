// Package coordinator drives one delegation session at a time through
// evaluation, delegation, waiting and integration.
//
// # State Machine
//
//	idle -> evaluating -> delegating <-> waiting -> integrating -> done
//	            |              |            |
//	            +--------------+------------+-----> aborted
//
// Evaluate classifies task units and plans the queue. Start hands the queue
// to the scheduler. The session moves to waiting once every queued task has
// finished, and back to delegating if a failed task is retried. A session
// with nothing to delegate goes straight from evaluating to done.
// AwaitCompletion integrates the results into a Synthesis. Reset returns a
// finished coordinator to idle for the next session.
//
// Pause is implemented as "stop admitting new work". Running delegates are
// never suspended mid-task, and Resume simply continues waiting for them.
package coordinator

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"

	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/scheduler"
	"github.com/Iron-Ham/handoff/internal/sessionlock"
)

// Config is fixed for the lifetime of a Coordinator.
type Config struct {
	// Enabled turns delegation on. Evaluate fails with ErrDelegationDisabled
	// when it is false.
	Enabled bool
	// ParallelLimit is the initial parallel limit (1-5).
	ParallelLimit int
	// TaskTimeout is the max duration of one delegate. Zero disables it.
	TaskTimeout time.Duration
	// AdmissionsPerSecond throttles admission. Zero means unlimited.
	AdmissionsPerSecond float64
	// MaxRetries is the number of automatic retries of a failed delegate.
	MaxRetries int
	// MaxPerSession caps how many units one session delegates. Matched
	// units past the cap are kept local. Zero means no cap.
	MaxPerSession int
	// LockDir, when set, is locked for the duration of a session so that a
	// second session over the same task source is refused.
	LockDir string
	// OutputDir, when set, receives the synthesis file on integration.
	OutputDir string
	// OutputFormat is "json" (default) or "yaml".
	OutputFormat string
}

// Recorder persists finished sessions.
type Recorder interface {
	Record(ctx context.Context, syn delegation.Synthesis) error
}

// Deps are the collaborators of a Coordinator. Classifier and Executor are
// required.
type Deps struct {
	Classifier delegation.Classifier
	Executor   scheduler.Executor
	Bus        *event.Bus
	Logger     *logging.Logger
	Metrics    *scheduler.Metrics
	Recorder   Recorder
}

// Status is a snapshot of the coordinator.
type Status struct {
	SessionID     string
	State         delegation.SessionState
	Paused        bool
	ParallelLimit int
	// Queue holds the delegated tasks in queue order.
	Queue     []delegation.DelegationTask
	KeepLocal []delegation.DelegationTask
	Stats     scheduler.Stats
	StartedAt time.Time
}

// Coordinator owns the session state machine. It is safe for concurrent use.
type Coordinator struct {
	mu sync.Mutex

	cfg    Config
	deps   Deps
	logger *logging.Logger

	state     delegation.SessionState
	limit     int
	paused    bool
	session   *delegation.Session
	sched     *scheduler.Scheduler
	lock      *sessionlock.Lock
	synthesis *delegation.Synthesis
	stop      chan struct{}
	// finished is closed once the session's Synthesis is available.
	finished chan struct{}

	monitors conc.WaitGroup
	pending  []event.Event
}

// New creates an idle coordinator.
func New(cfg Config, deps Deps) (*Coordinator, error) {
	if deps.Classifier == nil {
		return nil, errors.New("coordinator: classifier is required")
	}
	if deps.Executor == nil {
		return nil, errors.New("coordinator: executor is required")
	}
	if cfg.ParallelLimit == 0 {
		cfg.ParallelLimit = delegation.DefaultParallelLimit
	}
	if err := delegation.ValidateLimit(cfg.ParallelLimit); err != nil {
		return nil, err
	}
	if err := delegation.ValidateMaxPerSession(cfg.MaxPerSession); err != nil {
		return nil, err
	}
	switch cfg.OutputFormat {
	case "":
		cfg.OutputFormat = delegation.FormatJSON
	case delegation.FormatJSON, delegation.FormatYAML:
	default:
		return nil, fmt.Errorf("coordinator: unsupported output format %q", cfg.OutputFormat)
	}

	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Coordinator{
		cfg:    cfg,
		deps:   deps,
		logger: logger.WithComponent("coordinator"),
		state:  delegation.SessionIdle,
		limit:  cfg.ParallelLimit,
	}, nil
}

// State returns the current session state.
func (c *Coordinator) State() delegation.SessionState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Evaluate classifies units and plans a session. It returns a copy of the
// plan. When nothing is delegatable the session completes immediately and
// the returned error wraps ErrNoDelegatable; the plan lists every unit as
// keep-local.
func (c *Coordinator) Evaluate(units []delegation.TaskUnit) (delegation.Session, error) {
	c.mu.Lock()
	defer c.flush()
	defer c.mu.Unlock()

	if c.state != delegation.SessionIdle {
		return delegation.Session{}, errors.NewTransitionError("evaluate", string(c.state))
	}
	if !c.cfg.Enabled {
		return delegation.Session{}, errors.ErrDelegationDisabled
	}

	sessionID := uuid.NewString()
	c.setStateLocked(sessionID, delegation.SessionEvaluating)

	if c.cfg.LockDir != "" {
		lock, err := sessionlock.TryAcquire(c.cfg.LockDir, sessionID, c.logger)
		if err != nil {
			c.setStateLocked(sessionID, delegation.SessionIdle)
			return delegation.Session{}, err
		}
		c.lock = lock
	}

	session, err := delegation.Build(units, c.deps.Classifier, c.limit, c.cfg.MaxPerSession)
	if err != nil && !errors.Is(err, errors.ErrNoDelegatable) {
		c.releaseLockLocked()
		c.setStateLocked(sessionID, delegation.SessionIdle)
		return delegation.Session{}, err
	}
	session.ID = sessionID
	c.session = session
	c.finished = make(chan struct{})

	logger := c.logger.WithSession(sessionID)
	if err != nil {
		logger.Info("nothing to delegate", "keep_local", len(session.KeepLocal))
		now := time.Now()
		session.StartedAt = now
		session.CompletedAt = now
		c.setStateLocked(sessionID, delegation.SessionDone)
		session.State = delegation.SessionDone
		syn := delegation.Aggregate(*session)
		c.synthesis = &syn
		close(c.finished)
		c.releaseLockLocked()
		return session.Clone(), err
	}

	sched, serr := scheduler.New(session, c.deps.Executor, scheduler.Config{
		ParallelLimit:       c.limit,
		TaskTimeout:         c.cfg.TaskTimeout,
		AdmissionsPerSecond: c.cfg.AdmissionsPerSecond,
		MaxRetries:          c.cfg.MaxRetries,
	}, scheduler.Options{
		Bus:     c.deps.Bus,
		Logger:  c.logger,
		Metrics: c.deps.Metrics,
	})
	if serr != nil {
		c.releaseLockLocked()
		c.session = nil
		c.setStateLocked(sessionID, delegation.SessionIdle)
		return delegation.Session{}, serr
	}
	c.sched = sched

	logger.Info("session planned",
		"queued", len(session.Queue),
		"keep_local", len(session.KeepLocal),
		"parallel_limit", c.limit,
	)
	return session.Clone(), nil
}

// Start begins delegating the planned queue. ctx bounds every delegate.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != delegation.SessionEvaluating {
		state := c.state
		c.mu.Unlock()
		return errors.NewTransitionError("start", string(state))
	}
	c.session.StartedAt = time.Now()
	c.setStateLocked(c.session.ID, delegation.SessionDelegating)
	c.stop = make(chan struct{})
	sched, stop := c.sched, c.stop
	c.mu.Unlock()
	c.flush()

	if err := sched.Start(ctx); err != nil {
		return err
	}
	c.monitors.Go(func() { c.monitor(sched, stop) })
	return nil
}

// monitor moves the session to waiting once the queue drains.
func (c *Coordinator) monitor(sched *scheduler.Scheduler, stop <-chan struct{}) {
	for {
		select {
		case <-stop:
			return
		case <-sched.Idle():
		}

		c.mu.Lock()
		if c.sched != sched || c.state != delegation.SessionDelegating {
			c.mu.Unlock()
			return
		}
		if sched.Drained() {
			c.setStateLocked(c.session.ID, delegation.SessionWaiting)
			c.mu.Unlock()
			c.flush()
			return
		}
		// a retry refilled the queue before we got here
		c.mu.Unlock()
	}
}

// Status returns a snapshot of the coordinator.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:         c.state,
		Paused:        c.paused,
		ParallelLimit: c.limit,
	}
	if c.session == nil {
		return st
	}
	st.SessionID = c.session.ID
	st.StartedAt = c.session.StartedAt
	st.KeepLocal = c.session.Clone().KeepLocal
	if c.sched != nil {
		st.Queue = c.sched.Snapshot()
		st.Stats = c.sched.Stats()
	} else {
		st.Queue = c.session.Clone().Queue
	}
	return st
}

// PauseAll stops admitting new delegates. Only a delegating session can be
// paused.
func (c *Coordinator) PauseAll() error {
	sched, err := c.delegatingScheduler("pause")
	if err != nil {
		return err
	}
	if err := sched.Pause(); err != nil {
		return err
	}
	c.control(sched, "pause", "", func() { c.paused = true })
	return nil
}

// ResumeAll restarts admission of a paused delegating session.
func (c *Coordinator) ResumeAll() error {
	sched, err := c.delegatingScheduler("resume")
	if err != nil {
		return err
	}
	if err := sched.Resume(); err != nil {
		return err
	}
	c.control(sched, "resume", "", func() { c.paused = false })
	return nil
}

// Skip withdraws a queued task.
func (c *Coordinator) Skip(taskID string) error {
	sched, err := c.activeScheduler("skip")
	if err != nil {
		return err
	}
	if err := sched.Skip(taskID); err != nil {
		return err
	}
	c.control(sched, "skip", taskID, nil)
	return nil
}

// Retry requeues a failed task at the head of the queue. A waiting session
// goes back to delegating. Once integration has begun the scheduler refuses
// the retry.
func (c *Coordinator) Retry(taskID string) error {
	c.mu.Lock()
	if c.state != delegation.SessionDelegating && c.state != delegation.SessionWaiting {
		state := c.state
		c.mu.Unlock()
		return errors.NewTransitionError("retry", string(state)).WithTarget(taskID)
	}
	sched := c.sched
	c.mu.Unlock()

	if err := sched.Retry(taskID); err != nil {
		return err
	}
	c.control(sched, "retry", taskID, func() {
		if c.state == delegation.SessionWaiting {
			c.setStateLocked(c.session.ID, delegation.SessionDelegating)
			stop := c.stop
			c.monitors.Go(func() { c.monitor(sched, stop) })
		}
	})
	return nil
}

// SetParallel changes the parallel limit. It applies to the running session,
// if any, and to every later one.
func (c *Coordinator) SetParallel(n int) error {
	if err := delegation.ValidateLimit(n); err != nil {
		return err
	}

	c.mu.Lock()
	c.limit = n
	var sched *scheduler.Scheduler
	if c.session != nil && !c.state.IsFinal() {
		c.session.ParallelLimit = n
		sched = c.sched
	}
	c.mu.Unlock()

	if sched == nil {
		return nil
	}
	if err := sched.SetLimit(n); err != nil {
		return err
	}
	c.control(sched, "parallel", strconv.Itoa(n), nil)
	return nil
}

// activeScheduler returns the scheduler of a session that accepts control
// calls.
func (c *Coordinator) activeScheduler(op string) (*scheduler.Scheduler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case delegation.SessionEvaluating, delegation.SessionDelegating, delegation.SessionWaiting:
		return c.sched, nil
	}
	return nil, errors.NewTransitionError(op, string(c.state))
}

// delegatingScheduler is activeScheduler restricted to the delegating state.
func (c *Coordinator) delegatingScheduler(op string) (*scheduler.Scheduler, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != delegation.SessionDelegating {
		return nil, errors.NewTransitionError(op, string(c.state))
	}
	return c.sched, nil
}

// control records a control action taken on sched, applying update under
// the lock if sched still belongs to the current session.
func (c *Coordinator) control(sched *scheduler.Scheduler, action, detail string, update func()) {
	c.mu.Lock()
	if c.sched != sched {
		c.mu.Unlock()
		return
	}
	if update != nil {
		update()
	}
	c.pending = append(c.pending, event.NewSessionControlEvent(c.session.ID, action, detail))
	c.mu.Unlock()
	c.flush()
}

// Abort cancels the session. Running delegates are asked to stop, queued
// ones are marked aborted and finished ones keep their results. Aborting an
// aborted session is a no-op; aborting an idle or done one is an error.
func (c *Coordinator) Abort() error {
	c.mu.Lock()
	switch c.state {
	case delegation.SessionIdle, delegation.SessionDone:
		state := c.state
		c.mu.Unlock()
		return errors.NewTransitionError("abort", string(state))
	case delegation.SessionAborted, delegation.SessionIntegrating:
		c.mu.Unlock()
		return nil
	}
	c.pending = append(c.pending, event.NewSessionControlEvent(c.session.ID, "abort", ""))
	c.setStateLocked(c.session.ID, delegation.SessionAborted)
	sched := c.sched
	c.mu.Unlock()
	c.flush()

	// Executor.Cancel and event handlers run outside our lock
	sched.Abort()

	c.mu.Lock()
	syn := c.integrateLocked()
	c.mu.Unlock()
	c.flush()

	if err := c.finalize(context.Background(), syn); err != nil {
		c.logger.Warn("failed to persist aborted session", "error", err.Error())
	}
	return nil
}

// AwaitCompletion blocks until the queue drains, integrates the results and
// returns the Synthesis. For a finished session it returns the stored
// Synthesis. Persistence failures are returned together with the Synthesis.
func (c *Coordinator) AwaitCompletion(ctx context.Context) (delegation.Synthesis, error) {
	for {
		c.mu.Lock()
		state, sched, finished := c.state, c.sched, c.finished
		c.mu.Unlock()

		switch state {
		case delegation.SessionDone, delegation.SessionAborted:
			select {
			case <-finished:
			case <-ctx.Done():
				return delegation.Synthesis{}, ctx.Err()
			}
			if syn, ok := c.Synthesis(); ok {
				return syn, nil
			}
			return delegation.Synthesis{}, errors.NewTransitionError("await", string(delegation.SessionIdle))
		case delegation.SessionDelegating, delegation.SessionWaiting:
		default:
			return delegation.Synthesis{}, errors.NewTransitionError("await", string(state))
		}

		if err := sched.Wait(ctx); err != nil {
			return delegation.Synthesis{}, err
		}

		c.mu.Lock()
		// Seal refuses later retries, so the queue stays drained while the
		// results are integrated.
		if c.sched != sched || c.state.IsFinal() || !sched.Seal() {
			// aborted meanwhile, or a retry refilled the queue
			c.mu.Unlock()
			continue
		}
		c.setStateLocked(c.session.ID, delegation.SessionIntegrating)
		c.setStateLocked(c.session.ID, delegation.SessionDone)
		syn := c.integrateLocked()
		c.mu.Unlock()
		c.flush()

		return syn, c.finalize(ctx, syn)
	}
}

// integrateLocked builds the Synthesis of the current session and releases
// the session lock. Must be called with mu held, after the final state is set.
func (c *Coordinator) integrateLocked() delegation.Synthesis {
	if c.stop != nil {
		close(c.stop)
		c.stop = nil
	}

	c.session.CompletedAt = time.Now()
	c.session.State = c.state
	c.session.Queue = c.sched.Snapshot()

	syn := delegation.Aggregate(*c.session)
	c.synthesis = &syn
	close(c.finished)
	c.releaseLockLocked()

	c.pending = append(c.pending, event.NewSynthesisReadyEvent(
		syn.SessionID, syn.CompletedCount, syn.FailedCount, syn.TotalEstimatedSavings, syn.Aborted))
	c.logger.WithSession(syn.SessionID).Info("session integrated",
		"state", string(c.state),
		"completed", syn.CompletedCount,
		"failed", syn.FailedCount,
		"tokens_saved", syn.TotalEstimatedSavings,
	)
	return syn
}

// finalize writes the synthesis file and records the session.
func (c *Coordinator) finalize(ctx context.Context, syn delegation.Synthesis) error {
	var errs []error
	if c.cfg.OutputDir != "" {
		path := filepath.Join(c.cfg.OutputDir, syn.FileName(c.cfg.OutputFormat))
		if err := syn.WriteFile(path, c.cfg.OutputFormat); err != nil {
			errs = append(errs, errors.Wrap(err, "write synthesis"))
		} else {
			c.logger.Info("synthesis written", "path", path)
		}
	}
	if c.deps.Recorder != nil {
		if err := c.deps.Recorder.Record(ctx, syn); err != nil {
			errs = append(errs, errors.Wrap(err, "record session"))
		}
	}
	return errors.Join(errs...)
}

// Synthesis returns the Synthesis of the finished session.
func (c *Coordinator) Synthesis() (delegation.Synthesis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.synthesis == nil {
		return delegation.Synthesis{}, false
	}
	return *c.synthesis, true
}

// Reset returns a finished coordinator to idle. It waits for the worker
// goroutines of the previous session to return.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	if c.state == delegation.SessionIdle {
		c.mu.Unlock()
		return nil
	}
	if !c.state.IsFinal() || c.synthesis == nil {
		state := c.state
		c.mu.Unlock()
		return errors.NewTransitionError("reset", string(state))
	}
	sched := c.sched
	sessionID := c.session.ID
	c.session = nil
	c.sched = nil
	c.synthesis = nil
	c.finished = nil
	c.paused = false
	c.setStateLocked(sessionID, delegation.SessionIdle)
	c.mu.Unlock()
	c.flush()

	c.monitors.Wait()
	if sched != nil {
		sched.Shutdown()
	}
	return nil
}

// Close aborts an active session and waits for its goroutines.
func (c *Coordinator) Close() error {
	switch c.State() {
	case delegation.SessionEvaluating, delegation.SessionDelegating, delegation.SessionWaiting:
		if err := c.Abort(); err != nil {
			return err
		}
	}
	return c.Reset()
}

// setStateLocked must be called with mu held.
func (c *Coordinator) setStateLocked(sessionID string, next delegation.SessionState) {
	prev := c.state
	if prev == next {
		return
	}
	c.state = next
	if c.session != nil {
		c.session.State = next
	}
	c.logger.WithSession(sessionID).Info("session state changed",
		"from", string(prev),
		"to", string(next),
	)
	c.pending = append(c.pending, event.NewSessionStateChangedEvent(sessionID, string(prev), string(next)))
}

// releaseLockLocked must be called with mu held.
func (c *Coordinator) releaseLockLocked() {
	if c.lock == nil {
		return
	}
	if err := c.lock.Release(); err != nil {
		c.logger.Warn("failed to release session lock", "error", err.Error())
	}
	c.lock = nil
}

// flush publishes events queued while mu was held. Must be called without mu.
func (c *Coordinator) flush() {
	c.mu.Lock()
	events := c.pending
	c.pending = nil
	c.mu.Unlock()

	if c.deps.Bus == nil {
		return
	}
	for _, e := range events {
		c.deps.Bus.Publish(e)
	}
}
