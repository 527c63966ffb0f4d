package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/rules"
	"github.com/Iron-Ham/handoff/internal/testutil"
)

// fakeExecutor blocks each Invoke until the test releases it, and records
// concurrency and cancellations.
type fakeExecutor struct {
	mu        sync.Mutex
	active    int
	maxActive int
	invoked   []string
	cancelled []string
	// ctxDone lists the tasks whose attempt returned because its context
	// was canceled.
	ctxDone []string
	release   map[string]chan fakeResult
	started   chan string
	// auto, when set, returns immediately with this function's result.
	auto func(task *delegation.DelegationTask) (string, error)
}

type fakeResult struct {
	summary string
	err     error
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		release: make(map[string]chan fakeResult),
		started: make(chan string, 64),
	}
}

func (f *fakeExecutor) channel(id string) chan fakeResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.release[id]
	if !ok {
		ch = make(chan fakeResult, 1)
		f.release[id] = ch
	}
	return ch
}

func (f *fakeExecutor) Invoke(ctx context.Context, task *delegation.DelegationTask) (string, error) {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	f.invoked = append(f.invoked, task.ID())
	auto := f.auto
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	f.started <- task.ID()
	if auto != nil {
		time.Sleep(5 * time.Millisecond)
		return auto(task)
	}

	select {
	case <-ctx.Done():
		f.mu.Lock()
		f.ctxDone = append(f.ctxDone, task.ID())
		f.mu.Unlock()
		return "", ctx.Err()
	case r := <-f.channel(task.ID()):
		return r.summary, r.err
	}
}

func (f *fakeExecutor) Cancel(taskID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
}

func (f *fakeExecutor) finish(id, summary string, err error) {
	f.channel(id) <- fakeResult{summary: summary, err: err}
}

func (f *fakeExecutor) waitStarted(t *testing.T, n int) []string {
	t.Helper()
	var ids []string
	for len(ids) < n {
		select {
		case id := <-f.started:
			ids = append(ids, id)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d task starts, got %v", n, ids)
		}
	}
	return ids
}

func (f *fakeExecutor) cancelledIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}

func (f *fakeExecutor) ctxDoneIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ctxDone...)
}

func newSession(n int) *delegation.Session {
	rule := rules.Rule{Name: "exploration", Patterns: []string{"explore"}, WorkerType: rules.WorkerExplore, Priority: 10, Enabled: true}
	s := &delegation.Session{ID: "session-1", ParallelLimit: 2, State: delegation.SessionIdle}
	for i := 0; i < n; i++ {
		r := rule
		s.Queue = append(s.Queue, delegation.DelegationTask{
			Unit:             delegation.TaskUnit{ID: fmt.Sprintf("task-%d", i+1), Description: "explore area"},
			Rule:             &r,
			EstimatedSavings: 100,
			State:            delegation.TaskQueued,
			Index:            i,
			QueuePos:         i,
		})
	}
	return s
}

func newScheduler(t *testing.T, n int, exec Executor, cfg Config, opts Options) *Scheduler {
	t.Helper()
	if cfg.ParallelLimit == 0 {
		cfg.ParallelLimit = 2
	}
	s, err := New(newSession(n), exec, cfg, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		s.Abort()
		s.Shutdown()
	})
	return s
}

func waitDrained(t *testing.T, s *Scheduler) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := s.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v (stats %+v)", err, s.Stats())
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"limit too low", Config{ParallelLimit: 0}},
		{"limit too high", Config{ParallelLimit: 6}},
		{"negative timeout", Config{ParallelLimit: 2, TaskTimeout: -time.Second}},
		{"negative retries", Config{ParallelLimit: 2, MaxRetries: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(newSession(1), newFakeExecutor(), tt.cfg, Options{})
			if !errors.Is(err, errors.ErrInvalidRange) {
				t.Errorf("New() error = %v, want ErrInvalidRange", err)
			}
		})
	}
}

func TestScheduler_RunningNeverExceedsLimit(t *testing.T) {
	for _, limit := range []int{1, 2, 3, 5} {
		t.Run(fmt.Sprintf("limit=%d", limit), func(t *testing.T) {
			exec := newFakeExecutor()
			exec.auto = func(task *delegation.DelegationTask) (string, error) {
				return "summary of " + task.ID(), nil
			}
			s := newScheduler(t, 10, exec, Config{ParallelLimit: limit}, Options{})
			if err := s.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			waitDrained(t, s)

			exec.mu.Lock()
			maxActive := exec.maxActive
			exec.mu.Unlock()
			if maxActive > limit {
				t.Errorf("max concurrent invocations = %d, want <= %d", maxActive, limit)
			}
			if st := s.Stats(); st.Done != 10 {
				t.Errorf("Done = %d, want 10", st.Done)
			}
		})
	}
}

func TestScheduler_AdmitsInQueueOrder(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 4, exec, Config{ParallelLimit: 1}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 1; i <= 4; i++ {
		want := fmt.Sprintf("task-%d", i)
		got := exec.waitStarted(t, 1)[0]
		if got != want {
			t.Fatalf("admitted %s, want %s", got, want)
		}
		exec.finish(got, "ok", nil)
	}
	waitDrained(t, s)
}

func TestScheduler_StartTwice(t *testing.T) {
	s := newScheduler(t, 1, newFakeExecutor(), Config{}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(context.Background()); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("second Start() error = %v, want ErrInvalidTransition", err)
	}
}

func TestScheduler_EmptyQueueDrainsOnStart(t *testing.T) {
	s := newScheduler(t, 0, newFakeExecutor(), Config{}, Options{})
	if s.Drained() {
		t.Error("Drained() = true before Start")
	}
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDrained(t, s)
}

func TestScheduler_FailureThenRetry(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 2, exec, Config{ParallelLimit: 2}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exec.waitStarted(t, 2)

	exec.finish("task-1", "", errors.NewTaskError("task-1", "worker exited 1"))
	exec.finish("task-2", "found three handlers", nil)
	waitDrained(t, s)

	failed, _ := s.Task("task-1")
	if failed.State != delegation.TaskFailed {
		t.Fatalf("task-1 state = %s, want failed", failed.State)
	}
	if failed.FailureReason != "worker exited 1" {
		t.Errorf("FailureReason = %q, want %q", failed.FailureReason, "worker exited 1")
	}

	if err := s.Retry("task-2"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Retry(done task) error = %v, want ErrInvalidTransition", err)
	}
	if err := s.Retry("task-1"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if s.Drained() {
		t.Error("Drained() = true right after retry")
	}

	exec.waitStarted(t, 1)
	exec.finish("task-1", "second time lucky", nil)
	waitDrained(t, s)

	got, _ := s.Task("task-1")
	if got.State != delegation.TaskDone {
		t.Errorf("task-1 state = %s, want done", got.State)
	}
	if got.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", got.Attempts)
	}
	if got.FailureReason != "" {
		t.Errorf("FailureReason = %q, want empty after success", got.FailureReason)
	}
}

func TestScheduler_RetryGoesToHeadOfQueue(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 3, exec, Config{ParallelLimit: 1}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exec.waitStarted(t, 1)
	if err := s.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	exec.finish("task-1", "", errors.New("boom"))
	testutil.WaitFor(t, "task-1 to fail", func() bool {
		task, _ := s.Task("task-1")
		return task.State == delegation.TaskFailed
	})

	if err := s.Retry("task-1"); err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if err := s.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := exec.waitStarted(t, 1)[0]; got != "task-1" {
		t.Errorf("admitted %s after retry, want task-1", got)
	}
}

func TestScheduler_AutomaticRetry(t *testing.T) {
	exec := newFakeExecutor()
	var calls int
	var mu sync.Mutex
	exec.auto = func(task *delegation.DelegationTask) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 1 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	}
	s := newScheduler(t, 1, exec, Config{ParallelLimit: 1, MaxRetries: 1}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDrained(t, s)

	task, _ := s.Task("task-1")
	if task.State != delegation.TaskDone {
		t.Errorf("state = %s, want done", task.State)
	}
	if task.Attempts != 2 {
		t.Errorf("Attempts = %d, want 2", task.Attempts)
	}
}

func TestScheduler_AbortWithRunningAndQueued(t *testing.T) {
	exec := newFakeExecutor()
	bus := event.NewBus(nil)
	var mu sync.Mutex
	finished := map[string]string{}
	bus.Subscribe(event.TypeTaskFinished, func(e event.Event) {
		fe := e.(event.TaskFinishedEvent)
		mu.Lock()
		finished[fe.TaskID] = fe.Status
		mu.Unlock()
	})

	s := newScheduler(t, 4, exec, Config{ParallelLimit: 2}, Options{Bus: bus})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exec.waitStarted(t, 2)
	exec.finish("task-1", "done before abort", nil)
	exec.waitStarted(t, 1) // task-3 takes the free slot

	s.Abort()
	s.Abort()

	want := map[string]delegation.TaskState{
		"task-1": delegation.TaskDone,
		"task-2": delegation.TaskAborted,
		"task-3": delegation.TaskAborted,
		"task-4": delegation.TaskAborted,
	}
	for _, task := range s.Snapshot() {
		if task.State != want[task.ID()] {
			t.Errorf("%s state = %s, want %s", task.ID(), task.State, want[task.ID()])
		}
	}

	cancelled := exec.cancelledIDs()
	if len(cancelled) != 2 {
		t.Errorf("Cancel called for %v, want task-2 and task-3", cancelled)
	}
	if !s.Drained() {
		t.Error("Drained() = false after abort")
	}

	// late result from a cancelled worker is discarded
	s.complete("task-2", &runningTask{cancel: func() {}}, "late", nil)
	if task, _ := s.Task("task-2"); task.State != delegation.TaskAborted {
		t.Errorf("task-2 state after late result = %s, want aborted", task.State)
	}

	testutil.WaitFor(t, "task-1 done and task-4 aborted", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return finished["task-1"] == "done" && finished["task-4"] == "aborted"
	})
}

func TestScheduler_ControlsAfterAbort(t *testing.T) {
	s := newScheduler(t, 2, newFakeExecutor(), Config{}, Options{})
	s.Abort()

	if err := s.Pause(); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Pause() error = %v, want ErrInvalidTransition", err)
	}
	if err := s.Resume(); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Resume() error = %v, want ErrInvalidTransition", err)
	}
	if err := s.Retry("task-1"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Retry() error = %v, want ErrInvalidTransition", err)
	}
}

func TestScheduler_Timeout(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 2, exec, Config{ParallelLimit: 1, TaskTimeout: 50 * time.Millisecond}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// task-1 never finishes on its own; the timeout frees the slot for task-2
	exec.waitStarted(t, 1)
	if got := exec.waitStarted(t, 1)[0]; got != "task-2" {
		t.Fatalf("admitted %s after timeout, want task-2", got)
	}
	exec.finish("task-2", "ok", nil)
	waitDrained(t, s)

	task, _ := s.Task("task-1")
	if task.State != delegation.TaskFailed {
		t.Errorf("state = %s, want failed", task.State)
	}
	if task.FailureReason != ReasonTimeout {
		t.Errorf("FailureReason = %q, want %q", task.FailureReason, ReasonTimeout)
	}
	// the expired attempt is stopped through its context
	testutil.WaitFor(t, "task-1 context canceled", func() bool { return len(exec.ctxDoneIDs()) == 1 })
	if got := exec.cancelledIDs(); len(got) != 0 {
		t.Errorf("Cancel called for %v, want none", got)
	}
}

func TestScheduler_TimeoutRetryKeepsNewAttempt(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 1, exec, Config{ParallelLimit: 1, TaskTimeout: 300 * time.Millisecond, MaxRetries: 1}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// the first attempt times out and the retry reuses the task ID
	if got := exec.waitStarted(t, 2); got[1] != "task-1" {
		t.Fatalf("second admission = %s, want task-1", got[1])
	}
	testutil.WaitFor(t, "first attempt context canceled", func() bool { return len(exec.ctxDoneIDs()) == 1 })
	exec.finish("task-1", "found it", nil)
	waitDrained(t, s)

	task, _ := s.Task("task-1")
	if task.State != delegation.TaskDone || task.Attempts != 2 {
		t.Errorf("task-1 = %s after %d attempts, want done after 2", task.State, task.Attempts)
	}
	if got := exec.cancelledIDs(); len(got) != 0 {
		t.Errorf("Cancel called for %v while the retry ran", got)
	}
}

func TestScheduler_CanceledAttemptIsNotRetried(t *testing.T) {
	exec := newFakeExecutor()
	exec.auto = func(task *delegation.DelegationTask) (string, error) {
		return "", fmt.Errorf("invoke: %w", context.Canceled)
	}
	s := newScheduler(t, 1, exec, Config{ParallelLimit: 1, MaxRetries: 2}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDrained(t, s)

	task, _ := s.Task("task-1")
	if task.State != delegation.TaskFailed || task.Attempts != 1 {
		t.Errorf("task-1 = %s after %d attempts, want failed after 1", task.State, task.Attempts)
	}
	if task.FailureReason != "canceled" {
		t.Errorf("FailureReason = %q, want canceled", task.FailureReason)
	}
}

func TestScheduler_SealRefusesRetry(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 2, exec, Config{ParallelLimit: 2}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exec.waitStarted(t, 2)

	if s.Seal() {
		t.Fatal("Seal() = true while tasks are running")
	}

	exec.finish("task-1", "", errors.NewTaskError("task-1", "exit 1"))
	exec.finish("task-2", "ok", nil)
	waitDrained(t, s)

	if !s.Seal() {
		t.Fatal("Seal() = false on a drained queue")
	}
	if err := s.Retry("task-1"); !errors.Is(err, errors.ErrInvalidTransition) {
		t.Errorf("Retry() after Seal error = %v, want ErrInvalidTransition", err)
	}
	if task, _ := s.Task("task-1"); task.State != delegation.TaskFailed {
		t.Errorf("task-1 state = %s, want failed", task.State)
	}
}

func TestScheduler_PauseResume(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 3, exec, Config{ParallelLimit: 1}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exec.waitStarted(t, 1)

	if err := s.Pause(); err != nil {
		t.Fatalf("Pause() error = %v", err)
	}
	if task, _ := s.Task("task-1"); task.State != delegation.TaskPaused {
		t.Errorf("running task state while paused = %s, want paused", task.State)
	}
	st := s.Stats()
	if !st.IsPaused || st.Paused != 1 || st.Queued != 2 {
		t.Errorf("Stats() = %+v, want paused with 1 paused and 2 queued", st)
	}

	// the in-flight task still completes, but nothing new is admitted
	exec.finish("task-1", "ok", nil)
	testutil.WaitFor(t, "task-1 to finish", func() bool {
		task, _ := s.Task("task-1")
		return task.State == delegation.TaskDone
	})
	select {
	case id := <-exec.started:
		t.Fatalf("%s admitted while paused", id)
	case <-time.After(30 * time.Millisecond):
	}

	if err := s.Resume(); err != nil {
		t.Fatalf("Resume() error = %v", err)
	}
	if got := exec.waitStarted(t, 1)[0]; got != "task-2" {
		t.Errorf("admitted %s after resume, want task-2", got)
	}
	if task, _ := s.Task("task-2"); task.State != delegation.TaskRunning {
		t.Errorf("state after resume = %s, want running", task.State)
	}
}

func TestScheduler_Skip(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 3, exec, Config{ParallelLimit: 1}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exec.waitStarted(t, 1)

	tests := []struct {
		name   string
		id     string
		target error
	}{
		{"running task", "task-1", errors.ErrInvalidTransition},
		{"unknown task", "task-9", errors.ErrNotFound},
		{"queued task", "task-2", nil},
		{"already skipped", "task-2", errors.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Skip(tt.id)
			if tt.target == nil {
				if err != nil {
					t.Errorf("Skip() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.target) {
				t.Errorf("Skip() error = %v, want %v", err, tt.target)
			}
		})
	}

	exec.finish("task-1", "ok", nil)
	if got := exec.waitStarted(t, 1)[0]; got != "task-3" {
		t.Errorf("admitted %s, want task-3 (task-2 was skipped)", got)
	}
	exec.finish("task-3", "ok", nil)
	waitDrained(t, s)

	if st := s.Stats(); st.Skipped != 1 || st.Done != 2 {
		t.Errorf("Stats() = %+v, want 1 skipped and 2 done", st)
	}
}

func TestScheduler_SetLimit(t *testing.T) {
	exec := newFakeExecutor()
	s := newScheduler(t, 4, exec, Config{ParallelLimit: 1}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	exec.waitStarted(t, 1)

	if err := s.SetLimit(0); !errors.Is(err, errors.ErrInvalidRange) {
		t.Errorf("SetLimit(0) error = %v, want ErrInvalidRange", err)
	}
	if err := s.SetLimit(6); !errors.Is(err, errors.ErrInvalidRange) {
		t.Errorf("SetLimit(6) error = %v, want ErrInvalidRange", err)
	}

	if err := s.SetLimit(3); err != nil {
		t.Fatalf("SetLimit(3) error = %v", err)
	}
	exec.waitStarted(t, 2)
	if st := s.Stats(); st.Running != 3 {
		t.Errorf("Running = %d after raising limit, want 3", st.Running)
	}

	// lowering does not preempt
	if err := s.SetLimit(1); err != nil {
		t.Fatalf("SetLimit(1) error = %v", err)
	}
	if st := s.Stats(); st.Running != 3 || st.Limit != 1 {
		t.Errorf("Stats() = %+v, want 3 running with limit 1", st)
	}
}

func TestScheduler_PanickingExecutorFailsTask(t *testing.T) {
	exec := newFakeExecutor()
	exec.auto = func(task *delegation.DelegationTask) (string, error) {
		panic("worker exploded")
	}
	s := newScheduler(t, 1, exec, Config{ParallelLimit: 1}, Options{})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDrained(t, s)

	task, _ := s.Task("task-1")
	if task.State != delegation.TaskFailed {
		t.Fatalf("state = %s, want failed", task.State)
	}
	if task.FailureReason == "" {
		t.Error("FailureReason is empty, want panic description")
	}
}

func TestScheduler_AdmissionThrottle(t *testing.T) {
	exec := newFakeExecutor()
	exec.auto = func(task *delegation.DelegationTask) (string, error) { return "ok", nil }
	s := newScheduler(t, 3, exec, Config{ParallelLimit: 3, AdmissionsPerSecond: 50}, Options{})

	start := time.Now()
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDrained(t, s)

	// burst of one, then 20ms between admissions
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("three admissions took %v, want at least 30ms", elapsed)
	}
	if st := s.Stats(); st.Done != 3 {
		t.Errorf("Done = %d, want 3", st.Done)
	}
}

func TestScheduler_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}

	exec := newFakeExecutor()
	exec.auto = func(task *delegation.DelegationTask) (string, error) {
		if task.ID() == "task-2" {
			return "", errors.New("nope")
		}
		return "ok", nil
	}
	s := newScheduler(t, 3, exec, Config{ParallelLimit: 3}, Options{Metrics: m})
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDrained(t, s)

	if got := promtest.ToFloat64(m.admitted.WithLabelValues(rules.WorkerExplore)); got != 3 {
		t.Errorf("admitted = %v, want 3", got)
	}
	if got := promtest.ToFloat64(m.finished.WithLabelValues("done")); got != 2 {
		t.Errorf("finished{done} = %v, want 2", got)
	}
	if got := promtest.ToFloat64(m.finished.WithLabelValues("failed")); got != 1 {
		t.Errorf("finished{failed} = %v, want 1", got)
	}
	if got := promtest.ToFloat64(m.savings); got != 200 {
		t.Errorf("savings = %v, want 200", got)
	}
	if got := promtest.ToFloat64(m.running); got != 0 {
		t.Errorf("running gauge = %v, want 0", got)
	}
}

func TestNewMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("NewMetrics() error = %v", err)
	}
	second, err := NewMetrics(reg)
	if err != nil {
		t.Fatalf("second NewMetrics() error = %v", err)
	}
	second.taskRetried()
	if got := promtest.ToFloat64(first.retries); got != 1 {
		t.Errorf("retries via first = %v, want 1", got)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.taskAdmitted("explore")
	m.taskFinished("explore", "done", time.Second, 10)
	m.taskRetried()
	m.setDepth(1, 2)
}

func TestFailureReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"task error", errors.NewTaskError("t", "exit 2"), "exit 2"},
		{"task error with cause", errors.NewTaskError("t", "worker crashed").WithCause(errors.New("signal: killed")), "worker crashed: signal: killed"},
		{"canceled", fmt.Errorf("run: %w", context.Canceled), "canceled"},
		{"plain", errors.New("stderr:\n  no such file"), "stderr: no such file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := failureReason(tt.err); got != tt.want {
				t.Errorf("failureReason() = %q, want %q", got, tt.want)
			}
		})
	}
}
