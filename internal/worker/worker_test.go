package worker

import (
	"context"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/rules"
)

func testTask() *delegation.DelegationTask {
	return &delegation.DelegationTask{
		Unit:  delegation.TaskUnit{ID: "task-1", Description: "explore auth patterns"},
		Rule:  &rules.Rule{Name: "exploration", WorkerType: rules.WorkerExplore, Priority: 10},
		State: delegation.TaskRunning,
	}
}

func shellExecutor(t *testing.T, script string, maxWords int) *CommandExecutor {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	return NewCommandExecutor(CommandConfig{
		Command: "sh",
		Args:    []string{"-c", script},
		Prompt:  delegation.PromptOptions{SummaryMaxWords: maxWords},
	}, nil)
}

func TestCommandExecutor_Invoke(t *testing.T) {
	tests := []struct {
		name     string
		script   string
		maxWords int
		want     string
	}{
		{"trims output", "cat >/dev/null; echo '  found two handlers  '", 0, "found two handlers"},
		{"prompt on stdin", "head -n 1", 0, "## Delegated Task: explore auth patterns"},
		{"task env", "cat >/dev/null; echo $HANDOFF_TASK_ID $HANDOFF_WORKER_TYPE", 0, "task-1 explore"},
		{"summary word limit", "cat >/dev/null; echo one two three four", 2, "one two..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := shellExecutor(t, tt.script, tt.maxWords)
			got, err := e.Invoke(context.Background(), testTask())
			if err != nil {
				t.Fatalf("Invoke() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Invoke() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCommandExecutor_Failures(t *testing.T) {
	tests := []struct {
		name       string
		script     string
		wantReason string
	}{
		{"non-zero exit", "cat >/dev/null; echo 'rate limited' >&2; exit 3", "rate limited"},
		{"empty output", "cat >/dev/null", "no summary"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := shellExecutor(t, tt.script, 0)
			_, err := e.Invoke(context.Background(), testTask())
			if !errors.Is(err, errors.ErrExecutionFailure) {
				t.Fatalf("Invoke() error = %v, want ErrExecutionFailure", err)
			}
			var taskErr *errors.TaskError
			if !errors.As(err, &taskErr) {
				t.Fatalf("Invoke() error is %T, want *TaskError", err)
			}
			if !strings.Contains(taskErr.Reason, tt.wantReason) {
				t.Errorf("Reason = %q, want it to contain %q", taskErr.Reason, tt.wantReason)
			}
		})
	}
}

func TestCommandExecutor_MissingCommand(t *testing.T) {
	e := NewCommandExecutor(CommandConfig{Command: "handoff-no-such-worker"}, nil)
	_, err := e.Invoke(context.Background(), testTask())
	if !errors.Is(err, errors.ErrExecutionFailure) {
		t.Errorf("Invoke() error = %v, want ErrExecutionFailure", err)
	}
}

func TestCommandExecutor_Cancel(t *testing.T) {
	e := shellExecutor(t, "cat >/dev/null; exec sleep 10", 0)

	done := make(chan error, 1)
	go func() {
		_, err := e.Invoke(context.Background(), testTask())
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for e.Running() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("worker never started")
		}
		time.Sleep(5 * time.Millisecond)
	}
	e.Cancel("task-1")
	e.Cancel("unknown-task")

	select {
	case err := <-done:
		if err == nil {
			t.Error("Invoke() after Cancel returned nil error")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Invoke() did not return after Cancel")
	}
	if e.Running() != 0 {
		t.Errorf("Running() = %d after exit, want 0", e.Running())
	}
}

func TestCommandExecutor_ContextCanceled(t *testing.T) {
	e := shellExecutor(t, "cat >/dev/null; exec sleep 10", 0)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := e.Invoke(ctx, testTask())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Invoke() error = %v, want DeadlineExceeded", err)
	}
}

func TestNewCommandExecutor_Defaults(t *testing.T) {
	e := NewCommandExecutor(CommandConfig{}, nil)
	if e.cfg.Command != DefaultCommand {
		t.Errorf("Command = %q, want %q", e.cfg.Command, DefaultCommand)
	}
	if len(e.cfg.Args) != 1 || e.cfg.Args[0] != "--print" {
		t.Errorf("Args = %v, want [--print]", e.cfg.Args)
	}
	if e.cfg.Prompt.SummaryMaxWords != delegation.DefaultSummaryMaxWords {
		t.Errorf("SummaryMaxWords = %d, want %d", e.cfg.Prompt.SummaryMaxWords, delegation.DefaultSummaryMaxWords)
	}
}

func TestEchoExecutor(t *testing.T) {
	got, err := EchoExecutor{}.Invoke(context.Background(), testTask())
	if err != nil {
		t.Fatalf("Invoke() error = %v", err)
	}
	if !strings.Contains(got, "explore auth patterns") || !strings.Contains(got, "exploration") {
		t.Errorf("Invoke() = %q, want task description and rule", got)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (EchoExecutor{Delay: time.Second}).Invoke(ctx, testTask()); !errors.Is(err, context.Canceled) {
		t.Errorf("Invoke() with canceled ctx error = %v, want Canceled", err)
	}
}
