// Package worker provides scheduler executors that hand delegated tasks to
// an external AI command or, for dry runs, answer them in-process.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/util"
)

// DefaultCommand is the worker executable used when none is configured.
const DefaultCommand = "claude"

// DefaultArgs puts the default command in one-shot, print-only mode.
var DefaultArgs = []string{"--print"}

// waitDelay bounds how long a killed worker may keep its output pipes open.
const waitDelay = 5 * time.Second

// maxStderr caps the stderr kept for a failure reason.
const maxStderr = 4096

// CommandConfig configures a CommandExecutor.
type CommandConfig struct {
	// Command is the worker executable (default: "claude").
	Command string
	// Args are passed before the prompt is written to stdin.
	Args []string
	// Env holds extra KEY=VALUE pairs appended to the worker environment.
	Env []string
	// Dir is the worker's working directory. Empty uses the current one.
	Dir string
	// Prompt carries the context rendered into every task prompt.
	Prompt delegation.PromptOptions
}

// CommandExecutor runs each delegated task as a separate worker process.
// The rendered prompt is written to stdin and stdout becomes the summary.
type CommandExecutor struct {
	cfg    CommandConfig
	logger *logging.Logger

	mu    sync.Mutex
	procs map[string]*exec.Cmd
}

// NewCommandExecutor creates a CommandExecutor. logger may be nil.
func NewCommandExecutor(cfg CommandConfig, logger *logging.Logger) *CommandExecutor {
	if strings.TrimSpace(cfg.Command) == "" {
		cfg.Command = DefaultCommand
		if cfg.Args == nil {
			cfg.Args = DefaultArgs
		}
	}
	if cfg.Prompt.SummaryMaxWords <= 0 {
		cfg.Prompt.SummaryMaxWords = delegation.DefaultSummaryMaxWords
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &CommandExecutor{
		cfg:    cfg,
		logger: logger.WithComponent("worker"),
		procs:  make(map[string]*exec.Cmd),
	}
}

// Invoke renders the task prompt, runs the worker and returns its output.
func (e *CommandExecutor) Invoke(ctx context.Context, task *delegation.DelegationTask) (string, error) {
	id := task.ID()
	prompt, err := delegation.BuildPrompt(task, e.cfg.Prompt)
	if err != nil {
		return "", errors.NewTaskError(id, "render prompt").WithCause(err)
	}

	cmd := exec.CommandContext(ctx, e.cfg.Command, e.cfg.Args...)
	cmd.Dir = e.cfg.Dir
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Env = append(os.Environ(), e.cfg.Env...)
	cmd.Env = append(cmd.Env,
		"HANDOFF_TASK_ID="+id,
		"HANDOFF_WORKER_TYPE="+task.WorkerType(),
	)
	cmd.WaitDelay = waitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &limitedBuffer{buf: &stderr, limit: maxStderr}

	logger := e.logger.WithTask(id)
	if err := cmd.Start(); err != nil {
		return "", errors.NewTaskError(id, "start worker").WithCause(err)
	}
	e.track(id, cmd)
	defer e.untrack(id, cmd)

	logger.Debug("worker started", "command", e.cfg.Command, "pid", cmd.Process.Pid)
	err = cmd.Wait()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		reason := fmt.Sprintf("worker exited: %v", err)
		if line := util.FirstLine(stderr.String()); line != "" {
			reason = fmt.Sprintf("worker exited: %v: %s", err, line)
		}
		logger.Warn("worker failed", "error", err.Error(), "stderr", stderr.String())
		return "", errors.NewTaskError(id, reason).WithCause(err)
	}

	summary := strings.TrimSpace(stdout.String())
	if summary == "" {
		return "", errors.NewTaskError(id, "worker produced no summary")
	}
	return util.TruncateWords(summary, e.cfg.Prompt.SummaryMaxWords), nil
}

// Cancel kills the worker process of taskID, if one is running.
func (e *CommandExecutor) Cancel(taskID string) {
	e.mu.Lock()
	cmd := e.procs[taskID]
	e.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		e.logger.Warn("failed to kill worker", "task_id", taskID, "error", err.Error())
		return
	}
	e.logger.Info("worker killed", "task_id", taskID)
}

// Running returns the number of live worker processes.
func (e *CommandExecutor) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.procs)
}

func (e *CommandExecutor) track(id string, cmd *exec.Cmd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.procs[id] = cmd
}

func (e *CommandExecutor) untrack(id string, cmd *exec.Cmd) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.procs[id] == cmd {
		delete(e.procs, id)
	}
}

// limitedBuffer keeps the first limit bytes written and discards the rest.
type limitedBuffer struct {
	buf   *bytes.Buffer
	limit int
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	if room := l.limit - l.buf.Len(); room > 0 {
		if len(p) > room {
			l.buf.Write(p[:room])
		} else {
			l.buf.Write(p)
		}
	}
	return len(p), nil
}
