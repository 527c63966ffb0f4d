package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/handoff/internal/delegation"
)

// EchoExecutor completes every task without running anything. It is used
// for dry runs, where the summary only restates what would be delegated.
type EchoExecutor struct {
	// Delay simulates worker latency.
	Delay time.Duration
}

// Invoke returns a summary describing the task.
func (e EchoExecutor) Invoke(ctx context.Context, task *delegation.DelegationTask) (string, error) {
	if e.Delay > 0 {
		timer := time.NewTimer(e.Delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-timer.C:
		}
	}
	return fmt.Sprintf("[dry run] %s worker would handle %q via rule %s",
		task.WorkerType(), task.Unit.Description, task.RuleName()), nil
}

// Cancel is a no-op; Invoke observes ctx instead.
func (EchoExecutor) Cancel(string) {}
