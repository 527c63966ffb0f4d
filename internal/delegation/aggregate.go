package delegation

import (
	"sort"
	"strings"
	"time"
)

// TaskSummary is the per-task record in a Synthesis.
type TaskSummary struct {
	TaskID           string        `json:"task_id" yaml:"task_id"`
	Description      string        `json:"description" yaml:"description"`
	Rule             string        `json:"rule" yaml:"rule"`
	WorkerType       string        `json:"worker_type" yaml:"worker_type"`
	State            TaskState     `json:"state" yaml:"state"`
	Summary          string        `json:"summary,omitempty" yaml:"summary,omitempty"`
	FailureReason    string        `json:"failure_reason,omitempty" yaml:"failure_reason,omitempty"`
	EstimatedSavings int           `json:"estimated_savings" yaml:"estimated_savings"`
	Attempts         int           `json:"attempts" yaml:"attempts"`
	Duration         time.Duration `json:"duration_ns" yaml:"duration_ns"`
}

// LocalTask is a unit the caller should run itself.
type LocalTask struct {
	TaskID      string `json:"task_id" yaml:"task_id"`
	Description string `json:"description" yaml:"description"`
	Done        bool   `json:"done,omitempty" yaml:"done,omitempty"`
}

// Synthesis is the terminal output of a session.
type Synthesis struct {
	SessionID             string         `json:"session_id" yaml:"session_id"`
	Summaries             []TaskSummary  `json:"summaries" yaml:"summaries"`
	KeepLocal             []LocalTask    `json:"keep_local" yaml:"keep_local"`
	TotalEstimatedSavings int            `json:"total_estimated_savings" yaml:"total_estimated_savings"`
	CompletedCount        int            `json:"completed_count" yaml:"completed_count"`
	FailedCount           int            `json:"failed_count" yaml:"failed_count"`
	SkippedCount          int            `json:"skipped_count" yaml:"skipped_count"`
	AbortedCount          int            `json:"aborted_count" yaml:"aborted_count"`
	KeepLocalCount        int            `json:"keep_local_count" yaml:"keep_local_count"`
	SavingsByWorkerType   map[string]int `json:"savings_by_worker_type" yaml:"savings_by_worker_type"`
	Aborted               bool           `json:"aborted" yaml:"aborted"`
	StartedAt             time.Time      `json:"started_at" yaml:"started_at"`
	CompletedAt           time.Time      `json:"completed_at" yaml:"completed_at"`
}

// Aggregate merges a session snapshot into a Synthesis. Savings count only
// for done tasks; every delegated task is still reported. Summaries follow
// the order QueueBuilder produced. Aggregate does no I/O and does not modify
// session.
func Aggregate(session Session) Synthesis {
	syn := Synthesis{
		SessionID:           session.ID,
		Summaries:           make([]TaskSummary, 0, len(session.Queue)),
		KeepLocal:           make([]LocalTask, 0, len(session.KeepLocal)),
		SavingsByWorkerType: make(map[string]int),
		KeepLocalCount:      len(session.KeepLocal),
		Aborted:             session.State == SessionAborted,
		StartedAt:           session.StartedAt,
		CompletedAt:         session.CompletedAt,
	}

	ordered := make([]*DelegationTask, len(session.Queue))
	for i := range session.Queue {
		ordered[i] = &session.Queue[i]
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ordered[a].QueuePos < ordered[b].QueuePos
	})

	for _, t := range ordered {
		saved := 0
		switch t.State {
		case TaskDone:
			saved = t.EstimatedSavings
			syn.CompletedCount++
			syn.TotalEstimatedSavings += saved
			syn.SavingsByWorkerType[t.WorkerType()] += saved
		case TaskFailed:
			syn.FailedCount++
		case TaskSkipped:
			syn.SkippedCount++
		case TaskAborted:
			syn.AbortedCount++
		}

		syn.Summaries = append(syn.Summaries, TaskSummary{
			TaskID:           t.ID(),
			Description:      t.Unit.Description,
			Rule:             t.RuleName(),
			WorkerType:       t.WorkerType(),
			State:            t.State,
			Summary:          t.ResultSummary,
			FailureReason:    t.FailureReason,
			EstimatedSavings: saved,
			Attempts:         t.Attempts,
			Duration:         t.Duration(),
		})
	}

	for i := range session.KeepLocal {
		t := &session.KeepLocal[i]
		syn.KeepLocal = append(syn.KeepLocal, LocalTask{
			TaskID:      t.ID(),
			Description: t.Unit.Description,
			Done:        t.Unit.Done,
		})
	}

	return syn
}

// CombinedSummary concatenates the summaries of done tasks, one section per task.
func (s *Synthesis) CombinedSummary() string {
	var sb strings.Builder
	for _, ts := range s.Summaries {
		if ts.State != TaskDone || ts.Summary == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString("## " + ts.TaskID + " (" + ts.WorkerType + ")\n")
		sb.WriteString(strings.TrimSpace(ts.Summary))
	}
	return sb.String()
}
