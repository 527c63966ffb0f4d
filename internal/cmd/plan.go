package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
)

var planCmd = &cobra.Command{
	Use:   "plan [task description...]",
	Short: "Show how a task list would be delegated",
	Long: `Classify the task units against the delegation rules and print the
dispatch queue and the units kept local, without running anything and
without taking the session lock.`,
	RunE: runPlan,
}

var (
	planTasksFile string
	planParallel  int
	planJSON      bool
)

func init() {
	planCmd.Flags().StringVarP(&planTasksFile, "tasks", "t", "", "YAML or JSON file listing the task units")
	planCmd.Flags().IntVarP(&planParallel, "parallel", "p", 0, "Parallel limit to plan for (1-5, default from config)")
	planCmd.Flags().BoolVar(&planJSON, "json", false, "Output the plan as JSON")
	rootCmd.AddCommand(planCmd)
}

// planEntry is one task of a plan in JSON output.
type planEntry struct {
	TaskID           string `json:"task_id"`
	Description      string `json:"description"`
	Rule             string `json:"rule,omitempty"`
	WorkerType       string `json:"worker_type,omitempty"`
	Priority         int    `json:"priority,omitempty"`
	EstimatedSavings int    `json:"estimated_savings,omitempty"`
}

type planOutput struct {
	Feature               string      `json:"feature,omitempty"`
	ParallelLimit         int         `json:"parallel_limit"`
	Queue                 []planEntry `json:"queue"`
	KeepLocal             []planEntry `json:"keep_local"`
	TotalEstimatedSavings int         `json:"total_estimated_savings"`
}

func runPlan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := loadUnits(planTasksFile, args)
	if err != nil {
		return err
	}
	_, classifier, _, err := loadRules(cfg)
	if err != nil {
		return err
	}

	limit := cfg.Delegation.ParallelLimit
	if planParallel != 0 {
		limit = planParallel
	}
	session, err := delegation.Build(src.Units, classifier, limit, cfg.Delegation.MaxPerSession)
	if err != nil && !errors.Is(err, errors.ErrNoDelegatable) {
		return err
	}

	if planJSON {
		return writePlanJSON(cmd.OutOrStdout(), src.Feature, session)
	}
	newPrinter(cmd.OutOrStdout()).plan(*session)
	return nil
}

func writePlanJSON(w io.Writer, feature string, session *delegation.Session) error {
	out := planOutput{
		Feature:       feature,
		ParallelLimit: session.ParallelLimit,
		Queue:         make([]planEntry, 0, len(session.Queue)),
		KeepLocal:     make([]planEntry, 0, len(session.KeepLocal)),
	}
	for i := range session.Queue {
		t := &session.Queue[i]
		out.Queue = append(out.Queue, planEntry{
			TaskID:           t.ID(),
			Description:      t.Unit.Description,
			Rule:             t.RuleName(),
			WorkerType:       t.WorkerType(),
			Priority:         t.Rule.Priority,
			EstimatedSavings: t.EstimatedSavings,
		})
		out.TotalEstimatedSavings += t.EstimatedSavings
	}
	for i := range session.KeepLocal {
		t := &session.KeepLocal[i]
		out.KeepLocal = append(out.KeepLocal, planEntry{TaskID: t.ID(), Description: t.Unit.Description})
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode plan: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
