package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/history"
	"github.com/Iron-Ham/handoff/internal/sessionlock"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether a delegation session is active",
	Long: `Report the delegation session running in the work directory, if any,
and the most recently recorded session. Live controls for a running
session are available from "handoff run --interactive".`,
	RunE: runStatus,
}

var statusWorkDir string

func init() {
	statusCmd.Flags().StringVar(&statusWorkDir, "workdir", "", "Work directory of the session (default: current directory)")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	dir, err := resolveWorkDir(statusWorkDir)
	if err != nil {
		return err
	}

	p := newPrinter(cmd.OutOrStdout())
	p.title("SESSION STATUS")

	holder, active, err := sessionlock.Active(dir)
	if err != nil {
		return fmt.Errorf("failed to read session lock: %w", err)
	}
	if active {
		p.field("Active session", holder.SessionID)
		p.field("Process", fmt.Sprintf("PID %d on %s", holder.PID, holder.Hostname))
		if !holder.StartedAt.IsZero() {
			p.field("Running for", time.Since(holder.StartedAt).Round(time.Second))
		}
	} else {
		p.println("No active session in " + dir)
	}

	if !cfg.History.Enabled {
		return nil
	}
	store, err := history.Open(cfg.History.ResolvePath(), nil)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	recent, err := store.Sessions(cmd.Context(), 1)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		return nil
	}
	last := recent[0]
	p.println()
	p.field("Last session", last.ID)
	p.field("Finished", last.CompletedAt.Local().Format("2006-01-02 15:04:05"))
	p.field("Outcome", fmt.Sprintf("%d done, %d failed, %d skipped, %d aborted, ~%d tokens saved",
		last.CompletedCount, last.FailedCount, last.SkippedCount, last.AbortedCount, last.TokensSaved))
	return nil
}
