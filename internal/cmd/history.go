package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/history"
)

var historyCmd = &cobra.Command{
	Use:     "history",
	Aliases: []string{"stats"},
	Short:   "Show delegation metrics across recorded sessions",
	Long: `Display lifetime delegation metrics from the history database:
sessions run, delegates by outcome, success rate and estimated tokens
saved, overall and per worker type.`,
	RunE: runHistory,
}

var (
	historySessions int
	historyPrune    time.Duration
	historyJSON     bool
)

func init() {
	historyCmd.Flags().IntVarP(&historySessions, "sessions", "n", 0, "Also list the n most recent sessions")
	historyCmd.Flags().DurationVar(&historyPrune, "prune", 0, "Delete sessions that started longer ago than this (e.g. 720h)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "Output as JSON")
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if !cfg.History.Enabled {
		return fmt.Errorf("history is disabled (history.enabled = false)")
	}
	store, err := history.Open(cfg.History.ResolvePath(), nil)
	if err != nil {
		return fmt.Errorf("failed to open history: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx := cmd.Context()
	p := newPrinter(cmd.OutOrStdout())

	if historyPrune > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-historyPrune))
		if err != nil {
			return err
		}
		if !historyJSON {
			p.printf("Pruned %d sessions older than %s\n\n", n, historyPrune)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		return err
	}
	var recent []history.SessionRecord
	if historySessions > 0 {
		if recent, err = store.Sessions(ctx, historySessions); err != nil {
			return err
		}
	}

	if historyJSON {
		data, err := json.MarshalIndent(struct {
			history.Stats
			SuccessRate float64                 `json:"success_rate"`
			Recent      []history.SessionRecord `json:"recent,omitempty"`
		}{stats, stats.SuccessRate(), recent}, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}

	p.history(stats)
	if historySessions > 0 {
		p.println()
		p.sessions(recent)
	}
	return nil
}
