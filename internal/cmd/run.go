package cmd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/control"
	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/event"
)

var runCmd = &cobra.Command{
	Use:     "run [task description...]",
	Aliases: []string{"start"},
	Short:   "Delegate a task list and print the synthesis",
	Long: `Classify the task units, delegate the matching ones to parallel workers
and print the merged synthesis once every delegate has finished.

Tasks come from a YAML or JSON file (--tasks) or from the arguments, one
description per argument. Units that match no enabled rule are listed as
"do locally" in the synthesis.

With --interactive, session controls are read from stdin while delegates
run: status, pause, resume, skip <id>, retry <id>, parallel <n>, abort and
wait (integrate now). Type help for the full list. Ctrl-C aborts the
session; finished delegates keep their results.`,
	Example: `  handoff run --tasks feature.yaml
  handoff run "explore the auth module" "write unit tests for the parser"
  handoff run --tasks feature.yaml --dry-run --parallel 2`,
	RunE: runRun,
}

var (
	runTasksFile   string
	runDryRun      bool
	runParallel    int
	runInteractive bool
	runJSON        bool
	runQuiet       bool
	runWorkDir     string
	runContext     string
	runFiles       []string
)

func init() {
	runCmd.Flags().StringVarP(&runTasksFile, "tasks", "t", "", "YAML or JSON file listing the task units")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Answer delegates in-process instead of running the worker command")
	runCmd.Flags().IntVarP(&runParallel, "parallel", "p", 0, "Parallel limit for this session (1-5, default from config)")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "Read session controls from stdin while delegates run")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Print the synthesis in the configured output format instead of text")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "Do not print progress while delegates run")
	runCmd.Flags().StringVar(&runWorkDir, "workdir", "", "Directory workers run in and the session lock lives in (default: current directory)")
	runCmd.Flags().StringVar(&runContext, "context", "", "Extra context rendered into every delegate prompt")
	runCmd.Flags().StringSliceVar(&runFiles, "files", nil, "Relevant files listed in every delegate prompt")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	src, err := loadUnits(runTasksFile, args)
	if err != nil {
		return err
	}
	workDir, err := resolveWorkDir(runWorkDir)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, appOptions{
		DryRun:   runDryRun,
		Parallel: runParallel,
		WorkDir:  workDir,
		Prompt: delegation.PromptOptions{
			Feature:       src.Feature,
			Context:       runContext,
			RelevantFiles: runFiles,
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	out := newPrinter(cmd.OutOrStdout())
	if !runQuiet {
		progress := newPrinter(cmd.ErrOrStderr())
		a.bus.SubscribeAll(progress.progressHandler())
	}

	sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plan, err := a.coord.Evaluate(src.Units)
	if errors.Is(err, errors.ErrNoDelegatable) {
		a.logger.Info("nothing to delegate", "units", len(src.Units))
		syn, _ := a.coord.Synthesis()
		return emitSynthesis(cmd.OutOrStdout(), out, syn, cfg.Output.Format)
	}
	if err != nil {
		return err
	}
	if !runJSON && out.styled {
		out.plan(plan)
		out.println()
	}

	// Delegates get their own context: a signal aborts the session through
	// the coordinator so that finished results are still integrated.
	if err := a.coord.Start(context.Background()); err != nil {
		return err
	}
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-sigCtx.Done():
			if err := a.coord.Abort(); err != nil {
				a.logger.Debug("abort on signal ignored", "error", err.Error())
			}
		case <-finished:
		}
	}()

	var syn delegation.Synthesis
	var awaitErr error
	if runInteractive {
		syn, awaitErr = interactiveLoop(sigCtx, a, src, cmd.InOrStdin(), out)
	} else {
		syn, awaitErr = a.coord.AwaitCompletion(context.Background())
	}
	a.writeMetrics()

	if syn.SessionID == "" {
		return awaitErr
	}
	if err := emitSynthesis(cmd.OutOrStdout(), out, syn, cfg.Output.Format); err != nil {
		return err
	}
	if awaitErr != nil {
		return fmt.Errorf("session finished but was not fully persisted: %w", awaitErr)
	}
	return nil
}

// interactiveLoop feeds stdin lines to a dispatcher until the session
// integrates, the input ends or the user quits the prompt. Leaving the
// prompt early waits for the session to drain.
func interactiveLoop(ctx context.Context, a *app, src delegation.TaskSource, in io.Reader, out *printer) (delegation.Synthesis, error) {
	d, err := control.New(control.Deps{
		Coordinator: a.coord,
		Registry:    a.registry,
		Classifier:  a.classifier,
		Units:       src.Units,
		RulesFile:   a.rulesPath,
		History:     historyReader(a),
		Logger:      a.logger,
	})
	if err != nil {
		return delegation.Synthesis{}, err
	}

	done := make(chan struct{})
	defer close(done)
	lines := readLines(in, done)

	out.println(out.render(mutedStyle, "Session controls enabled. Type help for commands."))
	for {
		select {
		case <-ctx.Done():
			return a.coord.AwaitCompletion(context.Background())
		case line, ok := <-lines:
			if !ok {
				return a.coord.AwaitCompletion(context.Background())
			}
			res, err := d.Exec(ctx, line)
			if res.Synthesis != nil {
				return *res.Synthesis, err
			}
			if err != nil {
				out.println(out.render(errorTextStyle, "error: "+err.Error()))
				continue
			}
			if res.Quit {
				return a.coord.AwaitCompletion(context.Background())
			}
			out.result(res)
		}
	}
}

// readLines delivers the lines of in until the input ends or done is closed.
// The channel is closed when the reader stops.
func readLines(in io.Reader, done <-chan struct{}) <-chan string {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-done:
				return
			}
		}
	}()
	return lines
}

// emitSynthesis prints syn as styled text on a terminal, or encoded in
// format when --json is set or stdout is not a terminal.
func emitSynthesis(w io.Writer, p *printer, syn delegation.Synthesis, format string) error {
	if runJSON || !p.styled {
		data, err := syn.Encode(format)
		if err != nil {
			return err
		}
		_, err = w.Write(append(data, '\n'))
		return err
	}
	p.synthesis(syn)
	return nil
}

// historyReader returns the app's store, or nil when history is disabled.
func historyReader(a *app) control.HistoryReader {
	if a.store == nil {
		return nil
	}
	return a.store
}

func resolveWorkDir(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get current directory: %w", err)
		}
		return cwd, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(abs); err != nil || !info.IsDir() {
		return "", fmt.Errorf("workdir %s is not a directory", dir)
	}
	return abs, nil
}

// progressHandler prints one line per delegate lifecycle event.
func (p *printer) progressHandler() event.Handler {
	start := time.Now()
	return func(e event.Event) {
		elapsed := time.Since(start).Round(time.Second)
		switch ev := e.(type) {
		case event.TaskAdmittedEvent:
			attempt := ""
			if ev.Attempt > 1 {
				attempt = fmt.Sprintf(" (attempt %d)", ev.Attempt)
			}
			p.printf("%s %s started %s%s\n", p.render(mutedStyle, fmt.Sprintf("[%6s]", elapsed)), ev.TaskID, ev.WorkerType, attempt)
		case event.TaskFinishedEvent:
			line := fmt.Sprintf("%s %s %s in %s", p.render(mutedStyle, fmt.Sprintf("[%6s]", elapsed)),
				ev.TaskID, p.state(delegation.TaskState(ev.Status)), ev.Duration.Round(time.Millisecond))
			if ev.Reason != "" {
				line += ": " + ev.Reason
			}
			p.println(line)
		case event.TaskSkippedEvent:
			p.printf("%s %s skipped\n", p.render(mutedStyle, fmt.Sprintf("[%6s]", elapsed)), ev.TaskID)
		case event.RulesReloadedEvent:
			if ev.Err != nil {
				p.printf("rules reload rejected: %v\n", ev.Err)
			}
		}
	}
}
