// Package control interprets line commands against a running delegation
// session. It backs the interactive prompt of "handoff run" and gives every
// session control a single, testable entry point.
package control

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/Iron-Ham/handoff/internal/coordinator"
	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/history"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/rules"
)

// ErrUnknownCommand is returned for a command word the dispatcher does not know.
var ErrUnknownCommand = errors.New("unknown command")

// ErrUsage is returned when a command has the wrong arguments.
var ErrUsage = errors.New("usage")

// HistoryReader is the read side of the history store.
type HistoryReader interface {
	Stats(ctx context.Context) (history.Stats, error)
	Sessions(ctx context.Context, limit int) ([]history.SessionRecord, error)
}

// Deps are the collaborators of a Dispatcher. Coordinator and Registry are
// required.
type Deps struct {
	Coordinator *coordinator.Coordinator
	Registry    *rules.Registry
	// Classifier answers "classify" without touching the session.
	Classifier delegation.Classifier
	// Units is the task source that "plan" and "run" evaluate.
	Units []delegation.TaskUnit
	// RulesFile, when set, is rewritten after every rule change.
	RulesFile string
	History   HistoryReader
	Logger    *logging.Logger
}

// Result is the outcome of one command. At most one of the data fields is set.
type Result struct {
	Message string

	Plan      *delegation.Session
	Status    *coordinator.Status
	Synthesis *delegation.Synthesis
	Rules     []rules.Rule
	Match     *rules.Match
	History   *history.Stats
	Sessions  []history.SessionRecord
	Help      string

	// Quit asks the caller to leave its prompt loop.
	Quit bool
}

type commandFunc func(ctx context.Context, args []string) (Result, error)

// Dispatcher maps command lines onto coordinator and registry operations.
type Dispatcher struct {
	deps     Deps
	logger   *logging.Logger
	commands map[string]commandFunc
}

// New creates a dispatcher with every command registered.
func New(deps Deps) (*Dispatcher, error) {
	if deps.Coordinator == nil {
		return nil, errors.New("control: coordinator is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("control: rule registry is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	d := &Dispatcher{
		deps:     deps,
		logger:   logger.WithComponent("control"),
		commands: make(map[string]commandFunc),
	}
	d.registerCommands()
	return d, nil
}

func (d *Dispatcher) registerCommands() {
	// Session lifecycle
	d.commands["plan"] = d.cmdPlan
	d.commands["start"] = d.cmdStart
	d.commands["run"] = d.cmdRun
	d.commands["status"] = d.cmdStatus
	d.commands["wait"] = d.cmdWait
	d.commands["reset"] = d.cmdReset

	// Session controls
	d.commands["pause"] = d.cmdPause
	d.commands["resume"] = d.cmdResume
	d.commands["skip"] = d.cmdSkip
	d.commands["retry"] = d.cmdRetry
	d.commands["abort"] = d.cmdAbort
	d.commands["parallel"] = d.cmdParallel

	// Rules
	d.commands["rule"] = d.cmdRule
	d.commands["rules"] = d.cmdRule
	d.commands["classify"] = d.cmdClassify

	// History
	d.commands["history"] = d.cmdHistory

	d.commands["help"] = d.cmdHelp
	d.commands["?"] = d.cmdHelp
	d.commands["quit"] = d.cmdQuit
	d.commands["q"] = d.cmdQuit
}

// Commands returns the registered command words, sorted.
func (d *Dispatcher) Commands() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Exec parses and runs one command line. An empty line is a no-op.
// Errors from the coordinator and registry are returned unchanged so that
// callers can match them with errors.Is.
func (d *Dispatcher) Exec(ctx context.Context, line string) (Result, error) {
	words, err := Split(line)
	if err != nil {
		return Result{}, err
	}
	if len(words) == 0 {
		return Result{}, nil
	}

	name := strings.ToLower(words[0])
	fn, ok := d.commands[name]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s (type help for usage)", ErrUnknownCommand, words[0])
	}

	res, err := fn(ctx, words[1:])
	if err != nil {
		d.logger.Debug("command failed", "command", name, "error", err.Error())
		return res, err
	}
	d.logger.Debug("command executed", "command", name)
	return res, nil
}

func usage(format string) error {
	return fmt.Errorf("%w: %s", ErrUsage, format)
}

func (d *Dispatcher) cmdPlan(_ context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("plan")
	}
	plan, err := d.deps.Coordinator.Evaluate(d.deps.Units)
	if plan.ID == "" {
		return Result{}, err
	}
	// ErrNoDelegatable still carries a plan with every unit kept local.
	return Result{
		Message: fmt.Sprintf("Planned session %s: %d delegated, %d kept local", plan.ID, len(plan.Queue), len(plan.KeepLocal)),
		Plan:    &plan,
	}, err
}

func (d *Dispatcher) cmdStart(ctx context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("start")
	}
	if err := d.deps.Coordinator.Start(ctx); err != nil {
		return Result{}, err
	}
	st := d.deps.Coordinator.Status()
	return Result{Message: fmt.Sprintf("Started %d delegates (limit %d)", len(st.Queue), st.ParallelLimit)}, nil
}

// cmdRun plans when no session exists yet and then starts.
func (d *Dispatcher) cmdRun(ctx context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("run")
	}
	if d.deps.Coordinator.State() == delegation.SessionIdle {
		if res, err := d.cmdPlan(ctx, nil); err != nil {
			return res, err
		}
	}
	return d.cmdStart(ctx, nil)
}

func (d *Dispatcher) cmdStatus(_ context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("status")
	}
	st := d.deps.Coordinator.Status()
	return Result{Status: &st}, nil
}

func (d *Dispatcher) cmdWait(ctx context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("wait")
	}
	syn, err := d.deps.Coordinator.AwaitCompletion(ctx)
	if err != nil && syn.SessionID == "" {
		return Result{}, err
	}
	res := Result{
		Message:   fmt.Sprintf("Session %s finished: %d done, %d failed", syn.SessionID, syn.CompletedCount, syn.FailedCount),
		Synthesis: &syn,
	}
	return res, err
}

func (d *Dispatcher) cmdReset(_ context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("reset")
	}
	if err := d.deps.Coordinator.Reset(); err != nil {
		return Result{}, err
	}
	return Result{Message: "Session cleared"}, nil
}

func (d *Dispatcher) cmdPause(_ context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("pause")
	}
	if err := d.deps.Coordinator.PauseAll(); err != nil {
		return Result{}, err
	}
	return Result{Message: "Paused: no new delegates will be admitted"}, nil
}

func (d *Dispatcher) cmdResume(_ context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("resume")
	}
	if err := d.deps.Coordinator.ResumeAll(); err != nil {
		return Result{}, err
	}
	return Result{Message: "Resumed"}, nil
}

func (d *Dispatcher) cmdSkip(_ context.Context, args []string) (Result, error) {
	if len(args) != 1 {
		return Result{}, usage("skip <task-id>")
	}
	if err := d.deps.Coordinator.Skip(args[0]); err != nil {
		return Result{}, err
	}
	return Result{Message: fmt.Sprintf("Skipped %s", args[0])}, nil
}

func (d *Dispatcher) cmdRetry(_ context.Context, args []string) (Result, error) {
	if len(args) != 1 {
		return Result{}, usage("retry <task-id>")
	}
	if err := d.deps.Coordinator.Retry(args[0]); err != nil {
		return Result{}, err
	}
	return Result{Message: fmt.Sprintf("Requeued %s", args[0])}, nil
}

func (d *Dispatcher) cmdAbort(_ context.Context, args []string) (Result, error) {
	if len(args) != 0 {
		return Result{}, usage("abort")
	}
	if err := d.deps.Coordinator.Abort(); err != nil {
		return Result{}, err
	}
	res := Result{Message: "Session aborted"}
	if syn, ok := d.deps.Coordinator.Synthesis(); ok {
		res.Synthesis = &syn
	}
	return res, nil
}

func (d *Dispatcher) cmdParallel(_ context.Context, args []string) (Result, error) {
	if len(args) != 1 {
		return Result{}, usage("parallel <n>")
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return Result{}, fmt.Errorf("%w: parallel limit %q is not a number", errors.ErrInvalidRange, args[0])
	}
	if err := d.deps.Coordinator.SetParallel(n); err != nil {
		return Result{}, err
	}
	return Result{Message: fmt.Sprintf("Parallel limit set to %d", n)}, nil
}

func (d *Dispatcher) cmdClassify(_ context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return Result{}, usage("classify <description>")
	}
	classifier := d.deps.Classifier
	if classifier == nil {
		return Result{}, errors.New("control: no classifier configured")
	}
	desc := strings.Join(args, " ")
	match, ok := classifier.Classify(desc)
	if !ok {
		return Result{Message: "No rule matches; the task stays local"}, nil
	}
	return Result{
		Message: fmt.Sprintf("%s -> %s (%s, ~%d tokens saved)", desc, match.Rule.Name, match.Rule.WorkerType, match.EstimatedSavings),
		Match:   &match,
	}, nil
}

func (d *Dispatcher) cmdHistory(ctx context.Context, args []string) (Result, error) {
	if d.deps.History == nil {
		return Result{}, errors.New("control: history is disabled")
	}
	if len(args) == 0 {
		stats, err := d.deps.History.Stats(ctx)
		if err != nil {
			return Result{}, err
		}
		return Result{History: &stats}, nil
	}
	if args[0] != "sessions" || len(args) > 2 {
		return Result{}, usage("history [sessions [n]]")
	}
	limit := 10
	if len(args) == 2 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 {
			return Result{}, usage("history sessions <n>, n >= 1")
		}
		limit = n
	}
	sessions, err := d.deps.History.Sessions(ctx, limit)
	if err != nil {
		return Result{}, err
	}
	return Result{Sessions: sessions}, nil
}

func (d *Dispatcher) cmdHelp(context.Context, []string) (Result, error) {
	return Result{Help: helpText}, nil
}

func (d *Dispatcher) cmdQuit(context.Context, []string) (Result, error) {
	return Result{Quit: true}, nil
}

const helpText = `Session:
  plan                  Classify the task source and build the queue
  start                 Start delegating the planned queue
  run                   Plan (if needed) and start
  status                Show the session and every task
  wait                  Block until the session integrates
  reset                 Clear a finished session

Controls:
  pause | resume        Stop or restart admission of new delegates
  skip <id>             Drop a queued task
  retry <id>            Requeue a failed task
  abort                 Cancel everything and integrate what finished
  parallel <n>          Set the parallel limit (1-5)

Rules:
  rule list
  rule add <name> <worker-type> <priority> <pattern>...
  rule remove|enable|disable <name>
  rule defaults         Replace all rules with the defaults
  classify <text>       Show which rule a description matches

History:
  history               Aggregate metrics of past sessions
  history sessions [n]  The n most recent sessions

  quit                  Leave the prompt`
