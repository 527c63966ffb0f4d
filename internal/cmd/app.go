package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Iron-Ham/handoff/internal/config"
	"github.com/Iron-Ham/handoff/internal/coordinator"
	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/errors"
	"github.com/Iron-Ham/handoff/internal/event"
	"github.com/Iron-Ham/handoff/internal/history"
	"github.com/Iron-Ham/handoff/internal/logging"
	"github.com/Iron-Ham/handoff/internal/rules"
	"github.com/Iron-Ham/handoff/internal/scheduler"
	"github.com/Iron-Ham/handoff/internal/worker"
)

// appOptions are the per-invocation overrides of a session command.
type appOptions struct {
	// DryRun answers every delegate in-process instead of running the worker.
	DryRun bool
	// Parallel overrides delegation.parallel_limit when non-zero.
	Parallel int
	// WorkDir is where workers run and where the session lock lives.
	WorkDir string
	// Prompt is rendered into every delegate's prompt.
	Prompt delegation.PromptOptions
}

// app holds the components shared by the session commands.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	bus        *event.Bus
	registry   *rules.Registry
	classifier *rules.Classifier
	rulesPath  string
	metrics    *scheduler.Metrics
	gatherer   prometheus.Gatherer
	store      *history.Store
	coord      *coordinator.Coordinator
	watcher    *rules.Watcher
	cancel     context.CancelFunc
}

// loadConfig reads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the logger described by cfg. Without logging enabled
// only warnings reach stderr.
func newLogger(cfg *config.Config) (*logging.Logger, error) {
	if !cfg.Logging.Enabled {
		return logging.NewWriterLogger(os.Stderr, logging.LevelWarn), nil
	}
	return logging.NewLogger(logging.Options{
		Dir:        cfg.Logging.ResolveDir(),
		Level:      cfg.Logging.Level,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}

// loadRules builds the classifier over the configured rules file.
func loadRules(cfg *config.Config) (*rules.Registry, *rules.Classifier, string, error) {
	path := cfg.Delegation.ResolveRulesFile()
	reg, err := rules.LoadRegistry(path)
	if err != nil {
		return nil, nil, "", fmt.Errorf("failed to load rules: %w", err)
	}
	classifier, err := rules.NewClassifier(reg, cfg.Delegation.ClassifierCacheSize)
	if err != nil {
		return nil, nil, "", err
	}
	return reg, classifier, path, nil
}

// newApp wires a coordinator and everything around it. The returned app
// must be closed.
func newApp(cfg *config.Config, opts appOptions) (*app, error) {
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, logger: logger, bus: event.NewBus(logger)}

	a.registry, a.classifier, a.rulesPath, err = loadRules(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}

	reg := prometheus.NewRegistry()
	a.gatherer = reg
	if a.metrics, err = scheduler.NewMetrics(reg); err != nil {
		a.Close()
		return nil, err
	}

	var recorder coordinator.Recorder
	if cfg.History.Enabled {
		a.store, err = history.Open(cfg.History.ResolvePath(), logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to open history: %w", err)
		}
		recorder = a.store
	}

	var exec scheduler.Executor
	if opts.DryRun {
		exec = worker.EchoExecutor{Delay: 50 * time.Millisecond}
	} else {
		prompt := opts.Prompt
		if prompt.SummaryMaxWords == 0 {
			prompt.SummaryMaxWords = cfg.Delegation.SummaryMaxWords
		}
		exec = worker.NewCommandExecutor(worker.CommandConfig{
			Command: cfg.Worker.Command,
			Args:    cfg.Worker.Args,
			Env:     cfg.Worker.Env,
			Dir:     opts.WorkDir,
			Prompt:  prompt,
		}, logger)
	}

	limit := cfg.Delegation.ParallelLimit
	if opts.Parallel != 0 {
		limit = opts.Parallel
	}
	a.coord, err = coordinator.New(coordinator.Config{
		Enabled:             cfg.Delegation.Enabled,
		ParallelLimit:       limit,
		TaskTimeout:         cfg.Delegation.TaskTimeout,
		AdmissionsPerSecond: cfg.Delegation.AdmissionsPerSecond,
		MaxRetries:          cfg.Delegation.MaxRetries,
		MaxPerSession:       cfg.Delegation.MaxPerSession,
		LockDir:             opts.WorkDir,
		OutputDir:           cfg.Output.Dir,
		OutputFormat:        cfg.Output.Format,
	}, coordinator.Deps{
		Classifier: a.classifier,
		Executor:   exec,
		Bus:        a.bus,
		Logger:     logger,
		Metrics:    a.metrics,
		Recorder:   recorder,
	})
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Delegation.WatchRules {
		a.startWatcher()
	}
	return a, nil
}

// startWatcher reloads the registry whenever the rules file changes. A
// missing rules directory only disables watching.
func (a *app) startWatcher() {
	if err := os.MkdirAll(filepath.Dir(a.rulesPath), 0o755); err != nil {
		a.logger.Warn("rules watcher disabled", "error", err.Error())
		return
	}
	w, err := rules.NewWatcher(a.rulesPath, a.registry, a.bus, a.logger)
	if err != nil {
		a.logger.Warn("rules watcher disabled", "error", err.Error())
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.watcher, a.cancel = w, cancel
	go w.Run(ctx)
}

// writeMetrics exports the session metrics when a textfile is configured.
func (a *app) writeMetrics() {
	path := a.cfg.Metrics.Textfile
	if path == "" {
		return
	}
	if err := scheduler.WriteTextfile(path, a.gatherer); err != nil {
		a.logger.Warn("failed to write metrics textfile", "path", path, "error", err.Error())
	}
}

// Close releases everything the app opened. It is safe on a partly built app.
func (a *app) Close() {
	if a.coord != nil {
		if err := a.coord.Close(); err != nil {
			a.logger.Warn("failed to close coordinator", "error", err.Error())
		}
	}
	if a.watcher != nil {
		a.cancel()
		_ = a.watcher.Close()
		<-a.watcher.Done()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close history", "error", err.Error())
		}
	}
	if a.bus != nil {
		a.bus.Clear()
	}
	_ = a.logger.Close()
}

// loadUnits resolves the task source from a tasks file or positional
// descriptions, in that order of preference.
func loadUnits(tasksFile string, args []string) (delegation.TaskSource, error) {
	switch {
	case tasksFile != "" && len(args) > 0:
		return delegation.TaskSource{}, errors.New("pass either --tasks or task descriptions, not both")
	case tasksFile != "":
		return delegation.LoadUnits(tasksFile)
	case len(args) > 0:
		return delegation.TaskSource{Units: delegation.UnitsFromArgs(args)}, nil
	default:
		return delegation.TaskSource{}, errors.New("no tasks given: pass --tasks <file> or one or more descriptions")
	}
}
