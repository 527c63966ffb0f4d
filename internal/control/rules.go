package control

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Iron-Ham/handoff/internal/rules"
)

// cmdRule handles "rule <subcommand> [args...]".
// Subcommands:
//   - list                                         - show every rule in registration order
//   - add <name> <worker-type> <priority> <pattern>... - register a new rule
//   - remove <name>                                - delete a rule
//   - enable <name> / disable <name>               - toggle a rule without removing it
//   - defaults                                     - replace the rule set with the defaults
func (d *Dispatcher) cmdRule(_ context.Context, args []string) (Result, error) {
	if len(args) == 0 {
		return d.ruleList()
	}

	sub := strings.ToLower(args[0])
	rest := args[1:]
	switch sub {
	case "list", "ls":
		return d.ruleList()
	case "add":
		return d.ruleAdd(rest)
	case "remove", "rm":
		return d.ruleToggle("remove", rest, d.deps.Registry.Remove)
	case "enable":
		return d.ruleToggle("enable", rest, d.deps.Registry.Enable)
	case "disable":
		return d.ruleToggle("disable", rest, d.deps.Registry.Disable)
	case "defaults":
		if err := d.deps.Registry.Replace(rules.DefaultRules()); err != nil {
			return Result{}, err
		}
		if err := d.persistRules(); err != nil {
			return Result{}, err
		}
		return Result{Message: fmt.Sprintf("Restored %d default rules", d.deps.Registry.Len())}, nil
	default:
		return Result{}, usage("rule list|add|remove|enable|disable|defaults")
	}
}

func (d *Dispatcher) ruleList() (Result, error) {
	list := d.deps.Registry.List()
	return Result{Rules: list}, nil
}

func (d *Dispatcher) ruleAdd(args []string) (Result, error) {
	if len(args) < 4 {
		return Result{}, usage("rule add <name> <worker-type> <priority> <pattern>...")
	}
	priority, err := strconv.Atoi(args[2])
	if err != nil {
		return Result{}, usage("rule add: priority must be an integer")
	}
	rule := rules.Rule{
		Name:       args[0],
		WorkerType: args[1],
		Priority:   priority,
		Patterns:   args[3:],
		Enabled:    true,
	}
	if err := d.deps.Registry.Add(rule); err != nil {
		return Result{}, err
	}
	if err := d.persistRules(); err != nil {
		return Result{}, err
	}
	return Result{Message: fmt.Sprintf("Added rule %s (%s, priority %d)", rule.Name, rule.WorkerType, rule.Priority)}, nil
}

func (d *Dispatcher) ruleToggle(op string, args []string, fn func(string) error) (Result, error) {
	if len(args) != 1 {
		return Result{}, usage("rule " + op + " <name>")
	}
	if err := fn(args[0]); err != nil {
		return Result{}, err
	}
	if err := d.persistRules(); err != nil {
		return Result{}, err
	}
	return Result{Message: fmt.Sprintf("Rule %s %sd", args[0], op)}, nil
}

// persistRules writes the registry back to the rules file, when there is one.
func (d *Dispatcher) persistRules() error {
	if d.deps.RulesFile == "" {
		return nil
	}
	if err := rules.SaveRegistry(d.deps.RulesFile, d.deps.Registry); err != nil {
		return fmt.Errorf("rule change applied but not saved: %w", err)
	}
	d.logger.Info("rules saved", "path", d.deps.RulesFile, "count", d.deps.Registry.Len())
	return nil
}
