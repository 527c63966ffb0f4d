package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/config"
	"github.com/Iron-Ham/handoff/internal/rules"
)

var ruleCmd = &cobra.Command{
	Use:     "rule",
	Aliases: []string{"rules"},
	Short:   "Manage delegation rules",
	Long: `Delegation rules decide which task units are handed to a worker and what
kind of worker handles them. Rules live in the rules file (default:
~/.config/handoff/rules.yaml); without one the built-in defaults apply.

Patterns are case-insensitive regular expressions, or shell globs when
prefixed with "glob:".`,
}

var ruleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List rules in registration order",
	RunE:  runRuleList,
}

var ruleAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add a delegation rule",
	Example: `  handoff rule add migration -p "migrate.*" -p "upgrade.*" -w explore --priority 7
  handoff rule add api-tests -p "api.*test" -w test -c "Mock HTTP calls"`,
	Args: cobra.ExactArgs(1),
	RunE: runRuleAdd,
}

var ruleRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a delegation rule",
	Args:    cobra.ExactArgs(1),
	RunE:    runRuleToggle(func(reg *rules.Registry, name string) error { return reg.Remove(name) }, "Removed"),
}

var ruleEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Enable a delegation rule",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuleToggle(func(reg *rules.Registry, name string) error { return reg.Enable(name) }, "Enabled"),
}

var ruleDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Disable a delegation rule without removing it",
	Args:  cobra.ExactArgs(1),
	RunE:  runRuleToggle(func(reg *rules.Registry, name string) error { return reg.Disable(name) }, "Disabled"),
}

var ruleDefaultsCmd = &cobra.Command{
	Use:   "defaults",
	Short: "Replace the rules file with the built-in rules",
	RunE:  runRuleDefaults,
}

var (
	ruleListJSON    bool
	ruleAddPatterns []string
	ruleAddWorker   string
	ruleAddPriority int
	ruleAddCons     []string
	ruleAddDisabled bool
)

func init() {
	ruleListCmd.Flags().BoolVar(&ruleListJSON, "json", false, "Output rules as JSON")

	ruleAddCmd.Flags().StringArrayVarP(&ruleAddPatterns, "pattern", "p", nil, "Pattern to match task descriptions (repeatable)")
	ruleAddCmd.Flags().StringVarP(&ruleAddWorker, "worker", "w", rules.WorkerGeneral,
		"Worker type: "+strings.Join([]string{rules.WorkerExplore, rules.WorkerTest, rules.WorkerDocument, rules.WorkerReview, rules.WorkerGeneral}, ", "))
	ruleAddCmd.Flags().IntVar(&ruleAddPriority, "priority", 5, "Priority; higher rules win and are dispatched first")
	ruleAddCmd.Flags().StringArrayVarP(&ruleAddCons, "constraint", "c", nil, "Constraint added to the delegate prompt (repeatable)")
	ruleAddCmd.Flags().BoolVar(&ruleAddDisabled, "disabled", false, "Add the rule disabled")
	_ = ruleAddCmd.MarkFlagRequired("pattern")

	ruleCmd.AddCommand(ruleListCmd)
	ruleCmd.AddCommand(ruleAddCmd)
	ruleCmd.AddCommand(ruleRemoveCmd)
	ruleCmd.AddCommand(ruleEnableCmd)
	ruleCmd.AddCommand(ruleDisableCmd)
	ruleCmd.AddCommand(ruleDefaultsCmd)
	rootCmd.AddCommand(ruleCmd)
}

// openRules loads the configured registry and its file path.
func openRules() (*rules.Registry, string, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, "", fmt.Errorf("invalid configuration: %w", err)
	}
	path := cfg.Delegation.ResolveRulesFile()
	reg, err := rules.LoadRegistry(path)
	if err != nil {
		return nil, "", fmt.Errorf("failed to load rules: %w", err)
	}
	return reg, path, nil
}

func runRuleList(cmd *cobra.Command, args []string) error {
	reg, _, err := openRules()
	if err != nil {
		return err
	}
	list := reg.List()
	if ruleListJSON {
		data, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return err
	}
	newPrinter(cmd.OutOrStdout()).rules(list)
	return nil
}

func runRuleAdd(cmd *cobra.Command, args []string) error {
	reg, path, err := openRules()
	if err != nil {
		return err
	}
	rule := rules.Rule{
		Name:        args[0],
		Patterns:    ruleAddPatterns,
		WorkerType:  ruleAddWorker,
		Priority:    ruleAddPriority,
		Enabled:     !ruleAddDisabled,
		Constraints: ruleAddCons,
	}
	if err := reg.Add(rule); err != nil {
		return err
	}
	if err := rules.SaveRegistry(path, reg); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Added rule %s (%s, priority %d)\nRules saved to %s\n", rule.Name, rule.WorkerType, rule.Priority, path)
	return nil
}

func runRuleToggle(apply func(*rules.Registry, string) error, verb string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		reg, path, err := openRules()
		if err != nil {
			return err
		}
		if err := apply(reg, args[0]); err != nil {
			return err
		}
		if err := rules.SaveRegistry(path, reg); err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s rule %s\n", verb, args[0])
		return nil
	}
}

func runRuleDefaults(cmd *cobra.Command, args []string) error {
	_, path, err := openRules()
	if err != nil {
		return err
	}
	if err := rules.SaveFile(path, rules.DefaultRules()); err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d default rules to %s\n", len(rules.DefaultRules()), path)
	return nil
}
