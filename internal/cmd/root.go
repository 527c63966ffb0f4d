package cmd

import (
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/handoff/internal/cmd/config"
	appconfig "github.com/Iron-Ham/handoff/internal/config"
	"github.com/Iron-Ham/handoff/internal/errors"
)

var rootCmd = &cobra.Command{
	Use:   "handoff",
	Short: "Delegate well-scoped coding tasks to parallel sub-agents",
	Long: `Handoff classifies the units of a coding task against delegation rules,
hands the matching ones to a bounded pool of sub-agent workers and merges
their summaries into a single synthesis. Units that match no rule are kept
for the main agent to do itself.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Process exit codes returned by ExitCode.
const (
	exitOK      = 0
	exitFailure = 1
	// exitRefused means the request was rejected before any work ran: a
	// control call in the wrong state, a value out of range, a session that
	// is already active or delegation turned off.
	exitRefused = 2
)

// Execute runs the root command and reports a failure on stderr.
func Execute() error {
	err := rootCmd.Execute()
	if err != nil && errors.GetSeverity(err) > errors.SeverityInfo {
		reportError(rootCmd.ErrOrStderr(), err)
	}
	return err
}

// ExitCode maps an error returned by Execute to a process exit status.
// Informational errors such as an empty delegation plan exit cleanly.
func ExitCode(err error) int {
	switch {
	case err == nil, errors.GetSeverity(err) <= errors.SeverityInfo:
		return exitOK
	case errors.IsControlError(err),
		errors.Is(err, errors.ErrSessionActive),
		errors.Is(err, errors.ErrDelegationDisabled):
		return exitRefused
	}
	return exitFailure
}

// reportError prints err in the color of its severity. Errors whose text is
// not meant for users get a pointer to the debug log.
func reportError(w io.Writer, err error) {
	p := newPrinter(w)
	style := errorTextStyle
	if errors.GetSeverity(err) == errors.SeverityWarning {
		style = warningTextStyle
	}
	p.println(p.render(style, "Error: "+errors.Describe(err)))
	if !errors.IsUserFacing(err) {
		p.println(p.render(mutedStyle, "See handoff logs for details (requires logging.enabled)."))
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/handoff/config.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	config.Register(rootCmd)
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	appconfig.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(appconfig.ConfigDir())
		viper.AddConfigPath("$HOME/.config/handoff")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("HANDOFF")
	// Replace dots with underscores for nested keys in env vars
	// e.g., HANDOFF_DELEGATION_PARALLEL_LIMIT for delegation.parallel_limit
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}
