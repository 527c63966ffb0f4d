package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/Iron-Ham/handoff/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the debug log",
	Long: `View and filter handoff's debug log (enable it with logging.enabled).

Examples:
  # Show the last 50 entries
  handoff logs

  # Show every entry of one session
  handoff logs -s 3f2a -n 0

  # Follow the log while a session runs
  handoff logs -f

  # Only warnings and errors from the last hour
  handoff logs --level warn --since 1h

  # Search messages and fields
  handoff logs --grep "timeout|failed"`,
	RunE: runLogs,
}

var (
	logsSessionID string
	logsTaskID    string
	logsTail      int
	logsFollow    bool
	logsLevel     string
	logsSince     time.Duration
	logsGrep      string
)

func init() {
	logsCmd.Flags().StringVarP(&logsSessionID, "session", "s", "", "Only entries of sessions whose ID starts with this prefix")
	logsCmd.Flags().StringVar(&logsTaskID, "task", "", "Only entries of this task")
	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().DurationVar(&logsSince, "since", 0, "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	rootCmd.AddCommand(logsCmd)
}

// logEntry is one parsed JSON log line.
type logEntry struct {
	Time      time.Time      `json:"time"`
	Level     string         `json:"level"`
	Msg       string         `json:"msg"`
	SessionID string         `json:"session_id,omitempty"`
	TaskID    string         `json:"task_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Extra     map[string]any `json:"-"`
}

// UnmarshalJSON keeps fields other than the known ones in Extra.
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, known := range []string{"time", "level", "msg", "session_id", "task_id", "component"} {
		delete(all, known)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects entries for display.
type logFilter struct {
	minLevel int
	since    time.Time
	session  string
	task     string
	grep     *regexp.Regexp
}

// levelPriority orders log levels for filtering; unknown levels are -1.
func levelPriority(level string) int {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return 0
	case logging.LevelInfo:
		return 1
	case logging.LevelWarn:
		return 2
	case logging.LevelError:
		return 3
	default:
		return -1
	}
}

func (f *logFilter) match(e *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(e.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && e.Time.Before(f.since) {
		return false
	}
	if f.session != "" && !strings.HasPrefix(e.SessionID, f.session) {
		return false
	}
	if f.task != "" && e.TaskID != f.task {
		return false
	}
	if f.grep != nil {
		text := e.Msg
		for _, v := range e.Extra {
			text += " " + fmt.Sprint(v)
		}
		if !f.grep.MatchString(text) {
			return false
		}
	}
	return true
}

var levelStyles = map[string]lipgloss.Style{
	logging.LevelDebug: mutedStyle,
	logging.LevelInfo:  lipgloss.NewStyle().Foreground(pausedColor),
	logging.LevelWarn:  warningTextStyle,
	logging.LevelError: errorTextStyle,
}

var fieldStyle = lipgloss.NewStyle().Foreground(primaryColor)

// formatLogEntry renders an entry on one line with extra fields sorted by key.
func (p *printer) formatLogEntry(e *logEntry) string {
	var sb strings.Builder
	level := strings.ToUpper(e.Level)

	sb.WriteString(p.render(mutedStyle, "["+e.Time.Local().Format("15:04:05.000")+"]"))
	sb.WriteString(" ")
	sb.WriteString(p.render(levelStyles[level], "["+level+"]"))
	sb.WriteString(" ")
	sb.WriteString(e.Msg)

	field := func(k string, v any) {
		sb.WriteString(" ")
		sb.WriteString(p.render(fieldStyle, k+"="))
		sb.WriteString(fmt.Sprint(v))
	}
	if e.Component != "" {
		field("component", e.Component)
	}
	if e.TaskID != "" {
		field("task_id", e.TaskID)
	}
	keys := make([]string, 0, len(e.Extra))
	for k := range e.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field(k, e.Extra[k])
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	p := newPrinter(cmd.OutOrStdout())

	logPath := filepath.Join(cfg.Logging.ResolveDir(), logging.LogFileName)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		p.println("No debug log found at " + logPath)
		if !cfg.Logging.Enabled {
			p.println("Enable it with: handoff config set logging.enabled true")
		}
		return nil
	}

	filter := &logFilter{minLevel: -1, session: logsSessionID, task: logsTaskID}
	if logsLevel != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince > 0 {
		filter.since = time.Now().Add(-logsSince)
	}
	if logsGrep != "" {
		if filter.grep, err = regexp.Compile(logsGrep); err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
	}

	if logsFollow {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()
		return p.followLogs(ctx, logPath, filter)
	}
	return p.displayLogs(logPath, logsTail, filter)
}

// displayLogs prints the last tail matching entries of the log file.
func (p *printer) displayLogs(logPath string, tail int, filter *logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line, ok := p.logLine(scanner.Text(), filter); ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	for _, line := range lines {
		p.println(line)
	}
	if len(lines) == 0 {
		p.println("No matching log entries found.")
	}
	return nil
}

// followLogs prints entries appended to the log file until ctx is done.
func (p *printer) followLogs(ctx context.Context, logPath string, filter *logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer func() { _ = file.Close() }()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	p.printf("Following %s... (Ctrl+C to stop)\n\n", logPath)

	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	reader := bufio.NewReader(file)
	var partial string
	for {
		chunk, err := reader.ReadString('\n')
		partial += chunk
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}
		if line, ok := p.logLine(partial, filter); ok {
			p.println(line)
		}
		partial = ""
	}
}

// logLine formats a raw line, reporting false when it is blank or filtered
// out. Lines that are not JSON are shown as they are.
func (p *printer) logLine(raw string, filter *logFilter) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return raw, true
	}
	if !filter.match(&entry) {
		return "", false
	}
	return p.formatLogEntry(&entry), true
}
