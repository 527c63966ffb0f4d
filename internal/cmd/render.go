package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/Iron-Ham/handoff/internal/control"
	"github.com/Iron-Ham/handoff/internal/coordinator"
	"github.com/Iron-Ham/handoff/internal/delegation"
	"github.com/Iron-Ham/handoff/internal/history"
	"github.com/Iron-Ham/handoff/internal/rules"
	"github.com/Iron-Ham/handoff/internal/util"
)

var (
	primaryColor = lipgloss.Color("#A78BFA") // Purple
	successColor = lipgloss.Color("#10B981") // Green
	warningColor = lipgloss.Color("#F59E0B") // Amber
	errorColor   = lipgloss.Color("#F87171") // Red
	mutedColor   = lipgloss.Color("#9CA3AF") // Gray
	pausedColor  = lipgloss.Color("#60A5FA") // Blue

	titleStyle       = lipgloss.NewStyle().Bold(true).Foreground(primaryColor)
	mutedStyle       = lipgloss.NewStyle().Foreground(mutedColor)
	labelStyle       = lipgloss.NewStyle().Bold(true)
	errorTextStyle   = lipgloss.NewStyle().Foreground(errorColor)
	warningTextStyle = lipgloss.NewStyle().Foreground(warningColor)
)

// stateColors maps task states to their badge color.
var stateColors = map[delegation.TaskState]lipgloss.Color{
	delegation.TaskQueued:    mutedColor,
	delegation.TaskRunning:   successColor,
	delegation.TaskPaused:    pausedColor,
	delegation.TaskDone:      primaryColor,
	delegation.TaskFailed:    errorColor,
	delegation.TaskSkipped:   warningColor,
	delegation.TaskAborted:   errorColor,
	delegation.TaskKeepLocal: mutedColor,
}

// maxDescriptionWidth bounds task descriptions in tables.
const maxDescriptionWidth = 60

// printer writes human output, styled only when w is a terminal.
type printer struct {
	w      io.Writer
	styled bool
}

func newPrinter(w io.Writer) *printer {
	styled := false
	if f, ok := w.(*os.File); ok {
		styled = term.IsTerminal(int(f.Fd()))
	}
	return &printer{w: w, styled: styled}
}

func (p *printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

func (p *printer) println(a ...any) {
	_, _ = fmt.Fprintln(p.w, a...)
}

func (p *printer) printf(format string, a ...any) {
	_, _ = fmt.Fprintf(p.w, format, a...)
}

func (p *printer) title(s string) {
	p.println(p.render(titleStyle, s))
	p.println(p.render(mutedStyle, strings.Repeat("─", 50)))
}

func (p *printer) field(label string, value any) {
	p.printf("%s %v\n", p.render(labelStyle, label+":"), value)
}

func (p *printer) state(s delegation.TaskState) string {
	text := fmt.Sprintf("%-10s", s)
	color, ok := stateColors[s]
	if !ok {
		return text
	}
	return p.render(lipgloss.NewStyle().Foreground(color), text)
}

func (p *printer) description(s string) string {
	return util.TruncateANSI(util.FirstLine(s), maxDescriptionWidth)
}

// plan prints a planned session: the dispatch queue in admission order,
// then the units kept local.
func (p *printer) plan(session delegation.Session) {
	p.title("DELEGATION PLAN")
	if session.ID != "" {
		p.field("Session", session.ID)
	}
	p.field("Parallel limit", session.ParallelLimit)
	p.println()

	total := 0
	p.println(p.render(labelStyle, fmt.Sprintf("Delegated (%d)", len(session.Queue))))
	for i := range session.Queue {
		t := &session.Queue[i]
		total += t.EstimatedSavings
		p.printf("  %2d. %-10s %-14s %-9s ~%6d  %s\n",
			t.QueuePos+1, t.ID(), t.RuleName(), t.WorkerType(), t.EstimatedSavings, p.description(t.Unit.Description))
	}
	p.println()
	p.println(p.render(labelStyle, fmt.Sprintf("Keep local (%d)", len(session.KeepLocal))))
	for i := range session.KeepLocal {
		t := &session.KeepLocal[i]
		p.printf("      %-10s %s\n", t.ID(), p.description(t.Unit.Description))
	}
	p.println()
	p.field("Estimated savings", fmt.Sprintf("~%d tokens", total))
}

// status prints a coordinator snapshot.
func (p *printer) status(st coordinator.Status) {
	p.title("SESSION STATUS")
	if st.SessionID == "" {
		p.field("State", st.State)
		return
	}
	state := string(st.State)
	if st.Paused {
		state += " (paused)"
	}
	p.field("Session", st.SessionID)
	p.field("State", state)
	p.field("Parallel limit", st.ParallelLimit)
	if !st.StartedAt.IsZero() {
		p.field("Running for", time.Since(st.StartedAt).Round(time.Second))
	}
	p.field("Tasks", fmt.Sprintf("%d queued, %d running, %d done, %d failed, %d skipped, %d aborted",
		st.Stats.Queued, st.Stats.Running+st.Stats.Paused, st.Stats.Done, st.Stats.Failed, st.Stats.Skipped, st.Stats.Aborted))
	p.println()

	for i := range st.Queue {
		t := &st.Queue[i]
		line := fmt.Sprintf("  %s %-10s %-9s %s", p.state(t.State), t.ID(), t.WorkerType(), p.description(t.Unit.Description))
		if t.Attempts > 1 {
			line += p.render(mutedStyle, fmt.Sprintf(" (attempt %d)", t.Attempts))
		}
		p.println(line)
		if t.FailureReason != "" {
			p.println("             " + p.render(errorTextStyle, t.FailureReason))
		}
	}
	for i := range st.KeepLocal {
		t := &st.KeepLocal[i]
		p.printf("  %s %-10s %-9s %s\n", p.state(t.State), t.ID(), "-", p.description(t.Unit.Description))
	}
}

// synthesis prints the merged results of a finished session.
func (p *printer) synthesis(syn delegation.Synthesis) {
	title := "SYNTHESIS"
	if syn.Aborted {
		title += " (aborted)"
	}
	p.title(title)
	p.field("Session", syn.SessionID)
	p.field("Delegated", fmt.Sprintf("%d done, %d failed, %d skipped, %d aborted",
		syn.CompletedCount, syn.FailedCount, syn.SkippedCount, syn.AbortedCount))
	p.field("Kept local", syn.KeepLocalCount)
	p.field("Estimated savings", fmt.Sprintf("~%d tokens", syn.TotalEstimatedSavings))
	if !syn.StartedAt.IsZero() && !syn.CompletedAt.IsZero() {
		p.field("Duration", syn.CompletedAt.Sub(syn.StartedAt).Round(time.Millisecond))
	}

	for _, s := range syn.Summaries {
		p.println()
		p.printf("%s %s %s\n", p.state(s.State), p.render(labelStyle, s.TaskID), p.render(mutedStyle, "["+s.WorkerType+"]"))
		p.println("  " + p.description(s.Description))
		switch {
		case s.Summary != "":
			for _, line := range strings.Split(s.Summary, "\n") {
				p.println("  │ " + line)
			}
		case s.FailureReason != "":
			p.println("  " + p.render(errorTextStyle, s.FailureReason))
		}
	}

	if len(syn.KeepLocal) > 0 {
		p.println()
		p.println(p.render(labelStyle, "Do locally:"))
		for _, t := range syn.KeepLocal {
			p.printf("  - %s: %s\n", t.TaskID, p.description(t.Description))
		}
	}
}

// rules prints the rule set in registration order.
func (p *printer) rules(list []rules.Rule) {
	p.title("DELEGATION RULES")
	if len(list) == 0 {
		p.println(p.render(mutedStyle, "No rules configured"))
		return
	}
	for _, r := range list {
		status := p.render(lipgloss.NewStyle().Foreground(successColor), "enabled ")
		if !r.Enabled {
			status = p.render(mutedStyle, "disabled")
		}
		p.printf("%s %-16s %-9s priority %-3d ~%d tokens\n",
			status, r.Name, r.WorkerType, r.Priority, rules.EstimateSavings(r.WorkerType))
		p.println("           " + p.render(mutedStyle, strings.Join(r.Patterns, ", ")))
	}
}

// history prints aggregate metrics of recorded sessions.
func (p *printer) history(stats history.Stats) {
	p.title("DELEGATION HISTORY")
	p.field("Sessions", stats.Sessions)
	p.field("Delegations", stats.Delegations)
	p.field("Outcomes", fmt.Sprintf("%d done, %d failed, %d skipped, %d aborted",
		stats.Completed, stats.Failed, stats.Skipped, stats.Aborted))
	p.field("Success rate", fmt.Sprintf("%.1f%%", stats.SuccessRate()*100))
	p.field("Tokens saved", fmt.Sprintf("~%d", stats.TokensSaved))
	if len(stats.ByWorker) == 0 {
		return
	}
	p.println()
	p.println(p.render(labelStyle, "By worker type"))
	for _, w := range stats.ByWorker {
		p.printf("  %-9s %4d delegated  %4d done  ~%d tokens\n", w.WorkerType, w.Delegations, w.Completed, w.TokensSaved)
	}
}

// sessions prints recent session records, newest first.
func (p *printer) sessions(records []history.SessionRecord) {
	p.title("RECENT SESSIONS")
	if len(records) == 0 {
		p.println(p.render(mutedStyle, "No sessions recorded"))
		return
	}
	for _, r := range records {
		status := "done"
		if r.Aborted {
			status = "aborted"
		}
		p.printf("%s  %s  %-7s %2d done %2d failed  ~%d tokens\n",
			r.StartedAt.Local().Format("2006-01-02 15:04"), r.ID, status, r.CompletedCount, r.FailedCount, r.TokensSaved)
	}
}

// result prints the outcome of one interactive command.
func (p *printer) result(res control.Result) {
	switch {
	case res.Help != "":
		p.println(res.Help)
	case res.Plan != nil:
		p.plan(*res.Plan)
	case res.Status != nil:
		p.status(*res.Status)
	case res.Rules != nil:
		p.rules(res.Rules)
	case res.History != nil:
		p.history(*res.History)
	case res.Sessions != nil:
		p.sessions(res.Sessions)
	case res.Message != "":
		p.println(res.Message)
	}
}
