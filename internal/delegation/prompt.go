package delegation

import (
	"bytes"
	"text/template"

	"github.com/Iron-Ham/handoff/internal/rules"
)

// DefaultSummaryMaxWords is the summary limit requested when none is configured.
const DefaultSummaryMaxWords = 500

// PromptOptions carries the optional context rendered into a delegation prompt.
type PromptOptions struct {
	// Feature names the larger piece of work the task belongs to.
	Feature string
	// Context is free text placed under the Context heading.
	Context string
	// RelevantFiles are listed for the delegate to start from.
	RelevantFiles []string
	// SummaryMaxWords bounds the summary the delegate returns.
	SummaryMaxWords int
}

type promptData struct {
	Task        *DelegationTask
	WorkerType  string
	Opts        PromptOptions
	Constraints []string
}

var promptTemplate = template.Must(template.New("prompt").Parse(`## Delegated Task: {{.Task.Unit.Description}}
{{if .Opts.Feature}}
**Feature:** {{.Opts.Feature}}
{{- end}}
**Task ID:** {{.Task.Unit.ID}}
**Subagent Type:** {{.WorkerType}}

### Task Description
{{.Task.Unit.Description}}

### Context
{{if .Opts.Context}}{{.Opts.Context}}
{{end}}
{{- if .Opts.RelevantFiles}}
### Relevant Files
{{range .Opts.RelevantFiles}}- {{.}}
{{end}}
{{- end}}
### Constraints
{{range .Constraints}}- {{.}}
{{end}}
### Output Requirements
Provide a concise summary (under {{.Opts.SummaryMaxWords}} words) containing:

1. **What was accomplished** - Brief description of work done
2. **Files created/modified** - List with absolute paths
3. **Key decisions made** - Important choices and rationale
4. **Issues encountered** - Any problems or blockers
5. **Recommended next steps** - What should happen next

Format your response as structured YAML for easy parsing.
`))

// Constraints returns the constraints sent with task: the defaults followed
// by the matched rule's own.
func Constraints(task *DelegationTask) []string {
	out := rules.DefaultConstraints()
	if task.Rule != nil {
		out = append(out, task.Rule.Constraints...)
	}
	return out
}

// BuildPrompt renders the instructions a delegate receives for task.
func BuildPrompt(task *DelegationTask, opts PromptOptions) (string, error) {
	if opts.SummaryMaxWords <= 0 {
		opts.SummaryMaxWords = DefaultSummaryMaxWords
	}
	workerType := task.WorkerType()
	if workerType == "" {
		workerType = rules.WorkerGeneral
	}

	var buf bytes.Buffer
	err := promptTemplate.Execute(&buf, promptData{
		Task:        task,
		WorkerType:  workerType,
		Opts:        opts,
		Constraints: Constraints(task),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
