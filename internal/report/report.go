// Package report writes markdown summaries of finished pipeline runs.
package report

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/template"

	"backforge/internal/logging"
	"backforge/internal/metrics"
)

// Reporter is the report collaborator of the pipeline.
type Reporter interface {
	WriteSuccess(name string, outcome metrics.EvaluatedOutcome) (string, error)
	WriteFailure(name, reason string, logs []string) (string, error)
}

// MarkdownReporter writes summary_<name>.md and failure_<name>.md files into Dir.
type MarkdownReporter struct {
	Dir string
}

// NewMarkdownReporter creates a reporter writing into dir.
func NewMarkdownReporter(dir string) *MarkdownReporter {
	return &MarkdownReporter{Dir: dir}
}

var funcs = template.FuncMap{
	"pct": func(v float64, prec int) string {
		return fmt.Sprintf("%.*f%%", prec, v*100)
	},
	"num": func(v float64, prec int) string {
		if math.IsInf(v, 1) {
			return "inf"
		}
		return fmt.Sprintf("%.*f", prec, v)
	},
}

var summaryTemplate = template.Must(template.New("summary").Funcs(funcs).Parse(`# Result: {{.Name}}

| Metric | Value |
| ------ | ----- |
| Annual Return | {{pct .O.AnnReturn 3}} |
| Annual Vol | {{pct .O.AnnVol 3}} |
| Sharpe | {{num .O.Sharpe 3}} |
| Max Drawdown | {{pct .O.MaxDD 2}} |
| Turnover | {{num .O.Turnover 3}} |
| Trades | {{.O.Trades}} |
| Hit Rate | {{pct .O.HitRate 1}} |
| Profit Factor | {{num .O.ProfitFactor 2}} |

Period: {{.Period}} (seed {{.O.Seed}})

Diagnostics:
{{- range .Diagnostics}}
- {{.}}
{{- else}}
-
{{- end}}

Issues detected: {{.Issues}}
`))

var failureTemplate = template.Must(template.New("failure").Parse(`# Failure Report: {{.Name}}

**Reason:** {{.Reason}}

## Recent Logs
{{- range .Logs}}
- {{.}}
{{- else}}
- no logs recorded
{{- end}}
`))

// WriteSuccess renders the metric summary of outcome.
func (r *MarkdownReporter) WriteSuccess(name string, o metrics.EvaluatedOutcome) (string, error) {
	keys := make([]string, 0, len(o.Diagnostics))
	for k := range o.Diagnostics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	diag := make([]string, len(keys))
	for i, k := range keys {
		diag[i] = fmt.Sprintf("%s: %.4f", k, o.Diagnostics[k])
	}

	issues := "none"
	if len(o.Issues) > 0 {
		issues = strings.Join(o.Issues, ", ")
	}
	period := "n/a"
	if !o.PeriodStart.IsZero() {
		period = o.PeriodStart.Format("2006-01-02") + " to " + o.PeriodEnd.Format("2006-01-02")
	}

	return r.write("summary_"+name+".md", summaryTemplate, map[string]interface{}{
		"Name":        name,
		"O":           o,
		"Diagnostics": diag,
		"Issues":      issues,
		"Period":      period,
	})
}

// WriteFailure renders the failure reason and the run log.
func (r *MarkdownReporter) WriteFailure(name, reason string, logs []string) (string, error) {
	if reason == "" {
		reason = "unspecified"
	}
	return r.write("failure_"+name+".md", failureTemplate, map[string]interface{}{
		"Name":   name,
		"Reason": reason,
		"Logs":   logs,
	})
}

func (r *MarkdownReporter) write(file string, tmpl *template.Template, data interface{}) (string, error) {
	if err := os.MkdirAll(r.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", file, err)
	}
	path := filepath.Join(r.Dir, file)
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", file, err)
	}
	logging.Report("wrote %s", path)
	return path, nil
}
