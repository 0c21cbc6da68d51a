package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"backforge/internal/eval"
	"backforge/internal/pipeline"
)

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("205"))
	labelStyle = lipgloss.NewStyle().Bold(true).Width(10)
	passStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#22c55e"))
	failStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ef4444"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

func verdictText(v pipeline.Verdict) string {
	if v == pipeline.VerdictPass {
		return passStyle.Render("PASS")
	}
	return failStyle.Render("FAIL")
}

func line(w io.Writer, label, value string) {
	fmt.Fprintln(w, labelStyle.Render(label+":")+" "+value)
}

// printOutcome writes the run summary. The verdict line is the contract
// with scripts; the exit code does not encode it.
func printOutcome(w io.Writer, out pipeline.WorkflowOutcome) {
	fmt.Fprintln(w, titleStyle.Render("=== Agentic Backtest ==="))
	line(w, "Task", out.Spec.Task)
	line(w, "Verdict", verdictText(out.Verdict))
	line(w, "Metrics", formatMetrics(out.Metrics))
	line(w, "Attempts", fmt.Sprintf("%d/%d", out.Attempts, out.MaxAttempts))
	line(w, "Tools", strings.Join(out.Tools, ", "))
	line(w, "Artifact", orNone(out.LastArtifact()))
	line(w, "Report", orNone(out.ReportPath))
	if out.FinalReason != "" {
		line(w, "Reason", failStyle.Render(out.FinalReason))
	}
}

func formatMetrics(m map[string]float64) string {
	if len(m) == 0 {
		return dimStyle.Render("none")
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%.4f", k, m[k])
	}
	return strings.Join(parts, " ")
}

func orNone(s string) string {
	if s == "" {
		return dimStyle.Render("none")
	}
	return s
}

// renderReport prints a Markdown report through glamour.
func renderReport(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(100),
	)
	if err != nil {
		return err
	}
	out, err := r.Render(string(data))
	if err != nil {
		return err
	}
	_, err = io.WriteString(w, out)
	return err
}

func printSummary(w io.Writer, title string, s eval.RunsetSummary) {
	fmt.Fprintln(w, titleStyle.Render(title))
	line(w, "Runs", fmt.Sprintf("%d", s.Runs))
	line(w, "Success", fmt.Sprintf("%.3f", s.SuccessRate))
	line(w, "Errors", fmt.Sprintf("%.3f", s.ErrorRate))
	line(w, "Spec", fmt.Sprintf("%.3f", s.SpecCompliance))
	line(w, "Sharpe σ²", fmt.Sprintf("%.4f", s.SharpeStability))
	line(w, "Attempts", fmt.Sprintf("%.2f", s.AvgAttempts))
	line(w, "Tools", fmt.Sprintf("%.2f", s.AvgTools))
}

func printComparison(w io.Writer, c eval.Comparison) {
	fmt.Fprintln(w, titleStyle.Render("=== Agentic vs Single-shot ==="))
	line(w, "Pairs", fmt.Sprintf("%d (%d with sharpe)", c.Pairs, c.SharpePairs))
	line(w, "Sharpe Δ", fmt.Sprintf("%+.4f  95%% CI [%+.4f, %+.4f]", c.SharpeDiff, c.SharpeCI.Lo, c.SharpeCI.Hi))
	line(w, "Success Δ", fmt.Sprintf("%+.4f  95%% CI [%+.4f, %+.4f]", c.SuccessDiff, c.SuccessCI.Lo, c.SuccessCI.Hi))
}
