package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"backforge/internal/logging"
	"backforge/internal/spec"
	"backforge/internal/store"
)

var (
	runTask        string
	runPrompt      string
	runPromptFile  string
	runMaxAttempts int
	runRender      bool
)

// runCmd synthesizes and backtests one strategy request.
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the repairing pipeline on one strategy request",
	Long: `Builds a strategy spec from --prompt-file, --prompt, --task or stdin (in
that order), then generates, verifies, executes and reports a candidate.

The exit code is 0 whether the verdict is pass or fail; read the Verdict line.

Examples:
  backforge run --task momentum_daily
  backforge run --prompt '{"task":"breakout","universe":"SPY,QQQ"}'
  printf 'task: mean_reversion\ncosts_bps: 2\n' | backforge run`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runTask, "task", "", "Catalog task to run with its defaults")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "Raw JSON or free-text request")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "File holding the request")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "Attempt budget (default from config)")
	runCmd.Flags().BoolVar(&runRender, "render", false, "Render the final report in the terminal")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	payload, err := resolvePrompt(runTask, runPrompt, runPromptFile, cmd.InOrStdin(), stdinIsTerminal())
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	maxAttempts := runMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = cfg.Pipeline.MaxAttempts
	}

	timer := logging.StartTimer(logging.CategoryPipeline, "run")
	orch := a.orchestrator(maxAttempts, cfg.Pipeline.ReportDir)
	out, err := orch.Execute(ctx, payload)
	timer.Stop()
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	printOutcome(w, out)
	if runRender && out.ReportPath != "" {
		if err := renderReport(w, out.ReportPath); err != nil {
			logging.Get(logging.CategoryReport).Warn("failed to render %s: %v", out.ReportPath, err)
		}
	}

	saveRecord(a, recordFrom(out, store.ModeAgentic))
	return nil
}

// saveRecord appends to run history. History is best effort for run.
func saveRecord(a *app, r store.Record) {
	s, err := a.openStore()
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("run history unavailable: %v", err)
		return
	}
	defer s.Close()
	// Background context: a cancelled run still gets recorded.
	if _, err := s.Save(context.Background(), r); err != nil {
		logging.Get(logging.CategoryStore).Warn("failed to save run: %v", err)
	}
}

// resolvePrompt picks the request source: file, then inline prompt, then
// task, then stdin. With nothing given the first catalog task runs.
func resolvePrompt(task, prompt, promptFile string, stdin io.Reader, interactive bool) (string, error) {
	switch {
	case promptFile != "":
		data, err := os.ReadFile(promptFile)
		if err != nil {
			return "", fmt.Errorf("failed to read prompt file: %w", err)
		}
		return string(data), nil
	case prompt != "":
		return prompt, nil
	case task != "":
		data, err := json.Marshal(map[string]string{"task": task})
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	text, err := readUserPrompt(stdin, interactive)
	if err != nil {
		return "", err
	}
	if text != "" {
		return text, nil
	}
	data, _ := json.Marshal(map[string]string{"task": spec.TaskOrder[0]})
	return string(data), nil
}

// readUserPrompt reads piped input whole, or interactive input up to the
// first blank line after some text.
func readUserPrompt(r io.Reader, interactive bool) (string, error) {
	if !interactive {
		data, err := io.ReadAll(r)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	fmt.Fprintln(os.Stderr, "Enter a JSON strategy spec or plain-text instructions (blank line to finish):")
	var lines []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		l := sc.Text()
		if l == "" && len(lines) > 0 {
			break
		}
		lines = append(lines, l)
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return strings.TrimSpace(strings.Join(lines, "\n")), nil
}

func stdinIsTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}
