package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"backforge/internal/eval"
	"backforge/internal/logging"
	"backforge/internal/spec"
	"backforge/internal/store"
)

var (
	evalMode        string
	evalTasks       []string
	evalRuns        int
	evalConcurrency int

	compareTask       string
	compareIterations int
	compareSeed       uint64
	compareJSON       bool
)

// evalCmd runs catalog tasks in one or both modes and records them.
var evalCmd = &cobra.Command{
	Use:   "eval",
	Short: "Run catalog tasks and record them in run history",
	Long: `Runs every catalog task (or those named by --task) through the pipeline.
Mode agentic uses the configured attempt budget; single_shot uses one
attempt and no repair. Each run gets its own pipeline, so --concurrency runs
are independent.`,
	Args: cobra.NoArgs,
	RunE: runEval,
}

// compareCmd compares the two modes from run history.
var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare agentic and single-shot runs with a paired bootstrap",
	Args:  cobra.NoArgs,
	RunE:  runCompare,
}

func init() {
	evalCmd.Flags().StringVar(&evalMode, "mode", "both", "agentic, single_shot or both")
	evalCmd.Flags().StringSliceVar(&evalTasks, "task", nil, "Tasks to run (default: whole catalog)")
	evalCmd.Flags().IntVar(&evalRuns, "runs", 1, "Runs per task and mode")
	evalCmd.Flags().IntVar(&evalConcurrency, "concurrency", 2, "Pipelines running at once")

	compareCmd.Flags().StringVar(&compareTask, "task", "", "Restrict to one task")
	compareCmd.Flags().IntVar(&compareIterations, "iterations", eval.DefaultIterations, "Bootstrap resamples")
	compareCmd.Flags().Uint64Var(&compareSeed, "seed", 42, "Bootstrap seed")
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "Print JSON instead of text")
}

// evalJob is one pipeline run of the eval matrix.
type evalJob struct {
	mode store.Mode
	task string
}

func parseModes(mode string) ([]store.Mode, error) {
	switch mode {
	case "agentic":
		return []store.Mode{store.ModeAgentic}, nil
	case "single_shot":
		return []store.Mode{store.ModeSingleShot}, nil
	case "both":
		return []store.Mode{store.ModeAgentic, store.ModeSingleShot}, nil
	}
	return nil, fmt.Errorf("invalid mode %q (valid: agentic, single_shot, both)", mode)
}

func evalJobs(modes []store.Mode, tasks []string, runs int) []evalJob {
	var jobs []evalJob
	for r := 0; r < runs; r++ {
		for _, task := range tasks {
			for _, m := range modes {
				jobs = append(jobs, evalJob{mode: m, task: task})
			}
		}
	}
	return jobs
}

func runEval(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	modes, err := parseModes(evalMode)
	if err != nil {
		return err
	}
	tasks := evalTasks
	if len(tasks) == 0 {
		tasks = spec.DefaultCatalog().Names()
	}

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	history, err := a.openStore()
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer history.Close()

	records, err := evaluate(ctx, a, evalJobs(modes, tasks, evalRuns), evalConcurrency)
	for _, r := range records {
		if _, serr := history.Save(context.Background(), r); serr != nil {
			logging.Get(logging.CategoryStore).Warn("failed to save %s/%s: %v", r.Mode, r.Task, serr)
		}
	}
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	for _, m := range modes {
		printSummary(w, fmt.Sprintf("=== %s ===", m), eval.Summarize(filterMode(records, m)))
	}
	return nil
}

// evaluate runs jobs with at most concurrency pipelines in flight. A failed
// run is a record, not an error; only cancellation stops the batch.
func evaluate(ctx context.Context, a *app, jobs []evalJob, concurrency int) ([]store.Record, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	var (
		mu      sync.Mutex
		records []store.Record
	)
	for _, job := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r := runJob(gctx, a, job)
			mu.Lock()
			records = append(records, r)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	logging.Eval("evaluated %d/%d runs", len(records), len(jobs))
	return records, err
}

func runJob(ctx context.Context, a *app, job evalJob) store.Record {
	maxAttempts := a.cfg.Pipeline.MaxAttempts
	if job.mode == store.ModeSingleShot {
		maxAttempts = 1
	}
	orch := a.orchestrator(maxAttempts, modeReportDir(a.cfg.Pipeline.ReportDir, job.mode))
	prompt := map[string]interface{}{"task": job.task}

	out, err := orch.Execute(ctx, prompt)
	if err != nil && out.Spec.Task == "" {
		logging.Get(logging.CategoryEval).Warn("%s/%s rejected: %v", job.mode, job.task, err)
		return rejectedRecord(job.task, job.mode, maxAttempts, err)
	}
	if err != nil {
		logging.Get(logging.CategoryEval).Warn("%s/%s: %v", job.mode, job.task, err)
	}
	logging.Eval("%s/%s: %s after %d attempt(s)", job.mode, job.task, out.Verdict, out.Attempts)
	return recordFrom(out, job.mode)
}

func filterMode(records []store.Record, m store.Mode) []store.Record {
	var out []store.Record
	for _, r := range records {
		if r.Mode == m {
			out = append(out, r)
		}
	}
	return out
}

// comparisonReport is the --json form of compare.
type comparisonReport struct {
	Agentic    eval.RunsetSummary `json:"agentic"`
	SingleShot eval.RunsetSummary `json:"single_shot"`
	Comparison eval.Comparison    `json:"comparison"`
}

func runCompare(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext(cmd.Context())
	defer cancel()

	history, err := store.Open(cfg.Pipeline.HistoryDB)
	if err != nil {
		return fmt.Errorf("failed to open run history: %w", err)
	}
	defer history.Close()

	agentic, err := history.List(ctx, store.Filter{Mode: store.ModeAgentic, Task: compareTask})
	if err != nil {
		return err
	}
	baseline, err := history.List(ctx, store.Filter{Mode: store.ModeSingleShot, Task: compareTask})
	if err != nil {
		return err
	}
	if len(agentic) == 0 || len(baseline) == 0 {
		return errors.New("need runs of both modes; run `backforge eval --mode both` first")
	}

	rep := comparisonReport{
		Agentic:    eval.Summarize(agentic),
		SingleShot: eval.Summarize(baseline),
		Comparison: eval.Compare(agentic, baseline, compareIterations, compareSeed),
	}
	return writeComparison(cmd.OutOrStdout(), rep, compareJSON)
}

func writeComparison(w io.Writer, rep comparisonReport, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	printSummary(w, "=== agentic ===", rep.Agentic)
	printSummary(w, "=== single_shot ===", rep.SingleShot)
	printComparison(w, rep.Comparison)
	return nil
}
