package main

import (
	"context"
	"fmt"
	"path/filepath"

	"backforge/internal/config"
	"backforge/internal/llm"
	"backforge/internal/logging"
	"backforge/internal/market"
	"backforge/internal/pipeline"
	"backforge/internal/report"
	"backforge/internal/runner"
	"backforge/internal/spec"
	"backforge/internal/store"
	"backforge/internal/synth"
	"backforge/internal/tools"
	"backforge/internal/verification"
)

// app holds the collaborators shared by every pipeline a command builds.
// Pipelines themselves are not shared: each gets its own executor and
// synthesizer.
type app struct {
	cfg       *config.Config
	client    llm.Client
	source    market.Source
	cache     *market.Cache
	validator *spec.Validator
	registry  *tools.Registry
	results   *verification.ResultVerifier
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := llm.NewClient(ctx, cfg.LLM.ClientConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}

	results, err := verification.NewResultVerifier(cfg.VerifierThresholds(), cfg.Verifier.ExtraChecks)
	if err != nil {
		return nil, fmt.Errorf("invalid verifier config: %w", err)
	}

	a := &app{
		cfg:       cfg,
		client:    client,
		validator: spec.NewValidator(nil),
		registry:  tools.DefaultRegistry(),
		results:   results,
	}
	if err := a.openData(); err != nil {
		return nil, err
	}
	logging.Boot("app ready: provider=%s checks=%v", cfg.LLM.Provider, results.Names())
	return a, nil
}

// openData builds the price loader. With prefer_source=remote the CSV
// directory is skipped so every symbol comes from the cache or Alpha Vantage.
func (a *app) openData() error {
	loader := &market.Loader{}
	if a.cfg.Data.PreferSource != "remote" && a.cfg.Data.Dir != "" {
		loader.CSV = &market.CSVStore{Dir: a.cfg.Data.Dir}
	}
	if a.cfg.Data.CachePath != "" {
		cache, err := market.OpenCache(a.cfg.Data.CachePath)
		if err != nil {
			return fmt.Errorf("failed to open price cache: %w", err)
		}
		a.cache = cache
		loader.Cache = cache
	}
	if a.cfg.Data.AlphaVantageKey != "" {
		loader.Remote = market.NewAlphaVantage(a.cfg.Data.AlphaVantageKey, 0, a.cfg.GetDataTimeout())
	} else {
		logging.DataDebug("no Alpha Vantage key; remote fetch disabled")
	}
	a.source = loader
	return nil
}

// orchestrator builds a fresh pipeline writing reports under reportDir.
func (a *app) orchestrator(maxAttempts int, reportDir string) *pipeline.Orchestrator {
	deps := pipeline.Deps{
		Validator:    a.validator,
		Resolver:     a.registry,
		Synthesizer:  synth.New(a.client, a.cfg.Pipeline.WorkDir),
		CodeVerifier: verification.NewStaticVerifier(),
		Executor:     runner.NewExecutor(a.source, nil, a.cfg.GetExecutorTimeout()),
		Results:      a.results,
		Reporter:     report.NewMarkdownReporter(reportDir),
	}
	return pipeline.New(deps, maxAttempts)
}

func (a *app) openStore() (*store.RunStore, error) {
	return store.Open(a.cfg.Pipeline.HistoryDB)
}

func (a *app) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logging.DataWarn("failed to close price cache: %v", err)
		}
	}
}

// modeReportDir keeps eval reports of the two modes apart.
func modeReportDir(base string, mode store.Mode) string {
	return filepath.Join(base, string(mode))
}

// recordFrom converts a finished run into a history record.
func recordFrom(out pipeline.WorkflowOutcome, mode store.Mode) store.Record {
	return store.Record{
		RunID:         out.RunID,
		Mode:          mode,
		Task:          out.Spec.Task,
		Name:          out.Spec.Name,
		Verdict:       string(out.Verdict),
		Attempts:      out.Attempts,
		MaxAttempts:   out.MaxAttempts,
		Seed:          out.Spec.Seed,
		Metrics:       out.Metrics,
		Tools:         out.Tools,
		FinalReason:   out.FinalReason,
		ArtifactPath:  out.LastArtifact(),
		ReportPath:    out.ReportPath,
		SpecCompliant: true,
	}
}

// rejectedRecord stands for a run whose request never became a spec.
func rejectedRecord(task string, mode store.Mode, maxAttempts int, err error) store.Record {
	return store.Record{
		Mode:        mode,
		Task:        task,
		Name:        task,
		Verdict:     string(pipeline.VerdictFail),
		MaxAttempts: maxAttempts,
		FinalReason: err.Error(),
	}
}
