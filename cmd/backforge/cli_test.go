package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backforge/internal/config"
	"backforge/internal/market"
	"backforge/internal/metrics"
	"backforge/internal/pipeline"
	"backforge/internal/spec"
	"backforge/internal/store"
)

// testWorkspace writes synthetic prices for the default universe and a
// config pointing every output into a temp dir. It returns the config path.
func testWorkspace(t *testing.T) string {
	t.Helper()
	for _, k := range []string{"OPENAI_API_KEY", "GEMINI_API_KEY", "ALPHAVANTAGE_API_KEY", "BACKFORGE_MAX_ATTEMPTS"} {
		t.Setenv(k, "")
	}
	ws := t.TempDir()

	disk := market.CSVStore{Dir: filepath.Join(ws, "prices")}
	start := time.Date(2019, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2021, 12, 31, 0, 0, 0, 0, time.UTC)
	for k, sym := range spec.BaseUniverse[:6] {
		var pts []market.Point
		i := 0
		for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
			if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
				continue
			}
			x := float64(i)
			px := 100 * math.Exp(0.0004*x*float64(k+1)+0.02*math.Sin(x/7+float64(k)))
			pts = append(pts, market.Point{Date: d, Close: px})
			i++
		}
		require.NoError(t, disk.Write(sym, pts))
	}

	cfg := config.DefaultConfig()
	cfg.Pipeline.WorkDir = filepath.Join(ws, "generated")
	cfg.Pipeline.ReportDir = filepath.Join(ws, "reports")
	cfg.Pipeline.HistoryDB = filepath.Join(ws, "runs.db")
	cfg.Data.Dir = disk.Dir
	cfg.Data.CachePath = filepath.Join(ws, "prices.db")
	cfg.Logging.Level = "error"
	path := filepath.Join(ws, "backforge.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

// execute runs the root command with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	runTask, runPrompt, runPromptFile, runMaxAttempts, runRender = "", "", "", 0, false
	verifyWatch, configForce = false, false

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(""))
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

const window = `"start_date":"2020-01-02","end_date":"2021-06-30"`

func TestResolvePrompt(t *testing.T) {
	file := filepath.Join(t.TempDir(), "prompt.json")
	require.NoError(t, os.WriteFile(file, []byte(`{"task":"breakout"}`), 0644))

	tests := []struct {
		name        string
		task        string
		prompt      string
		file        string
		stdin       string
		interactive bool
		want        string
	}{
		{"file wins", "momentum_daily", "x", file, "", false, `{"task":"breakout"}`},
		{"prompt before task", "momentum_daily", "task: mean_reversion", "", "", false, "task: mean_reversion"},
		{"task as json", "momentum_daily", "", "", "", false, `{"task":"momentum_daily"}`},
		{"piped stdin", "", "", "", "  task=risk_parity\n", false, "task=risk_parity"},
		{"interactive stops at blank line", "", "", "", "task: breakout\ncosts_bps: 2\n\nignored\n", true, "task: breakout\ncosts_bps: 2"},
		{"nothing given", "", "", "", "", false, `{"task":"momentum_daily"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolvePrompt(tt.task, tt.prompt, tt.file, strings.NewReader(tt.stdin), tt.interactive)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := resolvePrompt("", "", filepath.Join(t.TempDir(), "missing"), strings.NewReader(""), false)
	assert.ErrorContains(t, err, "failed to read prompt file")
}

func TestPrintOutcome(t *testing.T) {
	out := pipeline.WorkflowOutcome{
		Spec:        spec.StrategySpec{Task: "breakout"},
		Verdict:     pipeline.VerdictFail,
		Attempts:    3,
		MaxAttempts: 3,
		Artifacts:   []string{"a.go", "b.go"},
		Tools:       []string{"returns", "sharpe"},
		ReportPath:  "reports/failure_breakout.md",
		FinalReason: "verifier failed checks: [sharpe_in_range]",
	}
	var buf bytes.Buffer
	printOutcome(&buf, out)
	text := buf.String()
	for _, want := range []string{"breakout", "FAIL", "3/3", "returns, sharpe", "b.go", "failure_breakout.md", "sharpe_in_range"} {
		assert.Contains(t, text, want)
	}

	assert.Equal(t, "ann_return=0.1000 sharpe=1.5000", formatMetrics(map[string]float64{"sharpe": 1.5, "ann_return": 0.1}))
}

func TestRecordFrom(t *testing.T) {
	out := pipeline.WorkflowOutcome{
		RunID:       "run-1",
		Spec:        spec.StrategySpec{Task: "breakout", Name: "breakout", Seed: 44},
		Verdict:     pipeline.VerdictPass,
		Attempts:    3,
		MaxAttempts: 5,
		Artifacts:   []string{"a.go", "b.go"},
		Metrics:     metrics.EvaluatedOutcome{Sharpe: 1.2}.AsMap(),
		Tools:       []string{"returns"},
		ReportPath:  "r.md",
	}
	r := recordFrom(out, store.ModeAgentic)
	assert.Equal(t, "run-1", r.RunID)
	assert.Equal(t, store.ModeAgentic, r.Mode)
	assert.Equal(t, 44, r.Seed)
	assert.Equal(t, "b.go", r.ArtifactPath)
	assert.True(t, r.Passed())
	assert.True(t, r.SpecCompliant)

	rej := rejectedRecord("nope", store.ModeSingleShot, 1, errors.New("unknown task"))
	assert.False(t, rej.Passed())
	assert.False(t, rej.SpecCompliant)
	assert.Equal(t, "unknown task", rej.FinalReason)
}

func TestEvalJobs(t *testing.T) {
	modes, err := parseModes("both")
	require.NoError(t, err)
	jobs := evalJobs(modes, []string{"a", "b"}, 2)
	assert.Len(t, jobs, 8)
	assert.Equal(t, evalJob{mode: store.ModeAgentic, task: "a"}, jobs[0])
	assert.Equal(t, evalJob{mode: store.ModeSingleShot, task: "a"}, jobs[1])

	_, err = parseModes("sometimes")
	assert.Error(t, err)
}

func TestRunCommand_EndToEnd(t *testing.T) {
	cfgPath := testWorkspace(t)

	text, err := execute(t, "--config", cfgPath, "run", "--max-attempts", "2",
		"--prompt", `{"task":"momentum_daily",`+window+`}`)
	require.NoError(t, err, "run exits cleanly whatever the verdict")
	assert.Contains(t, text, "Agentic Backtest")
	assert.Contains(t, text, "momentum_daily")
	assert.Regexp(t, `PASS|FAIL`, text)
	assert.Contains(t, text, "Report:")

	loaded, err := config.Load(cfgPath)
	require.NoError(t, err)
	history, err := store.Open(loaded.Pipeline.HistoryDB)
	require.NoError(t, err)
	defer history.Close()
	records, err := history.List(context.Background(), store.Filter{Mode: store.ModeAgentic})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "momentum_daily", records[0].Task)
	assert.Equal(t, 2, records[0].MaxAttempts)
	assert.FileExists(t, records[0].ReportPath)
	assert.FileExists(t, records[0].ArtifactPath)
}

func TestRunCommand_RejectedSpec(t *testing.T) {
	cfgPath := testWorkspace(t)
	_, err := execute(t, "--config", cfgPath, "run", "--task", "astrology")
	assert.ErrorContains(t, err, "astrology")
}

func TestEvalThenCompare(t *testing.T) {
	cfgPath := testWorkspace(t)

	text, err := execute(t, "--config", cfgPath, "eval",
		"--mode", "both", "--task", "momentum_daily,breakout", "--concurrency", "2")
	require.NoError(t, err)
	assert.Contains(t, text, "agentic")
	assert.Contains(t, text, "single_shot")

	text, err = execute(t, "--config", cfgPath, "compare", "--json", "--iterations", "200")
	require.NoError(t, err)
	var rep comparisonReport
	require.NoError(t, json.Unmarshal([]byte(text), &rep))
	assert.Equal(t, 2, rep.Agentic.Runs)
	assert.Equal(t, 2, rep.SingleShot.Runs)
	assert.Equal(t, 2, rep.Comparison.Pairs)
	assert.InDelta(t, 1.0, rep.SingleShot.AvgAttempts, 1e-12, "single shot never retries")
}

func TestCompare_NeedsBothModes(t *testing.T) {
	cfgPath := testWorkspace(t)
	_, err := execute(t, "--config", cfgPath, "compare")
	assert.ErrorContains(t, err, "need runs of both modes")
}

func TestCatalogCommands(t *testing.T) {
	cfgPath := testWorkspace(t)

	text, err := execute(t, "--config", cfgPath, "tasks")
	require.NoError(t, err)
	for _, name := range spec.DefaultCatalog().Names() {
		assert.Contains(t, text, name)
	}

	text, err = execute(t, "--config", cfgPath, "tools")
	require.NoError(t, err)
	assert.Contains(t, text, "kb.SharpeRatio")
}

func TestVerifyCommand(t *testing.T) {
	cfgPath := testWorkspace(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.go")
	require.NoError(t, os.WriteFile(good, []byte(`package main

import "backforge/kb"

func RunStrategy(prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error) {
	return kb.RunReference("momentum_daily", prices, spec)
}
`), 0644))
	text, err := execute(t, "--config", cfgPath, "verify", good)
	require.NoError(t, err)
	assert.Contains(t, text, "OK")

	bad := filepath.Join(dir, "bad.go")
	require.NoError(t, os.WriteFile(bad, []byte("package main\n\nimport \"os\"\n\nvar _ = os.Args\n"), 0644))
	text, err = execute(t, "--config", cfgPath, "verify", bad)
	require.Error(t, err)
	assert.Contains(t, text, "FAIL")
}

func TestWatchFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidate.go")
	require.NoError(t, os.WriteFile(path, []byte("package main\n"), 0644))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	changed := make(chan struct{}, 8)
	done := make(chan error, 1)
	go func() {
		done <- watchFile(ctx, path, 20*time.Millisecond, func() { changed <- struct{}{} })
	}()

	// The watch starts asynchronously; keep writing until it notices.
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for seen := false; !seen; {
		select {
		case <-changed:
			seen = true
		case <-tick.C:
			require.NoError(t, os.WriteFile(path, []byte("package main\n// edit\n"), 0644))
		case <-ctx.Done():
			t.Fatal("no change observed")
		}
	}
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestConfigInit(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "cfg", "backforge.yaml")

	_, err := execute(t, "--config", path, "config", "init")
	require.NoError(t, err)
	assert.FileExists(t, path)

	_, err = execute(t, "--config", path, "config", "init")
	assert.ErrorContains(t, err, "already exists")

	_, err = execute(t, "--config", path, "config", "init", "--force")
	assert.NoError(t, err)

	text, err := execute(t, "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, text, "max_attempts: 5")
}
