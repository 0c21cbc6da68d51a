package report

import (
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backforge/internal/metrics"
)

func TestWriteSuccess(t *testing.T) {
	r := NewMarkdownReporter(filepath.Join(t.TempDir(), "reports"))
	path, err := r.WriteSuccess("momentum_daily", metrics.EvaluatedOutcome{
		AnnReturn:    0.1234,
		AnnVol:       0.2,
		Sharpe:       0.61,
		MaxDD:        -0.15,
		Turnover:     0.25,
		Trades:       40,
		HitRate:      0.52,
		ProfitFactor: math.Inf(1),
		Seed:         43,
		PeriodStart:  time.Date(2012, 1, 3, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2025, 10, 31, 0, 0, 0, 0, time.UTC),
		Diagnostics:  map[string]float64{"top_k": 3, "lookback": 63},
	})
	require.NoError(t, err)
	assert.Equal(t, "summary_momentum_daily.md", filepath.Base(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	body := string(data)
	assert.Contains(t, body, "# Result: momentum_daily")
	assert.Contains(t, body, "| Annual Return | 12.340% |")
	assert.Contains(t, body, "| Max Drawdown | -15.00% |")
	assert.Contains(t, body, "| Trades | 40 |")
	assert.Contains(t, body, "| Profit Factor | inf |")
	assert.Contains(t, body, "Period: 2012-01-03 to 2025-10-31 (seed 43)")
	assert.Contains(t, body, "- lookback: 63.0000\n- top_k: 3.0000")
	assert.Contains(t, body, "Issues detected: none")
}

func TestWriteFailure(t *testing.T) {
	r := NewMarkdownReporter(t.TempDir())

	path, err := r.WriteFailure("breakout", "verifier: sharpe_in_range", []string{"attempt 1: runner executed successfully"})
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "**Reason:** verifier: sharpe_in_range")
	assert.Contains(t, string(data), "- attempt 1: runner executed successfully")

	path, err = r.WriteFailure("breakout", "", nil)
	require.NoError(t, err)
	data, err = os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "**Reason:** unspecified")
	assert.Contains(t, string(data), "- no logs recorded")
}
