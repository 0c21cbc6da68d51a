package eval

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"backforge/internal/store"
)

func rec(task, verdict string, attempts int, sharpe *float64, tools ...string) store.Record {
	r := store.Record{Task: task, Verdict: verdict, Attempts: attempts, Tools: tools, SpecCompliant: true}
	if sharpe != nil {
		r.Metrics = map[string]float64{"sharpe": *sharpe}
	}
	return r
}

func f(v float64) *float64 { return &v }

func TestSummarize(t *testing.T) {
	s := Summarize([]store.Record{
		rec("breakout", "pass", 1, f(1.0), "returns", "sharpe"),
		rec("breakout", "pass", 3, f(2.0), "returns"),
		rec("momentum_daily", "fail", 5, nil),
		rec("made_up", "fail", 5, nil),
	})

	assert.Equal(t, 4, s.Runs)
	assert.InDelta(t, 0.5, s.SuccessRate, 1e-12)
	assert.InDelta(t, 0.5, s.ErrorRate, 1e-12)
	assert.InDelta(t, 0.75, s.SpecCompliance, 1e-12)
	assert.InDelta(t, 0.25, s.SharpeStability, 1e-12)
	assert.InDelta(t, 3.5, s.AvgAttempts, 1e-12)
	assert.InDelta(t, 0.75, s.AvgTools, 1e-12)

	assert.Equal(t, RunsetSummary{}, Summarize(nil))
}

func TestPairedBootstrap(t *testing.T) {
	a := []float64{1, 1, 1, 1}
	b := []float64{0, 0, 0, 0}
	mean, ci := PairedBootstrap(a, b, 500, 7)
	assert.InDelta(t, 1, mean, 1e-12)
	assert.InDelta(t, 1, ci.Lo, 1e-12)
	assert.InDelta(t, 1, ci.Hi, 1e-12)

	a = []float64{0.5, 1.5, 1.0, 2.0, 0.0}
	b = []float64{0, 0, 0, 0, 0}
	m1, ci1 := PairedBootstrap(a, b, 2000, 11)
	m2, ci2 := PairedBootstrap(a, b, 2000, 11)
	assert.Equal(t, m1, m2, "same seed, same result")
	assert.Equal(t, ci1, ci2)
	assert.InDelta(t, 1.0, m1, 0.05)
	assert.Less(t, ci1.Lo, 1.0)
	assert.Greater(t, ci1.Hi, 1.0)

	mean, ci = PairedBootstrap(nil, nil, 10, 1)
	assert.Zero(t, mean)
	assert.Equal(t, Interval{}, ci)
}

func TestCompare(t *testing.T) {
	agentic := []store.Record{
		rec("breakout", "pass", 2, f(1.5)),
		rec("pair_trading", "pass", 1, f(0.5)),
		rec("pair_trading", "pass", 1, f(0.7)),
	}
	baseline := []store.Record{
		rec("breakout", "fail", 1, nil),
		rec("pair_trading", "pass", 1, f(0.5)),
	}

	c := Compare(agentic, baseline, 1000, 3)
	assert.Equal(t, 2, c.Pairs)
	assert.Equal(t, 1, c.SharpePairs)
	assert.InDelta(t, 0, c.SharpeDiff, 1e-12)
	assert.InDelta(t, 0.5, c.SuccessDiff, 0.1)
	assert.LessOrEqual(t, c.SuccessCI.Lo, c.SuccessDiff)
	assert.GreaterOrEqual(t, c.SuccessCI.Hi, c.SuccessDiff)
}
