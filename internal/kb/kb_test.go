package kb

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func businessDays(start time.Time, n int) []time.Time {
	out := make([]time.Time, 0, n)
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

// trendTable builds a table where column j grows by drift[j] per row with a
// small deterministic wobble.
func trendTable(n int, drift ...float64) *PriceTable {
	symbols := make([]string, len(drift))
	for j := range drift {
		symbols[j] = string(rune('A' + j))
	}
	t := NewPriceTable(businessDays(time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), n), symbols)
	for j, d := range drift {
		p := 100.0
		for i := 0; i < n; i++ {
			wobble := 0.002 * math.Sin(float64(i*(j+1)))
			p *= 1 + d + wobble
			t.Closes[i][j] = p
		}
	}
	return t
}

func TestPriceTableSliceSelectFill(t *testing.T) {
	tbl := trendTable(10, 0.01, 0.02)
	tbl.Closes[3][0] = math.NaN()

	filled := tbl.FillForward()
	assert.Equal(t, tbl.Closes[2][0], filled.Closes[3][0])
	assert.True(t, math.IsNaN(tbl.Closes[3][0]), "FillForward must not mutate the receiver")

	sel := tbl.Select([]string{"B", "ZZZ"})
	require.Equal(t, []string{"B", "ZZZ"}, sel.Symbols)
	assert.Equal(t, tbl.Closes[0][1], sel.Closes[0][0])
	assert.True(t, math.IsNaN(sel.Closes[0][1]))

	sl := tbl.Slice(tbl.Dates[2], tbl.Dates[5])
	assert.Equal(t, 4, sl.Len())

	assert.True(t, NewPriceTable(tbl.Dates, []string{"X"}).Empty())
	assert.False(t, tbl.Empty())
}

func TestPriceTableMerge(t *testing.T) {
	a := trendTable(5, 0.01)
	b := trendTable(8, 0.03)
	b.Symbols = []string{"B"}

	m := a.Merge(b)
	require.Equal(t, 8, m.Len())
	assert.Equal(t, []string{"A", "B"}, m.Symbols)
	assert.True(t, math.IsNaN(m.Closes[6][0]))
	assert.Equal(t, b.Closes[7][0], m.Closes[7][1])
}

func TestHelpers(t *testing.T) {
	t.Run("max drawdown", func(t *testing.T) {
		dd := MaxDrawdown(CumulativeIndex([]float64{0.1, -0.5, 0.2}))
		assert.InDelta(t, -0.5, dd, 1e-9)
	})
	t.Run("normalize weights", func(t *testing.T) {
		w := NormalizeWeights([][]float64{{1, -1, 2}, {0, 0, 0}}, 2)
		assert.InDeltaSlice(t, []float64{0.5, -0.5, 1}, w[0], 1e-12)
		assert.Equal(t, []float64{0, 0, 0}, w[1])
	})
	t.Run("turnover", func(t *testing.T) {
		assert.InDelta(t, 1.0, ComputeTurnover([][]float64{{0, 0}, {1, 0}, {0, 1}}), 1e-12)
		assert.Zero(t, ComputeTurnover(nil))
	})
	t.Run("top k ties keep earlier column", func(t *testing.T) {
		assert.Equal(t, []float64{1, 0, 1, 0}, TopK([]float64{3, 1, 3, math.NaN()}, 2))
	})
	t.Run("rolling warmup is NaN", func(t *testing.T) {
		m := RollingMean([]float64{1, 2, 3, 4}, 3)
		assert.True(t, math.IsNaN(m[1]))
		assert.InDelta(t, 3.0, m[3], 1e-12)
	})
	t.Run("sharpe of constant series is zero", func(t *testing.T) {
		assert.Zero(t, SharpeRatio([]float64{0, 0, 0}, 0, 252))
	})
}

func TestParams(t *testing.T) {
	spec := map[string]interface{}{
		"universe": []interface{}{"A", "B"},
		"params": map[string]interface{}{
			"lookback":         float64(20),
			"allowed_weekdays": []interface{}{float64(1), float64(3)},
			"mode":             "distance",
		},
	}
	assert.Equal(t, 20, ParamInt(spec, "lookback", 5))
	assert.Equal(t, 7, ParamInt(spec, "missing", 7))
	assert.Equal(t, []float64{1, 3}, ParamFloats(spec, "allowed_weekdays", nil))
	assert.Equal(t, "distance", ParamString(spec, "mode", "cointegration"))
	assert.Equal(t, []string{"A", "B"}, SpecStrings(spec, "universe"))
}

func TestReferenceStrategiesProduceAlignedReturns(t *testing.T) {
	tbl := trendTable(320, 0.001, 0.0015, -0.0005, 0.002)
	spec := map[string]interface{}{
		"universe": []interface{}{"A", "B", "C", "D"},
		"params": map[string]interface{}{
			"lookback": float64(20),
			"window":   float64(20),
			"fast":     float64(10),
			"slow":     float64(40),
		},
	}
	for task := range Strategies {
		t.Run(task, func(t *testing.T) {
			out, err := RunReference(task, tbl, spec)
			require.NoError(t, err)
			rets, ok := out["returns"].(Series)
			require.True(t, ok, "returns must be a Series")
			assert.Equal(t, tbl.Len(), rets.Len())
			turnover, ok := out["turnover"].(float64)
			require.True(t, ok)
			assert.False(t, math.IsNaN(turnover))
			assert.GreaterOrEqual(t, turnover, 0.0)
		})
	}
}

func TestPairTradingBelowThresholdDoesNotTrade(t *testing.T) {
	tbl := trendTable(200, 0.001, 0.001)
	// Make the second leg move against the first.
	for i := 1; i < tbl.Len(); i++ {
		r := tbl.Closes[i][0]/tbl.Closes[i-1][0] - 1
		tbl.Closes[i][1] = tbl.Closes[i-1][1] * (1 - r)
	}
	spec := map[string]interface{}{
		"universe": []interface{}{"A", "B"},
		"params":   map[string]interface{}{"correlation_threshhold": 0.6},
	}
	out, err := PairTrading(tbl, spec)
	require.NoError(t, err)
	assert.Equal(t, 0.0, out["turnover"])
	assert.Equal(t, 0.0, out["traded"])
	for _, v := range out["returns"].(Series).Values {
		assert.Zero(t, v)
	}
}

func TestRunReferenceUnknownTask(t *testing.T) {
	_, err := RunReference("nope", trendTable(5, 0.01), nil)
	assert.Error(t, err)
}
