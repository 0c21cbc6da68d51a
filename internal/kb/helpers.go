package kb

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// TradingPeriods is the number of periods per year used for annualization.
const TradingPeriods = 252

// PctReturns computes simple period returns for every column. The first row and
// any undefined value are 0.
func PctReturns(t *PriceTable) [][]float64 {
	out := make([][]float64, t.Len())
	for i := range out {
		out[i] = make([]float64, t.Width())
		if i == 0 {
			continue
		}
		for j := range out[i] {
			prev, cur := t.Closes[i-1][j], t.Closes[i][j]
			r := cur/prev - 1
			if math.IsNaN(r) || math.IsInf(r, 0) {
				r = 0
			}
			out[i][j] = r
		}
	}
	return out
}

// SharpeRatio annualizes mean excess return over its standard deviation.
// An undefined ratio (fewer than two observations) is 0.
func SharpeRatio(r []float64, rf float64, periods int) float64 {
	if len(r) == 0 {
		return 0
	}
	if periods <= 0 {
		periods = TradingPeriods
	}
	excess := make([]float64, len(r))
	step := rf / float64(periods)
	for i, v := range r {
		excess[i] = v - step
	}
	ratio := stat.Mean(excess, nil) / (stat.StdDev(excess, nil) + 1e-12)
	if math.IsNaN(ratio) {
		ratio = 0
	}
	return ratio * math.Sqrt(float64(periods))
}

// CumulativeIndex compounds returns into a wealth index starting at 1+r[0].
func CumulativeIndex(r []float64) []float64 {
	out := make([]float64, len(r))
	acc := 1.0
	for i, v := range r {
		acc *= 1 + v
		out[i] = acc
	}
	return out
}

// MaxDrawdown is the most negative cum/peak-1 along a wealth index.
func MaxDrawdown(cum []float64) float64 {
	if len(cum) == 0 {
		return 0
	}
	peak := math.Inf(-1)
	worst := math.Inf(1)
	for _, v := range cum {
		if v > peak {
			peak = v
		}
		dd := v/(peak+1e-12) - 1
		if dd < worst {
			worst = dd
		}
	}
	return worst
}

// NormalizeWeights scales each row to unit gross exposure times maxLeverage.
// Rows with zero or undefined gross exposure become flat.
func NormalizeWeights(w [][]float64, maxLeverage float64) [][]float64 {
	limit := math.Max(maxLeverage, 0)
	out := make([][]float64, len(w))
	for i, row := range w {
		out[i] = make([]float64, len(row))
		gross := 0.0
		for _, v := range row {
			if !math.IsNaN(v) {
				gross += math.Abs(v)
			}
		}
		if gross == 0 {
			continue
		}
		for j, v := range row {
			if math.IsNaN(v) {
				continue
			}
			out[i][j] = v / gross * limit
		}
	}
	return out
}

// ComputeTurnover is the average per-period sum of absolute weight changes.
func ComputeTurnover(w [][]float64) float64 {
	if len(w) == 0 {
		return 0
	}
	total := 0.0
	for i := 1; i < len(w); i++ {
		for j := range w[i] {
			total += math.Abs(nanZero(w[i][j]) - nanZero(w[i-1][j]))
		}
	}
	return total / float64(len(w))
}

// PortfolioReturns applies yesterday's weights to today's asset returns.
func PortfolioReturns(w, rets [][]float64) []float64 {
	out := make([]float64, len(rets))
	for i := 1; i < len(rets) && i < len(w)+1; i++ {
		sum := 0.0
		for j := range rets[i] {
			if j < len(w[i-1]) {
				sum += nanZero(w[i-1][j]) * rets[i][j]
			}
		}
		out[i] = sum
	}
	return out
}

// WalkForwardStability splits r into chunks and returns the mean rolling
// standard deviation across them: a crude regime-stability score.
func WalkForwardStability(r []float64, splits int) float64 {
	if len(r) == 0 {
		return 0
	}
	if splits < 1 {
		splits = 1
	}
	chunk := len(r) / splits
	if chunk < 5 {
		chunk = 5
	}
	rolling := RollingStd(r, chunk)
	var vals []float64
	for _, v := range rolling {
		if !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0
	}
	return stat.Mean(vals, nil)
}

// Correlation is the Pearson correlation of two equal-length series, NaN if undefined.
func Correlation(a, b []float64) float64 {
	if len(a) != len(b) || len(a) < 2 {
		return math.NaN()
	}
	return stat.Correlation(a, b, nil)
}

// RollingMean is the trailing mean over window; the first window-1 values are NaN.
func RollingMean(x []float64, window int) []float64 {
	return rolling(x, window, func(w []float64) float64 { return stat.Mean(w, nil) })
}

// RollingStd is the trailing sample standard deviation over window.
func RollingStd(x []float64, window int) []float64 {
	return rolling(x, window, func(w []float64) float64 { return stat.StdDev(w, nil) })
}

// RollingSum is the trailing sum over window.
func RollingSum(x []float64, window int) []float64 {
	return rolling(x, window, func(w []float64) float64 {
		s := 0.0
		for _, v := range w {
			s += v
		}
		return s
	})
}

// RollingMax is the trailing maximum over window.
func RollingMax(x []float64, window int) []float64 {
	return rolling(x, window, func(w []float64) float64 {
		m := math.Inf(-1)
		for _, v := range w {
			m = math.Max(m, v)
		}
		return m
	})
}

// RollingMin is the trailing minimum over window.
func RollingMin(x []float64, window int) []float64 {
	return rolling(x, window, func(w []float64) float64 {
		m := math.Inf(1)
		for _, v := range w {
			m = math.Min(m, v)
		}
		return m
	})
}

func rolling(x []float64, window int, fn func([]float64) float64) []float64 {
	out := make([]float64, len(x))
	for i := range out {
		if window < 1 || i+1 < window {
			out[i] = math.NaN()
			continue
		}
		w := x[i+1-window : i+1]
		if hasNaN(w) {
			out[i] = math.NaN()
			continue
		}
		out[i] = fn(w)
	}
	return out
}

// TopK returns a 0/1 mask selecting the k largest finite values of row.
// Ties keep the earlier column.
func TopK(row []float64, k int) []float64 {
	idx := make([]int, 0, len(row))
	for j, v := range row {
		if !math.IsNaN(v) {
			idx = append(idx, j)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool { return row[idx[a]] > row[idx[b]] })
	mask := make([]float64, len(row))
	for n, j := range idx {
		if n >= k {
			break
		}
		mask[j] = 1
	}
	return mask
}

// Columns transposes a row-major matrix into per-column slices.
func Columns(m [][]float64) [][]float64 {
	if len(m) == 0 {
		return nil
	}
	out := make([][]float64, len(m[0]))
	for j := range out {
		out[j] = make([]float64, len(m))
		for i := range m {
			out[j][i] = m[i][j]
		}
	}
	return out
}

func hasNaN(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

func nanZero(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return v
}
