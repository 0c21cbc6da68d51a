// Package eval summarizes run history and compares the repairing pipeline
// against its single-attempt baseline.
package eval

import (
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"backforge/internal/logging"
	"backforge/internal/spec"
	"backforge/internal/store"
)

// DefaultIterations is the bootstrap resample count.
const DefaultIterations = 10000

// RunsetSummary aggregates one set of runs.
type RunsetSummary struct {
	Runs            int     `json:"runs"`
	SuccessRate     float64 `json:"success_rate"`
	SpecCompliance  float64 `json:"spec_compliance"`
	ErrorRate       float64 `json:"error_rate"`
	SharpeStability float64 `json:"sharpe_stability"`
	AvgAttempts     float64 `json:"avg_attempts"`
	AvgTools        float64 `json:"avg_tools"`
}

// Summarize aggregates records. Sharpe stability is the population variance
// of the sharpe metric over runs that reported one.
func Summarize(records []store.Record) RunsetSummary {
	if len(records) == 0 {
		return RunsetSummary{}
	}
	catalog := spec.DefaultCatalog()
	n := float64(len(records))

	var success, compliant, attempts, toolCount float64
	var sharpes []float64
	for _, r := range records {
		if r.Passed() {
			success++
		}
		if _, ok := catalog[r.Task]; ok && r.SpecCompliant {
			compliant++
		}
		attempts += float64(r.Attempts)
		toolCount += float64(len(r.Tools))
		if v, ok := r.Metrics["sharpe"]; ok && !math.IsNaN(v) {
			sharpes = append(sharpes, v)
		}
	}

	stability := 0.0
	if len(sharpes) > 0 {
		stability = stat.PopVariance(sharpes, nil)
	}
	return RunsetSummary{
		Runs:            len(records),
		SuccessRate:     success / n,
		SpecCompliance:  compliant / n,
		ErrorRate:       1 - success/n,
		SharpeStability: stability,
		AvgAttempts:     attempts / n,
		AvgTools:        toolCount / n,
	}
}

// Interval is a two-sided percentile confidence interval.
type Interval struct {
	Lo float64 `json:"lo"`
	Hi float64 `json:"hi"`
}

// Comparison is the paired difference agentic minus baseline.
type Comparison struct {
	Pairs       int      `json:"pairs"`
	SharpePairs int      `json:"sharpe_pairs"`
	SharpeDiff  float64  `json:"sharpe_diff"`
	SharpeCI    Interval `json:"sharpe_ci"`
	SuccessDiff float64  `json:"success_diff"`
	SuccessCI   Interval `json:"success_ci"`
}

// Compare pairs runs of the same task in order and bootstraps the mean
// differences of sharpe and success. Pairs where either side lacks a finite
// sharpe are left out of the sharpe comparison.
func Compare(agentic, baseline []store.Record, iterations int, seed uint64) Comparison {
	pairs := pair(agentic, baseline)

	var sa, sb, pa, pb []float64
	for _, p := range pairs {
		pa = append(pa, indicator(p[0].Passed()))
		pb = append(pb, indicator(p[1].Passed()))
		x, okA := p[0].Metrics["sharpe"]
		y, okB := p[1].Metrics["sharpe"]
		if okA && okB && isFinite(x) && isFinite(y) {
			sa = append(sa, x)
			sb = append(sb, y)
		}
	}

	c := Comparison{Pairs: len(pairs), SharpePairs: len(sa)}
	c.SharpeDiff, c.SharpeCI = PairedBootstrap(sa, sb, iterations, seed)
	c.SuccessDiff, c.SuccessCI = PairedBootstrap(pa, pb, iterations, seed)
	logging.Eval("compared %d pairs: sharpe diff %.3f [%.3f, %.3f], success diff %.3f [%.3f, %.3f]",
		c.Pairs, c.SharpeDiff, c.SharpeCI.Lo, c.SharpeCI.Hi, c.SuccessDiff, c.SuccessCI.Lo, c.SuccessCI.Hi)
	return c
}

// PairedBootstrap resamples index positions with replacement and returns the
// mean of the resampled mean differences a-b with its 2.5/97.5 percentile
// interval. a and b must have equal length; empty input yields zeros.
func PairedBootstrap(a, b []float64, iterations int, seed uint64) (float64, Interval) {
	n := len(a)
	if n == 0 || len(b) != n {
		return 0, Interval{}
	}
	if iterations <= 0 {
		iterations = DefaultIterations
	}
	diff := make([]float64, n)
	floats.SubTo(diff, a, b)

	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	means := make([]float64, iterations)
	for it := range means {
		sum := 0.0
		for k := 0; k < n; k++ {
			sum += diff[rng.IntN(n)]
		}
		means[it] = sum / float64(n)
	}
	sort.Float64s(means)
	return stat.Mean(means, nil), Interval{
		Lo: stat.Quantile(0.025, stat.LinInterp, means, nil),
		Hi: stat.Quantile(0.975, stat.LinInterp, means, nil),
	}
}

func pair(a, b []store.Record) [][2]store.Record {
	byTask := func(rs []store.Record) map[string][]store.Record {
		m := map[string][]store.Record{}
		for _, r := range rs {
			m[r.Task] = append(m[r.Task], r)
		}
		return m
	}
	ma, mb := byTask(a), byTask(b)
	tasks := make([]string, 0, len(ma))
	for t := range ma {
		tasks = append(tasks, t)
	}
	sort.Strings(tasks)

	var out [][2]store.Record
	for _, t := range tasks {
		xs, ys := ma[t], mb[t]
		for i := 0; i < len(xs) && i < len(ys); i++ {
			out = append(out, [2]store.Record{xs[i], ys[i]})
		}
	}
	return out
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
