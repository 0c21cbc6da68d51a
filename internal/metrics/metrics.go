// Package metrics derives performance records from a candidate's returns.
package metrics

import (
	"errors"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"backforge/internal/kb"
	"backforge/internal/spec"
)

// ErrNoReturns is returned when the evaluation window holds no observations.
var ErrNoReturns = errors.New("strategy produced no returns for evaluation window")

// CandidateResult is the canonical output of one candidate execution.
type CandidateResult struct {
	Returns     kb.Series
	Turnover    float64
	Diagnostics map[string]float64
}

// EvaluatedOutcome is the derived performance record of one successful run.
type EvaluatedOutcome struct {
	AnnReturn     float64            `json:"ann_return"`
	AnnVol        float64            `json:"ann_vol"`
	Sharpe        float64            `json:"sharpe"`
	MaxDD         float64            `json:"max_dd"`
	Turnover      float64            `json:"turnover"`
	Trades        int                `json:"trades"`
	HitRate       float64            `json:"hit_rate"`
	ProfitFactor  float64            `json:"pf"`
	Seed          int                `json:"seed"`
	PeriodStart   time.Time          `json:"period_start"`
	PeriodEnd     time.Time          `json:"period_end"`
	ArtifactPaths []string           `json:"artifact_paths"`
	Diagnostics   map[string]float64 `json:"diagnostics"`
	Issues        []string           `json:"issues"`
}

// Headline returns the four metrics every outcome must keep finite.
func (o EvaluatedOutcome) Headline() []float64 {
	return []float64{o.AnnReturn, o.AnnVol, o.Sharpe, o.MaxDD}
}

// AsMap flattens the scalar metrics for reports, CEL checks and storage.
func (o EvaluatedOutcome) AsMap() map[string]float64 {
	return map[string]float64{
		"ann_return": o.AnnReturn,
		"ann_vol":    o.AnnVol,
		"sharpe":     o.Sharpe,
		"max_dd":     o.MaxDD,
		"turnover":   o.Turnover,
		"trades":     float64(o.Trades),
		"hit_rate":   o.HitRate,
		"pf":         o.ProfitFactor,
	}
}

// Evaluate computes the performance record of res under s's costs.
// Costs are charged as a uniform per-period drag of turnover*costs_bps/1e4,
// which affects hit rate and profit factor but not the headline metrics.
func Evaluate(res CandidateResult, s spec.StrategySpec, artifact string) (EvaluatedOutcome, error) {
	r := res.Returns.Values
	n := len(r)
	if n == 0 {
		return EvaluatedOutcome{}, ErrNoReturns
	}

	gross := 1.0
	for _, v := range r {
		gross *= 1 + v
	}
	annReturn := math.Pow(gross, float64(kb.TradingPeriods)/float64(n)) - 1
	annVol := stat.StdDev(r, nil) * math.Sqrt(kb.TradingPeriods)
	sharpe := kb.SharpeRatio(r, 0, kb.TradingPeriods)
	maxDD := kb.MaxDrawdown(kb.CumulativeIndex(r))

	costDrag := res.Turnover * s.CostsBps / 10000
	net := make([]float64, n)
	copy(net, r)
	floats.AddConst(-costDrag, net)

	var wins, gains, losses float64
	for _, v := range net {
		switch {
		case v > 0:
			wins++
			gains += v
		case v < 0:
			losses += v
		}
	}
	pf := math.Inf(1)
	if losses != 0 {
		pf = gains / math.Abs(losses)
	}

	diag := make(map[string]float64, len(res.Diagnostics)+2)
	for k, v := range res.Diagnostics {
		diag[k] = v
	}
	diag["turnover"] = res.Turnover
	diag["cost_drag"] = costDrag

	var paths []string
	if artifact != "" {
		paths = []string{artifact}
	}
	return EvaluatedOutcome{
		AnnReturn:     annReturn,
		AnnVol:        annVol,
		Sharpe:        sharpe,
		MaxDD:         maxDD,
		Turnover:      res.Turnover,
		Trades:        int(res.Turnover * float64(n)),
		HitRate:       wins / float64(n),
		ProfitFactor:  pf,
		Seed:          s.Seed,
		PeriodStart:   s.StartDate,
		PeriodEnd:     s.EndDate,
		ArtifactPaths: paths,
		Diagnostics:   diag,
	}, nil
}
