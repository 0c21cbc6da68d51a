// Package tools resolves requested capability names to descriptors of the
// vetted helpers in backforge/kb that generated strategies may call.
package tools

import "fmt"

// KBModule is the import path candidates use for the helper library.
const KBModule = "backforge/kb"

// Descriptor describes one vetted helper routine.
type Descriptor struct {
	// Name is the capability name used in specs (e.g. "sharpe").
	Name string

	// Module is the import path defining the helper.
	Module string

	// Symbol is the exported identifier within Module.
	Symbol string

	// Description is a one-line signature shown to the code generator.
	Description string
}

// Validate checks if the descriptor is usable.
func (d Descriptor) Validate() error {
	if d.Name == "" {
		return ErrToolNameEmpty
	}
	if d.Symbol == "" {
		return ErrToolSymbolEmpty
	}
	return nil
}

// Ref is the qualified reference rendered into prompts, e.g. kb.SharpeRatio.
func (d Descriptor) Ref() string {
	return fmt.Sprintf("kb.%s", d.Symbol)
}

// Builtin returns the descriptors of the default helper set.
func Builtin() []Descriptor {
	return []Descriptor{
		{
			Name:        "returns",
			Module:      KBModule,
			Symbol:      "PctReturns",
			Description: "PctReturns(t *kb.PriceTable) [][]float64 period returns per column, first row and undefined values 0.",
		},
		{
			Name:        "sharpe",
			Module:      KBModule,
			Symbol:      "SharpeRatio",
			Description: "SharpeRatio(r []float64, rf float64, periods int) float64 annualized Sharpe ratio.",
		},
		{
			Name:        "drawdown",
			Module:      KBModule,
			Symbol:      "MaxDrawdown",
			Description: "MaxDrawdown(cum []float64) float64 most negative peak-to-trough drop of a wealth index (see kb.CumulativeIndex).",
		},
		{
			Name:        "normalize_weights",
			Module:      KBModule,
			Symbol:      "NormalizeWeights",
			Description: "NormalizeWeights(w [][]float64, maxLeverage float64) [][]float64 unit gross exposure per row scaled by maxLeverage.",
		},
		{
			Name:        "compute_turnover",
			Module:      KBModule,
			Symbol:      "ComputeTurnover",
			Description: "ComputeTurnover(w [][]float64) float64 average per-period absolute weight change.",
		},
		{
			Name:        "walk_forward",
			Module:      KBModule,
			Symbol:      "WalkForwardStability",
			Description: "WalkForwardStability(r []float64, splits int) float64 mean rolling volatility across walk-forward chunks.",
		},
		{
			Name:        "portfolio_returns",
			Module:      KBModule,
			Symbol:      "PortfolioReturns",
			Description: "PortfolioReturns(w, rets [][]float64) []float64 applies yesterday's weights to today's returns.",
		},
		{
			Name:        "rolling",
			Module:      KBModule,
			Symbol:      "RollingMean",
			Description: "RollingMean/RollingStd/RollingSum/RollingMax/RollingMin(x []float64, window int) []float64, NaN during warmup.",
		},
		{
			Name:        "reference",
			Module:      KBModule,
			Symbol:      "RunReference",
			Description: "RunReference(task string, prices *kb.PriceTable, spec map[string]interface{}) (map[string]interface{}, error) vetted strategy for a catalog task.",
		},
	}
}
