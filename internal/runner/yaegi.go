package runner

import (
	"context"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"backforge/internal/kb"
	"backforge/internal/verification"
)

// Strategy is a loaded candidate entry point.
type Strategy interface {
	Run(ctx context.Context, prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error)
}

// Loader turns a candidate file into a callable Strategy.
type Loader interface {
	Load(ctx context.Context, path string) (Strategy, error)
}

// StrategyFunc adapts a plain function to Strategy.
type StrategyFunc func(prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error)

// Run implements Strategy.
func (f StrategyFunc) Run(_ context.Context, prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error) {
	return f(prices, spec)
}

// kbSymbols exposes the helper library to interpreted candidates as
// "backforge/kb".
var kbSymbols = interp.Exports{
	"backforge/kb/kb": {
		"PriceTable":   reflect.ValueOf((*kb.PriceTable)(nil)),
		"Series":       reflect.ValueOf((*kb.Series)(nil)),
		"StrategyFunc": reflect.ValueOf((*kb.StrategyFunc)(nil)),

		"TradingPeriods": reflect.ValueOf(kb.TradingPeriods),

		"NewPriceTable":        reflect.ValueOf(kb.NewPriceTable),
		"NewSeries":            reflect.ValueOf(kb.NewSeries),
		"PctReturns":           reflect.ValueOf(kb.PctReturns),
		"SharpeRatio":          reflect.ValueOf(kb.SharpeRatio),
		"CumulativeIndex":      reflect.ValueOf(kb.CumulativeIndex),
		"MaxDrawdown":          reflect.ValueOf(kb.MaxDrawdown),
		"NormalizeWeights":     reflect.ValueOf(kb.NormalizeWeights),
		"ComputeTurnover":      reflect.ValueOf(kb.ComputeTurnover),
		"PortfolioReturns":     reflect.ValueOf(kb.PortfolioReturns),
		"WalkForwardStability": reflect.ValueOf(kb.WalkForwardStability),
		"Correlation":          reflect.ValueOf(kb.Correlation),
		"RollingMean":          reflect.ValueOf(kb.RollingMean),
		"RollingStd":           reflect.ValueOf(kb.RollingStd),
		"RollingSum":           reflect.ValueOf(kb.RollingSum),
		"RollingMax":           reflect.ValueOf(kb.RollingMax),
		"RollingMin":           reflect.ValueOf(kb.RollingMin),
		"TopK":                 reflect.ValueOf(kb.TopK),
		"Columns":              reflect.ValueOf(kb.Columns),
		"Params":               reflect.ValueOf(kb.Params),
		"ParamFloat":           reflect.ValueOf(kb.ParamFloat),
		"ParamInt":             reflect.ValueOf(kb.ParamInt),
		"ParamString":          reflect.ValueOf(kb.ParamString),
		"ParamFloats":          reflect.ValueOf(kb.ParamFloats),
		"SpecStrings":          reflect.ValueOf(kb.SpecStrings),
		"RunReference":         reflect.ValueOf(kb.RunReference),
	},
}

// allowedStdlib is the subset of the interpreter's stdlib table candidates
// may import.
func allowedStdlib() interp.Exports {
	out := interp.Exports{}
	for key, syms := range stdlib.Symbols {
		i := strings.LastIndex(key, "/")
		if i < 0 {
			continue
		}
		if verification.IsAllowedImport(key[:i]) {
			out[key] = syms
		}
	}
	return out
}

// YaegiLoader interprets candidate source with yaegi. Only the allowed
// stdlib packages and backforge/kb are visible to the candidate.
type YaegiLoader struct{}

// NewYaegiLoader creates an interpreter-backed loader.
func NewYaegiLoader() *YaegiLoader {
	return &YaegiLoader{}
}

// Load implements Loader.
func (l *YaegiLoader) Load(ctx context.Context, path string) (s Strategy, err error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read candidate: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			s, err = nil, fmt.Errorf("interpreter panic loading %s: %v", path, r)
		}
	}()

	i := interp.New(interp.Options{})
	if err := i.Use(allowedStdlib()); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(kbSymbols); err != nil {
		return nil, fmt.Errorf("failed to load kb: %w", err)
	}
	if _, err := i.EvalWithContext(ctx, string(src)); err != nil {
		return nil, fmt.Errorf("candidate evaluation failed: %w", err)
	}
	v, err := i.EvalWithContext(ctx, "main."+verification.EntryPoint)
	if err != nil {
		return nil, fmt.Errorf("%s not found: %w", verification.EntryPoint, err)
	}
	fn, ok := v.Interface().(func(*kb.PriceTable, map[string]interface{}) (interface{}, error))
	if !ok {
		return nil, &ContractViolationError{
			Rule: fmt.Sprintf("%s has signature %s", verification.EntryPoint, v.Type()),
		}
	}
	return StrategyFunc(fn), nil
}
