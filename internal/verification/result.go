package verification

import (
	"fmt"
	"math"
	"sort"

	"github.com/google/cel-go/cel"

	"backforge/internal/logging"
	"backforge/internal/metrics"
)

// Thresholds tune the built-in result predicates.
type Thresholds struct {
	NonTrivial      float64 `yaml:"non_trivial_tolerance"`
	ReturnFloor     float64 `yaml:"return_floor"`
	TurnoverCeiling float64 `yaml:"turnover_ceiling"`
	SharpeBound     float64 `yaml:"sharpe_bound"`
}

// DefaultThresholds returns the stock predicate limits.
func DefaultThresholds() Thresholds {
	return Thresholds{
		NonTrivial:      0.1,
		ReturnFloor:     0.0,
		TurnoverCeiling: 5.0,
		SharpeBound:     5.0,
	}
}

// Check is one named predicate over an outcome.
type Check struct {
	Name string
	Pass func(metrics.EvaluatedOutcome) bool
}

// ResultVerifier evaluates every check independently.
type ResultVerifier struct {
	checks []Check
}

// NewResultVerifier builds the built-in checks from th and compiles extra,
// a map of check name to CEL expression over the outcome's metrics.
func NewResultVerifier(th Thresholds, extra map[string]string) (*ResultVerifier, error) {
	checks := []Check{
		{Name: "finite_metrics", Pass: func(o metrics.EvaluatedOutcome) bool {
			for _, v := range o.Headline() {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return false
				}
			}
			return true
		}},
		{Name: "non_trivial_performance", Pass: func(o metrics.EvaluatedOutcome) bool {
			score := math.Abs(o.AnnReturn) + o.AnnVol + math.Abs(o.MaxDD) + o.Turnover
			return score > th.NonTrivial
		}},
		{Name: "return_reasonable", Pass: func(o metrics.EvaluatedOutcome) bool {
			return o.AnnReturn >= th.ReturnFloor
		}},
		{Name: "turnover_reasonable", Pass: func(o metrics.EvaluatedOutcome) bool {
			return o.Turnover <= th.TurnoverCeiling
		}},
		{Name: "sharpe_in_range", Pass: func(o metrics.EvaluatedOutcome) bool {
			return o.Sharpe >= -th.SharpeBound && o.Sharpe <= th.SharpeBound
		}},
		{Name: "hit_rate_bounds", Pass: func(o metrics.EvaluatedOutcome) bool {
			return o.HitRate >= 0 && o.HitRate <= 1
		}},
	}

	if len(extra) > 0 {
		celChecks, err := compileExtra(extra)
		if err != nil {
			return nil, err
		}
		checks = append(checks, celChecks...)
	}
	return &ResultVerifier{checks: checks}, nil
}

// Names lists the check names in evaluation order.
func (v *ResultVerifier) Names() []string {
	names := make([]string, len(v.checks))
	for i, c := range v.checks {
		names[i] = c.Name
	}
	return names
}

// Verify runs every check and reports all failures together.
func (v *ResultVerifier) Verify(o metrics.EvaluatedOutcome) (bool, []string) {
	var failed []string
	for _, c := range v.checks {
		if !c.Pass(o) {
			failed = append(failed, c.Name)
		}
	}
	if len(failed) > 0 {
		logging.Verify("result checks failed: %v", failed)
	}
	return len(failed) == 0, failed
}

// compileExtra turns name→expression pairs into checks. Expressions see each
// metric (ann_return, ann_vol, sharpe, max_dd, turnover, trades, hit_rate,
// pf) as a double plus a diagnostics map.
func compileExtra(extra map[string]string) ([]Check, error) {
	opts := []cel.EnvOption{
		cel.Variable("diagnostics", cel.MapType(cel.StringType, cel.DoubleType)),
	}
	for name := range (metrics.EvaluatedOutcome{}).AsMap() {
		opts = append(opts, cel.Variable(name, cel.DoubleType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	names := make([]string, 0, len(extra))
	for name := range extra {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make([]Check, 0, len(names))
	for _, name := range names {
		expr := extra[name]
		ast, issues := env.Compile(expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("check %s: compile: %w", name, issues.Err())
		}
		if !ast.OutputType().IsExactType(cel.BoolType) {
			return nil, fmt.Errorf("check %s: expression must be boolean, got %s", name, ast.OutputType())
		}
		prg, err := env.Program(ast, cel.CostLimit(10000))
		if err != nil {
			return nil, fmt.Errorf("check %s: program: %w", name, err)
		}
		checkName := name
		checks = append(checks, Check{Name: checkName, Pass: func(o metrics.EvaluatedOutcome) bool {
			input := make(map[string]any, 9)
			for k, v := range o.AsMap() {
				input[k] = v
			}
			diag := o.Diagnostics
			if diag == nil {
				diag = map[string]float64{}
			}
			input["diagnostics"] = diag
			out, _, err := prg.Eval(input)
			if err != nil {
				logging.VerifyDebug("check %s errored: %v", checkName, err)
				return false
			}
			pass, ok := out.Value().(bool)
			return ok && pass
		}})
	}
	return checks, nil
}
