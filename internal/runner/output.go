package runner

import (
	"fmt"
	"math"
	"time"

	"backforge/internal/kb"
	"backforge/internal/metrics"
)

// ContractViolationError reports a candidate output of the wrong shape.
type ContractViolationError struct {
	Rule string
}

func (e *ContractViolationError) Error() string {
	return "candidate output violates contract: " + e.Rule
}

func violation(format string, args ...interface{}) error {
	return &ContractViolationError{Rule: fmt.Sprintf(format, args...)}
}

// Output is the validated result of one candidate call, either ReturnsOnly
// or ReturnsWithDiagnostics.
type Output interface {
	Result() metrics.CandidateResult
	isOutput()
}

// ReturnsOnly is a bare return series.
type ReturnsOnly struct {
	Returns kb.Series
}

// Result implements Output.
func (o ReturnsOnly) Result() metrics.CandidateResult {
	return metrics.CandidateResult{Returns: o.Returns, Diagnostics: map[string]float64{}}
}

func (ReturnsOnly) isOutput() {}

// ReturnsWithDiagnostics is a return series plus scalar side metrics.
type ReturnsWithDiagnostics struct {
	Returns     kb.Series
	Turnover    float64
	Diagnostics map[string]float64
}

// Result implements Output.
func (o ReturnsWithDiagnostics) Result() metrics.CandidateResult {
	return metrics.CandidateResult{Returns: o.Returns, Turnover: o.Turnover, Diagnostics: o.Diagnostics}
}

func (ReturnsWithDiagnostics) isOutput() {}

// DecodeOutput validates raw against the candidate contract. Bare slices must
// align with dates.
func DecodeOutput(raw interface{}, dates []time.Time) (Output, error) {
	if m, ok := raw.(map[string]interface{}); ok {
		return decodeMap(m, dates)
	}
	s, err := decodeSeries(raw, dates)
	if err != nil {
		return nil, err
	}
	return ReturnsOnly{Returns: s}, nil
}

func decodeMap(m map[string]interface{}, dates []time.Time) (Output, error) {
	raw, ok := m["returns"]
	if !ok {
		return nil, violation(`map output must contain a "returns" key`)
	}
	s, err := decodeSeries(raw, dates)
	if err != nil {
		return nil, err
	}

	out := ReturnsWithDiagnostics{Returns: s, Diagnostics: map[string]float64{}}
	for k, v := range m {
		if k == "returns" {
			continue
		}
		f, numeric := scalar(v)
		if k == "turnover" {
			if !numeric {
				return nil, violation("turnover must be numeric, got %T", v)
			}
			if f < 0 || math.IsNaN(f) || math.IsInf(f, 0) {
				return nil, violation("turnover must be finite and non-negative, got %v", f)
			}
			out.Turnover = f
			continue
		}
		if numeric {
			out.Diagnostics[k] = f
		}
	}
	return out, nil
}

func decodeSeries(raw interface{}, dates []time.Time) (kb.Series, error) {
	switch v := raw.(type) {
	case kb.Series:
		return alignSeries(v, dates)
	case *kb.Series:
		if v == nil {
			return kb.Series{}, violation("returns is a nil *kb.Series")
		}
		return alignSeries(*v, dates)
	case []float64:
		if len(v) != len(dates) {
			return kb.Series{}, violation("returns has %d values for %d price rows", len(v), len(dates))
		}
		return kb.NewSeries(dates, append([]float64(nil), v...)), nil
	case nil:
		return kb.Series{}, violation("candidate returned nil")
	default:
		return kb.Series{}, violation("unsupported return type %T", raw)
	}
}

func alignSeries(s kb.Series, dates []time.Time) (kb.Series, error) {
	switch {
	case len(s.Dates) == len(s.Values):
		return s, nil
	case len(s.Dates) == 0 && len(s.Values) == len(dates):
		return kb.NewSeries(dates, s.Values), nil
	default:
		return kb.Series{}, violation("series has %d dates for %d values", len(s.Dates), len(s.Values))
	}
}

func scalar(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	}
	return 0, false
}
