package synth

import (
	"fmt"
	"strings"
)

// FailureKind classifies why the previous attempt did not pass.
type FailureKind int

const (
	FailureNone FailureKind = iota
	FailureGeneration
	FailureStatic
	FailureData
	FailureContract
	FailureRuntime
	FailureTimeout
	FailureChecks
)

func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureGeneration:
		return "generation"
	case FailureStatic:
		return "static"
	case FailureData:
		return "data"
	case FailureContract:
		return "contract"
	case FailureRuntime:
		return "runtime"
	case FailureTimeout:
		return "timeout"
	case FailureChecks:
		return "checks"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// Failure is the repair context carried from one attempt to the next.
type Failure struct {
	Kind         FailureKind
	Message      string
	FailedChecks []string
}

// IsZero reports whether f carries no failure.
func (f Failure) IsZero() bool {
	return f.Kind == FailureNone && f.Message == "" && len(f.FailedChecks) == 0
}

// paramVocabulary triggers the parameter-access guidance when it appears in
// an error message.
var paramVocabulary = []string{"lookback", "top_k", "holding_period"}

const paramGuidance = `read parameters from spec["params"] with kb.ParamInt / kb.ParamFloat and fall back to sensible defaults; lookback, top_k and holding_period live under params`

var kindGuidance = map[FailureKind]string{
	FailureGeneration: "reply with exactly one ```go fenced block holding the complete file",
	FailureStatic:     "the file must compile as package main, import only the allowed packages and declare func RunStrategy(prices *kb.PriceTable, spec map[string]interface{}) (interface{}, error)",
	FailureData:       "use only the symbols in spec universe and tolerate NaN closes (kb.PriceTable.FillForward)",
	FailureContract:   `return kb.Series, []float64 aligned to prices.Dates, or map[string]interface{} with a "returns" entry`,
	FailureRuntime:    "guard slice indexes against short windows and return errors instead of panicking",
	FailureTimeout:    "keep the work linear in the number of dates; use kb.Rolling* helpers instead of nested loops",
}

const reminders = "Ensure returns align with prices.Dates, normalize weights with kb.NormalizeWeights before kb.ComputeTurnover, keep gross leverage <= max_leverage, and report turnover as a float64 diagnostic."

// BuildHint folds the previous failure into the repair directive for the
// given attempt. Sections are joined with " | ".
func BuildHint(task string, attempt int, f Failure) string {
	parts := []string{fmt.Sprintf("Repair attempt %d for task %s", attempt, task)}

	if f.Message != "" {
		parts = append(parts, "runtime: "+f.Message)
		lower := strings.ToLower(f.Message)
		for _, word := range paramVocabulary {
			if strings.Contains(lower, word) {
				parts = append(parts, paramGuidance)
				break
			}
		}
	}
	if g, ok := kindGuidance[f.Kind]; ok {
		parts = append(parts, g)
	}
	if len(f.FailedChecks) > 0 {
		parts = append(parts, "verifier: "+strings.Join(f.FailedChecks, ", "))
	}
	parts = append(parts, reminders)
	return strings.Join(parts, " | ")
}
