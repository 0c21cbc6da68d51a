// Package spec turns raw user intent into a validated StrategySpec.
package spec

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Frequency is the rebalancing cadence of a strategy.
type Frequency string

const (
	Daily  Frequency = "daily"
	Weekly Frequency = "weekly"
)

// StrategySpec is the validated description of one backtest request. It is
// treated as a value: the only mutation the pipeline performs is WithSeed,
// which returns a copy.
type StrategySpec struct {
	Name            string                 `json:"name" validate:"required"`
	Task            string                 `json:"task" validate:"required"`
	Description     string                 `json:"description"`
	Universe        []string               `json:"universe" validate:"required,min=1,dive,required"`
	Frequency       Frequency              `json:"frequency" validate:"required,oneof=daily weekly"`
	Signal          string                 `json:"signal"`
	Rules           map[string]string      `json:"rules"`
	Tools           []string               `json:"tools"`
	RequiredMetrics []string               `json:"required_metrics"`
	Params          map[string]interface{} `json:"params"`
	CostsBps        float64                `json:"costs_bps" validate:"gte=0"`
	StartDate       time.Time              `json:"start_date" validate:"required"`
	EndDate         time.Time              `json:"end_date" validate:"required,gtfield=StartDate"`
	Seed            int                    `json:"seed"`
	MaxLeverage     float64                `json:"max_leverage" validate:"gt=0"`
}

// Clone returns a deep copy.
func (s StrategySpec) Clone() StrategySpec {
	out := s
	out.Universe = append([]string(nil), s.Universe...)
	out.Tools = append([]string(nil), s.Tools...)
	out.RequiredMetrics = append([]string(nil), s.RequiredMetrics...)
	if s.Rules != nil {
		out.Rules = make(map[string]string, len(s.Rules))
		for k, v := range s.Rules {
			out.Rules[k] = v
		}
	}
	out.Params = cloneParams(s.Params)
	return out
}

// WithSeed returns a copy of s carrying seed.
func (s StrategySpec) WithSeed(seed int) StrategySpec {
	out := s.Clone()
	out.Seed = seed
	return out
}

// AsMap renders the spec as the plain map handed to candidates. Dates are ISO
// strings, numbers are float64 and lists are []interface{}, matching what a
// JSON decoder would produce.
func (s StrategySpec) AsMap() map[string]interface{} {
	rules := make(map[string]interface{}, len(s.Rules))
	for k, v := range s.Rules {
		rules[k] = v
	}
	return map[string]interface{}{
		"name":             s.Name,
		"task":             s.Task,
		"description":      s.Description,
		"universe":         stringsToAny(s.Universe),
		"frequency":        string(s.Frequency),
		"signal":           s.Signal,
		"rules":            rules,
		"tools":            stringsToAny(s.Tools),
		"required_metrics": stringsToAny(s.RequiredMetrics),
		"params":           cloneParams(s.Params),
		"costs_bps":        s.CostsBps,
		"start_date":       s.StartDate.Format(DateLayout),
		"end_date":         s.EndDate.Format(DateLayout),
		"seed":             float64(s.Seed),
		"max_leverage":     s.MaxLeverage,
	}
}

// JSON renders the spec for prompts and reports.
func (s StrategySpec) JSON() string {
	data, err := json.MarshalIndent(s.AsMap(), "", "  ")
	if err != nil {
		return fmt.Sprintf("%+v", s)
	}
	return string(data)
}

// cloneParams deep-copies a params map through JSON so nested values end up
// in their decoded form.
func cloneParams(p map[string]interface{}) map[string]interface{} {
	out := map[string]interface{}{}
	if len(p) == 0 {
		return out
	}
	data, err := json.Marshal(p)
	if err != nil {
		for k, v := range p {
			out[k] = v
		}
		return out
	}
	_ = json.Unmarshal(data, &out)
	return out
}

func stringsToAny(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// MissingFieldError reports required keys absent after template merging.
type MissingFieldError struct {
	Fields []string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("strategy spec missing required fields: [%s]", strings.Join(e.Fields, ", "))
}

// ConstraintViolationError reports a spec that parsed but breaks a constraint.
type ConstraintViolationError struct {
	Field  string
	Reason string
}

func (e *ConstraintViolationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func violation(field, format string, args ...interface{}) error {
	return &ConstraintViolationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
