package spec

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"backforge/internal/logging"
)

// RequiredKeys must be present and non-empty after template merging.
var RequiredKeys = []string{"task", "universe", "frequency", "start_date", "end_date"}

// MinWeeklySpan is the shortest date range accepted for weekly strategies.
const MinWeeklySpan = 26 * 7 * 24 * time.Hour

// PairModes are the accepted values of the pair_trading "mode" parameter.
var PairModes = []string{"cointegration", "distance"}

// Validator turns structured or free-text intent into a StrategySpec.
type Validator struct {
	catalog  Catalog
	universe map[string]bool
	start    time.Time
	end      time.Time
	structs  *validator.Validate
}

// NewValidator creates a validator over catalog; nil means DefaultCatalog.
func NewValidator(catalog Catalog) *Validator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	universe := make(map[string]bool, len(BaseUniverse))
	for _, s := range BaseUniverse {
		universe[s] = true
	}
	return &Validator{
		catalog:  catalog,
		universe: universe,
		start:    DataStart,
		end:      DataEnd,
		structs:  validator.New(),
	}
}

// Catalog returns the task catalog backing the validator.
func (v *Validator) Catalog() Catalog {
	return v.catalog
}

// Validate accepts a string prompt or a map[string]interface{} and returns the
// merged, constraint-checked spec. Failures are *MissingFieldError or
// *ConstraintViolationError.
func (v *Validator) Validate(input interface{}) (StrategySpec, error) {
	payload, err := parsePrompt(input)
	if err != nil {
		return StrategySpec{}, err
	}

	task := strings.TrimSpace(stringOf(payload["task"]))
	if task == "" {
		task = strings.TrimSpace(stringOf(payload["name"]))
	}
	template, ok := v.catalog.Template(task)
	if !ok {
		return StrategySpec{}, violation("task", "task %q not in frozen suite. Allowed: %s",
			task, strings.Join(v.catalog.Names(), ", "))
	}

	overrides, err := coerce(payload)
	if err != nil {
		return StrategySpec{}, err
	}
	merged := template.AsMap()
	for k, val := range overrides {
		if k == "params" {
			if p, ok := val.(map[string]interface{}); ok {
				base, _ := merged["params"].(map[string]interface{})
				for pk, pv := range p {
					base[pk] = pv
				}
				continue
			}
		}
		merged[k] = val
	}
	merged["task"] = task

	var missing []string
	for _, k := range RequiredKeys {
		if isEmpty(merged[k]) {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return StrategySpec{}, &MissingFieldError{Fields: missing}
	}

	s, err := decode(merged)
	if err != nil {
		return StrategySpec{}, err
	}
	if err := v.check(s); err != nil {
		return StrategySpec{}, err
	}
	logging.Spec("validated spec %s (task=%s universe=%v %s..%s)",
		s.Name, s.Task, s.Universe, s.StartDate.Format(DateLayout), s.EndDate.Format(DateLayout))
	return s, nil
}

func (v *Validator) check(s StrategySpec) error {
	if err := v.structs.Struct(s); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			field := jsonName(fe.Field())
			if fe.Field() == "EndDate" && fe.Tag() == "gtfield" {
				return violation("start_date", "start_date must be earlier than end_date")
			}
			return violation(field, "failed %q constraint", fe.Tag())
		}
		return violation("", "%v", err)
	}

	for _, sym := range s.Universe {
		if !v.universe[sym] {
			return violation("universe", "universe contains symbols outside frozen dataset: %s", sym)
		}
	}
	if s.StartDate.Before(v.start) || s.EndDate.After(v.end) {
		return violation("start_date", "requested window (%s→%s) exceeds data freeze %s→%s",
			s.StartDate.Format(DateLayout), s.EndDate.Format(DateLayout),
			v.start.Format(DateLayout), v.end.Format(DateLayout))
	}
	if s.Frequency == Weekly && s.EndDate.Sub(s.StartDate) < MinWeeklySpan {
		return violation("frequency", "weekly strategies require at least 26 weeks of data")
	}
	if s.Task == "pair_trading" {
		mode, ok := s.Params["mode"]
		if !ok {
			mode = "cointegration"
		}
		valid := false
		for _, m := range PairModes {
			if mode == m {
				valid = true
			}
		}
		if !valid {
			return violation("params.mode", "pair_trading mode must be 'cointegration' or 'distance'")
		}
	}
	return nil
}

// parsePrompt tries JSON, then key: value / key=value lines, then treats the
// whole text as a task name.
func parsePrompt(input interface{}) (map[string]interface{}, error) {
	switch in := input.(type) {
	case map[string]interface{}:
		return in, nil
	case StrategySpec:
		return in.AsMap(), nil
	case string:
		cleaned := strings.TrimSpace(in)
		if cleaned == "" {
			return nil, violation("prompt", "prompt is empty")
		}
		var structured map[string]interface{}
		if err := json.Unmarshal([]byte(cleaned), &structured); err == nil {
			return structured, nil
		}
		fields := map[string]interface{}{}
		for _, line := range strings.Split(cleaned, "\n") {
			key, value, ok := strings.Cut(line, ":")
			if !ok {
				key, value, ok = strings.Cut(line, "=")
			}
			if !ok {
				continue
			}
			fields[strings.TrimSpace(key)] = strings.TrimSpace(value)
		}
		if len(fields) > 0 {
			return fields, nil
		}
		return map[string]interface{}{"task": cleaned}, nil
	default:
		return nil, violation("prompt", "unsupported prompt type %T", input)
	}
}

func coerce(payload map[string]interface{}) (map[string]interface{}, error) {
	out := make(map[string]interface{}, len(payload))
	for key, value := range payload {
		str, isString := value.(string)
		switch {
		case isString && (key == "universe" || key == "tools" || key == "required_metrics"):
			var list []interface{}
			for _, part := range strings.Split(str, ",") {
				if p := strings.TrimSpace(part); p != "" {
					list = append(list, p)
				}
			}
			out[key] = list
		case isString && key == "params":
			var p map[string]interface{}
			if err := json.Unmarshal([]byte(str), &p); err != nil {
				return nil, violation("params", "params must be JSON when provided as string: %s", str)
			}
			out[key] = p
		case isString && (key == "costs_bps" || key == "max_leverage"):
			f, err := strconv.ParseFloat(str, 64)
			if err != nil {
				return nil, violation(key, "not a number: %q", str)
			}
			out[key] = f
		case isString && key == "seed":
			n, err := strconv.Atoi(str)
			if err != nil {
				return nil, violation(key, "not an integer: %q", str)
			}
			out[key] = float64(n)
		default:
			out[key] = value
		}
	}
	return out, nil
}

func decode(m map[string]interface{}) (StrategySpec, error) {
	var (
		s   StrategySpec
		err error
	)
	s.Task = stringOf(m["task"])
	s.Name = stringOf(m["name"])
	if s.Name == "" {
		s.Name = s.Task
	}
	s.Description = stringOf(m["description"])
	s.Signal = stringOf(m["signal"])
	s.Frequency = Frequency(stringOf(m["frequency"]))

	if s.Universe, err = stringList(m["universe"], "universe"); err != nil {
		return s, err
	}
	if s.Tools, err = stringList(m["tools"], "tools"); err != nil {
		return s, err
	}
	if s.RequiredMetrics, err = stringList(m["required_metrics"], "required_metrics"); err != nil {
		return s, err
	}

	s.Rules = map[string]string{}
	switch rules := m["rules"].(type) {
	case map[string]interface{}:
		for k, v := range rules {
			s.Rules[k] = fmt.Sprint(v)
		}
	case map[string]string:
		for k, v := range rules {
			s.Rules[k] = v
		}
	case nil:
	default:
		return s, violation("rules", "expected a map, got %T", rules)
	}

	switch p := m["params"].(type) {
	case map[string]interface{}:
		s.Params = cloneParams(p)
	case nil:
		s.Params = map[string]interface{}{}
	default:
		return s, violation("params", "expected a map, got %T", p)
	}

	if s.CostsBps, err = number(m["costs_bps"], "costs_bps", 1.0); err != nil {
		return s, err
	}
	if s.MaxLeverage, err = number(m["max_leverage"], "max_leverage", 1.0); err != nil {
		return s, err
	}
	seed, err := number(m["seed"], "seed", 42)
	if err != nil {
		return s, err
	}
	s.Seed = int(seed)

	if s.StartDate, err = date(m["start_date"], "start_date"); err != nil {
		return s, err
	}
	if s.EndDate, err = date(m["end_date"], "end_date"); err != nil {
		return s, err
	}
	return s, nil
}

func stringList(v interface{}, field string) ([]string, error) {
	switch list := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return append([]string(nil), list...), nil
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, violation(field, "expected strings, got %T", item)
			}
			out = append(out, strings.TrimSpace(s))
		}
		return out, nil
	default:
		return nil, violation(field, "expected a list, got %T", v)
	}
}

func number(v interface{}, field string, def float64) (float64, error) {
	switch n := v.(type) {
	case nil:
		return def, nil
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case json.Number:
		return n.Float64()
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, violation(field, "not a number: %q", n)
		}
		return f, nil
	default:
		return 0, violation(field, "expected a number, got %T", v)
	}
}

func date(v interface{}, field string) (time.Time, error) {
	switch d := v.(type) {
	case time.Time:
		return d.UTC().Truncate(24 * time.Hour), nil
	case string:
		t, err := time.Parse(DateLayout, strings.TrimSpace(d))
		if err != nil {
			return time.Time{}, violation(field, "invalid date %q (want YYYY-MM-DD)", d)
		}
		return t, nil
	default:
		return time.Time{}, violation(field, "expected a date, got %T", v)
	}
}

func isEmpty(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	case []interface{}:
		return len(x) == 0
	case []string:
		return len(x) == 0
	}
	return false
}

func stringOf(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func jsonName(field string) string {
	switch field {
	case "CostsBps":
		return "costs_bps"
	case "MaxLeverage":
		return "max_leverage"
	case "StartDate":
		return "start_date"
	case "EndDate":
		return "end_date"
	case "RequiredMetrics":
		return "required_metrics"
	}
	return strings.ToLower(field)
}
