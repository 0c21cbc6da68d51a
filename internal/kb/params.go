package kb

import (
	"strconv"
)

// Params returns the nested "params" map of a spec map, or nil.
func Params(spec map[string]interface{}) map[string]interface{} {
	p, _ := spec["params"].(map[string]interface{})
	return p
}

// ParamFloat reads a numeric strategy parameter, falling back to def.
func ParamFloat(spec map[string]interface{}, key string, def float64) float64 {
	if v, ok := toFloat(Params(spec)[key]); ok {
		return v
	}
	return def
}

// ParamInt reads an integer strategy parameter, falling back to def.
func ParamInt(spec map[string]interface{}, key string, def int) int {
	if v, ok := toFloat(Params(spec)[key]); ok {
		return int(v)
	}
	return def
}

// ParamString reads a string strategy parameter, falling back to def.
func ParamString(spec map[string]interface{}, key, def string) string {
	if s, ok := Params(spec)[key].(string); ok && s != "" {
		return s
	}
	return def
}

// ParamFloats reads a numeric list parameter, falling back to def.
func ParamFloats(spec map[string]interface{}, key string, def []float64) []float64 {
	switch v := Params(spec)[key].(type) {
	case []float64:
		return v
	case []int:
		out := make([]float64, len(v))
		for i, x := range v {
			out[i] = float64(x)
		}
		return out
	case []interface{}:
		out := make([]float64, 0, len(v))
		for _, x := range v {
			if f, ok := toFloat(x); ok {
				out = append(out, f)
			}
		}
		return out
	}
	return def
}

// SpecStrings reads a top-level string list such as "universe".
func SpecStrings(spec map[string]interface{}, key string) []string {
	switch v := spec[key].(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, x := range v {
			if s, ok := x.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func specFloat(spec map[string]interface{}, key string, def float64) float64 {
	if v, ok := toFloat(spec[key]); ok {
		return v
	}
	return def
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	}
	return 0, false
}
