package core

import (
	"math"
	"strconv"
	"strings"
)

// Parameters holds the user-editable configuration of a node.
// Values are strings, float64 numbers, booleans or enum strings, matching
// what a JSON document decodes to.
type Parameters map[string]any

// Clone returns a shallow copy of the parameters.
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// String returns the parameter as a string. Non-string scalars are formatted.
func (p Parameters) String(name string) string {
	switch v := p[name].(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	default:
		return ""
	}
}

// Float returns the parameter as a float64. Numeric strings are parsed, since
// form editors commonly store numbers as text.
func (p Parameters) Float(name string) (float64, bool) {
	switch v := p[name].(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Int returns the parameter truncated to an int.
func (p Parameters) Int(name string) (int, bool) {
	f, ok := p.Float(name)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Bool returns the parameter as a bool. The strings "true" and "false" are accepted.
func (p Parameters) Bool(name string) (bool, bool) {
	switch v := p[name].(type) {
	case bool:
		return v, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return false, false
		}
		return b, true
	default:
		return false, false
	}
}
