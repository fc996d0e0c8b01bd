package core

import (
	"encoding/json"
	"fmt"
)

// Inputs maps an input port name to the data gathered for it.
//
// A port fed by exactly one connection holds that upstream result unchanged.
// A port fed by several connections holds a []any of the upstream results in
// connection-registration order. Ports with no incoming connection are absent.
type Inputs map[string]any

// Has reports whether any upstream result reached port.
func (in Inputs) Has(port string) bool {
	_, ok := in[port]
	return ok
}

// Values returns the data for port as a slice regardless of fan-in.
func (in Inputs) Values(port string) []any {
	v, ok := in[port]
	if !ok {
		return nil
	}
	if list, ok := v.([]any); ok {
		return list
	}
	return []any{v}
}

// Text coerces the data for port into prompt text: strings are used as-is,
// maps with a "text" field yield that field, anything else is rendered as
// indented JSON. A missing port yields "" and false.
func (in Inputs) Text(port string) (string, bool) {
	v, ok := in[port]
	if !ok || v == nil {
		return "", false
	}
	return AsText(v), true
}

// AsText converts an arbitrary upstream result to text using the same rules
// as Inputs.Text.
func AsText(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case map[string]any:
		if s, ok := val["text"].(string); ok {
			return s
		}
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
