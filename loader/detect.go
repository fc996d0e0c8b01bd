// Package loader reads and writes canvasflow workflow files in JSON or YAML.
package loader

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrUnrecognizedSchema means the file parsed but is not a canvasflow
// workflow document.
var ErrUnrecognizedSchema = errors.New("unrecognized workflow schema")

// Detect checks that data looks like a canvasflow document:
//  1. Determine parse format from extension (.yaml/.yml -> YAML, else JSON)
//  2. The top level must be an object with a "nodes" list
//  3. "connections", when present, must be a list
//  4. Graph files using "edges" instead of "connections" are rejected
func Detect(data []byte, filePath string) error {
	var raw map[string]any
	if isYAML(filePath) {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing YAML: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("parsing JSON: %w", err)
		}
	}

	if _, ok := raw["nodes"].([]any); !ok {
		return fmt.Errorf("%w: missing \"nodes\" list", ErrUnrecognizedSchema)
	}
	if conns, ok := raw["connections"]; ok {
		if _, isList := conns.([]any); !isList && conns != nil {
			return fmt.Errorf("%w: \"connections\" must be a list", ErrUnrecognizedSchema)
		}
	} else if hasKey(raw, "edges") {
		return fmt.Errorf("%w: found \"edges\", expected \"connections\"", ErrUnrecognizedSchema)
	}
	return nil
}

// isYAML returns true if the file path has a YAML extension.
func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// hasKey checks if a key exists in a map.
func hasKey(m map[string]any, key string) bool {
	_, ok := m[key]
	return ok
}

// yamlToJSON converts YAML bytes to JSON bytes:
// YAML -> map[string]any -> JSON bytes -> typed struct.
func yamlToJSON(data []byte) ([]byte, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	return json.Marshal(raw)
}

// jsonToYAML converts JSON bytes to YAML, keeping the JSON field names.
func jsonToYAML(data []byte) ([]byte, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return yaml.Marshal(raw)
}
