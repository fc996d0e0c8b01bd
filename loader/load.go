package loader

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/petal-labs/canvasflow/document"
	"github.com/petal-labs/canvasflow/graph"
	"github.com/petal-labs/canvasflow/registry"
)

// ReadDocument reads and parses a workflow file.
func ReadDocument(path string) (document.Document, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller
	if err != nil {
		return document.Document{}, fmt.Errorf("reading file %s: %w", path, err)
	}
	return ParseDocument(data, path)
}

// ParseDocument parses workflow bytes. The format follows the extension of
// path: .yaml/.yml is YAML, anything else JSON.
func ParseDocument(data []byte, path string) (document.Document, error) {
	if err := Detect(data, path); err != nil {
		return document.Document{}, err
	}
	jsonData, err := toJSON(data, path)
	if err != nil {
		return document.Document{}, err
	}

	var doc document.Document
	if err := json.Unmarshal(jsonData, &doc); err != nil {
		return document.Document{}, fmt.Errorf("parsing workflow document: %w", err)
	}
	return doc, nil
}

// Load reads a workflow file and rebuilds its graph with reg. Skipped
// entries are returned as warnings.
func Load(path string, reg *registry.Registry, logger *slog.Logger) (*graph.Graph, []document.Warning, error) {
	doc, err := ReadDocument(path)
	if err != nil {
		return nil, nil, err
	}
	return document.Decode(doc, reg, logger)
}

// MarshalDocument encodes doc for path: YAML for .yaml/.yml, indented JSON
// otherwise.
func MarshalDocument(doc document.Document, path string) ([]byte, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding workflow document: %w", err)
	}
	if isYAML(path) {
		return jsonToYAML(data)
	}
	return append(data, '\n'), nil
}

// WriteDocument writes doc to path.
func WriteDocument(path string, doc document.Document) error {
	data, err := MarshalDocument(doc, path)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing file %s: %w", path, err)
	}
	return nil
}

// Save encodes g and writes it to path.
func Save(path string, g *graph.Graph, now time.Time) error {
	return WriteDocument(path, document.Encode(g, now))
}

// toJSON converts data to JSON bytes, handling YAML conversion if the path
// indicates a YAML file.
func toJSON(data []byte, path string) ([]byte, error) {
	if isYAML(path) {
		return yamlToJSON(data)
	}
	return data, nil
}

// ValidationError wraps a failed validation report as an error.
type ValidationError struct {
	Report graph.Report
}

func (e *ValidationError) Error() string {
	errs := e.Report.Errors()
	switch len(errs) {
	case 0:
		return "validation failed"
	case 1:
		return fmt.Sprintf("validation error: %s", errs[0])
	default:
		return fmt.Sprintf("%d validation errors: %s", len(errs), strings.Join(errs, "; "))
	}
}

// Check validates g and returns a *ValidationError when it is not runnable.
func Check(g *graph.Graph) error {
	report := g.Validate()
	if report.Valid {
		return nil
	}
	return &ValidationError{Report: report}
}
