// Package nodes provides the built-in canvasflow node variants: user input,
// web search, hosted and local LLM chat, and result display.
package nodes

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/credentials"
)

// Categories used by the built-in variants.
const (
	CategoryInput      = "input"
	CategoryDataSource = "data-source"
	CategoryAI         = "ai"
	CategoryOutput     = "output"
)

// ErrMissingInput is returned when a node's required input is absent or
// blank.
var ErrMissingInput = errors.New("missing input")

// HTTPClient is the subset of *http.Client used by HTTP-backed nodes.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// promptText reads port as prompt text, rejecting blank input.
func promptText(in core.Inputs, port, what string) (string, error) {
	text, _ := in.Text(port)
	if strings.TrimSpace(text) == "" {
		return "", fmt.Errorf("%w: no %s provided", ErrMissingInput, what)
	}
	return text, nil
}

// timestamp formats t the way node results carry it.
func timestamp(now func() time.Time) string {
	if now == nil {
		now = time.Now
	}
	return now().UTC().Format(time.RFC3339Nano)
}

// floatParam returns a numeric parameter, or def when unset or malformed.
func floatParam(p core.Parameters, name string, def float64) float64 {
	if v, ok := p.Float(name); ok {
		return v
	}
	return def
}

// intParam returns an integer parameter, or def when unset or malformed.
func intParam(p core.Parameters, name string, def int) int {
	if v, ok := p.Int(name); ok {
		return v
	}
	return def
}

// toMap converts a value to map[string]any if possible.
func toMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok && m != nil
}

func options(values ...string) []core.Option {
	out := make([]core.Option, 0, len(values)/2)
	for i := 0; i+1 < len(values); i += 2 {
		out = append(out, core.Option{Value: values[i], Label: values[i+1]})
	}
	return out
}

// lookupKey fetches the API key for service. A missing key wraps
// credentials.ErrNotFound.
func lookupKey(ctx context.Context, store credentials.Store, service, label string) (string, error) {
	if store == nil {
		return "", fmt.Errorf("%s API key is not configured: %w", label, credentials.ErrNotFound)
	}
	key, err := store.APIKey(ctx, service)
	if errors.Is(err, credentials.ErrNotFound) {
		return "", fmt.Errorf("%s API key is not configured: %w", label, err)
	}
	if err != nil {
		return "", fmt.Errorf("looking up %s API key: %w", label, err)
	}
	return key, nil
}
