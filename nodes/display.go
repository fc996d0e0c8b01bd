package nodes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/runtime"
)

// TypeDisplay is the registry type of DisplayNode.
const TypeDisplay = "display"

// Display modes.
const (
	DisplayFormatted = "formatted"
	DisplayRaw       = "raw"
	DisplayText      = "text"
)

// maxListedResults bounds the search results shown in formatted mode.
const maxListedResults = 5

// DisplayNode renders its "data" input for a person to read. It is a sink:
// it declares no outputs, but its result carries the rendering.
type DisplayNode struct {
	core.BaseNode
	now func() time.Time
}

// NewDisplayNode creates a display node in formatted mode.
func NewDisplayNode(id string, pos core.Position) *DisplayNode {
	return &DisplayNode{
		BaseNode: core.NewBaseNode(id, TypeDisplay, pos,
			core.Ports{Inputs: []string{"data"}},
			core.Parameters{"displayMode": DisplayFormatted, "showTimestamp": true}),
		now: time.Now,
	}
}

// ParameterDefinitions describes the display mode and timestamp toggle.
func (n *DisplayNode) ParameterDefinitions(context.Context) ([]core.ParamDef, error) {
	return []core.ParamDef{
		{Name: "displayMode", Type: core.ParamSelect, Label: "Display mode", Default: DisplayFormatted,
			Options: options(DisplayFormatted, "Formatted", DisplayRaw, "Raw JSON", DisplayText, "Text only")},
		{Name: "showTimestamp", Type: core.ParamSelect, Label: "Timestamp", Default: true,
			Options: []core.Option{{Value: true, Label: "Show"}, {Value: false, Label: "Hide"}}},
	}, nil
}

// Execute returns {originalData, formattedOutput, displayMode, showTimestamp, timestamp}.
func (n *DisplayNode) Execute(ctx context.Context, in core.Inputs) (any, error) {
	data, ok := in["data"]
	if !ok || data == nil || data == "" {
		return nil, errors.New("no data to display")
	}

	params := n.Params()
	mode := params.String("displayMode")
	var out string
	switch mode {
	case DisplayRaw:
		out = indentJSON(data)
	case DisplayText:
		out = textOf(data)
	default:
		mode = DisplayFormatted
		out = formatData(data)
	}
	show, ok := params.Bool("showTimestamp")
	if !ok {
		show = true
	}

	runtime.EmitOutput(ctx, map[string]any{"formattedOutput": out})
	return map[string]any{
		"originalData":    data,
		"formattedOutput": out,
		"displayMode":     mode,
		"showTimestamp":   show,
		"timestamp":       timestamp(n.now),
	}, nil
}

// Render returns the display text of a DisplayNode result, framed the way a
// terminal shows it. Other values are rendered as text.
func Render(result any) string {
	m, ok := toMap(result)
	if !ok {
		return textOf(result)
	}
	out, ok := m["formattedOutput"].(string)
	if !ok {
		return textOf(result)
	}
	if show, _ := m["showTimestamp"].(bool); show {
		if ts, _ := m["timestamp"].(string); ts != "" {
			return fmt.Sprintf("=== Result ===\n\n%s\n\n[%s]", out, ts)
		}
	}
	return "=== Result ===\n\n" + out
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

// textOf extracts the most text-like part of v.
func textOf(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	m, ok := toMap(v)
	if !ok {
		return indentJSON(v)
	}
	if s, ok := m["text"].(string); ok && s != "" {
		return s
	}
	if s, ok := m["response"].(string); ok && s != "" {
		return s
	}
	if results, ok := m["results"].([]any); ok {
		lines := make([]string, 0, len(results))
		for i, r := range results {
			lines = append(lines, fmt.Sprintf("%d. %s", i+1, resultTitle(r)))
		}
		return strings.Join(lines, "\n")
	}
	return indentJSON(v)
}

func formatData(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	m, ok := toMap(v)
	if !ok {
		return "Data:\n" + indentJSON(v)
	}

	var out []string
	switch {
	case nonEmpty(m["response"]):
		out = append(out, "AI response:", fmt.Sprint(m["response"]))
		if nonEmpty(m["prompt"]) {
			out = append(out, "\nPrompt:", fmt.Sprint(m["prompt"]))
		}
		if usage, ok := toMap(m["usage"]); ok {
			total := "N/A"
			if t, ok := usage["total_tokens"]; ok && t != nil {
				total = fmt.Sprint(t)
			}
			out = append(out, "\nUsage:", "  Tokens: "+total)
		}
	case nonEmpty(m["text"]):
		out = append(out, "Text:", fmt.Sprint(m["text"]))
	case isList(m["results"]):
		results := m["results"].([]any)
		out = append(out, fmt.Sprintf("Search results (%d):", len(results)))
		for i, r := range results {
			if i == maxListedResults {
				break
			}
			out = append(out, fmt.Sprintf("\n%d. %s", i+1, resultTitle(r)))
			rm, _ := toMap(r)
			if desc, ok := rm["description"].(string); ok && desc != "" {
				out = append(out, "   "+truncate(desc, 100)+"...")
			}
			if u, ok := rm["url"].(string); ok && u != "" {
				out = append(out, "   "+u)
			}
		}
		if len(results) > maxListedResults {
			out = append(out, fmt.Sprintf("\n... %d more", len(results)-maxListedResults))
		}
	default:
		out = append(out, "Data:", indentJSON(v))
	}
	return strings.Join(out, "\n")
}

func resultTitle(r any) string {
	m, _ := toMap(r)
	for _, k := range []string{"title", "name"} {
		if s, ok := m[k].(string); ok && s != "" {
			return s
		}
	}
	return "Result"
}

func nonEmpty(v any) bool {
	switch s := v.(type) {
	case nil:
		return false
	case string:
		return s != ""
	default:
		return true
	}
}

func isList(v any) bool {
	_, ok := v.([]any)
	return ok
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

var _ core.Node = (*DisplayNode)(nil)
