package graph

import (
	"errors"
	"fmt"
)

// Diagnostic is one finding of a validation pass.
type Diagnostic struct {
	Code     string `json:"code"`              // e.g. "CF-001"
	Severity string `json:"severity"`          // "error" or "warning"
	Message  string `json:"message"`           // human-readable description
	NodeID   string `json:"node_id,omitempty"` // offending node, if any
}

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// Diagnostic codes.
const (
	CodeCycle         = "CF-001"
	CodeNotConfigured = "CF-002"
	CodeUnknownPort   = "CF-003"
)

// Report is the outcome of Validate.
type Report struct {
	Valid       bool         `json:"valid"`
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// Errors returns the messages of error-severity diagnostics, in the order
// they were found.
func (r Report) Errors() []string {
	var out []string
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d.Message)
		}
	}
	return out
}

// Warnings returns the messages of warning-severity diagnostics.
func (r Report) Warnings() []string {
	var out []string
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityWarning {
			out = append(out, d.Message)
		}
	}
	return out
}

// Validate checks the graph without executing anything: it attempts an
// execution ordering, asks every node whether it is configured, and warns
// about connections that use ports their nodes do not declare.
func (g *Graph) Validate() Report {
	var diags []Diagnostic

	if _, err := g.ExecutionOrder(); err != nil {
		msg := err.Error()
		var ce *CycleError
		if errors.As(err, &ce) {
			msg = "Circular dependency detected in workflow"
		}
		diags = append(diags, Diagnostic{Code: CodeCycle, Severity: SeverityError, Message: msg})
	}

	for _, n := range g.Nodes() {
		if !n.Validate() {
			diags = append(diags, Diagnostic{
				Code:     CodeNotConfigured,
				Severity: SeverityError,
				Message:  fmt.Sprintf("Node %s (%s) is not properly configured", n.ID(), n.Type()),
				NodeID:   n.ID(),
			})
		}
	}

	for _, c := range g.Connections() {
		if from, ok := g.Node(c.From.NodeID); ok && !from.Ports().HasOutput(c.From.Port) {
			diags = append(diags, Diagnostic{
				Code:     CodeUnknownPort,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Connection %s uses undeclared output port %q", c.ID, c.From.Port),
				NodeID:   c.From.NodeID,
			})
		}
		if to, ok := g.Node(c.To.NodeID); ok && !to.Ports().HasInput(c.To.Port) {
			diags = append(diags, Diagnostic{
				Code:     CodeUnknownPort,
				Severity: SeverityWarning,
				Message:  fmt.Sprintf("Connection %s uses undeclared input port %q", c.ID, c.To.Port),
				NodeID:   c.To.NodeID,
			})
		}
	}

	valid := true
	for _, d := range diags {
		if d.Severity == SeverityError {
			valid = false
			break
		}
	}
	return Report{Valid: valid, Diagnostics: diags}
}
