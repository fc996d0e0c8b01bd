// Package core provides the foundational types and interfaces for canvasflow workflows.
//
// This package contains:
//   - Graph entities: Node, Connection, Position, Ports, Parameters
//   - The node execution contract and its per-node State machine
//   - LLM client abstractions shared by the AI node variants
package core

import "fmt"

// Default port names used when a connection does not name its endpoints.
const (
	DefaultOutputPort = "output"
	DefaultInputPort  = "input"
)

// Status is the execution state of a node.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusExecuting Status = "executing"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// String returns the string representation of the Status.
func (s Status) String() string {
	return string(s)
}

// Position is the canvas coordinate of a node. It carries no execution meaning
// and is only preserved for round-tripping documents.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Ports lists the named input and output slots of a node, in declaration order.
type Ports struct {
	Inputs  []string `json:"inputs"`
	Outputs []string `json:"outputs"`
}

// HasInput reports whether name is a declared input port.
func (p Ports) HasInput(name string) bool {
	return contains(p.Inputs, name)
}

// HasOutput reports whether name is a declared output port.
func (p Ports) HasOutput(name string) bool {
	return contains(p.Outputs, name)
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

// ParamType identifies the editor used for a parameter.
type ParamType string

const (
	ParamText     ParamType = "text"
	ParamTextArea ParamType = "textarea"
	ParamNumber   ParamType = "number"
	ParamBoolean  ParamType = "boolean"
	ParamSelect   ParamType = "select"
)

// Option is one allowed value of a select parameter.
type Option struct {
	Value any    `json:"value"`
	Label string `json:"label"`
}

// ParamDef describes one editable parameter of a node variant.
type ParamDef struct {
	Name    string    `json:"name"`
	Type    ParamType `json:"type"`
	Label   string    `json:"label"`
	Default any       `json:"default,omitempty"`
	Min     *float64  `json:"min,omitempty"`
	Max     *float64  `json:"max,omitempty"`
	Step    *float64  `json:"step,omitempty"`
	Options []Option  `json:"options,omitempty"`
}

// Bound returns a pointer to v, for filling ParamDef.Min/Max/Step.
func Bound(v float64) *float64 {
	return &v
}

// NodeDef is the persisted form of a node. Execution state is never part of it.
type NodeDef struct {
	ID         string         `json:"id" yaml:"id"`
	Type       string         `json:"type" yaml:"type"`
	Position   Position       `json:"position" yaml:"position"`
	Parameters map[string]any `json:"parameters" yaml:"parameters"`
}

// Endpoint is one end of a connection: a node and one of its ports.
type Endpoint struct {
	NodeID string `json:"nodeId" yaml:"nodeId"`
	Port   string `json:"port" yaml:"port"`
}

// String returns "node.port".
func (e Endpoint) String() string {
	return e.NodeID + "." + e.Port
}

// Connection is a directed edge from an output port to an input port.
type Connection struct {
	ID   string   `json:"id" yaml:"id"`
	From Endpoint `json:"from" yaml:"from"`
	To   Endpoint `json:"to" yaml:"to"`
}

// NewConnection creates a connection, defaulting empty port names to
// DefaultOutputPort and DefaultInputPort.
func NewConnection(id, fromNode, fromPort, toNode, toPort string) Connection {
	if fromPort == "" {
		fromPort = DefaultOutputPort
	}
	if toPort == "" {
		toPort = DefaultInputPort
	}
	return Connection{
		ID:   id,
		From: Endpoint{NodeID: fromNode, Port: fromPort},
		To:   Endpoint{NodeID: toNode, Port: toPort},
	}
}

// Touches reports whether either endpoint references nodeID.
func (c Connection) Touches(nodeID string) bool {
	return c.From.NodeID == nodeID || c.To.NodeID == nodeID
}

// String returns a compact description used in logs and diagnostics.
func (c Connection) String() string {
	return fmt.Sprintf("%s: %s -> %s", c.ID, c.From, c.To)
}
