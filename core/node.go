package core

import (
	"context"
	"fmt"
)

// Node is the fundamental unit of execution in a canvasflow graph.
//
// Concrete variants embed BaseNode and implement Execute. They may override
// Validate and ParameterDefinitions.
type Node interface {
	// ID returns the caller-assigned identifier. It never changes.
	ID() string

	// Type returns the registry type id of the variant.
	Type() string

	// Position returns the canvas coordinate of the node.
	Position() Position

	// SetPosition moves the node on the canvas.
	SetPosition(pos Position)

	// Ports returns the declared input and output ports.
	Ports() Ports

	// Parameters returns a copy of the node configuration.
	Parameters() Parameters

	// SetParameter updates one configuration value.
	SetParameter(name string, value any)

	// State returns the mutable execution state owned by the engine.
	State() *State

	// Execute runs the node with the gathered upstream results.
	// Failures are reported with a human-readable error; the engine stores
	// the message on the node and stops the run.
	Execute(ctx context.Context, in Inputs) (any, error)

	// Validate is a cheap, side-effect-free configuration check.
	Validate() bool

	// ParameterDefinitions describes the editable configuration surface.
	// Variants with dynamic options (e.g. installed models) may do I/O here.
	ParameterDefinitions(ctx context.Context) ([]ParamDef, error)

	// Definition returns the persisted form of the node.
	Definition() NodeDef

	// Restore applies a persisted definition to the node.
	Restore(def NodeDef) error
}

// BaseNode provides common functionality for node implementations.
// Embed this in concrete node types to get identity, ports, parameters and
// execution state handling for free.
type BaseNode struct {
	id       string
	typ      string
	position Position
	ports    Ports
	defaults Parameters
	params   Parameters
	state    *State
}

// NewBaseNode creates a BaseNode. defaults seeds the parameters and is kept
// so that Restore can fall back to it for keys a document does not carry.
func NewBaseNode(id, typ string, pos Position, ports Ports, defaults Parameters) BaseNode {
	if defaults == nil {
		defaults = Parameters{}
	}
	return BaseNode{
		id:       id,
		typ:      typ,
		position: pos,
		ports:    Ports{Inputs: append([]string(nil), ports.Inputs...), Outputs: append([]string(nil), ports.Outputs...)},
		defaults: defaults.Clone(),
		params:   defaults.Clone(),
		state:    &State{},
	}
}

// ID returns the node's unique identifier.
func (n *BaseNode) ID() string {
	return n.id
}

// Type returns the node's registry type id.
func (n *BaseNode) Type() string {
	return n.typ
}

// Position returns the canvas coordinate.
func (n *BaseNode) Position() Position {
	return n.position
}

// SetPosition moves the node.
func (n *BaseNode) SetPosition(pos Position) {
	n.position = pos
}

// Ports returns a copy of the declared ports.
func (n *BaseNode) Ports() Ports {
	return Ports{
		Inputs:  append([]string(nil), n.ports.Inputs...),
		Outputs: append([]string(nil), n.ports.Outputs...),
	}
}

// Parameters returns a copy of the node configuration.
func (n *BaseNode) Parameters() Parameters {
	return n.params.Clone()
}

// Params returns the live configuration for use by the embedding variant.
func (n *BaseNode) Params() Parameters {
	return n.params
}

// SetParameter updates one configuration value.
func (n *BaseNode) SetParameter(name string, value any) {
	if n.params == nil {
		n.params = Parameters{}
	}
	n.params[name] = value
}

// State returns the execution state.
func (n *BaseNode) State() *State {
	if n.state == nil {
		n.state = &State{}
	}
	return n.state
}

// Validate returns true. Most variants defer validity to execution time.
func (n *BaseNode) Validate() bool {
	return true
}

// ParameterDefinitions returns no definitions.
func (n *BaseNode) ParameterDefinitions(context.Context) ([]ParamDef, error) {
	return nil, nil
}

// Definition returns the persisted form of the node.
func (n *BaseNode) Definition() NodeDef {
	return NodeDef{
		ID:         n.id,
		Type:       n.typ,
		Position:   n.position,
		Parameters: map[string]any(n.params.Clone()),
	}
}

// Restore applies a persisted definition. The id and type must match the
// node; parameters absent from def keep their constructor defaults.
func (n *BaseNode) Restore(def NodeDef) error {
	if def.ID != n.id {
		return fmt.Errorf("restore node %q: definition has id %q", n.id, def.ID)
	}
	if def.Type != n.typ {
		return fmt.Errorf("restore node %q: definition has type %q, node is %q", n.id, def.Type, n.typ)
	}
	params := n.defaults.Clone()
	for k, v := range def.Parameters {
		params[k] = v
	}
	n.position = def.Position
	n.params = params
	return nil
}

// ExecuteFunc is the signature of a FuncNode body.
type ExecuteFunc func(ctx context.Context, in Inputs) (any, error)

// FuncNode wraps a function as a Node.
// This is convenient for simple transformations, plugins and testing.
type FuncNode struct {
	BaseNode
	fn       ExecuteFunc
	validate func(Parameters) bool
}

// NewFuncNode creates a node of the given type that executes fn.
func NewFuncNode(id, typ string, pos Position, ports Ports, fn ExecuteFunc) *FuncNode {
	return &FuncNode{
		BaseNode: NewBaseNode(id, typ, pos, ports, nil),
		fn:       fn,
	}
}

// WithDefaults seeds the node parameters and returns the node for chaining.
func (n *FuncNode) WithDefaults(defaults Parameters) *FuncNode {
	n.defaults = defaults.Clone()
	n.params = defaults.Clone()
	return n
}

// WithValidate sets the validation predicate and returns the node for chaining.
func (n *FuncNode) WithValidate(fn func(Parameters) bool) *FuncNode {
	n.validate = fn
	return n
}

// Execute runs the wrapped function. A nil function yields a nil result.
func (n *FuncNode) Execute(ctx context.Context, in Inputs) (any, error) {
	if n.fn == nil {
		return nil, nil
	}
	return n.fn(ctx, in)
}

// Validate runs the validation predicate, if any.
func (n *FuncNode) Validate() bool {
	if n.validate == nil {
		return true
	}
	return n.validate(n.params)
}

// Ensure interface compliance at compile time.
var _ Node = (*FuncNode)(nil)
