// Package canvasflow is the entry point for embedding canvasflow workflows
// in Go programs. It re-exports the common types of the core, graph and
// runtime packages and wires the built-in node types into a registry.
//
// For finer control, import the subpackages directly:
//
//	import "github.com/petal-labs/canvasflow/graph"
//	import "github.com/petal-labs/canvasflow/runtime"
//	import "github.com/petal-labs/canvasflow/nodes"
package canvasflow

import (
	"context"
	"log/slog"
	"sync"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/credentials"
	"github.com/petal-labs/canvasflow/document"
	"github.com/petal-labs/canvasflow/graph"
	"github.com/petal-labs/canvasflow/loader"
	"github.com/petal-labs/canvasflow/nodes"
	"github.com/petal-labs/canvasflow/registry"
	"github.com/petal-labs/canvasflow/runtime"
)

// Type aliases for the most used types.
type (
	Node       = core.Node
	Inputs     = core.Inputs
	Parameters = core.Parameters
	Position   = core.Position
	Connection = core.Connection
	Graph      = graph.Graph
	Registry   = registry.Registry
	Engine     = runtime.Engine
	RunOptions = runtime.RunOptions
	RunResult  = runtime.RunResult
	Event      = runtime.Event
	Warning    = document.Warning
)

// NewGraph creates an empty workflow graph.
func NewGraph() *Graph {
	return graph.New()
}

// NewEngine creates an engine bound to g.
func NewEngine(g *Graph, opts ...runtime.Option) *Engine {
	return runtime.NewEngine(g, opts...)
}

// NewRegistry creates a registry holding the built-in node types.
func NewRegistry(deps nodes.Deps) *Registry {
	reg := registry.New()
	nodes.RegisterBuiltins(reg, deps)
	return reg
}

var defaultOnce sync.Once

// Default returns the process-wide registry with the built-in node types
// registered. API keys come from CANVASFLOW_API_KEY_<SERVICE> variables.
func Default() *Registry {
	reg := registry.Default()
	defaultOnce.Do(func() {
		nodes.RegisterBuiltins(reg, nodes.Deps{Credentials: credentials.EnvStore{}})
	})
	return reg
}

// Load reads a workflow file and restores it against the default registry.
func Load(path string) (*Graph, []Warning, error) {
	return loader.Load(path, Default(), slog.Default())
}

// Run validates g and executes it once.
func Run(ctx context.Context, g *Graph, opts RunOptions) (RunResult, error) {
	if err := loader.Check(g); err != nil {
		return RunResult{}, err
	}
	return runtime.NewEngine(g).Run(ctx, opts)
}
