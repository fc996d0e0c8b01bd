package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/graph"
)

// Runtime errors
var (
	ErrEngineBusy  = errors.New("workflow is already running")
	ErrRunCanceled = errors.New("run was canceled")
)

// NodeError reports the node that stopped a run.
type NodeError struct {
	NodeID   string
	NodeType string
	Err      error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s (%s) failed: %v", e.NodeID, e.NodeType, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// State is the engine's own lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Observer receives node lifecycle callbacks. Hooks run synchronously on the
// run goroutine in execution order; slow hooks slow the run down.
type Observer struct {
	OnNodeStart    func(node core.Node)
	OnNodeComplete func(node core.Node, result any)
	OnNodeError    func(node core.Node, err error)
}

// RunOptions controls one run.
type RunOptions struct {
	// Observer receives node lifecycle callbacks.
	Observer Observer

	// EventHandler receives events during execution.
	EventHandler EventHandler

	// EventEmitterDecorator wraps the internal event emitter.
	// If nil, events are emitted without decoration.
	EventEmitterDecorator EventEmitterDecorator

	// EventBus distributes events to subscribers.
	EventBus EventPublisher

	// Now provides the current time (for testing). If nil, uses time.Now.
	Now func() time.Time
}

// RunResult summarizes a finished run. Per-node results and errors stay on
// the nodes themselves.
type RunResult struct {
	RunID      string        `json:"run_id"`
	Success    bool          `json:"success"`
	Order      []string      `json:"order,omitempty"`
	FailedNode string        `json:"failed_node,omitempty"`
	Error      string        `json:"error,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// Engine executes one graph sequentially, one node at a time, stopping at
// the first failure.
type Engine struct {
	graph  *graph.Graph
	logger *slog.Logger
}

// NewEngine creates an engine bound to g.
func NewEngine(g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{graph: g, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the graph the engine runs.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// State reports whether a run is in progress.
func (e *Engine) State() State {
	if e.graph.Running() {
		return StateRunning
	}
	return StateIdle
}

// Validate pre-flights the graph without executing any node.
func (e *Engine) Validate() graph.Report {
	return e.graph.Validate()
}

// Run executes every node of the graph in dependency order.
//
// A second Run while one is in progress returns ErrEngineBusy immediately.
// A dependency cycle fails the run before any node executes. The first node
// failure stops the run: upstream nodes stay completed, the failing node is
// left in the error state and later nodes stay idle. The returned error is a
// *NodeError in that case.
func (e *Engine) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	if !e.graph.TryAcquire() {
		return RunResult{Error: ErrEngineBusy.Error()}, ErrEngineBusy
	}
	defer e.graph.Release()

	if opts.Now == nil {
		opts.Now = time.Now
	}

	runID := uuid.NewString()
	emit := e.emitter(opts)
	runStart := opts.Now()
	nodeCount, connCount := e.graph.Len()

	e.logger.Info("workflow run started", "run_id", runID, "nodes", nodeCount, "connections", connCount)
	emit(NewEvent(EventRunStarted, runID).
		WithTime(runStart).
		WithPayload("nodes", nodeCount).
		WithPayload("connections", connCount))

	result := RunResult{RunID: runID}
	err := e.execute(ctx, runID, opts, emit, runStart, &result)

	result.Elapsed = opts.Now().Sub(runStart)
	finish := NewEvent(EventRunFinished, runID).WithElapsed(result.Elapsed)
	if err != nil {
		result.Error = err.Error()
		finish = finish.
			WithPayload("status", "failed").
			WithPayload("error", err.Error())
		if result.FailedNode != "" {
			finish = finish.WithPayload("failed_node", result.FailedNode)
		}
		e.logger.Error("workflow run failed", "run_id", runID, "error", err)
	} else {
		result.Success = true
		finish = finish.WithPayload("status", "completed")
		e.logger.Info("workflow run completed", "run_id", runID, "elapsed", result.Elapsed)
	}
	emit(finish)

	return result, err
}

func (e *Engine) emitter(opts RunOptions) EventEmitter {
	var seq atomic.Uint64
	emit := func(ev Event) {
		ev.Seq = seq.Add(1)
		if opts.EventBus != nil {
			opts.EventBus.Publish(ev)
		}
		if opts.EventHandler != nil {
			opts.EventHandler(ev)
		}
	}
	if opts.EventEmitterDecorator != nil {
		return opts.EventEmitterDecorator(emit)
	}
	return emit
}

func (e *Engine) execute(
	ctx context.Context,
	runID string,
	opts RunOptions,
	emit EventEmitter,
	runStart time.Time,
	result *RunResult,
) error {
	nodes := e.graph.Nodes()
	for _, n := range nodes {
		n.State().Reset()
	}

	order, err := e.graph.ExecutionOrder()
	if err != nil {
		return err
	}
	result.Order = order

	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrRunCanceled, err)
		}

		node, ok := e.graph.Node(id)
		if !ok {
			return fmt.Errorf("%w: %s", graph.ErrNodeNotFound, id)
		}

		if err := e.executeNode(ctx, runID, node, opts, emit, runStart); err != nil {
			result.FailedNode = id
			return &NodeError{NodeID: id, NodeType: node.Type(), Err: err}
		}
	}
	return nil
}

func (e *Engine) executeNode(
	ctx context.Context,
	runID string,
	node core.Node,
	opts RunOptions,
	emit EventEmitter,
	runStart time.Time,
) error {
	nodeID := node.ID()
	nodeType := node.Type()
	state := node.State()

	state.MarkExecuting()
	if opts.Observer.OnNodeStart != nil {
		opts.Observer.OnNodeStart(node)
	}

	nodeStart := opts.Now()
	emit(NewEvent(EventNodeStarted, runID).
		WithNode(nodeID, nodeType).
		WithElapsed(nodeStart.Sub(runStart)))
	e.logger.Debug("node started", "run_id", runID, "node_id", nodeID, "node_type", nodeType)

	in := e.gatherInputs(nodeID)
	nodeCtx := ContextWithEmitter(ctx, NodeScope{RunID: runID, NodeID: nodeID, NodeType: nodeType}, emit)

	out, err := safeExecute(nodeCtx, node, in)
	nodeElapsed := opts.Now().Sub(nodeStart)

	if err != nil {
		state.MarkFailed(err.Error())
		e.logger.Error("node failed", "run_id", runID, "node_id", nodeID, "node_type", nodeType, "error", err)
		emit(NewEvent(EventNodeFailed, runID).
			WithNode(nodeID, nodeType).
			WithElapsed(nodeElapsed).
			WithPayload("error", err.Error()))
		if opts.Observer.OnNodeError != nil {
			opts.Observer.OnNodeError(node, err)
		}
		return err
	}

	state.MarkCompleted(out)
	e.logger.Debug("node completed", "run_id", runID, "node_id", nodeID, "elapsed", nodeElapsed)
	emit(NewEvent(EventNodeFinished, runID).
		WithNode(nodeID, nodeType).
		WithElapsed(nodeElapsed).
		WithPayload("result_type", fmt.Sprintf("%T", out)))
	if opts.Observer.OnNodeComplete != nil {
		opts.Observer.OnNodeComplete(node, out)
	}
	return nil
}

// gatherInputs collects upstream results per input port. A port fed by one
// connection gets the bare value; a port fed by several gets a []any in
// connection registration order.
func (e *Engine) gatherInputs(nodeID string) core.Inputs {
	collected := make(map[string][]any)
	var ports []string
	for _, c := range e.graph.Incoming(nodeID) {
		src, ok := e.graph.Node(c.From.NodeID)
		if !ok {
			continue
		}
		if _, seen := collected[c.To.Port]; !seen {
			ports = append(ports, c.To.Port)
		}
		collected[c.To.Port] = append(collected[c.To.Port], src.State().Result())
	}

	in := make(core.Inputs, len(ports))
	for _, port := range ports {
		values := collected[port]
		if len(values) == 1 {
			in[port] = values[0]
			continue
		}
		in[port] = values
	}
	return in
}

// safeExecute converts a panicking node into a node failure.
func safeExecute(ctx context.Context, node core.Node, in core.Inputs) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("node panicked: %v", r)
		}
	}()
	return node.Execute(ctx, in)
}
