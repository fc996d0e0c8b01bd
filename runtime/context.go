package runtime

import "context"

type runScopeKey struct{}

// NodeScope identifies the node a context was handed to.
type NodeScope struct {
	RunID    string
	NodeID   string
	NodeType string
}

type runScope struct {
	NodeScope
	emit EventEmitter
}

// ContextWithEmitter attaches an event emitter and the executing node's
// identity to the context passed to Execute.
func ContextWithEmitter(ctx context.Context, scope NodeScope, emit EventEmitter) context.Context {
	return context.WithValue(ctx, runScopeKey{}, runScope{NodeScope: scope, emit: emit})
}

// EmitterFromContext retrieves the event emitter from the context.
// Returns a no-op emitter if none is set.
func EmitterFromContext(ctx context.Context) EventEmitter {
	if s, ok := ctx.Value(runScopeKey{}).(runScope); ok && s.emit != nil {
		return s.emit
	}
	return func(Event) {}
}

// ScopeFromContext returns the identity of the node being executed.
func ScopeFromContext(ctx context.Context) (NodeScope, bool) {
	s, ok := ctx.Value(runScopeKey{}).(runScope)
	return s.NodeScope, ok
}

// EmitOutput publishes a node.output event on behalf of the node executing
// with ctx. Outside a run it does nothing.
func EmitOutput(ctx context.Context, payload map[string]any) {
	s, ok := ctx.Value(runScopeKey{}).(runScope)
	if !ok || s.emit == nil {
		return
	}
	e := NewEvent(EventNodeOutput, s.RunID).WithNode(s.NodeID, s.NodeType)
	for k, v := range payload {
		e = e.WithPayload(k, v)
	}
	s.emit(e)
}
