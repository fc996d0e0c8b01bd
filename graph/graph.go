// Package graph holds the live workflow graph: nodes, the connections between
// their ports, execution ordering and structural validation.
package graph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/petal-labs/canvasflow/core"
)

// Graph errors
var (
	ErrNodeNotFound        = errors.New("node not found")
	ErrDuplicateNode       = errors.New("duplicate node ID")
	ErrDuplicateConnection = errors.New("duplicate connection ID")
	ErrInvalidConnection   = errors.New("invalid connection")
	ErrInvalidNode         = errors.New("invalid node")
	ErrCycleDetected       = errors.New("circular dependency detected in workflow")
	ErrGraphRunning        = errors.New("graph is running")
)

// Graph owns the nodes and connections of one workflow.
//
// Nodes and connections remember insertion order. Structural mutation is
// rejected with ErrGraphRunning while a run holds the graph (see TryAcquire).
type Graph struct {
	mu        sync.RWMutex
	nodes     map[string]core.Node
	nodeOrder []string // preserves insertion order
	conns     map[string]core.Connection
	connOrder []string // preserves registration order
	running   atomic.Bool
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]core.Node),
		conns: make(map[string]core.Connection),
	}
}

// TryAcquire marks the graph as running. It returns false if a run already
// holds it.
func (g *Graph) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release ends the hold taken by TryAcquire.
func (g *Graph) Release() {
	g.running.Store(false)
}

// Running reports whether a run currently holds the graph.
func (g *Graph) Running() bool {
	return g.running.Load()
}

// AddNode adds a node to the graph.
func (g *Graph) AddNode(node core.Node) error {
	if node == nil {
		return fmt.Errorf("%w: nil node", ErrInvalidNode)
	}
	if g.Running() {
		return ErrGraphRunning
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	id := node.ID()
	if _, exists := g.nodes[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateNode, id)
	}
	g.nodes[id] = node
	g.nodeOrder = append(g.nodeOrder, id)
	return nil
}

// RemoveNode removes a node and every connection touching it. It returns the
// removed connections.
func (g *Graph) RemoveNode(id string) ([]core.Connection, error) {
	if g.Running() {
		return nil, ErrGraphRunning
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; !exists {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, id)
	}
	delete(g.nodes, id)
	g.nodeOrder = removeString(g.nodeOrder, id)

	var removed []core.Connection
	kept := g.connOrder[:0]
	for _, cid := range g.connOrder {
		c := g.conns[cid]
		if c.Touches(id) {
			removed = append(removed, c)
			delete(g.conns, cid)
			continue
		}
		kept = append(kept, cid)
	}
	g.connOrder = kept
	return removed, nil
}

// AddConnection registers a connection. Both endpoint nodes must exist; port
// names are not checked against the node declarations.
func (g *Graph) AddConnection(c core.Connection) error {
	if g.Running() {
		return ErrGraphRunning
	}
	if c.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidConnection)
	}
	if c.From.Port == "" {
		c.From.Port = core.DefaultOutputPort
	}
	if c.To.Port == "" {
		c.To.Port = core.DefaultInputPort
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.conns[c.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateConnection, c.ID)
	}
	if _, ok := g.nodes[c.From.NodeID]; !ok {
		return fmt.Errorf("%w: source node %q not found", ErrInvalidConnection, c.From.NodeID)
	}
	if _, ok := g.nodes[c.To.NodeID]; !ok {
		return fmt.Errorf("%w: target node %q not found", ErrInvalidConnection, c.To.NodeID)
	}
	g.conns[c.ID] = c
	g.connOrder = append(g.connOrder, c.ID)
	return nil
}

// Connect wires fromNode.fromPort to toNode.toPort under a generated id.
func (g *Graph) Connect(fromNode, fromPort, toNode, toPort string) (core.Connection, error) {
	c := core.NewConnection(uuid.NewString(), fromNode, fromPort, toNode, toPort)
	if err := g.AddConnection(c); err != nil {
		return core.Connection{}, err
	}
	return c, nil
}

// RemoveConnection removes a connection by id.
func (g *Graph) RemoveConnection(id string) error {
	if g.Running() {
		return ErrGraphRunning
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.conns[id]; !exists {
		return fmt.Errorf("%w: connection %s", ErrNodeNotFound, id)
	}
	delete(g.conns, id)
	g.connOrder = removeString(g.connOrder, id)
	return nil
}

// Clear drops every node and connection.
func (g *Graph) Clear() error {
	if g.Running() {
		return ErrGraphRunning
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes = make(map[string]core.Node)
	g.nodeOrder = nil
	g.conns = make(map[string]core.Connection)
	g.connOrder = nil
	return nil
}

// Node retrieves a node by its ID.
func (g *Graph) Node(id string) (core.Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[id]
	return n, ok
}

// Nodes returns all nodes in insertion order.
func (g *Graph) Nodes() []core.Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]core.Node, 0, len(g.nodeOrder))
	for _, id := range g.nodeOrder {
		out = append(out, g.nodes[id])
	}
	return out
}

// Connections returns all connections in registration order.
func (g *Graph) Connections() []core.Connection {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]core.Connection, 0, len(g.connOrder))
	for _, id := range g.connOrder {
		out = append(out, g.conns[id])
	}
	return out
}

// Connection retrieves a connection by its ID.
func (g *Graph) Connection(id string) (core.Connection, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	c, ok := g.conns[id]
	return c, ok
}

// Incoming returns the connections ending at nodeID, in registration order.
func (g *Graph) Incoming(nodeID string) []core.Connection {
	var out []core.Connection
	for _, c := range g.Connections() {
		if c.To.NodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Outgoing returns the connections starting at nodeID, in registration order.
func (g *Graph) Outgoing(nodeID string) []core.Connection {
	var out []core.Connection
	for _, c := range g.Connections() {
		if c.From.NodeID == nodeID {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of nodes and connections.
func (g *Graph) Len() (nodes, connections int) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes), len(g.conns)
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
