package graph

import (
	"fmt"
	"strings"
)

// CycleError reports a dependency cycle found while ordering the graph.
type CycleError struct {
	// Path lists the node ids along the cycle, starting and ending with the
	// node that was re-entered.
	Path []string
}

func (e *CycleError) Error() string {
	if len(e.Path) == 0 {
		return ErrCycleDetected.Error()
	}
	return fmt.Sprintf("%s: %s", ErrCycleDetected, strings.Join(e.Path, " -> "))
}

// Unwrap lets errors.Is match ErrCycleDetected.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

type color uint8

const (
	white color = iota // unvisited
	grey               // on the current DFS path
	black              // emitted
)

// ExecutionOrder returns node ids so that every node follows all nodes that
// feed any of its inputs.
//
// The order is a depth-first post-order: roots are taken in node insertion
// order and dependencies in connection registration order, so the result is
// deterministic for a given construction sequence. Connections whose source
// node is not in the graph are ignored. A cycle yields *CycleError.
func (g *Graph) ExecutionOrder() ([]string, error) {
	g.mu.RLock()
	deps := make(map[string][]string, len(g.nodes))
	for _, cid := range g.connOrder {
		c := g.conns[cid]
		if _, ok := g.nodes[c.From.NodeID]; !ok {
			continue
		}
		if _, ok := g.nodes[c.To.NodeID]; !ok {
			continue
		}
		deps[c.To.NodeID] = append(deps[c.To.NodeID], c.From.NodeID)
	}
	roots := append([]string(nil), g.nodeOrder...)
	g.mu.RUnlock()

	marks := make(map[string]color, len(roots))
	order := make([]string, 0, len(roots))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		switch marks[id] {
		case black:
			return nil
		case grey:
			start := 0
			for i, p := range path {
				if p == id {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), path[start:]...), id)
			return &CycleError{Path: cycle}
		}

		marks[id] = grey
		path = append(path, id)
		for _, dep := range deps[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		path = path[:len(path)-1]
		marks[id] = black
		order = append(order, id)
		return nil
	}

	for _, id := range roots {
		if err := visit(id); err != nil {
			return nil, err
		}
	}
	return order, nil
}
