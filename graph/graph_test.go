package graph

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/petal-labs/canvasflow/core"
)

func newNode(id string) *core.FuncNode {
	return core.NewFuncNode(id, "test", core.Position{}, core.Ports{Inputs: []string{"input"}, Outputs: []string{"output"}},
		func(context.Context, core.Inputs) (any, error) { return id, nil })
}

func buildGraph(t *testing.T, ids []string, edges [][2]string) *Graph {
	t.Helper()
	g := New()
	for _, id := range ids {
		if err := g.AddNode(newNode(id)); err != nil {
			t.Fatalf("AddNode(%s) error = %v", id, err)
		}
	}
	for i, e := range edges {
		c := core.NewConnection(fmt.Sprintf("c%d", i), e[0], "", e[1], "")
		if err := g.AddConnection(c); err != nil {
			t.Fatalf("AddConnection(%v) error = %v", e, err)
		}
	}
	return g
}

func indexOf(order []string) map[string]int {
	idx := make(map[string]int, len(order))
	for i, id := range order {
		idx[id] = i
	}
	return idx
}

func TestGraph_AddNodeDuplicate(t *testing.T) {
	g := New()
	if err := g.AddNode(newNode("a")); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}
	err := g.AddNode(newNode("a"))
	if !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("AddNode() duplicate error = %v, want ErrDuplicateNode", err)
	}
	if err := g.AddNode(nil); !errors.Is(err, ErrInvalidNode) {
		t.Errorf("AddNode(nil) error = %v, want ErrInvalidNode", err)
	}
}

func TestGraph_AddConnectionValidation(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, nil)

	if err := g.AddConnection(core.NewConnection("c1", "a", "", "missing", "")); !errors.Is(err, ErrInvalidConnection) {
		t.Errorf("missing target error = %v, want ErrInvalidConnection", err)
	}
	if err := g.AddConnection(core.NewConnection("c1", "missing", "", "b", "")); !errors.Is(err, ErrInvalidConnection) {
		t.Errorf("missing source error = %v, want ErrInvalidConnection", err)
	}
	if err := g.AddConnection(core.NewConnection("c1", "a", "", "b", "")); err != nil {
		t.Fatalf("AddConnection() error = %v", err)
	}
	if err := g.AddConnection(core.NewConnection("c1", "a", "", "b", "")); !errors.Is(err, ErrDuplicateConnection) {
		t.Errorf("duplicate id error = %v, want ErrDuplicateConnection", err)
	}
}

func TestGraph_Connect(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, nil)

	c, err := g.Connect("a", "", "b", "")
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if c.ID == "" {
		t.Error("Connect() did not generate an id")
	}
	if c.From.Port != core.DefaultOutputPort || c.To.Port != core.DefaultInputPort {
		t.Errorf("ports = %s -> %s", c.From.Port, c.To.Port)
	}
	if got, ok := g.Connection(c.ID); !ok || got != c {
		t.Errorf("Connection(%s) = %v, %v", c.ID, got, ok)
	}
}

func TestGraph_RemoveNodeCascades(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "b"}, {"b", "c"}, {"a", "c"}})

	removed, err := g.RemoveNode("b")
	if err != nil {
		t.Fatalf("RemoveNode() error = %v", err)
	}
	if len(removed) != 2 {
		t.Errorf("removed %d connections, want 2", len(removed))
	}
	for _, c := range g.Connections() {
		if c.Touches("b") {
			t.Errorf("connection %s still references removed node", c)
		}
	}
	if _, ok := g.Node("b"); ok {
		t.Error("node b still present")
	}
	if n, c := g.Len(); n != 2 || c != 1 {
		t.Errorf("Len() = %d, %d; want 2, 1", n, c)
	}

	if _, err := g.RemoveNode("b"); !errors.Is(err, ErrNodeNotFound) {
		t.Errorf("second RemoveNode() error = %v, want ErrNodeNotFound", err)
	}
}

func TestGraph_IncomingOutgoing(t *testing.T) {
	g := buildGraph(t, []string{"a", "b", "c"}, [][2]string{{"a", "c"}, {"b", "c"}, {"a", "b"}})

	in := g.Incoming("c")
	if len(in) != 2 || in[0].From.NodeID != "a" || in[1].From.NodeID != "b" {
		t.Errorf("Incoming(c) = %v", in)
	}
	out := g.Outgoing("a")
	if len(out) != 2 || out[0].To.NodeID != "c" || out[1].To.NodeID != "b" {
		t.Errorf("Outgoing(a) = %v", out)
	}
}

func TestGraph_RemoveConnectionAndClear(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}})

	if err := g.RemoveConnection("c0"); err != nil {
		t.Fatalf("RemoveConnection() error = %v", err)
	}
	if err := g.RemoveConnection("c0"); err == nil {
		t.Error("RemoveConnection() of missing id should fail")
	}
	if err := g.Clear(); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if n, c := g.Len(); n != 0 || c != 0 {
		t.Errorf("Len() after Clear = %d, %d", n, c)
	}
}

func TestGraph_MutationWhileRunning(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, nil)

	if !g.TryAcquire() {
		t.Fatal("TryAcquire() = false on idle graph")
	}
	if g.TryAcquire() {
		t.Error("second TryAcquire() = true")
	}

	checks := map[string]error{
		"AddNode":          g.AddNode(newNode("c")),
		"AddConnection":    g.AddConnection(core.NewConnection("x", "a", "", "b", "")),
		"RemoveConnection": g.RemoveConnection("x"),
		"Clear":            g.Clear(),
	}
	_, checks["RemoveNode"] = g.RemoveNode("a")
	for name, err := range checks {
		if !errors.Is(err, ErrGraphRunning) {
			t.Errorf("%s error = %v, want ErrGraphRunning", name, err)
		}
	}

	g.Release()
	if g.Running() {
		t.Error("Running() = true after Release")
	}
	if err := g.AddNode(newNode("c")); err != nil {
		t.Errorf("AddNode() after Release error = %v", err)
	}
}

func TestExecutionOrder_Deterministic(t *testing.T) {
	// d feeds b, inserted after b.
	g := buildGraph(t, []string{"b", "a", "d", "c"}, [][2]string{{"a", "b"}, {"d", "b"}, {"b", "c"}})

	order, err := g.ExecutionOrder()
	if err != nil {
		t.Fatalf("ExecutionOrder() error = %v", err)
	}
	want := []string{"a", "d", "b", "c"}
	if fmt.Sprint(order) != fmt.Sprint(want) {
		t.Errorf("order = %v, want %v", order, want)
	}
}

func TestExecutionOrder_RandomDAGs(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	for iter := 0; iter < 200; iter++ {
		n := 1 + rng.Intn(12)
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("n%d", i)
		}
		// Edges only go from lower to higher rank, so the graph is acyclic.
		rank := rng.Perm(n)
		var edges [][2]string
		for i := 0; i < n; i++ {
			for j := 0; j < n; j++ {
				if rank[i] < rank[j] && rng.Float64() < 0.3 {
					edges = append(edges, [2]string{ids[i], ids[j]})
				}
			}
		}
		rng.Shuffle(len(ids), func(i, j int) { ids[i], ids[j] = ids[j], ids[i] })

		g := buildGraph(t, ids, edges)
		order, err := g.ExecutionOrder()
		if err != nil {
			t.Fatalf("iter %d: ExecutionOrder() error = %v", iter, err)
		}
		if len(order) != n {
			t.Fatalf("iter %d: order has %d nodes, want %d", iter, len(order), n)
		}
		idx := indexOf(order)
		for _, e := range edges {
			if idx[e[0]] >= idx[e[1]] {
				t.Fatalf("iter %d: %s scheduled after dependent %s in %v", iter, e[0], e[1], order)
			}
		}
	}
}

func TestExecutionOrder_Cycle(t *testing.T) {
	tests := []struct {
		name  string
		ids   []string
		edges [][2]string
	}{
		{"two nodes", []string{"a", "b"}, [][2]string{{"a", "b"}, {"b", "a"}}},
		{"self loop", []string{"a"}, [][2]string{{"a", "a"}}},
		{"long", []string{"x", "a", "b", "c"}, [][2]string{{"x", "a"}, {"a", "b"}, {"b", "c"}, {"c", "a"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := buildGraph(t, tt.ids, tt.edges)
			_, err := g.ExecutionOrder()
			if !errors.Is(err, ErrCycleDetected) {
				t.Fatalf("ExecutionOrder() error = %v, want ErrCycleDetected", err)
			}
			var ce *CycleError
			if !errors.As(err, &ce) || len(ce.Path) < 2 || ce.Path[0] != ce.Path[len(ce.Path)-1] {
				t.Errorf("CycleError path = %v", ce)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}})
	bad := core.NewFuncNode("c", "user-input", core.Position{}, core.Ports{Outputs: []string{"output"}}, nil).
		WithValidate(func(core.Parameters) bool { return false })
	if err := g.AddNode(bad); err != nil {
		t.Fatal(err)
	}

	report := g.Validate()
	if report.Valid {
		t.Fatal("Valid = true with misconfigured node")
	}
	errs := report.Errors()
	if len(errs) != 1 || errs[0] != "Node c (user-input) is not properly configured" {
		t.Errorf("Errors() = %v", errs)
	}
}

func TestValidate_CycleAndPorts(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, nil)
	_ = g.AddConnection(core.NewConnection("c1", "a", "output", "b", "input"))
	_ = g.AddConnection(core.NewConnection("c2", "b", "result", "a", "input"))

	report := g.Validate()
	if report.Valid {
		t.Fatal("Valid = true for cyclic graph")
	}
	if errs := report.Errors(); len(errs) != 1 || errs[0] != "Circular dependency detected in workflow" {
		t.Errorf("Errors() = %v", errs)
	}
	if warns := report.Warnings(); len(warns) != 1 {
		t.Errorf("Warnings() = %v, want one undeclared port warning", warns)
	}
}

func TestValidate_CleanGraph(t *testing.T) {
	g := buildGraph(t, []string{"a", "b"}, [][2]string{{"a", "b"}})
	report := g.Validate()
	if !report.Valid || len(report.Diagnostics) != 0 {
		t.Errorf("report = %+v, want valid with no diagnostics", report)
	}
}
