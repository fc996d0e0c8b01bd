package runtime_test

import (
	"context"
	"testing"

	"github.com/petal-labs/canvasflow/bus"
	"github.com/petal-labs/canvasflow/core"
	"github.com/petal-labs/canvasflow/graph"
	"github.com/petal-labs/canvasflow/runtime"
)

func TestEngine_Run_WithEventBusAndHistory(t *testing.T) {
	b := bus.NewMemBus(bus.MemBusConfig{})
	defer b.Close()

	globalSub := b.SubscribeAll()
	defer globalSub.Close()

	g := graph.New()
	mustAdd(t, g, source("start", "hello"), upper("shout"))
	mustConnect(t, g, "start", "shout")

	store := bus.NewMemEventStore()
	history := bus.NewStoreSubscriber(store, nil)

	res, err := runtime.NewEngine(g).Run(context.Background(), runtime.RunOptions{
		EventBus:     b,
		EventHandler: history.Handle,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// run.started + 2 x (node.started + node.finished) + run.finished
	if n := len(globalSub.Events()); n != 6 {
		t.Errorf("received %d events via bus, want 6", n)
	}

	runs, _ := store.Runs(context.Background(), 0)
	if len(runs) != 1 || runs[0].RunID != res.RunID || runs[0].Status != bus.RunStatusCompleted {
		t.Errorf("history = %+v", runs)
	}
	events, _ := store.List(context.Background(), res.RunID, 0, 0)
	for _, e := range events {
		if e.NodeID != "" && e.NodeType == "" {
			t.Errorf("event %s for %s has no node type", e.Kind, e.NodeID)
		}
	}
	if n, _ := g.Node("shout"); n.State().Status() != core.StatusCompleted || n.State().Result() != "HELLO" {
		t.Errorf("shout = %v/%v", n.State().Status(), n.State().Result())
	}
}
