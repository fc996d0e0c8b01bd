package bus

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/petal-labs/canvasflow/runtime"
)

func newTestStore(t *testing.T, cfg ...SQLiteStoreConfig) *SQLiteEventStore {
	t.Helper()
	var c SQLiteStoreConfig
	if len(cfg) > 0 {
		c = cfg[0]
	}
	if c.DSN == "" {
		c.DSN = filepath.Join(t.TempDir(), "history.db")
	}
	store, err := NewSQLiteEventStore(c)
	if err != nil {
		t.Fatalf("NewSQLiteEventStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func makeEvent(runID string, seq uint64, kind runtime.EventKind, at time.Time) runtime.Event {
	e := runtime.NewEvent(kind, runID).WithTime(at)
	e.Seq = seq
	return e
}

// appendRun stores a complete two-node run whose second node fails when
// failed is true.
func appendRun(t *testing.T, store EventStore, runID string, start time.Time, failed bool) {
	t.Helper()
	ctx := context.Background()
	events := []runtime.Event{
		makeEvent(runID, 1, runtime.EventRunStarted, start),
		makeEvent(runID, 2, runtime.EventNodeStarted, start).WithNode("a", "user-input"),
		makeEvent(runID, 3, runtime.EventNodeFinished, start.Add(time.Millisecond)).WithNode("a", "user-input"),
	}
	finish := makeEvent(runID, 4, runtime.EventRunFinished, start.Add(2*time.Millisecond)).
		WithElapsed(2 * time.Millisecond).
		WithPayload("status", "completed")
	if failed {
		finish = finish.
			WithPayload("status", "failed").
			WithPayload("error", "boom").
			WithPayload("failed_node", "b")
	}
	events = append(events, finish)
	for _, e := range events {
		if err := store.Append(ctx, e); err != nil {
			t.Fatalf("Append(%s #%d): %v", runID, e.Seq, err)
		}
	}
}

func storeImpls(t *testing.T) map[string]EventStore {
	return map[string]EventStore{
		"memory": NewMemEventStore(),
		"sqlite": newTestStore(t),
	}
}

func TestEventStore_ListAndLatestSeq(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			appendRun(t, store, "run-1", start, false)

			events, err := store.List(ctx, "run-1", 0, 0)
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if len(events) != 4 {
				t.Fatalf("got %d events, want 4", len(events))
			}
			if events[1].NodeID != "a" || events[1].NodeType != "user-input" {
				t.Errorf("node = %s/%s", events[1].NodeID, events[1].NodeType)
			}
			if !events[0].Time.Equal(start) {
				t.Errorf("Time = %v, want %v", events[0].Time, start)
			}

			after, _ := store.List(ctx, "run-1", 2, 1)
			if len(after) != 1 || after[0].Seq != 3 {
				t.Errorf("List(after=2, limit=1) = %v", after)
			}

			seq, err := store.LatestSeq(ctx, "run-1")
			if err != nil || seq != 4 {
				t.Errorf("LatestSeq = %d, %v; want 4", seq, err)
			}
			if seq, _ := store.LatestSeq(ctx, "missing"); seq != 0 {
				t.Errorf("LatestSeq(missing) = %d", seq)
			}
		})
	}
}

func TestEventStore_Runs(t *testing.T) {
	for name, store := range storeImpls(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
			appendRun(t, store, "old", base, false)
			appendRun(t, store, "new", base.Add(time.Hour), true)

			runs, err := store.Runs(ctx, 0)
			if err != nil {
				t.Fatalf("Runs: %v", err)
			}
			if len(runs) != 2 {
				t.Fatalf("got %d runs, want 2", len(runs))
			}
			latest := runs[0]
			if latest.RunID != "new" || latest.Status != RunStatusFailed {
				t.Errorf("latest = %+v", latest)
			}
			if latest.Error != "boom" || latest.FailedNode != "b" || latest.Events != 4 {
				t.Errorf("latest details = %+v", latest)
			}
			if latest.Elapsed != 2*time.Millisecond {
				t.Errorf("Elapsed = %v", latest.Elapsed)
			}
			if runs[1].RunID != "old" || runs[1].Status != RunStatusCompleted {
				t.Errorf("older = %+v", runs[1])
			}

			limited, _ := store.Runs(ctx, 1)
			if len(limited) != 1 || limited[0].RunID != "new" {
				t.Errorf("Runs(1) = %v", limited)
			}
		})
	}
}

func TestSQLiteEventStore_PayloadRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	e := makeEvent("run-1", 1, runtime.EventNodeFailed, time.Now()).
		WithNode("n", "openai").
		WithPayload("error", "quota exceeded").
		WithPayload("attempt", 2)
	e.TraceID = "trace-abc"
	e.SpanID = "span-def"
	if err := store.Append(ctx, e); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, _ := store.List(ctx, "run-1", 0, 0)
	if len(got) != 1 {
		t.Fatalf("got %d events", len(got))
	}
	if got[0].Payload["error"] != "quota exceeded" || got[0].Payload["attempt"] != float64(2) {
		t.Errorf("Payload = %v", got[0].Payload)
	}
	if got[0].TraceID != "trace-abc" || got[0].SpanID != "span-def" {
		t.Errorf("trace = %s/%s", got[0].TraceID, got[0].SpanID)
	}
	if got[0].Kind != runtime.EventNodeFailed {
		t.Errorf("Kind = %v", got[0].Kind)
	}
}

func TestSQLiteEventStore_PruneByCount(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{RetentionRuns: 2})
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		appendRun(t, store, fmt.Sprintf("run-%d", i), base.Add(time.Duration(i)*time.Minute), false)
	}

	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	runs, _ := store.Runs(ctx, 0)
	if len(runs) != 2 || runs[0].RunID != "run-3" || runs[1].RunID != "run-2" {
		t.Errorf("runs after prune = %v", runs)
	}
	if events, _ := store.List(ctx, "run-0", 0, 0); len(events) != 0 {
		t.Errorf("pruned run still has %d events", len(events))
	}
}

func TestSQLiteEventStore_PruneByAge(t *testing.T) {
	store := newTestStore(t, SQLiteStoreConfig{RetentionAge: time.Hour})
	ctx := context.Background()
	appendRun(t, store, "ancient", time.Now().Add(-48*time.Hour), false)
	appendRun(t, store, "recent", time.Now(), false)

	if err := store.Prune(ctx); err != nil {
		t.Fatalf("Prune: %v", err)
	}
	runs, _ := store.Runs(ctx, 0)
	if len(runs) != 1 || runs[0].RunID != "recent" {
		t.Errorf("runs after prune = %v", runs)
	}
}

func TestSQLiteEventStore_Reopen(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "history.db")
	first, err := NewSQLiteEventStore(SQLiteStoreConfig{DSN: dsn})
	if err != nil {
		t.Fatal(err)
	}
	appendRun(t, first, "run-1", time.Now(), false)
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second := newTestStore(t, SQLiteStoreConfig{DSN: dsn})
	runs, err := second.Runs(context.Background(), 0)
	if err != nil || len(runs) != 1 {
		t.Errorf("Runs after reopen = %v, %v", runs, err)
	}
}
