package bus

import (
	"context"
	"time"

	"github.com/petal-labs/canvasflow/runtime"
)

// Run statuses recorded in history.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// RunSummary is one row of run history, derived from the run.started and
// run.finished events of a run.
type RunSummary struct {
	RunID      string        `json:"run_id"`
	Status     string        `json:"status"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at,omitempty"`
	Elapsed    time.Duration `json:"elapsed"`
	FailedNode string        `json:"failed_node,omitempty"`
	Error      string        `json:"error,omitempty"`
	Events     int           `json:"events"`
}

// EventStore persists events for replay and history.
type EventStore interface {
	// Append stores an event.
	Append(ctx context.Context, event runtime.Event) error

	// List returns events for a run, optionally filtered.
	// afterSeq: return events with Seq > afterSeq (0 means all)
	// limit: max events to return (0 means no limit)
	List(ctx context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error)

	// LatestSeq returns the highest Seq for a run (0 if no events).
	LatestSeq(ctx context.Context, runID string) (uint64, error)

	// Runs returns run summaries, most recently started first.
	// limit: max runs to return (0 means no limit)
	Runs(ctx context.Context, limit int) ([]RunSummary, error)
}

// applyEvent folds an event into a run summary.
func applyEvent(s *RunSummary, e runtime.Event) {
	s.RunID = e.RunID
	s.Events++
	switch e.Kind {
	case runtime.EventRunStarted:
		s.StartedAt = e.Time
		if s.Status == "" {
			s.Status = RunStatusRunning
		}
	case runtime.EventRunFinished:
		s.FinishedAt = e.Time
		s.Elapsed = e.Elapsed
		s.Status = RunStatusCompleted
		if status, _ := e.Payload["status"].(string); status == RunStatusFailed {
			s.Status = RunStatusFailed
		}
		s.Error, _ = e.Payload["error"].(string)
		s.FailedNode, _ = e.Payload["failed_node"].(string)
	default:
		if s.Status == "" {
			s.Status = RunStatusRunning
		}
	}
}
