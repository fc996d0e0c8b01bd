package bus

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/petal-labs/canvasflow/runtime"

	_ "modernc.org/sqlite"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLiteStoreConfig configures the SQLite event store.
type SQLiteStoreConfig struct {
	// DSN is the database connection string.
	DSN string

	// RetentionAge deletes runs that started longer ago than this (0 = keep).
	RetentionAge time.Duration

	// RetentionRuns keeps at most this many runs (0 = keep all).
	RetentionRuns int

	// PruneInterval is how often to run pruning (default 1 hour).
	PruneInterval time.Duration
}

// SQLiteEventStore persists events and run summaries to a SQLite database
// in WAL mode, with an optional background pruner.
type SQLiteEventStore struct {
	db   *sql.DB
	cfg  SQLiteStoreConfig
	stop chan struct{}
	done chan struct{}
}

// NewSQLiteEventStore opens (or creates) a SQLite event store.
func NewSQLiteEventStore(cfg SQLiteStoreConfig) (*SQLiteEventStore, error) {
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}

	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: set WAL mode: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitestore: create schema: %w", err)
	}

	s := &SQLiteEventStore{
		db:   db,
		cfg:  cfg,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	if cfg.RetentionAge > 0 || cfg.RetentionRuns > 0 {
		go s.pruneLoop()
	} else {
		close(s.done)
	}
	return s, nil
}

// Append stores an event and updates the run summary in one transaction.
func (s *SQLiteEventStore) Append(ctx context.Context, event runtime.Event) error {
	payload := event.Payload
	if payload == nil {
		payload = map[string]any{}
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sqlitestore: marshal payload: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, seq, kind, node_id, node_type, time, elapsed, payload, trace_id, span_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.RunID,
		event.Seq,
		string(event.Kind),
		event.NodeID,
		event.NodeType,
		formatTime(event.Time),
		int64(event.Elapsed),
		string(payloadJSON),
		event.TraceID,
		event.SpanID,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: append: %w", err)
	}

	if err := s.upsertRun(ctx, tx, event); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) upsertRun(ctx context.Context, tx *sql.Tx, event runtime.Event) error {
	var sum RunSummary
	var started, finished string
	var elapsed int64
	err := tx.QueryRowContext(ctx,
		`SELECT status, started_at, finished_at, elapsed, failed_node, error, events FROM runs WHERE run_id = ?`,
		event.RunID,
	).Scan(&sum.Status, &started, &finished, &elapsed, &sum.FailedNode, &sum.Error, &sum.Events)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return fmt.Errorf("sqlitestore: load run: %w", err)
	default:
		sum.StartedAt, _ = parseTime(started)
		sum.FinishedAt, _ = parseTime(finished)
		sum.Elapsed = time.Duration(elapsed)
	}

	applyEvent(&sum, event)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, status, started_at, finished_at, elapsed, failed_node, error, events)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id) DO UPDATE SET
		   status = excluded.status,
		   started_at = excluded.started_at,
		   finished_at = excluded.finished_at,
		   elapsed = excluded.elapsed,
		   failed_node = excluded.failed_node,
		   error = excluded.error,
		   events = excluded.events`,
		sum.RunID,
		sum.Status,
		formatTime(sum.StartedAt),
		formatTime(sum.FinishedAt),
		int64(sum.Elapsed),
		sum.FailedNode,
		sum.Error,
		sum.Events,
	)
	if err != nil {
		return fmt.Errorf("sqlitestore: upsert run: %w", err)
	}
	return nil
}

// List returns events for a run, optionally filtered by afterSeq and limit.
func (s *SQLiteEventStore) List(ctx context.Context, runID string, afterSeq uint64, limit int) ([]runtime.Event, error) {
	query := `SELECT run_id, seq, kind, node_id, node_type, time, elapsed, payload, trace_id, span_id
	           FROM events WHERE run_id = ? AND seq > ? ORDER BY seq ASC`
	args := []any{runID, afterSeq}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list: %w", err)
	}
	defer rows.Close()

	return scanEvents(rows)
}

// LatestSeq returns the highest Seq for a run (0 if no events).
func (s *SQLiteEventStore) LatestSeq(ctx context.Context, runID string) (uint64, error) {
	var seq sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE run_id = ?`, runID,
	).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: latest seq: %w", err)
	}
	if !seq.Valid || seq.Int64 < 0 {
		return 0, nil
	}
	return uint64(seq.Int64), nil // #nosec G115 -- checked non-negative above
}

// Runs returns run summaries, most recently started first.
func (s *SQLiteEventStore) Runs(ctx context.Context, limit int) ([]RunSummary, error) {
	query := `SELECT run_id, status, started_at, finished_at, elapsed, failed_node, error, events
	           FROM runs ORDER BY started_at DESC, run_id DESC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: runs: %w", err)
	}
	defer rows.Close()

	var out []RunSummary
	for rows.Next() {
		var (
			r                 RunSummary
			started, finished string
			elapsed           int64
		)
		if err := rows.Scan(&r.RunID, &r.Status, &started, &finished, &elapsed, &r.FailedNode, &r.Error, &r.Events); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan run: %w", err)
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if r.FinishedAt, err = parseTime(finished); err != nil {
			return nil, err
		}
		r.Elapsed = time.Duration(elapsed)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close stops the background pruner and closes the database connection.
func (s *SQLiteEventStore) Close() error {
	select {
	case <-s.stop:
		// Already closed.
	default:
		close(s.stop)
	}
	<-s.done
	return s.db.Close()
}

// Prune runs a single pruning pass. Events of pruned runs go with them.
func (s *SQLiteEventStore) Prune(ctx context.Context) error {
	if s.cfg.RetentionAge > 0 {
		cutoff := formatTime(time.Now().Add(-s.cfg.RetentionAge))
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE started_at != '' AND started_at < ?`, cutoff,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by age: %w", err)
		}
	}

	if s.cfg.RetentionRuns > 0 {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM runs WHERE run_id NOT IN (
				SELECT run_id FROM runs ORDER BY started_at DESC, run_id DESC LIMIT ?
			)`, s.cfg.RetentionRuns,
		); err != nil {
			return fmt.Errorf("sqlitestore: prune by count: %w", err)
		}
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM events WHERE run_id NOT IN (SELECT run_id FROM runs)`,
	); err != nil {
		return fmt.Errorf("sqlitestore: prune orphaned events: %w", err)
	}
	return nil
}

func (s *SQLiteEventStore) pruneLoop() {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.PruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			_ = s.Prune(context.Background())
		}
	}
}

func scanEvents(rows *sql.Rows) ([]runtime.Event, error) {
	var events []runtime.Event
	for rows.Next() {
		var (
			e           runtime.Event
			kind        string
			timeStr     string
			elapsedNano int64
			payloadJSON string
		)
		err := rows.Scan(
			&e.RunID,
			&e.Seq,
			&kind,
			&e.NodeID,
			&e.NodeType,
			&timeStr,
			&elapsedNano,
			&payloadJSON,
			&e.TraceID,
			&e.SpanID,
		)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan event: %w", err)
		}

		e.Kind = runtime.EventKind(kind)
		e.Elapsed = time.Duration(elapsedNano)
		if e.Time, err = parseTime(timeStr); err != nil {
			return nil, err
		}

		e.Payload = map[string]any{}
		if payloadJSON != "" && payloadJSON != "{}" {
			if err := json.Unmarshal([]byte(payloadJSON), &e.Payload); err != nil {
				return nil, fmt.Errorf("sqlitestore: unmarshal payload: %w", err)
			}
		}

		events = append(events, e)
	}
	return events, rows.Err()
}

// Times are stored as fixed-width UTC strings so they sort lexically.
const storedTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(storedTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlitestore: parse time %q: %w", s, err)
	}
	return t, nil
}

// Compile-time interface check.
var _ EventStore = (*SQLiteEventStore)(nil)
