// Package sqlite stores the provenance log in a local SQLite file for
// single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS provenance_entries (
	sequence    INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	run_id      TEXT NOT NULL,
	task_id     TEXT NOT NULL,
	agent_kind  TEXT NOT NULL,
	state       TEXT NOT NULL,
	attempt     INTEGER NOT NULL DEFAULT 0,
	started_at  TEXT NOT NULL,
	ended_at    TEXT NOT NULL,
	input_hash  TEXT NOT NULL,
	output_hash TEXT NOT NULL,
	trace_id    TEXT NOT NULL,
	error_kind  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS provenance_run_idx ON provenance_entries (run_id, sequence);
CREATE INDEX IF NOT EXISTS provenance_trace_idx ON provenance_entries (trace_id, sequence);
`

type ProvenanceStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string) (*ProvenanceStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	return initialize(db)
}

// OpenMemory opens a private in-memory database.
func OpenMemory() (*ProvenanceStore, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("open sqlite memory: %w", err)
	}
	// every pooled connection to :memory: would see its own database
	db.SetMaxOpenConns(1)
	return initialize(db)
}

func initialize(db *sql.DB) (*ProvenanceStore, error) {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &ProvenanceStore{db: db}, nil
}

func (s *ProvenanceStore) Close() error {
	return s.db.Close()
}

func (s *ProvenanceStore) Append(ctx context.Context, e *domain.ProvenanceEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO provenance_entries (id, run_id, task_id, agent_kind, state, attempt, started_at, ended_at,
			input_hash, output_hash, trace_id, error_kind)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID.String(), e.RunID.String(), e.TaskID, string(e.AgentKind), e.State, e.Attempt,
		formatTime(e.StartedAt), formatTime(e.EndedAt), e.InputHash, e.OutputHash, e.TraceID, string(e.ErrorKind),
	)
	if err != nil {
		return classify("append provenance", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		if seq, err := res.LastInsertId(); err == nil {
			e.Sequence = seq
		}
	}
	return nil
}

func (s *ProvenanceStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.ProvenanceEntry, error) {
	return s.list(ctx, "run_id = ?", runID.String())
}

func (s *ProvenanceStore) ListByTrace(ctx context.Context, traceID string) ([]domain.ProvenanceEntry, error) {
	return s.list(ctx, "trace_id = ?", traceID)
}

func (s *ProvenanceStore) list(ctx context.Context, where string, arg any) ([]domain.ProvenanceEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT sequence, id, run_id, task_id, agent_kind, state, attempt, started_at, ended_at,
			input_hash, output_hash, trace_id, error_kind
		 FROM provenance_entries WHERE `+where+` ORDER BY sequence`, arg)
	if err != nil {
		return nil, classify("list provenance", err)
	}
	defer rows.Close()

	var entries []domain.ProvenanceEntry
	for rows.Next() {
		var (
			e                  domain.ProvenanceEntry
			id, runID          string
			agentKind, errKind string
			started, ended     string
		)
		if err := rows.Scan(&e.Sequence, &id, &runID, &e.TaskID, &agentKind, &e.State, &e.Attempt,
			&started, &ended, &e.InputHash, &e.OutputHash, &e.TraceID, &errKind); err != nil {
			return nil, err
		}
		if e.ID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("parse entry id: %w", err)
		}
		if e.RunID, err = uuid.Parse(runID); err != nil {
			return nil, fmt.Errorf("parse run id: %w", err)
		}
		e.AgentKind = domain.AgentKind(agentKind)
		e.ErrorKind = domain.ErrorKind(errKind)
		e.StartedAt = parseTime(started)
		e.EndedAt = parseTime(ended)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func classify(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(err.Error(), "database is locked") {
		return domain.NewTransientStoreError(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}
