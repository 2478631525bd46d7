package store

import (
	"context"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ProvenanceStore struct {
	db *pgxpool.Pool
}

func NewProvenanceStore(db *pgxpool.Pool) *ProvenanceStore {
	return &ProvenanceStore{db: db}
}

// Append inserts the entry. Entries are never updated; a replay of an
// already stored id is ignored.
func (s *ProvenanceStore) Append(ctx context.Context, e *domain.ProvenanceEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO provenance_entries (id, run_id, task_id, agent_kind, state, attempt, started_at, ended_at,
			input_hash, output_hash, trace_id, error_kind)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 ON CONFLICT (id) DO NOTHING`,
		e.ID, e.RunID, e.TaskID, e.AgentKind, e.State, e.Attempt, e.StartedAt, e.EndedAt,
		e.InputHash, e.OutputHash, e.TraceID, e.ErrorKind,
	)
	return classify("append provenance", err)
}

func (s *ProvenanceStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.ProvenanceEntry, error) {
	return s.list(ctx, `WHERE run_id = $1`, runID)
}

func (s *ProvenanceStore) ListByTrace(ctx context.Context, traceID string) ([]domain.ProvenanceEntry, error) {
	return s.list(ctx, `WHERE trace_id = $1`, traceID)
}

func (s *ProvenanceStore) list(ctx context.Context, where string, arg any) ([]domain.ProvenanceEntry, error) {
	rows, err := s.db.Query(ctx,
		`SELECT id, sequence, run_id, task_id, agent_kind, state, attempt, started_at, ended_at,
			input_hash, output_hash, trace_id, error_kind
		 FROM provenance_entries `+where+` ORDER BY sequence`,
		arg,
	)
	if err != nil {
		return nil, classify("list provenance", err)
	}
	defer rows.Close()

	var entries []domain.ProvenanceEntry
	for rows.Next() {
		var e domain.ProvenanceEntry
		if err := rows.Scan(&e.ID, &e.Sequence, &e.RunID, &e.TaskID, &e.AgentKind, &e.State, &e.Attempt,
			&e.StartedAt, &e.EndedAt, &e.InputHash, &e.OutputHash, &e.TraceID, &e.ErrorKind); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, classify("list provenance", rows.Err())
}
