package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

const recordColumns = `id, kind, owner_id, content, created_at, last_accessed_at, access_count, base_strength,
	tags, confidence, session, consolidated_into, merged_from, low_priority`

type MemoryStore struct {
	db       *pgxpool.Pool
	embedder domain.EmbeddingClient
}

// NewMemoryStore returns a Postgres-backed store. When embedder is nil,
// search falls back to keyword matching.
func NewMemoryStore(db *pgxpool.Pool, embedder domain.EmbeddingClient) *MemoryStore {
	return &MemoryStore{db: db, embedder: embedder}
}

func (s *MemoryStore) Store(ctx context.Context, rec *domain.MemoryRecord) (uuid.UUID, error) {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.LastAccessedAt.IsZero() {
		rec.LastAccessedAt = rec.CreatedAt
	}

	if len(rec.Embedding) == 0 && s.embedder != nil {
		emb, err := s.embedder.Embed(ctx, rec.Content)
		if err != nil {
			return uuid.Nil, domain.NewTransientStoreError("embed memory", err)
		}
		rec.Embedding = emb
	}
	var embedding *pgvector.Vector
	if len(rec.Embedding) > 0 {
		v := pgvector.NewVector(rec.Embedding)
		embedding = &v
	}

	// Replays of the same record are no-ops.
	_, err := s.db.Exec(ctx,
		`INSERT INTO memory_records (id, kind, owner_id, content, created_at, last_accessed_at, access_count, base_strength,
			tags, confidence, session, consolidated_into, merged_from, low_priority, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Kind, rec.OwnerID, rec.Content, rec.CreatedAt, rec.LastAccessedAt, rec.AccessCount, rec.BaseStrength,
		rec.Metadata.Tags, rec.Metadata.Confidence, rec.Metadata.Session, rec.ConsolidatedInto, rec.MergedFrom, rec.LowPriority, embedding,
	)
	if err != nil {
		return uuid.Nil, classify("store memory", err)
	}
	return rec.ID, nil
}

func (s *MemoryStore) Search(ctx context.Context, q domain.SearchQuery) ([]domain.ScoredRecord, error) {
	if q.K <= 0 {
		q.K = 10
	}

	var conditions []string
	var args []any

	conditions = append(conditions, fmt.Sprintf("owner_id = $%d", len(args)+1))
	args = append(args, q.OwnerID)

	if len(q.Kinds) > 0 {
		kinds := make([]string, len(q.Kinds))
		for i, k := range q.Kinds {
			kinds[i] = string(k)
		}
		conditions = append(conditions, fmt.Sprintf("kind = ANY($%d)", len(args)+1))
		args = append(args, kinds)
	}
	if !q.Window.Start.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", len(args)+1))
		args = append(args, q.Window.Start)
	}
	if !q.Window.End.IsZero() {
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", len(args)+1))
		args = append(args, q.Window.End)
	}
	if !q.IncludeInactive {
		conditions = append(conditions, "consolidated_into IS NULL", "low_priority = FALSE")
	}

	if s.embedder != nil && strings.TrimSpace(q.Text) != "" {
		emb, err := s.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, domain.NewTransientStoreError("embed query", err)
		}
		conditions = append(conditions, "embedding IS NOT NULL")
		vecParam := len(args) + 1
		args = append(args, pgvector.NewVector(emb))
		limitParam := len(args) + 1
		args = append(args, q.K)

		query := fmt.Sprintf(
			`SELECT %s, 1 - (embedding <=> $%d) AS score
			 FROM memory_records WHERE %s
			 ORDER BY embedding <=> $%d, id
			 LIMIT $%d`,
			recordColumns, vecParam, strings.Join(conditions, " AND "), vecParam, limitParam)
		return s.queryScored(ctx, query, args...)
	}

	// Keyword fallback: pull candidates and rank in process.
	query := fmt.Sprintf(
		`SELECT %s, 0::float8 AS score FROM memory_records WHERE %s ORDER BY last_accessed_at DESC, id`,
		recordColumns, strings.Join(conditions, " AND "))
	candidates, err := s.queryScored(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	for i := range candidates {
		candidates[i].Score = KeywordScore(q.Text, candidates[i].Record.Content)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	if len(candidates) > q.K {
		candidates = candidates[:q.K]
	}
	return candidates, nil
}

func (s *MemoryStore) queryScored(ctx context.Context, query string, args ...any) ([]domain.ScoredRecord, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, classify("search memory", err)
	}
	defer rows.Close()

	var results []domain.ScoredRecord
	for rows.Next() {
		var sr domain.ScoredRecord
		dest := append(recordDest(&sr.Record), &sr.Score)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		results = append(results, sr)
	}
	return results, classify("search memory", rows.Err())
}

func (s *MemoryStore) GetByTimeWindow(ctx context.Context, ownerID string, start, end time.Time) ([]domain.MemoryRecord, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+recordColumns+` FROM memory_records
		 WHERE owner_id = $1 AND created_at >= $2 AND created_at <= $3
		 ORDER BY created_at, id`,
		ownerID, start, end,
	)
	if err != nil {
		return nil, classify("get memory window", err)
	}
	defer rows.Close()

	var records []domain.MemoryRecord
	for rows.Next() {
		var rec domain.MemoryRecord
		if err := rows.Scan(recordDest(&rec)...); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, classify("get memory window", rows.Err())
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MemoryRecord, error) {
	var rec domain.MemoryRecord
	err := s.db.QueryRow(ctx,
		`SELECT `+recordColumns+` FROM memory_records WHERE id = $1`, id,
	).Scan(recordDest(&rec)...)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, classify("get memory", err)
	}
	return &rec, nil
}

func (s *MemoryStore) RecordAccess(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx,
		`UPDATE memory_records
		 SET last_accessed_at = GREATEST(last_accessed_at, $2), access_count = access_count + 1
		 WHERE id = ANY($1)`,
		ids, at,
	)
	return classify("record access", err)
}

func (s *MemoryStore) MarkConsolidated(ctx context.Context, id, into uuid.UUID) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_records SET consolidated_into = $2 WHERE id = $1`,
		id, into,
	)
	if err != nil {
		return classify("mark consolidated", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) SetLowPriority(ctx context.Context, id uuid.UUID, low bool) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE memory_records SET low_priority = $2 WHERE id = $1`,
		id, low,
	)
	if err != nil {
		return classify("set low priority", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MemoryStore) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, `SELECT DISTINCT owner_id FROM memory_records ORDER BY owner_id`)
	if err != nil {
		return nil, classify("list owners", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var o string
		if err := rows.Scan(&o); err != nil {
			return nil, err
		}
		owners = append(owners, o)
	}
	return owners, classify("list owners", rows.Err())
}

func recordDest(rec *domain.MemoryRecord) []any {
	return []any{
		&rec.ID, &rec.Kind, &rec.OwnerID, &rec.Content, &rec.CreatedAt, &rec.LastAccessedAt, &rec.AccessCount, &rec.BaseStrength,
		&rec.Metadata.Tags, &rec.Metadata.Confidence, &rec.Metadata.Session, &rec.ConsolidatedInto, &rec.MergedFrom, &rec.LowPriority,
	}
}
