// Package inmem holds process-local stores used by tests and by the
// "memory" backends. They follow the same upsert and ordering rules as the
// Postgres stores.
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/store"
	"github.com/google/uuid"
)

type MemoryStore struct {
	mu      sync.RWMutex
	records map[uuid.UUID]*domain.MemoryRecord

	// FailWith, when set, is consulted before every operation and its
	// non-nil result is returned instead.
	FailWith func(op string) error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[uuid.UUID]*domain.MemoryRecord)}
}

func (s *MemoryStore) fail(op string) error {
	if s.FailWith == nil {
		return nil
	}
	return s.FailWith(op)
}

func (s *MemoryStore) Store(ctx context.Context, rec *domain.MemoryRecord) (uuid.UUID, error) {
	if err := s.fail("store"); err != nil {
		return uuid.Nil, err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if rec.LastAccessedAt.IsZero() {
		rec.LastAccessedAt = rec.CreatedAt
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; !ok {
		s.records[rec.ID] = cloneRecord(rec)
	}
	return rec.ID, nil
}

func (s *MemoryStore) Search(ctx context.Context, q domain.SearchQuery) ([]domain.ScoredRecord, error) {
	if err := s.fail("search"); err != nil {
		return nil, err
	}
	if q.K <= 0 {
		q.K = 10
	}
	kinds := make(map[domain.MemoryKind]bool, len(q.Kinds))
	for _, k := range q.Kinds {
		kinds[k] = true
	}

	s.mu.RLock()
	var results []domain.ScoredRecord
	for _, r := range s.records {
		if r.OwnerID != q.OwnerID || !q.Window.Contains(r.CreatedAt) {
			continue
		}
		if len(kinds) > 0 && !kinds[r.Kind] {
			continue
		}
		if !q.IncludeInactive && (r.Consolidated() || r.LowPriority) {
			continue
		}
		results = append(results, domain.ScoredRecord{
			Record: *cloneRecord(r),
			Score:  store.KeywordScore(q.Text, r.Content),
		})
	}
	s.mu.RUnlock()

	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.ID.String() < results[j].Record.ID.String()
	})
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results, nil
}

func (s *MemoryStore) GetByTimeWindow(ctx context.Context, ownerID string, start, end time.Time) ([]domain.MemoryRecord, error) {
	if err := s.fail("get_by_time_window"); err != nil {
		return nil, err
	}
	window := domain.TimeWindow{Start: start, End: end}

	s.mu.RLock()
	var out []domain.MemoryRecord
	for _, r := range s.records {
		if r.OwnerID == ownerID && window.Contains(r.CreatedAt) {
			out = append(out, *cloneRecord(r))
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemoryStore) GetByID(ctx context.Context, id uuid.UUID) (*domain.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneRecord(r), nil
}

func (s *MemoryStore) RecordAccess(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if err := s.fail("record_access"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		r, ok := s.records[id]
		if !ok {
			continue
		}
		if at.After(r.LastAccessedAt) {
			r.LastAccessedAt = at
		}
		r.AccessCount++
	}
	return nil
}

func (s *MemoryStore) MarkConsolidated(ctx context.Context, id, into uuid.UUID) error {
	if err := s.fail("mark_consolidated"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	target := into
	r.ConsolidatedInto = &target
	return nil
}

func (s *MemoryStore) SetLowPriority(ctx context.Context, id uuid.UUID, low bool) error {
	if err := s.fail("set_low_priority"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return store.ErrNotFound
	}
	r.LowPriority = low
	return nil
}

func (s *MemoryStore) ListOwners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	seen := make(map[string]bool)
	for _, r := range s.records {
		seen[r.OwnerID] = true
	}
	s.mu.RUnlock()

	owners := make([]string, 0, len(seen))
	for o := range seen {
		owners = append(owners, o)
	}
	sort.Strings(owners)
	return owners, nil
}

// Len returns the number of stored records, consolidated ones included.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func cloneRecord(r *domain.MemoryRecord) *domain.MemoryRecord {
	c := *r
	c.Metadata.Tags = append([]string(nil), r.Metadata.Tags...)
	c.MergedFrom = append([]uuid.UUID(nil), r.MergedFrom...)
	c.Embedding = append([]float32(nil), r.Embedding...)
	if r.ConsolidatedInto != nil {
		into := *r.ConsolidatedInto
		c.ConsolidatedInto = &into
	}
	return &c
}
