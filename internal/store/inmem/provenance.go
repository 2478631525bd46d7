package inmem

import (
	"context"
	"sync"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
)

type ProvenanceStore struct {
	mu      sync.RWMutex
	entries []domain.ProvenanceEntry
	ids     map[uuid.UUID]bool

	FailWith func(op string) error
}

func NewProvenanceStore() *ProvenanceStore {
	return &ProvenanceStore{ids: make(map[uuid.UUID]bool)}
}

func (s *ProvenanceStore) Append(ctx context.Context, e *domain.ProvenanceEntry) error {
	if s.FailWith != nil {
		if err := s.FailWith("append"); err != nil {
			return err
		}
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ids[e.ID] {
		return nil
	}
	s.ids[e.ID] = true
	e.Sequence = int64(len(s.entries) + 1)
	s.entries = append(s.entries, *e)
	return nil
}

func (s *ProvenanceStore) ListByRun(ctx context.Context, runID uuid.UUID) ([]domain.ProvenanceEntry, error) {
	return s.filter(func(e domain.ProvenanceEntry) bool { return e.RunID == runID }), nil
}

func (s *ProvenanceStore) ListByTrace(ctx context.Context, traceID string) ([]domain.ProvenanceEntry, error) {
	return s.filter(func(e domain.ProvenanceEntry) bool { return e.TraceID == traceID }), nil
}

func (s *ProvenanceStore) filter(keep func(domain.ProvenanceEntry) bool) []domain.ProvenanceEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.ProvenanceEntry
	for _, e := range s.entries {
		if keep(e) {
			out = append(out, e)
		}
	}
	return out
}
