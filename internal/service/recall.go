package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"go.uber.org/zap"
)

type ScoreBreakdown struct {
	Relevance  float64 `json:"relevance"`
	Strength   float64 `json:"strength"`
	FinalScore float64 `json:"final_score"`
}

type RecalledRecord struct {
	Record    domain.MemoryRecord `json:"record"`
	Breakdown ScoreBreakdown      `json:"score_breakdown"`
}

// RecallService reads memory on behalf of agents. It never writes; callers
// that want recalled records reinforced pass their ids to
// MemoryStore.RecordAccess once their own work is committed.
type RecallService struct {
	store  domain.MemoryStore
	model  StrengthModel
	logger *zap.Logger
	now    func() time.Time
}

func NewRecallService(store domain.MemoryStore, model StrengthModel, logger *zap.Logger) *RecallService {
	return &RecallService{store: store, model: model, logger: logger, now: time.Now}
}

func (s *RecallService) SetClock(now func() time.Time) {
	s.now = now
}

// Recall ranks search hits by relevance × strength. Consolidated and
// low-priority records are excluded unless q.IncludeInactive is set.
func (s *RecallService) Recall(ctx context.Context, q domain.SearchQuery) ([]RecalledRecord, error) {
	if q.K <= 0 {
		q.K = 10
	}
	want := q.K
	// over-fetch so strength re-ranking has candidates to reorder
	q.K = want * 3

	hits, err := s.store.Search(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("search memory: %w", err)
	}

	now := s.now()
	hasText := strings.TrimSpace(q.Text) != ""
	results := make([]RecalledRecord, 0, len(hits))
	for _, h := range hits {
		if !q.IncludeInactive && (h.Record.Consolidated() || h.Record.LowPriority) {
			continue
		}
		if hasText && h.Score <= 0 {
			continue
		}
		relevance := h.Score
		if !hasText {
			relevance = 1
		}
		strength := s.model.Strength(h.Record, now)
		results = append(results, RecalledRecord{
			Record: h.Record,
			Breakdown: ScoreBreakdown{
				Relevance:  relevance,
				Strength:   strength,
				FinalScore: relevance * strength,
			},
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Breakdown.FinalScore != results[j].Breakdown.FinalScore {
			return results[i].Breakdown.FinalScore > results[j].Breakdown.FinalScore
		}
		return results[i].Record.ID.String() < results[j].Record.ID.String()
	})
	if len(results) > want {
		results = results[:want]
	}

	s.logger.Debug("recalled memories",
		zap.String("owner_id", q.OwnerID),
		zap.Int("count", len(results)))
	return results, nil
}
