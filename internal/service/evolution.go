package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/store"
	"go.uber.org/zap"
)

// EffectiveExposures discounts exposures by how long the concept has gone
// unseen, using the same forgetting curve as memory records.
func EffectiveExposures(n domain.ConceptNode, now time.Time, model StrengthModel) float64 {
	last := n.LastSeenAt
	if last.IsZero() {
		last = n.FirstSeenAt
	}
	return float64(n.ExposureCount) * model.Retention(now.Sub(last), n.ExposureCount)
}

// DecayMastery is the explicit recomputation that may lower mastery.
func DecayMastery(n domain.ConceptNode, now time.Time, model StrengthModel) domain.ConceptNode {
	effective := int(math.Floor(EffectiveExposures(n, now, model)))
	n.Mastery = domain.MasteryFor(effective)
	return n
}

type ConceptEvolution struct {
	Concept            domain.ConceptNode `json:"concept"`
	DaysKnown          float64            `json:"days_known"`
	DaysSinceLastSeen  float64            `json:"days_since_last_seen"`
	EffectiveExposures float64            `json:"effective_exposures"`
	EvolutionScore     float64            `json:"evolution_score"`
	NextMastery        domain.Mastery     `json:"next_mastery,omitempty"`
	ExposuresToNext    int                `json:"exposures_to_next,omitempty"`
}

// ConceptService exposes concept evolution over the graph store.
type ConceptService struct {
	graph  domain.GraphStore
	model  StrengthModel
	logger *zap.Logger
	now    func() time.Time
}

func NewConceptService(graph domain.GraphStore, model StrengthModel, logger *zap.Logger) *ConceptService {
	return &ConceptService{graph: graph, model: model, logger: logger, now: time.Now}
}

func (s *ConceptService) SetClock(now func() time.Time) {
	s.now = now
}

func (s *ConceptService) Evolution(ctx context.Context, name string) (*ConceptEvolution, error) {
	node, err := s.graph.GetNode(ctx, domain.NormalizeConcept(name))
	if err != nil {
		return nil, err
	}
	return s.describe(*node), nil
}

func (s *ConceptService) describe(node domain.ConceptNode) *ConceptEvolution {
	now := s.now()
	ev := &ConceptEvolution{
		Concept:            node,
		DaysKnown:          now.Sub(node.FirstSeenAt).Hours() / 24,
		DaysSinceLastSeen:  now.Sub(node.LastSeenAt).Hours() / 24,
		EffectiveExposures: EffectiveExposures(node, now, s.model),
		EvolutionScore:     math.Min(1, float64(node.ExposureCount)*0.1),
	}
	switch node.Mastery {
	case domain.MasteryNovice, "":
		ev.NextMastery, ev.ExposuresToNext = domain.MasteryFamiliar, domain.FamiliarExposures-node.ExposureCount
	case domain.MasteryFamiliar:
		ev.NextMastery, ev.ExposuresToNext = domain.MasteryProficient, domain.ProficientExposures-node.ExposureCount
	case domain.MasteryProficient:
		ev.NextMastery, ev.ExposuresToNext = domain.MasteryExpert, domain.ExpertExposures-node.ExposureCount
	}
	if ev.ExposuresToNext < 0 {
		ev.ExposuresToNext = 0
	}
	return ev
}

// Decay applies DecayMastery to the stored node and persists the result.
func (s *ConceptService) Decay(ctx context.Context, name string) (*ConceptEvolution, error) {
	node, err := s.graph.GetNode(ctx, domain.NormalizeConcept(name))
	if err != nil {
		return nil, err
	}
	decayed := DecayMastery(*node, s.now(), s.model)
	if decayed.Mastery != node.Mastery {
		if err := s.graph.SetMastery(ctx, decayed.Name, decayed.Mastery, false); err != nil {
			return nil, fmt.Errorf("persist decayed mastery: %w", err)
		}
		s.logger.Info("concept mastery decayed",
			zap.String("concept", decayed.Name),
			zap.String("from", string(node.Mastery)),
			zap.String("to", string(decayed.Mastery)))
	}
	return s.describe(decayed), nil
}

// promote raises stored mastery to match the exposure count. It reports
// whether the level was behind. Missing nodes are skipped.
func promote(ctx context.Context, graph domain.GraphStore, name string) (bool, error) {
	node, err := graph.GetNode(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	level := domain.MasteryFor(node.ExposureCount)
	if level.Rank() <= node.Mastery.Rank() {
		return false, nil
	}
	if err := graph.SetMastery(ctx, name, level, true); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
