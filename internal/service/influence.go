package service

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"go.uber.org/zap"
)

const (
	DefaultInfluenceDepth = 3
	// maxInfluenced caps the concepts listed in an influence report.
	maxInfluenced = 50
)

type InfluencedConcept struct {
	Concept  string `json:"concept"`
	Distance int    `json:"distance"`
}

// InfluenceReport describes how far a concept's influence reaches through
// cites edges pointing at it.
type InfluenceReport struct {
	Concept         string              `json:"concept"`
	MaxDepth        int                 `json:"max_depth"`
	Direct          int                 `json:"direct"`
	Indirect        int                 `json:"indirect"`
	Score           float64             `json:"influence_score"`
	MaxDepthReached int                 `json:"max_depth_reached"`
	ByDepth         map[int]int         `json:"by_depth"`
	Influenced      []InfluencedConcept `json:"influenced"`
}

// InfluencePropagation walks cites edges backwards from concept, level by
// level up to maxDepth. Each citing concept counts once at its shortest
// distance d and contributes 1/d^1.5 to the score.
func (s *ReasoningService) InfluencePropagation(ctx context.Context, concept string, maxDepth int) (*InfluenceReport, error) {
	concept = domain.NormalizeConcept(concept)
	if concept == "" {
		return nil, fmt.Errorf("concept must be non-empty")
	}
	if maxDepth <= 0 {
		maxDepth = DefaultInfluenceDepth
	}
	if maxDepth > MaxHopsLimit {
		maxDepth = MaxHopsLimit
	}

	report := &InfluenceReport{
		Concept:    concept,
		MaxDepth:   maxDepth,
		ByDepth:    make(map[int]int),
		Influenced: []InfluencedConcept{},
	}
	visited := map[string]bool{concept: true}
	frontier := []string{concept}
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		next := make(map[string]bool)
		for _, cited := range frontier {
			edges, err := s.graph.EdgesOf(ctx, cited)
			if err != nil {
				return nil, fmt.Errorf("load edges of %s: %w", cited, err)
			}
			for _, e := range edges {
				if e.Kind != domain.EdgeCites || e.To != cited || visited[e.From] {
					continue
				}
				next[e.From] = true
			}
		}
		frontier = sortedSet(next)
		for _, c := range frontier {
			visited[c] = true
			report.ByDepth[depth]++
			report.Score += 1 / math.Pow(float64(depth), 1.5)
			report.MaxDepthReached = depth
			if depth == 1 {
				report.Direct++
			} else {
				report.Indirect++
			}
			if len(report.Influenced) < maxInfluenced {
				report.Influenced = append(report.Influenced, InfluencedConcept{Concept: c, Distance: depth})
			}
		}
	}
	sort.SliceStable(report.Influenced, func(i, j int) bool {
		return report.Influenced[i].Distance < report.Influenced[j].Distance
	})

	s.logger.Debug("influence propagated",
		zap.String("concept", concept),
		zap.Int("direct", report.Direct),
		zap.Int("indirect", report.Indirect))
	return report, nil
}
