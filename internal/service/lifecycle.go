package service

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/Harshitk-cp/scholae/internal/domain"
)

// ErrNoTimeline is returned for a concept no edge touches.
var ErrNoTimeline = errors.New("no relationship history for concept")

type LifecycleStage string

const (
	StageEmerging     LifecycleStage = "emerging"
	StageRapidGrowth  LifecycleStage = "rapid_growth"
	StageSteadyGrowth LifecycleStage = "steady_growth"
	StageMature       LifecycleStage = "mature"
	StageDeclining    LifecycleStage = "declining"
)

// Year windows, counted back from the current year.
const (
	recentYears = 5
	earlyYears  = 10
)

type YearCount struct {
	Year  int `json:"year"`
	Edges int `json:"edges"`
}

type ConceptLifecycle struct {
	Concept       string         `json:"concept"`
	FirstAppeared int            `json:"first_appeared"`
	TotalYears    int            `json:"total_years"`
	Stage         LifecycleStage `json:"lifecycle_stage"`
	GrowthRate    float64        `json:"growth_rate"`
	Timeline      []YearCount    `json:"timeline"`
	Prediction    string         `json:"prediction"`
}

// ConceptLifecycle buckets the edges touching concept by the year they
// were created and classifies the trend. Growth is the edge count of the
// recent window over that of the early window, which counts as one when
// empty.
func (s *ReasoningService) ConceptLifecycle(ctx context.Context, concept string) (*ConceptLifecycle, error) {
	concept = domain.NormalizeConcept(concept)
	edges, err := s.graph.EdgesOf(ctx, concept)
	if err != nil {
		return nil, fmt.Errorf("load edges of %s: %w", concept, err)
	}
	perYear := make(map[int]int)
	for _, e := range edges {
		if e.CreatedAt.IsZero() {
			continue
		}
		perYear[e.CreatedAt.Year()]++
	}
	if len(perYear) == 0 {
		return nil, ErrNoTimeline
	}

	lc := &ConceptLifecycle{Concept: concept, Timeline: make([]YearCount, 0, len(perYear))}
	for y, n := range perYear {
		lc.Timeline = append(lc.Timeline, YearCount{Year: y, Edges: n})
	}
	sort.Slice(lc.Timeline, func(i, j int) bool { return lc.Timeline[i].Year < lc.Timeline[j].Year })
	lc.FirstAppeared = lc.Timeline[0].Year
	lc.TotalYears = len(lc.Timeline)

	year := s.now().Year()
	recent, early := 0, 0
	for _, yc := range lc.Timeline {
		switch {
		case yc.Year >= year-recentYears:
			recent += yc.Edges
		case yc.Year < year-earlyYears:
			early += yc.Edges
		}
	}
	if early == 0 {
		early = 1
	}
	lc.GrowthRate = float64(recent) / float64(early)
	lc.Stage = stageOf(lc.TotalYears, lc.GrowthRate)
	lc.Prediction = predictions[lc.Stage]
	return lc, nil
}

func stageOf(years int, growth float64) LifecycleStage {
	switch {
	case years < 3:
		return StageEmerging
	case growth > 2:
		return StageRapidGrowth
	case growth > 1:
		return StageSteadyGrowth
	case growth > 0.5:
		return StageMature
	}
	return StageDeclining
}

var predictions = map[LifecycleStage]string{
	StageEmerging:     "new concept, still gathering relationships",
	StageRapidGrowth:  "expect strong growth to continue",
	StageSteadyGrowth: "stable area with consistent activity",
	StageMature:       "well established, likely to plateau",
	StageDeclining:    "fading, may be superseded by newer concepts",
}
