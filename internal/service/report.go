package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
)

type ConceptFrequency struct {
	Concept string `json:"concept"`
	Count   int    `json:"count"`
}

// MemoryReport summarises the health of one owner's memory.
type MemoryReport struct {
	OwnerID         string                    `json:"owner_id"`
	Total           int                       `json:"total"`
	ByKind          map[domain.MemoryKind]int `json:"by_kind"`
	Strong          int                       `json:"strong"`
	Weak            int                       `json:"weak"`
	Consolidated    int                       `json:"consolidated"`
	LowPriority     int                       `json:"low_priority"`
	AverageStrength float64                   `json:"average_strength"`
	TopConcepts     []ConceptFrequency        `json:"top_concepts"`
	GeneratedAt     time.Time                 `json:"generated_at"`
}

const reportTopConcepts = 5

// Report computes strength statistics over every record the owner has.
func (s *ConsolidationService) Report(ctx context.Context, ownerID string) (*MemoryReport, error) {
	now := s.now()
	records, err := s.memoryStore.GetByTimeWindow(ctx, ownerID, time.Time{}, now)
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}

	report := &MemoryReport{
		OwnerID:     ownerID,
		ByKind:      make(map[domain.MemoryKind]int),
		TopConcepts: []ConceptFrequency{},
		GeneratedAt: now,
	}
	counts := make(map[string]int)
	var total float64
	var active int
	for _, r := range records {
		report.Total++
		report.ByKind[r.Kind]++
		if r.Consolidated() {
			report.Consolidated++
			continue
		}
		if r.LowPriority {
			report.LowPriority++
		}
		strength := s.model.Strength(r, now)
		total += strength
		active++
		switch {
		case strength >= s.thresholds.Stable:
			report.Strong++
		case strength < s.thresholds.Prune:
			report.Weak++
		}
		for _, t := range normalizedTags(r) {
			counts[t]++
		}
	}
	if active > 0 {
		report.AverageStrength = total / float64(active)
	}

	for c, n := range counts {
		report.TopConcepts = append(report.TopConcepts, ConceptFrequency{Concept: c, Count: n})
	}
	sort.Slice(report.TopConcepts, func(i, j int) bool {
		if report.TopConcepts[i].Count != report.TopConcepts[j].Count {
			return report.TopConcepts[i].Count > report.TopConcepts[j].Count
		}
		return report.TopConcepts[i].Concept < report.TopConcepts[j].Concept
	})
	if len(report.TopConcepts) > reportTopConcepts {
		report.TopConcepts = report.TopConcepts[:reportTopConcepts]
	}
	return report, nil
}
