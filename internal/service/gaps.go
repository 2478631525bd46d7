package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
)

const maxMemoryGaps = 10

// MemoryGap is a concept the graph links to the owner's knowledge that
// none of the owner's memories mention.
type MemoryGap struct {
	Concept    string   `json:"concept"`
	Importance int      `json:"importance"`
	LinkedFrom []string `json:"linked_from"`
	Reason     string   `json:"reason"`
}

// MemoryGaps lists graph neighbours of the concepts tagged on the owner's
// active memories that the owner has not tagged yet. Importance is the
// number of known concepts pointing at the gap.
func (s *ConsolidationService) MemoryGaps(ctx context.Context, ownerID string) ([]MemoryGap, error) {
	gaps := []MemoryGap{}
	if s.graphStore == nil {
		return gaps, nil
	}
	records, err := s.memoryStore.GetByTimeWindow(ctx, ownerID, time.Time{}, s.now())
	if err != nil {
		return nil, fmt.Errorf("load memories: %w", err)
	}
	known := make(map[string]bool)
	for _, r := range records {
		if r.Consolidated() || r.LowPriority {
			continue
		}
		for _, t := range normalizedTags(r) {
			known[t] = true
		}
	}

	linked := make(map[string]map[string]bool)
	for _, c := range sortedSet(known) {
		edges, err := s.graphStore.EdgesOf(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("load edges of %s: %w", c, err)
		}
		for _, e := range edges {
			if e.Kind == domain.EdgeContradicts {
				continue
			}
			other := e.From
			if other == c {
				other = e.To
			}
			if known[other] {
				continue
			}
			if linked[other] == nil {
				linked[other] = make(map[string]bool)
			}
			linked[other][c] = true
		}
	}

	for concept, from := range linked {
		gaps = append(gaps, MemoryGap{
			Concept:    concept,
			Importance: len(from),
			LinkedFrom: sortedSet(from),
			Reason:     fmt.Sprintf("related to %d concept(s) you already know", len(from)),
		})
	}
	sort.Slice(gaps, func(i, j int) bool {
		if gaps[i].Importance != gaps[j].Importance {
			return gaps[i].Importance > gaps[j].Importance
		}
		return gaps[i].Concept < gaps[j].Concept
	})
	if len(gaps) > maxMemoryGaps {
		gaps = gaps[:maxMemoryGaps]
	}
	return gaps, nil
}
