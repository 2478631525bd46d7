package service

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/scholae/internal/domain"
)

const (
	ReasonContradictsAffirmed = "contradicts_affirmed_relation"
	ReasonMutualContradiction = "mutual_contradiction"
	ReasonIncompatibleClaims  = "extends_and_challenges_with_incompatible_evidence"
)

// Contradictions returns the set of conflicting edge pairs in which
// concept takes part. Pairs are reported, never resolved.
//
// A pair is one of:
//   - a contradicts edge and an affirming edge over the same endpoints
//   - contradicts edges in both directions between two concepts
//   - an extends and a challenges edge aimed at the same concept whose
//     evidence differs
//
// The slice is a set: each unordered pair appears once, sorted by key.
func (s *ReasoningService) Contradictions(ctx context.Context, concept string) ([]domain.ConflictPair, error) {
	concept = domain.NormalizeConcept(concept)
	incident, err := s.graph.EdgesOf(ctx, concept)
	if err != nil {
		return nil, fmt.Errorf("load edges of %s: %w", concept, err)
	}

	// Extends/challenges pairs may target a neighbour, so pull in edges
	// that share a target with an incident edge.
	candidates := append([]domain.RelationshipEdge(nil), incident...)
	targets := make(map[string]bool)
	for _, e := range incident {
		if e.Kind == domain.EdgeExtends || e.Kind == domain.EdgeChallenges {
			targets[e.To] = true
		}
	}
	for _, t := range sortedSet(targets) {
		if t == concept {
			continue
		}
		more, err := s.graph.EdgesOf(ctx, t)
		if err != nil {
			return nil, fmt.Errorf("load edges of %s: %w", t, err)
		}
		candidates = append(candidates, more...)
	}

	set := make(map[string]domain.ConflictPair)
	add := func(a, b domain.RelationshipEdge, reason string) {
		if !a.Touches(concept) && !b.Touches(concept) {
			return
		}
		if b.Key() < a.Key() {
			a, b = b, a
		}
		key := a.Key() + "#" + b.Key()
		if _, ok := set[key]; !ok {
			set[key] = domain.ConflictPair{First: a, Second: b, Reason: reason}
		}
	}

	byKey := make(map[string]domain.RelationshipEdge, len(candidates))
	for _, e := range candidates {
		byKey[e.Key()] = e
	}
	edges := make([]domain.RelationshipEdge, 0, len(byKey))
	for _, k := range sortedKeysOf(byKey) {
		edges = append(edges, byKey[k])
	}

	for i := range edges {
		for j := i + 1; j < len(edges); j++ {
			a, b := edges[i], edges[j]
			switch {
			case samePair(a, b) && a.Kind == domain.EdgeContradicts && b.Kind == domain.EdgeContradicts:
				if a.From != b.From {
					add(a, b, ReasonMutualContradiction)
				}
			case samePair(a, b) && a.Kind == domain.EdgeContradicts && b.Kind.Affirms(),
				samePair(a, b) && b.Kind == domain.EdgeContradicts && a.Kind.Affirms():
				add(a, b, ReasonContradictsAffirmed)
			case a.To == b.To && isExtendsChallenges(a, b) && a.Evidence != b.Evidence:
				add(a, b, ReasonIncompatibleClaims)
			}
		}
	}

	pairs := make([]domain.ConflictPair, 0, len(set))
	for _, k := range sortedKeysOf(set) {
		pairs = append(pairs, set[k])
	}
	return pairs, nil
}

// samePair reports whether two edges join the same two concepts in either
// direction.
func samePair(a, b domain.RelationshipEdge) bool {
	return (a.From == b.From && a.To == b.To) || (a.From == b.To && a.To == b.From)
}

func isExtendsChallenges(a, b domain.RelationshipEdge) bool {
	return (a.Kind == domain.EdgeExtends && b.Kind == domain.EdgeChallenges) ||
		(a.Kind == domain.EdgeChallenges && b.Kind == domain.EdgeExtends)
}
