package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Communities partitions the concept graph using connected components over
// the given edge kinds (cites and discusses when empty).
//
// Components are computed separately for each kind. Each component is
// anchored at its member with the earliest first_seen_at, name breaking
// ties. A node that falls in components of several kinds joins the one
// whose anchor is earliest, so the result stays a partition. A community
// is labelled by its earliest remaining member. Nodes without
// any edge of the chosen kinds form singleton communities. minSize only
// filters the returned view.
func (s *ReasoningService) Communities(ctx context.Context, kinds []domain.EdgeKind, minSize int) ([]domain.Community, error) {
	if len(kinds) == 0 {
		kinds = domain.DefaultCommunityKinds
	}

	var (
		nodes []domain.ConceptNode
		edges []domain.RelationshipEdge
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		nodes, err = s.graph.ListNodes(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		edges, err = s.graph.ListEdges(gctx, kinds)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load graph: %w", err)
	}

	firstSeen := make(map[string]time.Time, len(nodes))
	for _, n := range nodes {
		firstSeen[n.Name] = n.FirstSeenAt
	}
	// Endpoints without a node row fall back to the edge timestamp.
	for _, e := range edges {
		for _, name := range []string{e.From, e.To} {
			if t, ok := firstSeen[name]; !ok || (t.IsZero() && !e.CreatedAt.IsZero()) {
				firstSeen[name] = e.CreatedAt
			}
		}
	}

	earlier := func(a, b string) bool {
		ta, tb := firstSeen[a], firstSeen[b]
		if !ta.Equal(tb) {
			return ta.Before(tb)
		}
		return a < b
	}

	// assignment holds the best anchor seen so far for every node.
	assignment := make(map[string]string, len(firstSeen))
	for name := range firstSeen {
		assignment[name] = name
	}

	for _, kind := range kinds {
		uf := newUnionFind()
		for _, e := range edges {
			if e.Kind != kind || e.From == e.To {
				continue
			}
			uf.union(e.From, e.To)
		}
		members := make(map[string][]string)
		for name := range uf.parent {
			root := uf.find(name)
			members[root] = append(members[root], name)
		}
		for _, group := range members {
			anchor := group[0]
			for _, m := range group[1:] {
				if earlier(m, anchor) {
					anchor = m
				}
			}
			for _, m := range group {
				if earlier(anchor, assignment[m]) {
					assignment[m] = anchor
				}
			}
		}
	}

	grouped := make(map[string][]string)
	for name, anchor := range assignment {
		grouped[anchor] = append(grouped[anchor], name)
	}

	communities := make([]domain.Community, 0, len(grouped))
	for _, members := range grouped {
		if len(members) < minSize {
			continue
		}
		sort.Strings(members)
		// the chosen anchor may itself have moved to an earlier component
		anchor := members[0]
		for _, m := range members[1:] {
			if earlier(m, anchor) {
				anchor = m
			}
		}
		communities = append(communities, domain.Community{Anchor: anchor, Members: members})
	}
	sort.Slice(communities, func(i, j int) bool {
		return earlier(communities[i].Anchor, communities[j].Anchor)
	})
	return communities, nil
}
