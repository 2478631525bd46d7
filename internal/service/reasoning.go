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

const (
	DefaultMaxHops = 5
	MaxHopsLimit   = 8

	// noveltyEpsilon keeps 1/(hops+ε) finite for a zero-hop path.
	noveltyEpsilon = 1e-6
)

// ReasoningService scores the concept graph: bridge paths, contradictions,
// communities, influence and lifecycle. It reads through the GraphStore and
// never writes.
type ReasoningService struct {
	graph  domain.GraphStore
	logger *zap.Logger
	now    func() time.Time
}

func NewReasoningService(graph domain.GraphStore, logger *zap.Logger) *ReasoningService {
	return &ReasoningService{graph: graph, logger: logger, now: time.Now}
}

func (s *ReasoningService) SetClock(now func() time.Time) {
	s.now = now
}

// Rarity sums 1/(degree+1) over intermediate node degrees.
func Rarity(intermediateDegrees []int) float64 {
	var r float64
	for _, d := range intermediateDegrees {
		r += 1 / float64(d+1)
	}
	return r
}

// Novelty is 1/(hops+ε) + rarity.
func Novelty(hops int, rarity float64) float64 {
	return 1/(float64(hops)+noveltyEpsilon) + rarity
}

// BridgePaths returns every simple path of at most maxHops between a and
// b, best first: higher novelty, then fewer hops, then node names.
func (s *ReasoningService) BridgePaths(ctx context.Context, a, b string, maxHops int) ([]domain.ScoredPath, error) {
	a, b = domain.NormalizeConcept(a), domain.NormalizeConcept(b)
	if a == "" || b == "" {
		return nil, fmt.Errorf("bridge endpoints must be non-empty")
	}
	if maxHops <= 0 {
		maxHops = DefaultMaxHops
	}
	if maxHops > MaxHopsLimit {
		maxHops = MaxHopsLimit
	}

	raw, err := s.graph.PathQuery(ctx, a, b, maxHops)
	if err != nil {
		return nil, fmt.Errorf("path query %s..%s: %w", a, b, err)
	}

	seen := make(map[string]bool, len(raw))
	var unique []domain.RawPath
	intermediates := make(map[string]bool)
	for _, p := range raw {
		if len(p.Nodes) == 0 || len(p.Nodes)-1 > maxHops || !isSimple(p.Nodes) {
			continue
		}
		key := strings.Join(p.Nodes, "\x00")
		if seen[key] {
			continue
		}
		seen[key] = true
		unique = append(unique, p)
		for _, n := range interior(p.Nodes) {
			intermediates[n] = true
		}
	}

	degrees, err := s.graph.Degrees(ctx, sortedSet(intermediates))
	if err != nil {
		return nil, fmt.Errorf("load degrees: %w", err)
	}

	scored := make([]domain.ScoredPath, 0, len(unique))
	for _, p := range unique {
		mid := interior(p.Nodes)
		ds := make([]int, len(mid))
		for i, n := range mid {
			ds[i] = degrees[n]
		}
		hops := len(p.Nodes) - 1
		rarity := Rarity(ds)
		scored = append(scored, domain.ScoredPath{
			Nodes:   p.Nodes,
			Edges:   p.Edges,
			Hops:    hops,
			Rarity:  rarity,
			Novelty: Novelty(hops, rarity),
		})
	}
	SortPaths(scored)

	s.logger.Debug("bridge paths scored",
		zap.String("from", a),
		zap.String("to", b),
		zap.Int("max_hops", maxHops),
		zap.Int("paths", len(scored)))
	return scored, nil
}

// SortPaths orders paths by novelty descending, hops ascending, then node
// names lexicographically.
func SortPaths(paths []domain.ScoredPath) {
	sort.SliceStable(paths, func(i, j int) bool {
		pi, pj := paths[i], paths[j]
		if pi.Novelty != pj.Novelty {
			return pi.Novelty > pj.Novelty
		}
		if pi.Hops != pj.Hops {
			return pi.Hops < pj.Hops
		}
		return lessNames(pi.Nodes, pj.Nodes)
	})
}

func lessNames(a, b []string) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return len(a) < len(b)
}

func interior(nodes []string) []string {
	if len(nodes) <= 2 {
		return nil
	}
	return nodes[1 : len(nodes)-1]
}

func isSimple(nodes []string) bool {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if seen[n] {
			return false
		}
		seen[n] = true
	}
	return true
}

// GapReport describes two concepts with no bridge inside the hop bound.
type GapReport struct {
	From          string   `json:"from"`
	To            string   `json:"to"`
	MaxHops       int      `json:"max_hops"`
	FromCommunity []string `json:"from_community"`
	ToCommunity   []string `json:"to_community"`
}

// Gap returns nil when a and b are bridged within maxHops, and otherwise
// the communities each endpoint belongs to.
func (s *ReasoningService) Gap(ctx context.Context, a, b string, maxHops int) (*GapReport, error) {
	paths, err := s.BridgePaths(ctx, a, b, maxHops)
	if err != nil {
		return nil, err
	}
	if len(paths) > 0 {
		return nil, nil
	}
	communities, err := s.Communities(ctx, nil, 0)
	if err != nil {
		return nil, err
	}
	return GapFrom(a, b, maxHops, communities), nil
}

// GapFrom builds the gap report for a and b from a precomputed community
// partition. Endpoints missing from the partition stand alone.
func GapFrom(a, b string, maxHops int, communities []domain.Community) *GapReport {
	a, b = domain.NormalizeConcept(a), domain.NormalizeConcept(b)
	gap := &GapReport{From: a, To: b, MaxHops: maxHops, FromCommunity: []string{a}, ToCommunity: []string{b}}
	for _, c := range communities {
		for _, m := range c.Members {
			if m == a {
				gap.FromCommunity = c.Members
			}
			if m == b {
				gap.ToCommunity = c.Members
			}
		}
	}
	return gap
}
