package agent

import (
	"context"
	"fmt"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/service"
	"golang.org/x/sync/errgroup"
)

// maxReportedPaths caps the paths carried forward to hypothesis writing.
const maxReportedPaths = 10

type SynthesizeOutput struct {
	From     string              `json:"from"`
	To       string              `json:"to"`
	MaxHops  int                 `json:"max_hops"`
	Paths    []domain.ScoredPath `json:"paths"`
	NoBridge bool                `json:"no_bridge"`
	Gap      *service.GapReport  `json:"gap,omitempty"`
}

// synthesizeAgent searches bridge paths between the two query endpoints.
// When none exists it reports the gap between their communities.
type synthesizeAgent struct {
	deps Deps
}

func (a *synthesizeAgent) Kind() domain.AgentKind { return domain.AgentSynthesize }

func (a *synthesizeAgent) Run(ctx context.Context, in Input) (Output, error) {
	discovered, err := priorData[DiscoverOutput](in, domain.AgentDiscover)
	if err != nil {
		return Output{}, err
	}
	maxHops := a.deps.MaxHops
	if maxHops <= 0 {
		maxHops = service.DefaultMaxHops
	}
	if maxHops > service.MaxHopsLimit {
		maxHops = service.MaxHopsLimit
	}

	var (
		paths       []domain.ScoredPath
		communities []domain.Community
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		paths, err = a.deps.Reasoning.BridgePaths(gctx, discovered.From, discovered.To, maxHops)
		return err
	})
	g.Go(func() error {
		var err error
		communities, err = a.deps.Reasoning.Communities(gctx, nil, 0)
		return err
	})
	if err := g.Wait(); err != nil {
		return Output{}, fmt.Errorf("synthesize %s..%s: %w", discovered.From, discovered.To, err)
	}

	data := SynthesizeOutput{From: discovered.From, To: discovered.To, MaxHops: maxHops, Paths: paths}
	if len(paths) == 0 {
		data.NoBridge = true
		data.Gap = service.GapFrom(discovered.From, discovered.To, maxHops, communities)
		data.Paths = []domain.ScoredPath{}
	}
	if len(data.Paths) > maxReportedPaths {
		data.Paths = data.Paths[:maxReportedPaths]
	}
	return Output{Data: data}, nil
}

func (a *synthesizeAgent) Validate(out Output) error {
	data, ok := out.Data.(SynthesizeOutput)
	if !ok {
		return invalid(domain.AgentSynthesize, "payload is %T", out.Data)
	}
	if data.NoBridge != (len(data.Paths) == 0) {
		return invalid(domain.AgentSynthesize, "no_bridge=%t with %d paths", data.NoBridge, len(data.Paths))
	}
	if data.NoBridge && data.Gap == nil {
		return invalid(domain.AgentSynthesize, "missing gap report")
	}
	for i, p := range data.Paths {
		if len(p.Nodes) == 0 || p.Nodes[0] != data.From || p.Nodes[len(p.Nodes)-1] != data.To {
			return invalid(domain.AgentSynthesize, "path %d does not join %s and %s", i, data.From, data.To)
		}
		if p.Hops > data.MaxHops {
			return invalid(domain.AgentSynthesize, "path %d has %d hops, limit %d", i, p.Hops, data.MaxHops)
		}
		if i > 0 && p.Novelty > data.Paths[i-1].Novelty {
			return invalid(domain.AgentSynthesize, "paths not ordered by novelty")
		}
	}
	return nil
}
