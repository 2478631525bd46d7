package agent

import (
	"context"
	"fmt"
	"sort"

	"github.com/Harshitk-cp/scholae/internal/domain"
)

type CritiqueOutput struct {
	Checked   []string              `json:"checked"`
	Conflicts []domain.ConflictPair `json:"conflicts"`
}

// critiqueAgent reports contradictions touching the discovered concepts.
type critiqueAgent struct {
	deps Deps
}

func (a *critiqueAgent) Kind() domain.AgentKind { return domain.AgentCritique }

func (a *critiqueAgent) Run(ctx context.Context, in Input) (Output, error) {
	discovered, err := priorData[DiscoverOutput](in, domain.AgentDiscover)
	if err != nil {
		return Output{}, err
	}

	set := make(map[string]domain.ConflictPair)
	for _, c := range discovered.Concepts {
		pairs, err := a.deps.Reasoning.Contradictions(ctx, c)
		if err != nil {
			return Output{}, fmt.Errorf("contradictions of %s: %w", c, err)
		}
		for _, p := range pairs {
			set[p.First.Key()+"#"+p.Second.Key()] = p
		}
	}

	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	conflicts := make([]domain.ConflictPair, 0, len(keys))
	for _, k := range keys {
		conflicts = append(conflicts, set[k])
	}

	return Output{Data: CritiqueOutput{Checked: discovered.Concepts, Conflicts: conflicts}}, nil
}

func (a *critiqueAgent) Validate(out Output) error {
	data, ok := out.Data.(CritiqueOutput)
	if !ok {
		return invalid(domain.AgentCritique, "payload is %T", out.Data)
	}
	if len(data.Checked) == 0 {
		return invalid(domain.AgentCritique, "no concepts checked")
	}
	for _, p := range data.Conflicts {
		if p.Reason == "" {
			return invalid(domain.AgentCritique, "conflict %s#%s has no reason", p.First.Key(), p.Second.Key())
		}
	}
	if len(out.MemoryWrites)+len(out.Observations)+len(out.EdgeWrites)+len(out.Accesses) > 0 {
		return invalid(domain.AgentCritique, "critique must not stage writes")
	}
	return nil
}
