package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/scholae/internal/domain"
)

type WriteOutput struct {
	Title  string `json:"title"`
	Report string `json:"report"`
}

// writeAgent renders the final report and stores an episodic memory of
// the run.
type writeAgent struct {
	deps Deps
}

func (a *writeAgent) Kind() domain.AgentKind { return domain.AgentWrite }

func (a *writeAgent) Run(ctx context.Context, in Input) (Output, error) {
	hyp, err := priorData[HypothesizeOutput](in, domain.AgentHypothesize)
	if err != nil {
		return Output{}, err
	}
	// Critique and synthesis are optional context for the report.
	critique, _ := priorData[CritiqueOutput](in, domain.AgentCritique)
	synth, _ := priorData[SynthesizeOutput](in, domain.AgentSynthesize)

	title := fmt.Sprintf("Research note: %s", strings.TrimSpace(in.Query))
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	fmt.Fprintf(&b, "## Hypothesis\n\n%s\n\n", hyp.Hypothesis.Text)
	fmt.Fprintf(&b, "Confidence %.2f, novelty %.3f.\n\n", hyp.Hypothesis.ConfidenceScore, hyp.Hypothesis.NoveltyScore)

	b.WriteString("## Bridges\n\n")
	if len(synth.Paths) == 0 {
		fmt.Fprintf(&b, "No bridge between %s and %s within %d hops.\n\n", synth.From, synth.To, synth.MaxHops)
	}
	for _, p := range synth.Paths {
		fmt.Fprintf(&b, "- %s (hops %d, novelty %.3f)\n", strings.Join(p.Nodes, " -> "), p.Hops, p.Novelty)
	}

	if len(critique.Conflicts) > 0 {
		b.WriteString("\n## Conflicts\n\n")
		for _, c := range critique.Conflicts {
			fmt.Fprintf(&b, "- %s vs %s: %s\n", c.First.Key(), c.Second.Key(), c.Reason)
		}
	}

	b.WriteString("\n## Evidence\n\n")
	for _, e := range hyp.Hypothesis.SupportingEvidence {
		switch e.Type {
		case domain.EvidenceMemory:
			fmt.Fprintf(&b, "- memory %s\n", e.RecordID)
		case domain.EvidenceEdge:
			fmt.Fprintf(&b, "- %s -[%s]- %s %s\n", e.From, e.EdgeKind, e.To, e.Note)
		default:
			fmt.Fprintf(&b, "- %s\n", e.Note)
		}
	}

	now := a.deps.now()
	rec := domain.MemoryRecord{
		ID:             StagedID(in.RunID, in.TaskID, "memory"),
		Kind:           domain.MemoryKindEpisodic,
		OwnerID:        in.OwnerID,
		Content:        fmt.Sprintf("Researched %q and proposed: %s", in.Query, hyp.Hypothesis.Text),
		CreatedAt:      now,
		LastAccessedAt: now,
		BaseStrength:   1,
		Metadata: domain.MemoryMetadata{
			Tags:       normalizeAll([]string{synth.From, synth.To}),
			Confidence: hyp.Hypothesis.ConfidenceScore,
			Session:    in.RunID.String(),
		},
	}

	return Output{
		Data:         WriteOutput{Title: title, Report: b.String()},
		MemoryWrites: []domain.MemoryRecord{rec},
	}, nil
}

func (a *writeAgent) Validate(out Output) error {
	data, ok := out.Data.(WriteOutput)
	if !ok {
		return invalid(domain.AgentWrite, "payload is %T", out.Data)
	}
	if strings.TrimSpace(data.Report) == "" {
		return invalid(domain.AgentWrite, "empty report")
	}
	for _, r := range out.MemoryWrites {
		if r.Kind != domain.MemoryKindEpisodic {
			return invalid(domain.AgentWrite, "writer stages %s memory", r.Kind)
		}
	}
	return nil
}
