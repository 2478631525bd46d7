package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"go.uber.org/zap"
)

// noBridgePenalty scales the confidence of a hypothesis proposed across a
// gap, where no path supports it.
const noBridgePenalty = 0.5

type HypothesizeOutput struct {
	Hypothesis domain.Hypothesis `json:"hypothesis"`
	NoBridge   bool              `json:"no_bridge"`
}

// hypothesizeAgent asks the LLM for a hypothesis joining the endpoints,
// grounded on the best bridge path, the conflicts found by critique and
// the recalled memories.
type hypothesizeAgent struct {
	deps Deps
}

func (a *hypothesizeAgent) Kind() domain.AgentKind { return domain.AgentHypothesize }

func (a *hypothesizeAgent) Run(ctx context.Context, in Input) (Output, error) {
	discovered, err := priorData[DiscoverOutput](in, domain.AgentDiscover)
	if err != nil {
		return Output{}, err
	}
	critique, err := priorData[CritiqueOutput](in, domain.AgentCritique)
	if err != nil {
		return Output{}, err
	}
	synth, err := priorData[SynthesizeOutput](in, domain.AgentSynthesize)
	if err != nil {
		return Output{}, err
	}

	prompt := buildHypothesisPrompt(in.Query, synth, critique)
	background := buildBackground(discovered.Records)
	text, confidence, err := a.deps.LLM.Generate(ctx, prompt, background)
	if err != nil {
		return Output{}, fmt.Errorf("generate hypothesis: %w", err)
	}
	if synth.NoBridge {
		confidence *= noBridgePenalty
	}

	var evidence []domain.EvidenceRef
	var novelty float64
	if len(synth.Paths) > 0 {
		top := synth.Paths[0]
		novelty = top.Novelty
		evidence = append(evidence, domain.EvidenceRef{
			Type: domain.EvidencePath,
			From: synth.From,
			To:   synth.To,
			Note: strings.Join(top.Nodes, " -> "),
		})
		for i := 0; i+1 < len(top.Nodes); i++ {
			ref := domain.EvidenceRef{Type: domain.EvidenceEdge, From: top.Nodes[i], To: top.Nodes[i+1]}
			if i < len(top.Edges) {
				ref.EdgeKind = top.Edges[i]
			}
			evidence = append(evidence, ref)
		}
	} else {
		evidence = append(evidence, domain.EvidenceRef{
			Type: domain.EvidencePath,
			From: synth.From,
			To:   synth.To,
			Note: fmt.Sprintf("no bridge within %d hops", synth.MaxHops),
		})
	}
	for _, c := range critique.Conflicts {
		evidence = append(evidence, domain.EvidenceRef{
			Type:     domain.EvidenceEdge,
			From:     c.First.From,
			To:       c.First.To,
			EdgeKind: c.First.Kind,
			Note:     c.Reason,
		})
	}
	for _, r := range discovered.Records {
		id := r.ID
		evidence = append(evidence, domain.EvidenceRef{Type: domain.EvidenceMemory, RecordID: &id})
	}

	now := a.deps.now()
	h := &domain.Hypothesis{
		ID:                 StagedID(in.RunID, in.TaskID, "hypothesis"),
		RunID:              in.RunID,
		Text:               strings.TrimSpace(text),
		SupportingEvidence: evidence,
		NoveltyScore:       novelty,
		ConfidenceScore:    clamp01(confidence),
		CreatedAt:          now,
	}

	tags := []string{synth.From, synth.To}
	if len(synth.Paths) > 0 {
		tags = append(tags, synth.Paths[0].Intermediates()...)
	}
	rec := domain.MemoryRecord{
		ID:             StagedID(in.RunID, in.TaskID, "memory"),
		Kind:           domain.MemoryKindSemantic,
		OwnerID:        in.OwnerID,
		Content:        h.Text,
		CreatedAt:      now,
		LastAccessedAt: now,
		BaseStrength:   1,
		Metadata: domain.MemoryMetadata{
			Tags:       normalizeAll(tags),
			Confidence: h.ConfidenceScore,
			Session:    in.RunID.String(),
		},
	}

	a.deps.Logger.Info("hypothesis generated",
		zap.String("run_id", in.RunID.String()),
		zap.Float64("confidence", h.ConfidenceScore),
		zap.Float64("novelty", h.NoveltyScore),
		zap.Bool("no_bridge", synth.NoBridge))

	return Output{
		Data:         HypothesizeOutput{Hypothesis: *h, NoBridge: synth.NoBridge},
		Hypothesis:   h,
		MemoryWrites: []domain.MemoryRecord{rec},
		Reads:        recordsOf(in, discovered),
	}, nil
}

func (a *hypothesizeAgent) Validate(out Output) error {
	h := out.Hypothesis
	if h == nil {
		return invalid(domain.AgentHypothesize, "no hypothesis")
	}
	if h.Text == "" {
		return invalid(domain.AgentHypothesize, "empty hypothesis text")
	}
	if h.ConfidenceScore < 0 || h.ConfidenceScore > 1 {
		return invalid(domain.AgentHypothesize, "confidence %.3f outside [0,1]", h.ConfidenceScore)
	}
	if h.NoveltyScore < 0 {
		return invalid(domain.AgentHypothesize, "negative novelty")
	}
	if len(h.SupportingEvidence) == 0 {
		return invalid(domain.AgentHypothesize, "no supporting evidence")
	}
	if _, ok := out.Data.(HypothesizeOutput); !ok {
		return invalid(domain.AgentHypothesize, "payload is %T", out.Data)
	}
	return nil
}

func buildHypothesisPrompt(query string, synth SynthesizeOutput, critique CritiqueOutput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research question: %s\n", query)
	fmt.Fprintf(&b, "Propose one testable hypothesis connecting %q and %q.\n", synth.From, synth.To)
	if len(synth.Paths) > 0 {
		b.WriteString("Candidate bridges, most novel first:\n")
		for i, p := range synth.Paths {
			if i == 3 {
				break
			}
			fmt.Fprintf(&b, "- %s (novelty %.3f)\n", strings.Join(p.Nodes, " -> "), p.Novelty)
		}
	} else if synth.Gap != nil {
		fmt.Fprintf(&b, "No bridge exists within %d hops. %s sits with %s; %s sits with %s.\n",
			synth.MaxHops, synth.From, strings.Join(synth.Gap.FromCommunity, ", "),
			synth.To, strings.Join(synth.Gap.ToCommunity, ", "))
	}
	if len(critique.Conflicts) > 0 {
		b.WriteString("Known conflicts to account for:\n")
		for _, c := range critique.Conflicts {
			fmt.Fprintf(&b, "- %s vs %s (%s)\n", c.First.Key(), c.Second.Key(), c.Reason)
		}
	}
	return b.String()
}

func buildBackground(records []RecordSummary) string {
	var b strings.Builder
	for _, r := range records {
		fmt.Fprintf(&b, "[%s] %s\n", r.Kind, r.Content)
	}
	return b.String()
}

// recordsOf returns the records discover read, which are the background
// of this task as well.
func recordsOf(in Input, discovered DiscoverOutput) []domain.MemoryRecord {
	if out, ok := in.Prior[domain.AgentDiscover]; ok && len(out.Reads) > 0 {
		return out.Reads
	}
	reads := make([]domain.MemoryRecord, 0, len(discovered.Records))
	for _, r := range discovered.Records {
		reads = append(reads, domain.MemoryRecord{ID: r.ID, Content: r.Content})
	}
	return reads
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
