package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultRecallK = 10

// endpointSeparators split a query such as "sleep ↔ memory" into the two
// concepts it asks to connect.
var endpointSeparators = []string{"↔", "<->"}

type RecordSummary struct {
	ID      uuid.UUID `json:"id"`
	Kind    string    `json:"kind"`
	Content string    `json:"content"`
	Score   float64   `json:"score"`
}

type DiscoverOutput struct {
	From     string          `json:"from"`
	To       string          `json:"to"`
	Concepts []string        `json:"concepts"`
	Records  []RecordSummary `json:"records"`
}

// discoverAgent recalls memories related to the query, extracts the
// concepts they discuss and stages co-occurrence edges between concepts
// found in the same record.
type discoverAgent struct {
	deps Deps
}

func (a *discoverAgent) Kind() domain.AgentKind { return domain.AgentDiscover }

func (a *discoverAgent) Run(ctx context.Context, in Input) (Output, error) {
	k := a.deps.RecallK
	if k <= 0 {
		k = defaultRecallK
	}
	recalled, err := a.deps.Recall.Recall(ctx, domain.SearchQuery{
		OwnerID: in.OwnerID,
		Text:    in.Query,
		K:       k,
	})
	if err != nil {
		return Output{}, fmt.Errorf("recall: %w", err)
	}

	queryConcepts, err := a.deps.LLM.ExtractConcepts(ctx, in.Query)
	if err != nil {
		return Output{}, fmt.Errorf("extract query concepts: %w", err)
	}
	queryConcepts = normalizeAll(queryConcepts)

	from, to := splitEndpoints(in.Query)
	if from == "" || to == "" {
		from, to = firstTwo(queryConcepts)
	}

	now := a.deps.now()
	all := make(map[string]bool)
	for _, c := range queryConcepts {
		all[c] = true
	}
	for _, c := range []string{from, to} {
		if c != "" {
			all[c] = true
		}
	}

	out := Output{}
	seenEdges := make(map[string]bool)
	records := make([]RecordSummary, 0, len(recalled))
	for _, r := range recalled {
		out.Reads = append(out.Reads, r.Record)
		out.Accesses = append(out.Accesses, r.Record.ID)
		records = append(records, RecordSummary{
			ID:      r.Record.ID,
			Kind:    string(r.Record.Kind),
			Content: r.Record.Content,
			Score:   r.Breakdown.FinalScore,
		})

		extracted, err := a.deps.LLM.ExtractConcepts(ctx, r.Record.Content)
		if err != nil {
			return Output{}, fmt.Errorf("extract concepts of %s: %w", r.Record.ID, err)
		}
		concepts := normalizeAll(append(extracted, r.Record.Metadata.Tags...))
		for _, c := range concepts {
			all[c] = true
		}
		// Only concepts discussed together in one record are linked.
		for i := 0; i < len(concepts); i++ {
			for j := i + 1; j < len(concepts); j++ {
				e := domain.RelationshipEdge{
					From:       concepts[i],
					To:         concepts[j],
					Kind:       domain.EdgeDiscusses,
					Confidence: edgeConfidence(r.Record),
					Evidence:   "memory:" + r.Record.ID.String(),
					CreatedBy:  in.TaskID,
					CreatedAt:  now,
				}
				if seenEdges[e.Key()] {
					continue
				}
				seenEdges[e.Key()] = true
				out.EdgeWrites = append(out.EdgeWrites, e)
			}
		}
	}

	names := make([]string, 0, len(all))
	for c := range all {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, name := range names {
		out.Observations = append(out.Observations, domain.ConceptObservation{
			Name:   name,
			TaskID: in.TaskID,
			At:     now,
		})
	}

	a.deps.Logger.Debug("discover finished",
		zap.String("run_id", in.RunID.String()),
		zap.Int("records", len(records)),
		zap.Int("concepts", len(names)),
		zap.Int("edges", len(out.EdgeWrites)))

	out.Data = DiscoverOutput{From: from, To: to, Concepts: names, Records: records}
	return out, nil
}

func (a *discoverAgent) Validate(out Output) error {
	data, ok := out.Data.(DiscoverOutput)
	if !ok {
		return invalid(domain.AgentDiscover, "payload is %T", out.Data)
	}
	if data.From == "" || data.To == "" {
		return invalid(domain.AgentDiscover, "query names fewer than two concepts")
	}
	if data.From == data.To {
		return invalid(domain.AgentDiscover, "endpoints are the same concept %q", data.From)
	}
	if len(data.Concepts) == 0 {
		return invalid(domain.AgentDiscover, "no concepts extracted")
	}
	for _, e := range out.EdgeWrites {
		if e.Kind != domain.EdgeDiscusses || e.From == "" || e.To == "" {
			return invalid(domain.AgentDiscover, "unexpected edge %s", e.Key())
		}
	}
	return nil
}

func splitEndpoints(query string) (string, string) {
	for _, sep := range endpointSeparators {
		if parts := strings.SplitN(query, sep, 2); len(parts) == 2 {
			return domain.NormalizeConcept(parts[0]), domain.NormalizeConcept(parts[1])
		}
	}
	return "", ""
}

func firstTwo(concepts []string) (string, string) {
	if len(concepts) < 2 {
		return "", ""
	}
	return concepts[0], concepts[1]
}

// normalizeAll returns the distinct normalized names in sorted order.
func normalizeAll(names []string) []string {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = domain.NormalizeConcept(n); n != "" {
			set[n] = true
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

func edgeConfidence(r domain.MemoryRecord) float64 {
	if c := r.Metadata.Confidence; c > 0 && c <= 1 {
		return c
	}
	return 0.5
}
