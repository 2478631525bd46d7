package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/llm"
	"github.com/Harshitk-cp/scholae/internal/service"
	"github.com/Harshitk-cp/scholae/internal/store"
	"github.com/Harshitk-cp/scholae/internal/store/inmem"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	deps   Deps
	runner *Runner
	memory *inmem.MemoryStore
	graph  *inmem.GraphStore
	llm    *llm.MockClient
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	memory := inmem.NewMemoryStore()
	graph := inmem.NewGraphStore()
	mock := llm.NewMockClient()
	logger := zap.NewNop()

	recall := service.NewRecallService(memory, service.DefaultStrengthModel(), logger)
	recall.SetClock(func() time.Time { return testNow })

	deps := Deps{
		Recall:    recall,
		Reasoning: service.NewReasoningService(graph, logger),
		LLM:       mock,
		Logger:    logger,
		Now:       func() time.Time { return testNow },
	}
	return &fixture{deps: deps, runner: NewRunner(deps), memory: memory, graph: graph, llm: mock}
}

func (f *fixture) edge(t *testing.T, from, to string, kind domain.EdgeKind, evidence string) {
	t.Helper()
	require.NoError(t, f.graph.UpsertEdge(context.Background(), &domain.RelationshipEdge{
		From: from, To: to, Kind: kind, Confidence: 0.8, Evidence: evidence, CreatedAt: testNow.Add(-time.Hour),
	}))
}

func (f *fixture) remember(t *testing.T, owner, content string, tags ...string) uuid.UUID {
	t.Helper()
	id, err := f.memory.Store(context.Background(), &domain.MemoryRecord{
		Kind:           domain.MemoryKindEpisodic,
		OwnerID:        owner,
		Content:        content,
		CreatedAt:      testNow.Add(-24 * time.Hour),
		LastAccessedAt: testNow.Add(-24 * time.Hour),
		BaseStrength:   1,
		Metadata:       domain.MemoryMetadata{Tags: tags, Confidence: 0.9},
	})
	require.NoError(t, err)
	return id
}

// runPipeline executes the five agents in dependency order, feeding each
// the outputs of its ancestors.
func (f *fixture) runPipeline(t *testing.T, query string) map[domain.AgentKind]Output {
	t.Helper()
	runID := uuid.New()
	prior := make(map[domain.AgentKind]Output)
	for _, kind := range []domain.AgentKind{domain.AgentDiscover, domain.AgentCritique, domain.AgentSynthesize, domain.AgentHypothesize, domain.AgentWrite} {
		in := Input{
			RunID:   runID,
			TaskID:  runID.String() + "/" + string(kind),
			Query:   query,
			OwnerID: "owner-1",
			Prior:   copyPrior(prior),
		}
		out, err := f.runner.Run(context.Background(), kind, in)
		require.NoError(t, err, kind)
		prior[kind] = out
	}
	return prior
}

func copyPrior(m map[domain.AgentKind]Output) map[domain.AgentKind]Output {
	out := make(map[domain.AgentKind]Output, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func TestDiscover_SplitsEndpointsAndStagesEdges(t *testing.T) {
	f := newFixture(t)
	recID := f.remember(t, "owner-1", "attention heads act like memory lookups", "transformer")
	f.llm.ConceptsByText["attention ↔ memory"] = []string{"Attention", "Memory"}
	f.llm.ConceptsByText["attention heads act like memory lookups"] = []string{"attention", "memory"}

	out, err := f.runner.Run(context.Background(), domain.AgentDiscover, Input{
		RunID: uuid.New(), TaskID: "t/discover", Query: "attention ↔ memory", OwnerID: "owner-1",
	})
	require.NoError(t, err)

	data := out.Data.(DiscoverOutput)
	assert.Equal(t, "attention", data.From)
	assert.Equal(t, "memory", data.To)
	assert.Equal(t, []string{"attention", "memory", "transformer"}, data.Concepts)
	require.Len(t, data.Records, 1)
	assert.Equal(t, recID, data.Records[0].ID)
	require.Len(t, out.Reads, 1)

	// every pair of concepts in the one record: attention-memory,
	// attention-transformer, memory-transformer
	require.Len(t, out.EdgeWrites, 3)
	for _, e := range out.EdgeWrites {
		assert.Equal(t, domain.EdgeDiscusses, e.Kind)
		assert.Equal(t, "memory:"+recID.String(), e.Evidence)
		assert.Equal(t, 0.9, e.Confidence)
		assert.Equal(t, "t/discover", e.CreatedBy)
	}
	require.Len(t, out.Observations, 3)
	for _, o := range out.Observations {
		assert.Equal(t, "t/discover", o.TaskID)
		assert.Equal(t, testNow, o.At)
	}
	assert.Equal(t, []uuid.UUID{recID}, out.Accesses)

	assert.Zero(t, f.graph.EdgeCount(), "discover stages writes, it does not commit them")
	_, err = f.graph.GetNode(context.Background(), "attention")
	assert.ErrorIs(t, err, store.ErrNotFound)
	rec, err := f.memory.GetByID(context.Background(), recID)
	require.NoError(t, err)
	assert.Zero(t, rec.AccessCount, "recall during discover does not reinforce")
}

func TestDiscover_FallsBackToQueryConcepts(t *testing.T) {
	f := newFixture(t)
	f.llm.ConceptsByText["how does sleep shape memory"] = []string{"sleep", "memory"}

	out, err := f.runner.Run(context.Background(), domain.AgentDiscover, Input{
		RunID: uuid.New(), TaskID: "t/discover", Query: "how does sleep shape memory", OwnerID: "owner-1",
	})
	require.NoError(t, err)
	data := out.Data.(DiscoverOutput)
	assert.Equal(t, "memory", data.From)
	assert.Equal(t, "sleep", data.To)
	assert.Empty(t, out.EdgeWrites)
}

func TestDiscover_SingleConceptIsInvalid(t *testing.T) {
	f := newFixture(t)
	f.llm.ConceptsResponse = []string{"sleep"}

	_, err := f.runner.Run(context.Background(), domain.AgentDiscover, Input{
		RunID: uuid.New(), TaskID: "t/discover", Query: "sleep", OwnerID: "owner-1",
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, domain.AgentDiscover, verr.Kind)
}

func TestDiscover_PropagatesTransientErrors(t *testing.T) {
	f := newFixture(t)
	f.memory.FailWith = func(op string) error {
		return domain.NewTransientStoreError(op, errors.New("i/o timeout"))
	}

	_, err := f.runner.Run(context.Background(), domain.AgentDiscover, Input{
		RunID: uuid.New(), TaskID: "t/discover", Query: "a ↔ b", OwnerID: "owner-1",
	})
	assert.True(t, domain.IsTransient(err))
}

func TestCritique_ReportsConflictsWithoutWrites(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "sleep", "memory", domain.EdgeContradicts, "study a")
	f.edge(t, "sleep", "memory", domain.EdgeCites, "study b")
	f.edge(t, "caffeine", "focus", domain.EdgeContradicts, "study c")

	out, err := f.runner.Run(context.Background(), domain.AgentCritique, Input{
		Prior: map[domain.AgentKind]Output{
			domain.AgentDiscover: {Data: DiscoverOutput{From: "sleep", To: "memory", Concepts: []string{"memory", "sleep"}}},
		},
	})
	require.NoError(t, err)
	data := out.Data.(CritiqueOutput)
	require.Len(t, data.Conflicts, 1, "the pair is reported once even though both endpoints were checked")
	assert.Equal(t, service.ReasonContradictsAffirmed, data.Conflicts[0].Reason)
	assert.Empty(t, out.EdgeWrites)
}

func TestCritique_RejectsStagedWrites(t *testing.T) {
	a := &critiqueAgent{}
	err := a.Validate(Output{
		Data:       CritiqueOutput{Checked: []string{"x"}},
		EdgeWrites: []domain.RelationshipEdge{{From: "x", To: "y", Kind: domain.EdgeCites}},
	})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestSynthesize_FindsBridgeOrReportsGap(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "attention", "transformer", domain.EdgeDiscusses, "")
	f.edge(t, "transformer", "memory", domain.EdgeDiscusses, "")
	f.edge(t, "sleep", "dreams", domain.EdgeCites, "")

	prior := func(from, to string) map[domain.AgentKind]Output {
		return map[domain.AgentKind]Output{
			domain.AgentDiscover: {Data: DiscoverOutput{From: from, To: to, Concepts: []string{from, to}}},
		}
	}

	out, err := f.runner.Run(context.Background(), domain.AgentSynthesize, Input{Prior: prior("attention", "memory")})
	require.NoError(t, err)
	data := out.Data.(SynthesizeOutput)
	assert.False(t, data.NoBridge)
	require.Len(t, data.Paths, 1)
	assert.Equal(t, []string{"attention", "transformer", "memory"}, data.Paths[0].Nodes)
	assert.Equal(t, service.DefaultMaxHops, data.MaxHops)

	out, err = f.runner.Run(context.Background(), domain.AgentSynthesize, Input{Prior: prior("attention", "sleep")})
	require.NoError(t, err)
	data = out.Data.(SynthesizeOutput)
	assert.True(t, data.NoBridge)
	assert.Empty(t, data.Paths)
	require.NotNil(t, data.Gap)
	assert.Equal(t, []string{"attention", "memory", "transformer"}, data.Gap.FromCommunity)
	assert.Equal(t, []string{"dreams", "sleep"}, data.Gap.ToCommunity)
}

func TestSynthesize_ValidateRejectsUnorderedPaths(t *testing.T) {
	a := &synthesizeAgent{}
	err := a.Validate(Output{Data: SynthesizeOutput{
		From: "a", To: "b", MaxHops: 5,
		Paths: []domain.ScoredPath{
			{Nodes: []string{"a", "b"}, Hops: 1, Novelty: 1},
			{Nodes: []string{"a", "c", "b"}, Hops: 2, Novelty: 2},
		},
	}})
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestPipeline_BridgedHypothesis(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "attention", "transformer", domain.EdgeDiscusses, "")
	f.edge(t, "transformer", "memory", domain.EdgeDiscusses, "")
	f.remember(t, "owner-1", "attention is a soft memory read")
	f.llm.ConceptsResponse = []string{"attention", "memory"}
	f.llm.GenerateText = "  Attention implements content-addressable memory.  "
	f.llm.GenerateConfidence = 0.8

	outs := f.runPipeline(t, "attention ↔ memory")

	hyp := outs[domain.AgentHypothesize]
	require.NotNil(t, hyp.Hypothesis)
	h := hyp.Hypothesis
	assert.Equal(t, "Attention implements content-addressable memory.", h.Text)
	assert.InDelta(t, 0.8, h.ConfidenceScore, 1e-9)
	synth := outs[domain.AgentSynthesize].Data.(SynthesizeOutput)
	assert.Equal(t, synth.Paths[0].Novelty, h.NoveltyScore)

	var kinds []domain.EvidenceType
	for _, e := range h.SupportingEvidence {
		kinds = append(kinds, e.Type)
	}
	assert.Contains(t, kinds, domain.EvidencePath)
	assert.Contains(t, kinds, domain.EvidenceEdge)
	assert.Contains(t, kinds, domain.EvidenceMemory)

	require.Len(t, hyp.MemoryWrites, 1)
	assert.Equal(t, domain.MemoryKindSemantic, hyp.MemoryWrites[0].Kind)
	assert.Contains(t, hyp.MemoryWrites[0].Metadata.Tags, "transformer")
	assert.NotEmpty(t, hyp.Reads)

	require.Len(t, f.llm.GenerateCalls, 1)
	assert.Contains(t, f.llm.GenerateCalls[0].Prompt, "attention -> transformer -> memory")
	assert.Contains(t, f.llm.GenerateCalls[0].Background, "attention is a soft memory read")

	write := outs[domain.AgentWrite]
	report := write.Data.(WriteOutput)
	assert.True(t, strings.HasPrefix(report.Report, "# Research note: attention ↔ memory"))
	assert.Contains(t, report.Report, "Attention implements content-addressable memory.")
	require.Len(t, write.MemoryWrites, 1)
	assert.Equal(t, domain.MemoryKindEpisodic, write.MemoryWrites[0].Kind)
}

func TestPipeline_NoBridgeHalvesConfidence(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "attention", "transformer", domain.EdgeDiscusses, "")
	f.edge(t, "sleep", "dreams", domain.EdgeCites, "")
	f.llm.ConceptsResponse = []string{}
	f.llm.GenerateConfidence = 0.9

	outs := f.runPipeline(t, "attention ↔ sleep")

	h := outs[domain.AgentHypothesize].Hypothesis
	require.NotNil(t, h)
	assert.InDelta(t, 0.45, h.ConfidenceScore, 1e-9)
	assert.Zero(t, h.NoveltyScore)
	assert.True(t, outs[domain.AgentHypothesize].Data.(HypothesizeOutput).NoBridge)
	assert.Contains(t, f.llm.GenerateCalls[0].Prompt, "No bridge exists within 5 hops")
}

func TestHypothesize_ConfidenceIsClamped(t *testing.T) {
	f := newFixture(t)
	f.edge(t, "a", "b", domain.EdgeCites, "")
	f.llm.ConceptsResponse = []string{}
	f.llm.GenerateConfidence = 1.7

	outs := f.runPipeline(t, "a ↔ b")
	assert.Equal(t, 1.0, outs[domain.AgentHypothesize].Hypothesis.ConfidenceScore)
}

func TestStagedID_IsDeterministic(t *testing.T) {
	runID := uuid.New()
	assert.Equal(t, StagedID(runID, "t", "memory"), StagedID(runID, "t", "memory"))
	assert.NotEqual(t, StagedID(runID, "t", "memory"), StagedID(runID, "t", "hypothesis"))
	assert.NotEqual(t, StagedID(runID, "t", "memory"), StagedID(uuid.New(), "t", "memory"))
}

func TestRunner_UnknownKind(t *testing.T) {
	r := NewRunnerWith(zap.NewNop())
	_, err := r.Run(context.Background(), domain.AgentWrite, Input{})
	assert.ErrorIs(t, err, domain.ErrUnknownAgent)
}

func TestRunner_MissingPriorOutput(t *testing.T) {
	f := newFixture(t)
	_, err := f.runner.Run(context.Background(), domain.AgentHypothesize, Input{})
	require.Error(t, err)
	assert.Equal(t, domain.ErrKindAgent, domain.KindOf(err))
}
