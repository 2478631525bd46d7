package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/orchestrator"
	"github.com/Harshitk-cp/scholae/internal/service"
	"github.com/Harshitk-cp/scholae/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrchestrator struct {
	runs       map[uuid.UUID]domain.RunStatus
	submitErr  error
	approveErr error
	rejectErr  error
	events     []domain.TransitionEvent
	cancelled  atomic.Bool

	gotQuery, gotOwner string
}

func newFakeOrchestrator() *fakeOrchestrator {
	return &fakeOrchestrator{runs: make(map[uuid.UUID]domain.RunStatus)}
}

func (f *fakeOrchestrator) Submit(ctx context.Context, query, ownerID string) (uuid.UUID, error) {
	f.gotQuery, f.gotOwner = query, ownerID
	if f.submitErr != nil {
		return uuid.Nil, f.submitErr
	}
	id := uuid.New()
	f.runs[id] = domain.RunStatus{RunID: id, Query: query, OwnerID: ownerID, State: domain.RunRunning, TraceID: "abc123"}
	return id, nil
}

func (f *fakeOrchestrator) Status(runID uuid.UUID) (domain.RunStatus, error) {
	st, ok := f.runs[runID]
	if !ok {
		return domain.RunStatus{}, domain.ErrRunNotFound
	}
	return st, nil
}

func (f *fakeOrchestrator) Approve(ctx context.Context, runID uuid.UUID) error {
	if f.approveErr != nil {
		return f.approveErr
	}
	st := f.runs[runID]
	st.State = domain.RunRunning
	f.runs[runID] = st
	return nil
}

func (f *fakeOrchestrator) Reject(ctx context.Context, runID uuid.UUID) error {
	if f.rejectErr != nil {
		return f.rejectErr
	}
	st := f.runs[runID]
	st.State = domain.RunRejected
	f.runs[runID] = st
	return nil
}

func (f *fakeOrchestrator) Subscribe(runID uuid.UUID) (<-chan domain.TransitionEvent, func(), error) {
	if _, ok := f.runs[runID]; !ok {
		return nil, nil, domain.ErrRunNotFound
	}
	ch := make(chan domain.TransitionEvent, len(f.events))
	for _, ev := range f.events {
		ch <- ev
	}
	close(ch)
	return ch, func() { f.cancelled.Store(true) }, nil
}

func runRouter(h *RunHandler) http.Handler {
	r := chi.NewRouter()
	r.Post("/runs", h.Submit)
	r.Get("/runs/{id}", h.Get)
	r.Post("/runs/{id}/approve", h.Approve)
	r.Post("/runs/{id}/reject", h.Reject)
	r.Get("/runs/{id}/stream", h.Stream)
	return r
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRunHandler_Submit(t *testing.T) {
	orch := newFakeOrchestrator()
	h := runRouter(NewRunHandler(orch, zap.NewNop()))

	rec := do(t, h, http.MethodPost, "/runs", `{"query":"sleep ↔ memory","owner_id":"u1"}`)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[submitRunResponse](t, rec)
	assert.NotEqual(t, uuid.Nil, resp.RunID)
	assert.Equal(t, domain.RunRunning, resp.State)
	assert.Equal(t, "abc123", resp.TraceID)
	assert.Equal(t, "sleep ↔ memory", orch.gotQuery)
	assert.Equal(t, "u1", orch.gotOwner)
}

func TestRunHandler_SubmitErrors(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		submitErr error
		want      int
	}{
		{"malformed body", `{"query":`, nil, http.StatusBadRequest},
		{"missing owner", `{"query":"q"}`, nil, http.StatusBadRequest},
		{"empty query", `{"query":"","owner_id":"u"}`, orchestrator.ErrEmptyQuery, http.StatusBadRequest},
		{"shutting down", `{"query":"q","owner_id":"u"}`, orchestrator.ErrShuttingDown, http.StatusServiceUnavailable},
		{"unexpected", `{"query":"q","owner_id":"u"}`, errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orch := newFakeOrchestrator()
			orch.submitErr = tt.submitErr
			rec := do(t, runRouter(NewRunHandler(orch, zap.NewNop())), http.MethodPost, "/runs", tt.body)
			assert.Equal(t, tt.want, rec.Code)
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestRunHandler_GetAndDecide(t *testing.T) {
	orch := newFakeOrchestrator()
	id := uuid.New()
	orch.runs[id] = domain.RunStatus{RunID: id, State: domain.RunAwaitingReview}
	h := runRouter(NewRunHandler(orch, zap.NewNop()))

	rec := do(t, h, http.MethodGet, "/runs/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunAwaitingReview, decode[domain.RunStatus](t, rec).State)

	rec = do(t, h, http.MethodPost, "/runs/"+id.String()+"/approve", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunRunning, decode[domain.RunStatus](t, rec).State)

	rec = do(t, h, http.MethodPost, "/runs/"+id.String()+"/reject", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.RunRejected, decode[domain.RunStatus](t, rec).State)

	orch.approveErr = domain.ErrNotAwaitingReview
	rec = do(t, h, http.MethodPost, "/runs/"+id.String()+"/approve", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	orch.rejectErr = domain.ErrRunTerminal
	rec = do(t, h, http.MethodPost, "/runs/"+id.String()+"/reject", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, h, http.MethodGet, "/runs/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, h, http.MethodGet, "/runs/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRunHandler_StreamSendsEventsThenCloses(t *testing.T) {
	orch := newFakeOrchestrator()
	id := uuid.New()
	orch.runs[id] = domain.RunStatus{RunID: id, State: domain.RunSucceeded}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	orch.events = []domain.TransitionEvent{
		{RunID: id, From: "", To: "running", At: at},
		{RunID: id, TaskID: id.String() + "/discover", AgentKind: domain.AgentDiscover, From: "pending", To: "running", Attempt: 1, At: at},
	}

	srv := httptest.NewServer(runRouter(NewRunHandler(orch, zap.NewNop())))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/runs/" + id.String() + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var got []domain.TransitionEvent
	for {
		var ev domain.TransitionEvent
		if err := conn.ReadJSON(&ev); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "err = %v", err)
			break
		}
		got = append(got, ev)
	}
	assert.Equal(t, orch.events, got)
	assert.Eventually(t, func() bool { return orch.cancelled.Load() }, time.Second, 10*time.Millisecond)
}

func TestRunHandler_StreamUnknownRun(t *testing.T) {
	h := runRouter(NewRunHandler(newFakeOrchestrator(), zap.NewNop()))
	rec := do(t, h, http.MethodGet, "/runs/"+uuid.NewString()+"/stream", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeProvenance struct {
	byRun   map[uuid.UUID][]domain.ProvenanceEntry
	byTrace map[string][]domain.ProvenanceEntry
	err     error
}

func (f *fakeProvenance) ByRun(ctx context.Context, runID uuid.UUID) ([]domain.ProvenanceEntry, error) {
	return f.byRun[runID], f.err
}

func (f *fakeProvenance) ByTrace(ctx context.Context, traceID string) ([]domain.ProvenanceEntry, error) {
	return f.byTrace[traceID], f.err
}

func TestProvenanceHandler_List(t *testing.T) {
	run := uuid.New()
	entries := []domain.ProvenanceEntry{
		{ID: uuid.New(), Sequence: 1, RunID: run, TaskID: "t", State: "running", TraceID: "tr"},
		{ID: uuid.New(), Sequence: 2, RunID: run, TaskID: "t", State: "succeeded", TraceID: "tr"},
	}
	fake := &fakeProvenance{
		byRun:   map[uuid.UUID][]domain.ProvenanceEntry{run: entries},
		byTrace: map[string][]domain.ProvenanceEntry{"tr": entries},
	}
	h := http.HandlerFunc(NewProvenanceHandler(fake).List)

	type listResponse struct {
		Entries []domain.ProvenanceEntry `json:"entries"`
		Count   int                      `json:"count"`
	}

	rec := do(t, h, http.MethodGet, "/provenance?run_id="+run.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[listResponse](t, rec)
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "succeeded", resp.Entries[1].State)

	rec = do(t, h, http.MethodGet, "/provenance?trace_id=tr", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[listResponse](t, rec).Count)

	rec = do(t, h, http.MethodGet, "/provenance?trace_id=unknown", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entries":[]`)

	for _, q := range []string{"", "?run_id=x", "?run_id=" + run.String() + "&trace_id=tr"} {
		rec = do(t, h, http.MethodGet, "/provenance"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	fake.err = domain.NewTransientStoreError("list", errors.New("timeout"))
	rec = do(t, h, http.MethodGet, "/provenance?trace_id=tr", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeConsolidator struct {
	gotOwner  string
	gotWindow domain.TimeWindow
}

func (f *fakeConsolidator) Consolidate(ctx context.Context, ownerID string, window domain.TimeWindow) (*service.ConsolidationReport, error) {
	f.gotOwner, f.gotWindow = ownerID, window
	return &service.ConsolidationReport{OwnerID: ownerID, Window: window, Merged: 2}, nil
}

func (f *fakeConsolidator) Report(ctx context.Context, ownerID string) (*service.MemoryReport, error) {
	return &service.MemoryReport{OwnerID: ownerID, Total: 7}, nil
}

func (f *fakeConsolidator) MemoryGaps(ctx context.Context, ownerID string) ([]service.MemoryGap, error) {
	return []service.MemoryGap{{Concept: "memory", Importance: 2, LinkedFrom: []string{"attention", "sleep"}}}, nil
}

func TestMemoryHandler(t *testing.T) {
	fake := &fakeConsolidator{}
	mh := NewMemoryHandler(fake)

	rec := do(t, http.HandlerFunc(mh.Consolidate), http.MethodPost, "/",
		`{"owner_id":"u1","from":"2026-01-01T00:00:00Z","to":"2026-01-08T00:00:00Z"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "u1", fake.gotOwner)
	assert.Equal(t, time.Date(2026, 1, 8, 0, 0, 0, 0, time.UTC), fake.gotWindow.End.UTC())
	assert.Equal(t, 2, decode[service.ConsolidationReport](t, rec).Merged)

	rec = do(t, http.HandlerFunc(mh.Consolidate), http.MethodPost, "/", `{"owner_id":"u1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, fake.gotWindow.Start.IsZero() && fake.gotWindow.End.IsZero())

	rec = do(t, http.HandlerFunc(mh.Consolidate), http.MethodPost, "/",
		`{"owner_id":"u1","from":"2026-01-08T00:00:00Z","to":"2026-01-01T00:00:00Z"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, http.HandlerFunc(mh.Consolidate), http.MethodPost, "/", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, http.HandlerFunc(mh.Report), http.MethodGet, "/?owner_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 7, decode[service.MemoryReport](t, rec).Total)

	rec = do(t, http.HandlerFunc(mh.Report), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, http.HandlerFunc(mh.Gaps), http.MethodGet, "/?owner_id=u1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	gaps := decode[struct {
		OwnerID string              `json:"owner_id"`
		Gaps    []service.MemoryGap `json:"gaps"`
	}](t, rec)
	assert.Equal(t, "u1", gaps.OwnerID)
	require.Len(t, gaps.Gaps, 1)
	assert.Equal(t, "memory", gaps.Gaps[0].Concept)

	rec = do(t, http.HandlerFunc(mh.Gaps), http.MethodGet, "/", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

type fakeConcepts struct{}

func (fakeConcepts) Evolution(ctx context.Context, name string) (*service.ConceptEvolution, error) {
	if name == "missing" {
		return nil, store.ErrNotFound
	}
	return &service.ConceptEvolution{Concept: domain.ConceptNode{Name: name, Mastery: domain.MasteryFamiliar}}, nil
}

func (fakeConcepts) Decay(ctx context.Context, name string) (*service.ConceptEvolution, error) {
	return &service.ConceptEvolution{Concept: domain.ConceptNode{Name: name, Mastery: domain.MasteryNovice}}, nil
}

func TestConceptHandler(t *testing.T) {
	ch := NewConceptHandler(fakeConcepts{})
	r := chi.NewRouter()
	r.Get("/concepts/{name}", ch.Get)
	r.Post("/concepts/{name}/decay", ch.Decay)

	rec := do(t, r, http.MethodGet, "/concepts/sleep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.MasteryFamiliar, decode[service.ConceptEvolution](t, rec).Concept.Mastery)

	rec = do(t, r, http.MethodPost, "/concepts/sleep/decay", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.MasteryNovice, decode[service.ConceptEvolution](t, rec).Concept.Mastery)

	rec = do(t, r, http.MethodGet, "/concepts/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

type fakeReasoner struct {
	gotMaxHops  int
	gotKinds    []domain.EdgeKind
	gotMinSize  int
	gotMaxDepth int
}

func (f *fakeReasoner) BridgePaths(ctx context.Context, a, b string, maxHops int) ([]domain.ScoredPath, error) {
	f.gotMaxHops = maxHops
	if a == "lonely" {
		return nil, nil
	}
	return []domain.ScoredPath{{Nodes: []string{a, b}, Hops: 1, Novelty: 1}}, nil
}

func (f *fakeReasoner) Contradictions(ctx context.Context, concept string) ([]domain.ConflictPair, error) {
	return nil, nil
}

func (f *fakeReasoner) Communities(ctx context.Context, kinds []domain.EdgeKind, minSize int) ([]domain.Community, error) {
	f.gotKinds, f.gotMinSize = kinds, minSize
	return []domain.Community{{Anchor: "a", Members: []string{"a", "b"}}}, nil
}

func (f *fakeReasoner) InfluencePropagation(ctx context.Context, concept string, maxDepth int) (*service.InfluenceReport, error) {
	f.gotMaxDepth = maxDepth
	return &service.InfluenceReport{Concept: domain.NormalizeConcept(concept), MaxDepth: maxDepth, Direct: 2}, nil
}

func (f *fakeReasoner) ConceptLifecycle(ctx context.Context, concept string) (*service.ConceptLifecycle, error) {
	if concept == "unknown" {
		return nil, service.ErrNoTimeline
	}
	return &service.ConceptLifecycle{Concept: concept, Stage: service.StageEmerging}, nil
}

func TestGraphHandler(t *testing.T) {
	fake := &fakeReasoner{}
	gh := NewGraphHandler(fake, 0)
	r := chi.NewRouter()
	r.Get("/graph/bridges", gh.Bridges)
	r.Get("/graph/contradictions/{concept}", gh.Contradictions)
	r.Get("/graph/communities", gh.Communities)

	rec := do(t, r, http.MethodGet, "/graph/bridges?from=Sleep&to=memory", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.DefaultMaxHops, fake.gotMaxHops)
	body := decode[map[string]any](t, rec)
	assert.Equal(t, "sleep", body["from"])

	rec = do(t, r, http.MethodGet, "/graph/bridges?from=a&to=b&max_hops=8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 8, fake.gotMaxHops)

	rec = do(t, r, http.MethodGet, "/graph/bridges?from=lonely&to=b", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"paths":[]`)

	for _, q := range []string{"?from=a", "?from=a&to=b&max_hops=0", "?from=a&to=b&max_hops=9", "?from=a&to=b&max_hops=x"} {
		rec = do(t, r, http.MethodGet, "/graph/bridges"+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = do(t, r, http.MethodGet, "/graph/contradictions/Sleep", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"conflicts":[]`)
	assert.Contains(t, rec.Body.String(), `"concept":"sleep"`)

	rec = do(t, r, http.MethodGet, "/graph/communities?kinds=cites,%20extends&min_size=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []domain.EdgeKind{domain.EdgeCites, domain.EdgeExtends}, fake.gotKinds)
	assert.Equal(t, 2, fake.gotMinSize)

	rec = do(t, r, http.MethodGet, "/graph/communities?kinds=likes", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = do(t, r, http.MethodGet, "/graph/communities?min_size=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGraphHandler_InfluenceAndLifecycle(t *testing.T) {
	fake := &fakeReasoner{}
	gh := NewGraphHandler(fake, 0)
	r := chi.NewRouter()
	r.Get("/graph/influence/{concept}", gh.Influence)
	r.Get("/graph/lifecycle/{concept}", gh.Lifecycle)

	rec := do(t, r, http.MethodGet, "/graph/influence/Attention", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.DefaultInfluenceDepth, fake.gotMaxDepth)
	report := decode[service.InfluenceReport](t, rec)
	assert.Equal(t, "attention", report.Concept)
	assert.Equal(t, 2, report.Direct)

	rec = do(t, r, http.MethodGet, "/graph/influence/attention?max_depth=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, fake.gotMaxDepth)

	for _, q := range []string{"0", "9", "deep"} {
		rec = do(t, r, http.MethodGet, "/graph/influence/attention?max_depth="+q, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}

	rec = do(t, r, http.MethodGet, "/graph/lifecycle/rnn", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, service.StageEmerging, decode[service.ConceptLifecycle](t, rec).Stage)

	rec = do(t, r, http.MethodGet, "/graph/lifecycle/unknown", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestWriteDomainError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrRunNotFound, http.StatusNotFound},
		{store.ErrNotFound, http.StatusNotFound},
		{service.ErrNoTimeline, http.StatusNotFound},
		{&domain.ValidationError{Kind: domain.AgentWrite, Reason: "x"}, http.StatusBadRequest},
		{orchestrator.ErrEmptyQuery, http.StatusBadRequest},
		{domain.ErrNotAwaitingReview, http.StatusConflict},
		{domain.ErrRunTerminal, http.StatusConflict},
		{orchestrator.ErrShuttingDown, http.StatusServiceUnavailable},
		{errors.New("other"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		writeDomainError(rec, tt.err)
		assert.Equal(t, tt.want, rec.Code, tt.err.Error())
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	}
}
