package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// MemoryStore persists MemoryRecords. Store upserts on ID so replaying a
// staged write is a no-op.
type MemoryStore interface {
	Store(ctx context.Context, rec *MemoryRecord) (uuid.UUID, error)
	Search(ctx context.Context, q SearchQuery) ([]ScoredRecord, error)
	GetByTimeWindow(ctx context.Context, ownerID string, start, end time.Time) ([]MemoryRecord, error)

	RecordAccess(ctx context.Context, ids []uuid.UUID, at time.Time) error
	MarkConsolidated(ctx context.Context, id, into uuid.UUID) error
	SetLowPriority(ctx context.Context, id uuid.UUID, low bool) error
	ListOwners(ctx context.Context) ([]string, error)
}

// GraphStore persists the concept graph as an adjacency table keyed by
// concept name. UpsertEdge is idempotent on (from, to, kind) and keeps the
// latest confidence.
type GraphStore interface {
	UpsertNode(ctx context.Context, n *ConceptNode) error
	// ObserveConcept applies obs atomically and returns the stored node.
	// Replaying an observation already applied for the same task is a no-op.
	ObserveConcept(ctx context.Context, obs ConceptObservation) (*ConceptNode, error)
	// SetMastery changes only the mastery level of a stored node. With
	// raiseOnly a lower level than the stored one is ignored.
	SetMastery(ctx context.Context, name string, level Mastery, raiseOnly bool) error
	UpsertEdge(ctx context.Context, e *RelationshipEdge) error
	PathQuery(ctx context.Context, from, to string, maxHops int) ([]RawPath, error)

	GetNode(ctx context.Context, name string) (*ConceptNode, error)
	ListNodes(ctx context.Context) ([]ConceptNode, error)
	ListEdges(ctx context.Context, kinds []EdgeKind) ([]RelationshipEdge, error)
	EdgesOf(ctx context.Context, concept string) ([]RelationshipEdge, error)
	// Degrees returns the number of distinct neighbouring concepts of each
	// name, ignoring edge direction and kind.
	Degrees(ctx context.Context, names []string) (map[string]int, error)
}

type ProvenanceStore interface {
	Append(ctx context.Context, e *ProvenanceEntry) error
	ListByRun(ctx context.Context, runID uuid.UUID) ([]ProvenanceEntry, error)
	ListByTrace(ctx context.Context, traceID string) ([]ProvenanceEntry, error)
}

type EmbeddingClient interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// LLMClient is the text service used by agents.
type LLMClient interface {
	ExtractConcepts(ctx context.Context, text string) ([]string, error)
	Generate(ctx context.Context, prompt, background string) (text string, confidence float64, err error)
}

// TransitionPublisher forwards transition events to an external bus.
type TransitionPublisher interface {
	Publish(ctx context.Context, ev TransitionEvent) error
	Close() error
}
