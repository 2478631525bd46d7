package domain

import (
	"time"

	"github.com/google/uuid"
)

type EvidenceType string

const (
	EvidenceEdge   EvidenceType = "edge"
	EvidenceMemory EvidenceType = "memory"
	EvidencePath   EvidenceType = "path"
)

type EvidenceRef struct {
	Type     EvidenceType `json:"type"`
	From     string       `json:"from,omitempty"`
	To       string       `json:"to,omitempty"`
	EdgeKind EdgeKind     `json:"edge_kind,omitempty"`
	RecordID *uuid.UUID   `json:"record_id,omitempty"`
	Note     string       `json:"note,omitempty"`
}

// Hypothesis is immutable once created. ConfidenceScore is the only input
// to the review gate.
type Hypothesis struct {
	ID                 uuid.UUID     `json:"id"`
	RunID              uuid.UUID     `json:"run_id"`
	Text               string        `json:"text"`
	SupportingEvidence []EvidenceRef `json:"supporting_evidence"`
	NoveltyScore       float64       `json:"novelty_score"`
	ConfidenceScore    float64       `json:"confidence_score"`
	CreatedAt          time.Time     `json:"created_at"`
}

// ProvenanceEntry is an append-only audit record of one task transition.
type ProvenanceEntry struct {
	ID         uuid.UUID `json:"id"`
	Sequence   int64     `json:"sequence"`
	RunID      uuid.UUID `json:"run_id"`
	TaskID     string    `json:"task_id"`
	AgentKind  AgentKind `json:"agent_kind"`
	State      string    `json:"state"`
	Attempt    int       `json:"attempt"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	InputHash  string    `json:"input_hash"`
	OutputHash string    `json:"output_hash"`
	TraceID    string    `json:"trace_id"`
	ErrorKind  ErrorKind `json:"error_kind,omitempty"`
}
