package domain

import (
	"time"

	"github.com/google/uuid"
)

type MemoryKind string

const (
	MemoryKindEpisodic   MemoryKind = "episodic"
	MemoryKindSemantic   MemoryKind = "semantic"
	MemoryKindProcedural MemoryKind = "procedural"
)

func ValidMemoryKind(k string) bool {
	switch MemoryKind(k) {
	case MemoryKindEpisodic, MemoryKindSemantic, MemoryKindProcedural:
		return true
	}
	return false
}

type MemoryMetadata struct {
	Tags       []string `json:"tags,omitempty"`
	Confidence float64  `json:"confidence"`
	Session    string   `json:"session,omitempty"`
}

// MemoryRecord is a unit of stored knowledge. Strength is derived at read
// time and never persisted. Records are never deleted; a merge marks the
// merged-from records with ConsolidatedInto.
type MemoryRecord struct {
	ID               uuid.UUID      `json:"id"`
	Kind             MemoryKind     `json:"kind"`
	OwnerID          string         `json:"owner_id"`
	Content          string         `json:"content"`
	CreatedAt        time.Time      `json:"created_at"`
	LastAccessedAt   time.Time      `json:"last_accessed_at"`
	AccessCount      int            `json:"access_count"`
	BaseStrength     float64        `json:"base_strength"`
	Metadata         MemoryMetadata `json:"metadata"`
	ConsolidatedInto *uuid.UUID     `json:"consolidated_into,omitempty"`
	MergedFrom       []uuid.UUID    `json:"merged_from,omitempty"`
	LowPriority      bool           `json:"low_priority"`
	Embedding        []float32      `json:"-"`
}

// Consolidated reports whether the record has been merged into another.
func (m *MemoryRecord) Consolidated() bool {
	return m.ConsolidatedInto != nil
}

// IsMerge reports whether the record was produced by consolidation.
func (m *MemoryRecord) IsMerge() bool {
	return len(m.MergedFrom) > 0
}

// ScoredRecord pairs a record with its search relevance.
type ScoredRecord struct {
	Record MemoryRecord `json:"record"`
	Score  float64      `json:"score"`
}

type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w TimeWindow) Contains(t time.Time) bool {
	if !w.Start.IsZero() && t.Before(w.Start) {
		return false
	}
	if !w.End.IsZero() && t.After(w.End) {
		return false
	}
	return true
}

type SearchQuery struct {
	OwnerID string       `json:"owner_id"`
	Text    string       `json:"text"`
	Kinds   []MemoryKind `json:"kinds,omitempty"`
	Window  TimeWindow   `json:"window"`
	K       int          `json:"k"`
	// IncludeInactive returns consolidated and low-priority records too.
	IncludeInactive bool `json:"include_inactive"`
}
