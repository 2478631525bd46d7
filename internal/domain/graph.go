package domain

import (
	"strings"
	"time"
)

type EdgeKind string

const (
	EdgeDiscusses   EdgeKind = "discusses"
	EdgeExtends     EdgeKind = "extends"
	EdgeContradicts EdgeKind = "contradicts"
	EdgeCites       EdgeKind = "cites"
	EdgeBridges     EdgeKind = "bridges"
	EdgeChallenges  EdgeKind = "challenges"
)

// EdgeKinds is the closed set of relationship kinds in fixed order.
var EdgeKinds = []EdgeKind{
	EdgeDiscusses, EdgeExtends, EdgeContradicts, EdgeCites, EdgeBridges, EdgeChallenges,
}

func ValidEdgeKind(k string) bool {
	for _, kind := range EdgeKinds {
		if string(kind) == k {
			return true
		}
	}
	return false
}

// Affirms reports whether the edge kind asserts agreement between its endpoints.
func (k EdgeKind) Affirms() bool {
	switch k {
	case EdgeDiscusses, EdgeExtends, EdgeCites, EdgeBridges:
		return true
	}
	return false
}

// DefaultCommunityKinds is the edge subset used when none is requested.
var DefaultCommunityKinds = []EdgeKind{EdgeCites, EdgeDiscusses}

type Mastery string

const (
	MasteryNovice     Mastery = "novice"
	MasteryFamiliar   Mastery = "familiar"
	MasteryProficient Mastery = "proficient"
	MasteryExpert     Mastery = "expert"
)

// Rank orders mastery levels; unknown levels rank below novice.
func (m Mastery) Rank() int {
	switch m {
	case MasteryNovice:
		return 1
	case MasteryFamiliar:
		return 2
	case MasteryProficient:
		return 3
	case MasteryExpert:
		return 4
	}
	return 0
}

// Exposure thresholds for mastery levels.
const (
	FamiliarExposures   = 3
	ProficientExposures = 10
	ExpertExposures     = 25
)

// MasteryFor maps an exposure count to a mastery level.
func MasteryFor(exposures int) Mastery {
	switch {
	case exposures < FamiliarExposures:
		return MasteryNovice
	case exposures < ProficientExposures:
		return MasteryFamiliar
	case exposures < ExpertExposures:
		return MasteryProficient
	}
	return MasteryExpert
}

// MaxMastery returns the higher of two levels.
func MaxMastery(a, b Mastery) Mastery {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

type ConceptNode struct {
	Name          string    `json:"name"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	Mastery       Mastery   `json:"mastery_level"`
	ExposureCount int       `json:"exposure_count"`
}

// ConceptObservation is one mention of a concept by a task. Stores apply
// it at most once per (Name, TaskID): the exposure count grows by one,
// the seen window widens and mastery is raised to match.
type ConceptObservation struct {
	Name   string    `json:"name"`
	TaskID string    `json:"task_id"`
	At     time.Time `json:"at"`
}

// Apply returns n after the observation. A nil n is the first mention.
func (o ConceptObservation) Apply(n *ConceptNode) ConceptNode {
	if n == nil {
		return ConceptNode{
			Name:          o.Name,
			FirstSeenAt:   o.At,
			LastSeenAt:    o.At,
			ExposureCount: 1,
			Mastery:       MasteryFor(1),
		}
	}
	next := *n
	next.ExposureCount++
	if next.FirstSeenAt.IsZero() || o.At.Before(next.FirstSeenAt) {
		next.FirstSeenAt = o.At
	}
	if o.At.After(next.LastSeenAt) {
		next.LastSeenAt = o.At
	}
	next.Mastery = MaxMastery(next.Mastery, MasteryFor(next.ExposureCount))
	return next
}

// NormalizeConcept canonicalises a concept name for use as a node key.
func NormalizeConcept(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

type RelationshipEdge struct {
	From       string    `json:"from_concept"`
	To         string    `json:"to_concept"`
	Kind       EdgeKind  `json:"kind"`
	Confidence float64   `json:"confidence"`
	Evidence   string    `json:"evidence"`
	CreatedBy  string    `json:"created_by"`
	CreatedAt  time.Time `json:"created_at"`
}

// Key is the identity of an edge: (from, to, kind).
func (e RelationshipEdge) Key() string {
	return e.From + "|" + e.To + "|" + string(e.Kind)
}

// Touches reports whether concept is one of the edge endpoints.
func (e RelationshipEdge) Touches(concept string) bool {
	return e.From == concept || e.To == concept
}

// RawPath is an uninterpreted path returned by a graph store. Edges[i]
// connects Nodes[i] and Nodes[i+1].
type RawPath struct {
	Nodes []string   `json:"nodes"`
	Edges []EdgeKind `json:"edges"`
}

type ScoredPath struct {
	Nodes   []string   `json:"nodes"`
	Edges   []EdgeKind `json:"edges"`
	Hops    int        `json:"hops"`
	Rarity  float64    `json:"rarity"`
	Novelty float64    `json:"novelty_score"`
}

// Intermediates returns the path's nodes excluding both endpoints.
func (p ScoredPath) Intermediates() []string {
	if len(p.Nodes) <= 2 {
		return nil
	}
	return p.Nodes[1 : len(p.Nodes)-1]
}

type ConflictPair struct {
	First  RelationshipEdge `json:"first"`
	Second RelationshipEdge `json:"second"`
	Reason string           `json:"reason"`
}

type Community struct {
	Anchor  string   `json:"anchor"`
	Members []string `json:"members"`
}
