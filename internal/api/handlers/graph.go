package handlers

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/service"
	"github.com/go-chi/chi/v5"
)

type GraphReasoner interface {
	BridgePaths(ctx context.Context, a, b string, maxHops int) ([]domain.ScoredPath, error)
	Contradictions(ctx context.Context, concept string) ([]domain.ConflictPair, error)
	Communities(ctx context.Context, kinds []domain.EdgeKind, minSize int) ([]domain.Community, error)
	InfluencePropagation(ctx context.Context, concept string, maxDepth int) (*service.InfluenceReport, error)
	ConceptLifecycle(ctx context.Context, concept string) (*service.ConceptLifecycle, error)
}

type GraphHandler struct {
	reasoning      GraphReasoner
	defaultMaxHops int
}

func NewGraphHandler(reasoning GraphReasoner, defaultMaxHops int) *GraphHandler {
	if defaultMaxHops <= 0 {
		defaultMaxHops = service.DefaultMaxHops
	}
	return &GraphHandler{reasoning: reasoning, defaultMaxHops: defaultMaxHops}
}

func (h *GraphHandler) Bridges(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if strings.TrimSpace(from) == "" || strings.TrimSpace(to) == "" {
		writeError(w, http.StatusBadRequest, "from and to are required")
		return
	}
	maxHops := h.defaultMaxHops
	if v := q.Get("max_hops"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > service.MaxHopsLimit {
			writeError(w, http.StatusBadRequest, "max_hops must be between 1 and "+strconv.Itoa(service.MaxHopsLimit))
			return
		}
		maxHops = n
	}

	paths, err := h.reasoning.BridgePaths(r.Context(), from, to, maxHops)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if paths == nil {
		paths = []domain.ScoredPath{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":     domain.NormalizeConcept(from),
		"to":       domain.NormalizeConcept(to),
		"max_hops": maxHops,
		"paths":    paths,
	})
}

func (h *GraphHandler) Contradictions(w http.ResponseWriter, r *http.Request) {
	concept := chi.URLParam(r, "concept")
	if concept == "" {
		writeError(w, http.StatusBadRequest, "concept is required")
		return
	}
	pairs, err := h.reasoning.Contradictions(r.Context(), concept)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if pairs == nil {
		pairs = []domain.ConflictPair{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"concept":   domain.NormalizeConcept(concept),
		"conflicts": pairs,
	})
}

// Communities accepts a comma-separated kinds list and an optional
// min_size filter.
func (h *GraphHandler) Communities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var kinds []domain.EdgeKind
	if v := q.Get("kinds"); v != "" {
		for _, k := range strings.Split(v, ",") {
			k = strings.TrimSpace(k)
			if !domain.ValidEdgeKind(k) {
				writeError(w, http.StatusBadRequest, "unknown edge kind: "+k)
				return
			}
			kinds = append(kinds, domain.EdgeKind(k))
		}
	}
	minSize := 0
	if v := q.Get("min_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "min_size must be a non-negative integer")
			return
		}
		minSize = n
	}

	communities, err := h.reasoning.Communities(r.Context(), kinds, minSize)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if communities == nil {
		communities = []domain.Community{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"communities": communities, "count": len(communities)})
}

func (h *GraphHandler) Influence(w http.ResponseWriter, r *http.Request) {
	concept := chi.URLParam(r, "concept")
	if strings.TrimSpace(concept) == "" {
		writeError(w, http.StatusBadRequest, "concept is required")
		return
	}
	depth := service.DefaultInfluenceDepth
	if v := r.URL.Query().Get("max_depth"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > service.MaxHopsLimit {
			writeError(w, http.StatusBadRequest, "max_depth must be between 1 and "+strconv.Itoa(service.MaxHopsLimit))
			return
		}
		depth = n
	}
	report, err := h.reasoning.InfluencePropagation(r.Context(), concept, depth)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *GraphHandler) Lifecycle(w http.ResponseWriter, r *http.Request) {
	concept := chi.URLParam(r, "concept")
	if strings.TrimSpace(concept) == "" {
		writeError(w, http.StatusBadRequest, "concept is required")
		return
	}
	lc, err := h.reasoning.ConceptLifecycle(r.Context(), concept)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, lc)
}
