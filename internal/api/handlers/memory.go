package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/Harshitk-cp/scholae/internal/service"
)

type Consolidator interface {
	Consolidate(ctx context.Context, ownerID string, window domain.TimeWindow) (*service.ConsolidationReport, error)
	Report(ctx context.Context, ownerID string) (*service.MemoryReport, error)
	MemoryGaps(ctx context.Context, ownerID string) ([]service.MemoryGap, error)
}

type MemoryHandler struct {
	consolidation Consolidator
}

func NewMemoryHandler(consolidation Consolidator) *MemoryHandler {
	return &MemoryHandler{consolidation: consolidation}
}

type consolidateRequest struct {
	OwnerID string     `json:"owner_id"`
	From    *time.Time `json:"from,omitempty"`
	To      *time.Time `json:"to,omitempty"`
}

// Consolidate runs one consolidation pass over the owner's records in the
// optional [from, to] window.
func (h *MemoryHandler) Consolidate(w http.ResponseWriter, r *http.Request) {
	var req consolidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	var window domain.TimeWindow
	if req.From != nil {
		window.Start = *req.From
	}
	if req.To != nil {
		window.End = *req.To
	}
	if !window.Start.IsZero() && !window.End.IsZero() && window.End.Before(window.Start) {
		writeError(w, http.StatusBadRequest, "to must not be before from")
		return
	}

	report, err := h.consolidation.Consolidate(r.Context(), req.OwnerID, window)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *MemoryHandler) Report(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}
	report, err := h.consolidation.Report(r.Context(), ownerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *MemoryHandler) Gaps(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id query parameter is required")
		return
	}
	gaps, err := h.consolidation.MemoryGaps(r.Context(), ownerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"owner_id": ownerID, "gaps": gaps})
}
