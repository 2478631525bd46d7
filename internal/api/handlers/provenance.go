package handlers

import (
	"context"
	"net/http"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/google/uuid"
)

// ProvenanceReader answers provenance queries by run or trace.
type ProvenanceReader interface {
	ByRun(ctx context.Context, runID uuid.UUID) ([]domain.ProvenanceEntry, error)
	ByTrace(ctx context.Context, traceID string) ([]domain.ProvenanceEntry, error)
}

type ProvenanceHandler struct {
	log ProvenanceReader
}

func NewProvenanceHandler(log ProvenanceReader) *ProvenanceHandler {
	return &ProvenanceHandler{log: log}
}

// List returns the entries of one run (?run_id=) or one trace (?trace_id=)
// in append order.
func (h *ProvenanceHandler) List(w http.ResponseWriter, r *http.Request) {
	runParam := r.URL.Query().Get("run_id")
	traceID := r.URL.Query().Get("trace_id")

	var (
		entries []domain.ProvenanceEntry
		err     error
	)
	switch {
	case runParam != "" && traceID != "":
		writeError(w, http.StatusBadRequest, "run_id and trace_id are mutually exclusive")
		return
	case runParam != "":
		runID, perr := uuid.Parse(runParam)
		if perr != nil {
			writeError(w, http.StatusBadRequest, "invalid run_id")
			return
		}
		entries, err = h.log.ByRun(r.Context(), runID)
	case traceID != "":
		entries, err = h.log.ByTrace(r.Context(), traceID)
	default:
		writeError(w, http.StatusBadRequest, "run_id or trace_id is required")
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if entries == nil {
		entries = []domain.ProvenanceEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}
