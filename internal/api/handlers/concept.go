package handlers

import (
	"context"
	"net/http"

	"github.com/Harshitk-cp/scholae/internal/service"
	"github.com/go-chi/chi/v5"
)

type ConceptEvolver interface {
	Evolution(ctx context.Context, name string) (*service.ConceptEvolution, error)
	Decay(ctx context.Context, name string) (*service.ConceptEvolution, error)
}

type ConceptHandler struct {
	concepts ConceptEvolver
}

func NewConceptHandler(concepts ConceptEvolver) *ConceptHandler {
	return &ConceptHandler{concepts: concepts}
}

func (h *ConceptHandler) Get(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.concepts.Evolution)
}

// Decay recomputes mastery from time-discounted exposures and persists a
// lower level when it drops.
func (h *ConceptHandler) Decay(w http.ResponseWriter, r *http.Request) {
	h.respond(w, r, h.concepts.Decay)
}

func (h *ConceptHandler) respond(w http.ResponseWriter, r *http.Request, fn func(context.Context, string) (*service.ConceptEvolution, error)) {
	name := chi.URLParam(r, "name")
	if name == "" {
		writeError(w, http.StatusBadRequest, "concept name is required")
		return
	}
	ev, err := fn(r.Context(), name)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}
