package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/Harshitk-cp/scholae/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// RunOrchestrator is the part of the orchestrator the run endpoints use.
type RunOrchestrator interface {
	Submit(ctx context.Context, query, ownerID string) (uuid.UUID, error)
	Status(runID uuid.UUID) (domain.RunStatus, error)
	Approve(ctx context.Context, runID uuid.UUID) error
	Reject(ctx context.Context, runID uuid.UUID) error
	Subscribe(runID uuid.UUID) (<-chan domain.TransitionEvent, func(), error)
}

const streamWriteTimeout = 10 * time.Second

type RunHandler struct {
	orch     RunOrchestrator
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewRunHandler(orch RunOrchestrator, logger *zap.Logger) *RunHandler {
	return &RunHandler{
		orch:   orch,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type submitRunRequest struct {
	Query   string `json:"query"`
	OwnerID string `json:"owner_id"`
}

type submitRunResponse struct {
	RunID   uuid.UUID       `json:"run_id"`
	State   domain.RunState `json:"state"`
	TraceID string          `json:"trace_id"`
}

func (h *RunHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}

	runID, err := h.orch.Submit(r.Context(), req.Query, req.OwnerID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	st, err := h.orch.Status(runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitRunResponse{RunID: runID, State: st.State, TraceID: st.TraceID})
}

func (h *RunHandler) Get(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	st, err := h.orch.Status(runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *RunHandler) Approve(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.orch.Approve)
}

func (h *RunHandler) Reject(w http.ResponseWriter, r *http.Request) {
	h.decide(w, r, h.orch.Reject)
}

func (h *RunHandler) decide(w http.ResponseWriter, r *http.Request, fn func(context.Context, uuid.UUID) error) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	if err := fn(r.Context(), runID); err != nil {
		writeDomainError(w, err)
		return
	}
	st, err := h.orch.Status(runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Stream upgrades to a websocket and sends every transition of the run as
// a JSON message, closing normally once the run has stopped.
func (h *RunHandler) Stream(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDParam(w, r)
	if !ok {
		return
	}
	events, cancel, err := h.orch.Subscribe(runID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	defer cancel()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("run_id", runID.String()), zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	// The reader only notices the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
				_ = conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "run finished"))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed", zap.String("run_id", runID.String()), zap.Error(err))
				return
			}
		case <-gone:
			return
		}
	}
}

func runIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid run id")
		return uuid.Nil, false
	}
	return id, true
}
