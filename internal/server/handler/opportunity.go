package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// Confirmer is the executor surface for manually-confirmed opportunities.
type Confirmer interface {
	Pending() []domain.Opportunity
	Confirm(ctx context.Context, id string) error
}

// OpportunityHandler serves the recorded opportunity feed and the manual
// confirmation flow.
type OpportunityHandler struct {
	opps      domain.OpportunityStore
	confirmer Confirmer
}

// NewOpportunityHandler creates an OpportunityHandler. confirmer may be nil
// when the engine runs without an execution loop.
func NewOpportunityHandler(opps domain.OpportunityStore, confirmer Confirmer) *OpportunityHandler {
	return &OpportunityHandler{opps: opps, confirmer: confirmer}
}

// ListRecent returns the most recently detected opportunities.
// GET /api/opportunities?limit=50
func (h *OpportunityHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 500 {
			writeError(w, http.StatusBadRequest, "limit must be in 1..500")
			return
		}
		limit = n
	}

	opps, err := h.opps.ListRecent(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list opportunities failed")
		return
	}
	writeJSON(w, http.StatusOK, opps)
}

// ListPending returns opportunities awaiting manual confirmation.
// GET /api/confirmations
func (h *OpportunityHandler) ListPending(w http.ResponseWriter, r *http.Request) {
	if h.confirmer == nil {
		writeJSON(w, http.StatusOK, []domain.Opportunity{})
		return
	}
	writeJSON(w, http.StatusOK, h.confirmer.Pending())
}

// Confirm approves one deferred opportunity for execution.
// POST /api/confirmations/{id}
func (h *OpportunityHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	if h.confirmer == nil {
		writeError(w, http.StatusServiceUnavailable, "execution loop not running")
		return
	}
	id := r.PathValue("id")
	if err := h.confirmer.Confirm(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no pending confirmation for "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "executing", "id": id})
}
