package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// RiskHandler serves the risk event log.
type RiskHandler struct {
	store domain.RiskEventStore
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(store domain.RiskEventStore) *RiskHandler {
	return &RiskHandler{store: store}
}

// ListUnhandled returns the oldest unhandled risk events.
// GET /api/risk-events?limit=100
func (h *RiskHandler) ListUnhandled(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be in 1..1000")
			return
		}
		limit = n
	}

	events, err := h.store.ListUnhandled(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list risk events failed")
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// MarkHandled acknowledges one risk event.
// POST /api/risk-events/{id}/handled
func (h *RiskHandler) MarkHandled(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := h.store.MarkHandled(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "risk event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "mark handled failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "handled", "id": id})
}
