package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbd/internal/domain"
)

// Closer is the state-machine surface for operator-initiated closes.
type Closer interface {
	RequestClose(ctx context.Context, positionID string) error
}

// PositionHandler serves position state and manual close requests.
type PositionHandler struct {
	store  domain.PositionStore
	closer Closer
}

// NewPositionHandler creates a PositionHandler. closer may be nil in
// read-only deployments.
func NewPositionHandler(store domain.PositionStore, closer Closer) *PositionHandler {
	return &PositionHandler{store: store, closer: closer}
}

// ListOpen returns every non-terminal position.
// GET /api/positions
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	positions, err := h.store.ListOpen(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list positions failed")
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// ListClosed returns positions closed within the last 24 hours, or since
// the given RFC 3339 timestamp.
// GET /api/positions/closed?since=2026-01-02T15:04:05Z
func (h *PositionHandler) ListClosed(w http.ResponseWriter, r *http.Request) {
	since := time.Now().UTC().Add(-24 * time.Hour)
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be RFC 3339")
			return
		}
		since = t
	}

	positions, err := h.store.ListClosedSince(r.Context(), since)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "list closed positions failed")
		return
	}
	writeJSON(w, http.StatusOK, positions)
}

// GetByID returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) GetByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	pos, err := h.store.GetByID(r.Context(), id)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "get position failed")
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Close requests a manual close of an open position.
// POST /api/positions/{id}/close
func (h *PositionHandler) Close(w http.ResponseWriter, r *http.Request) {
	if h.closer == nil {
		writeError(w, http.StatusServiceUnavailable, "position machine not running")
		return
	}
	id := r.PathValue("id")
	if err := h.closer.RequestClose(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		case errors.Is(err, domain.ErrInvalidTransition):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "closing", "id": id})
}
