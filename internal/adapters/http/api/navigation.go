package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/okian/faultline/internal/domain/model"
)

// NavigationDependencies defines the interface for event reads.
type NavigationDependencies interface {
	GetEvent(ctx context.Context, id string) (*model.Event, error)
	PreviousEventID(ctx context.Context, id string) (string, error)
	NextEventID(ctx context.Context, id string) (string, error)
}

// NavigationHandler serves single events and their stack neighbors.
type NavigationHandler struct {
	deps NavigationDependencies
}

// NewNavigationHandler creates a new navigation handler.
func NewNavigationHandler(deps NavigationDependencies) *NavigationHandler {
	return &NavigationHandler{deps: deps}
}

type neighborResponse struct {
	ID string `json:"id"`
	// Empty when the event is the first or last of its stack.
	NeighborID string `json:"neighbor_id"`
}

// HandleGetEvent handles GET /api/v2/events/{id} requests.
func (h *NavigationHandler) HandleGetEvent(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_event"
	e, err := h.deps.GetEvent(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// HandlePrevious handles GET /api/v2/events/{id}/previous requests.
func (h *NavigationHandler) HandlePrevious(w http.ResponseWriter, r *http.Request) {
	h.neighbor(w, r, "api.previous_event", h.deps.PreviousEventID)
}

// HandleNext handles GET /api/v2/events/{id}/next requests.
func (h *NavigationHandler) HandleNext(w http.ResponseWriter, r *http.Request) {
	h.neighbor(w, r, "api.next_event", h.deps.NextEventID)
}

func (h *NavigationHandler) neighbor(w http.ResponseWriter, r *http.Request, op string, find func(context.Context, string) (string, error)) {
	id := chi.URLParam(r, "id")
	neighbor, err := find(r.Context(), id)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, neighborResponse{ID: id, NeighborID: neighbor})
}
