package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/faultline/internal/domain/model"
)

// StackDependencies defines the interface for stack triage.
type StackDependencies interface {
	GetStack(ctx context.Context, id string) (*model.Stack, error)
	MarkStackFixed(ctx context.Context, id, version string) (*model.Stack, error)
	SetStackStatus(ctx context.Context, id string, status model.StackStatus) (*model.Stack, error)
}

// StacksHandler handles stack reads and status changes.
type StacksHandler struct {
	deps     StackDependencies
	validate *validator.Validate
}

// NewStacksHandler creates a new stacks handler.
func NewStacksHandler(deps StackDependencies, v *validator.Validate) *StacksHandler {
	return &StacksHandler{deps: deps, validate: v}
}

type markFixedRequest struct {
	Version string `json:"version" validate:"omitempty,max=256"`
}

type statusRequest struct {
	Status string `json:"status" validate:"required"`
}

// HandleGetStack handles GET /api/v2/stacks/{id} requests.
func (h *StacksHandler) HandleGetStack(w http.ResponseWriter, r *http.Request) {
	const op = "api.get_stack"
	stack, err := h.deps.GetStack(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, stack)
}

// HandleMarkFixed handles POST /api/v2/stacks/{id}/mark-fixed requests.
func (h *StacksHandler) HandleMarkFixed(w http.ResponseWriter, r *http.Request) {
	const op = "api.mark_fixed"
	var req markFixedRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	stack, err := h.deps.MarkStackFixed(r.Context(), chi.URLParam(r, "id"), req.Version)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, stack)
}

// HandleSetStatus handles POST /api/v2/stacks/{id}/status requests.
func (h *StacksHandler) HandleSetStatus(w http.ResponseWriter, r *http.Request) {
	const op = "api.set_status"
	var req statusRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	status := model.StackStatus(req.Status)
	if !statusKnown(status) {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, fmt.Errorf("unknown status %q", req.Status)))
		return
	}
	stack, err := h.deps.SetStackStatus(r.Context(), chi.URLParam(r, "id"), status)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, stack)
}

func (h *StacksHandler) decode(r *http.Request, v any) error {
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			return fmt.Errorf("decode body: %w", err)
		}
	}
	return h.validate.Struct(v)
}
