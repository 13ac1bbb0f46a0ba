package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	service "github.com/okian/faultline/internal/app"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/pkg/logger"
)

// Intake headers identifying the submitting project.
const (
	HeaderProjectID      = "X-Project-Id"
	HeaderOrganizationID = "X-Organization-Id"
	HeaderPlan           = "X-Organization-Plan"
	HeaderBotThrottleOff = "X-Bot-Throttle-Disabled"

	defaultMaxBatch = 1_000
	maxBodyBytes    = 8 << 20
)

// EventDependencies defines the interface for event intake.
type EventDependencies interface {
	Submit(ctx context.Context, project *model.Project, org *model.Organization, events []*model.Event) (*service.Result, error)
}

// EventsHandler handles intake requests.
type EventsHandler struct {
	deps     EventDependencies
	validate *validator.Validate
	maxBatch int
	log      logger.Logger
}

// NewEventsHandler creates a new events handler.
func NewEventsHandler(deps EventDependencies, v *validator.Validate) *EventsHandler {
	return &EventsHandler{deps: deps, validate: v, maxBatch: defaultMaxBatch, log: logger.Nop()}
}

type intakeHeaders struct {
	ProjectID      string `validate:"required,max=64"`
	OrganizationID string `validate:"required,max=64"`
}

// eventRequest is the wire shape of one submitted event.
type eventRequest struct {
	ID          string             `json:"id" validate:"omitempty,max=128"`
	Type        string             `json:"type" validate:"omitempty,oneof=error log session sessionend heartbeat custom"`
	Source      string             `json:"source" validate:"max=2000"`
	Message     string             `json:"message" validate:"max=8000"`
	Date        string             `json:"date" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
	SessionID   string             `json:"session_id" validate:"omitempty,max=128"`
	ReferenceID string             `json:"reference_id" validate:"omitempty,min=8,max=100"`
	Version     string             `json:"version" validate:"max=256"`
	Value       *float64           `json:"value"`
	Tags        []string           `json:"tags" validate:"max=50,dive,max=255"`
	Data        map[string]any     `json:"data"`
	User        *model.UserInfo    `json:"user"`
	Error       *model.ErrorInfo   `json:"error"`
	Request     *model.RequestInfo `json:"request"`

	ManualStacking *model.ManualStackingInfo `json:"manual_stacking"`
}

func (e *eventRequest) toModel() *model.Event {
	ev := &model.Event{
		ID:             e.ID,
		Type:           model.EventType(e.Type),
		Source:         e.Source,
		Message:        e.Message,
		SessionID:      e.SessionID,
		ReferenceID:    e.ReferenceID,
		Version:        e.Version,
		Value:          e.Value,
		Tags:           e.Tags,
		Data:           e.Data,
		User:           e.User,
		Error:          e.Error,
		Request:        e.Request,
		ManualStacking: e.ManualStacking,
	}
	if e.Date != "" {
		// validated above
		ev.Date, _ = time.Parse(time.RFC3339, e.Date)
	}
	return ev
}

// HandlePostEvents handles POST /api/v2/events requests. The body is a single
// event or an array of events.
func (h *EventsHandler) HandlePostEvents(w http.ResponseWriter, r *http.Request) {
	const op = "api.post_events"
	hdr := intakeHeaders{
		ProjectID:      strings.TrimSpace(r.Header.Get(HeaderProjectID)),
		OrganizationID: strings.TrimSpace(r.Header.Get(HeaderOrganizationID)),
	}
	if err := h.validate.Struct(hdr); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}

	reqs, err := decodeEvents(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	switch {
	case len(reqs) == 0:
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, service.ErrEmptyBatch))
		return
	case len(reqs) > h.maxBatch:
		writeError(w, http.StatusRequestEntityTooLarge, "batch_too_large",
			WrapKind(op, ErrBadRequest, fmt.Errorf("batch of %d exceeds %d events", len(reqs), h.maxBatch)))
		return
	}

	events := make([]*model.Event, len(reqs))
	for i := range reqs {
		if err := h.validate.Struct(&reqs[i]); err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, fmt.Errorf("event %d: %w", i, err)))
			return
		}
		events[i] = reqs[i].toModel()
	}

	project := &model.Project{
		ID:                  hdr.ProjectID,
		OrganizationID:      hdr.OrganizationID,
		BotThrottleDisabled: r.Header.Get(HeaderBotThrottleOff) == "true",
	}
	org := &model.Organization{ID: hdr.OrganizationID, PlanID: r.Header.Get(HeaderPlan)}

	res, err := h.deps.Submit(r.Context(), project, org, events)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	h.log.Debug(r.Context(), "batch processed",
		logger.String("project_id", project.ID),
		logger.Int("accepted", res.Accepted),
		logger.Int("discarded", res.Discarded),
		logger.Int("errored", res.Errored))
	writeJSON(w, http.StatusAccepted, res)
}

func decodeEvents(body io.Reader) ([]eventRequest, error) {
	var raw json.RawMessage
	if err := json.NewDecoder(body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode body: %w", err)
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var reqs []eventRequest
		if err := json.Unmarshal(raw, &reqs); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		return reqs, nil
	}
	var one eventRequest
	if err := json.Unmarshal(raw, &one); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return []eventRequest{one}, nil
}
