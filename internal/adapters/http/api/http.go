// Package api declares HTTP contracts and route registration helpers.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"github.com/okian/faultline/internal/adapters/repository"
	service "github.com/okian/faultline/internal/app"
	"github.com/okian/faultline/internal/domain/model"
	"github.com/okian/faultline/pkg/logger"
)

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to implementations in other packages.
type Dependencies interface {
	EventDependencies
	NavigationDependencies
	StackDependencies
	StatsProvider
}

// Server wires HTTP routes for the intake API.
type Server struct {
	healthHandler     *HealthHandler
	statsHandler      *StatsHandler
	eventsHandler     *EventsHandler
	navigationHandler *NavigationHandler
	stacksHandler     *StacksHandler

	rateLimit  int
	rateWindow time.Duration
	log        logger.Logger
}

// Option applies a configuration option to the Server.
type Option func(*Server)

// WithRateLimit limits intake requests per client IP. A zero limit disables it.
func WithRateLimit(limit int, window time.Duration) Option {
	return func(s *Server) {
		s.rateLimit = limit
		if window > 0 {
			s.rateWindow = window
		}
	}
}

// WithMaxBatchSize bounds the number of events in one intake request.
func WithMaxBatchSize(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.eventsHandler.maxBatch = n
		}
	}
}

// WithLogger sets the request logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// NewServer creates a new API server with all handlers.
func NewServer(deps Dependencies, opts ...Option) *Server {
	v := validator.New(validator.WithRequiredStructEnabled())
	s := &Server{
		healthHandler:     NewHealthHandler(),
		statsHandler:      NewStatsHandler(deps),
		eventsHandler:     NewEventsHandler(deps, v),
		navigationHandler: NewNavigationHandler(deps),
		stacksHandler:     NewStacksHandler(deps, v),
		rateWindow:        time.Minute,
		log:               logger.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.eventsHandler.log = s.log
	return s
}

// Routes returns the router serving every API endpoint.
func (s *Server) Routes(ctx context.Context) http.Handler {
	r := chi.NewRouter()
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.healthHandler.HandleHealth)
	r.Get("/stats", s.statsHandler.HandleStats)

	r.Route("/api/v2", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			if s.rateLimit > 0 {
				r.Use(httprate.Limit(s.rateLimit, s.rateWindow,
					httprate.WithKeyFuncs(httprate.KeyByIP),
					httprate.WithLimitHandler(func(w http.ResponseWriter, _ *http.Request) {
						writeError(w, http.StatusTooManyRequests, "backpressure", NewKind("api.intake", ErrBackpressure))
					}),
				))
			}
			r.Post("/events", s.eventsHandler.HandlePostEvents)
		})
		r.Get("/events/{id}", s.navigationHandler.HandleGetEvent)
		r.Get("/events/{id}/previous", s.navigationHandler.HandlePrevious)
		r.Get("/events/{id}/next", s.navigationHandler.HandleNext)

		r.Get("/stacks/{id}", s.stacksHandler.HandleGetStack)
		r.Post("/stacks/{id}/mark-fixed", s.stacksHandler.HandleMarkFixed)
		r.Post("/stacks/{id}/status", s.stacksHandler.HandleSetStatus)
	})

	s.log.Info(ctx, "api routes registered", logger.Int("rateLimit", s.rateLimit))
	return r
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError translates upstream errors to status codes.
func writeServiceError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", WrapKind(op, ErrNotFound, err))
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", Wrap(op, err))
	case errors.Is(err, service.ErrEmptyBatch), errors.Is(err, repository.ErrInvalidRecord):
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", Wrap(op, err))
	}
}

// Compile-time check that the service satisfies the handler dependencies.
var _ Dependencies = (*service.Service)(nil)

// statusKnown reports whether s is a stack status clients may set.
func statusKnown(s model.StackStatus) bool {
	switch s {
	case model.StackOpen, model.StackFixed, model.StackRegressed, model.StackIgnored, model.StackDiscarded:
		return true
	}
	return false
}
