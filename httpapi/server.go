// Package httpapi exposes the gateway over HTTP: event ingestion, rule and
// validation administration, the event archive, health, and metrics.
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hatsunemiku3939/eventgateway/gateway"
	"github.com/hatsunemiku3939/eventgateway/model"
	"github.com/hatsunemiku3939/eventgateway/store"
)

const (
	defaultSampleLimit = 50
	maxSampleLimit     = 500
)

// Server builds the HTTP routes over a Gateway.
type Server struct {
	gw     gateway.Gateway
	logger *zap.Logger
	prefix string
	gather prometheus.Gatherer
}

// NewServer assembles a server. prefix scopes the API routes (e.g. "/api");
// health-check and metrics always live at the root. gatherer may be nil to
// use the default registry.
func NewServer(gw gateway.Gateway, prefix string, gatherer prometheus.Gatherer, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{gw: gw, logger: logger, prefix: prefix, gather: gatherer}
}

// Handler returns the assembled route tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestLogger(s.logger))

	r.Get("/health-check", s.handleHealthCheck)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))

	mount := func(api chi.Router) {
		api.With(requestMetadata).Post("/event", s.handlePublishEvent)

		api.Post("/routing-rules", s.handleAddRoutingRule)
		api.Get("/routing-rules", s.handleGetRoutingRules)
		api.Get("/routing-rules/{id}", s.handleGetRoutingRule)
		api.Put("/routing-rules/{id}", s.handleUpdateRoutingRule)
		api.Delete("/routing-rules/{id}", s.handleDeleteRoutingRule)

		api.Post("/topic-validations", s.handleAddTopicValidation)
		api.Get("/topic-validations", s.handleGetTopicValidations)
		api.Delete("/topic-validations/{id}", s.handleDeleteTopicValidation)

		api.Get("/events", s.handleGetSampleEvents)
	}
	if s.prefix == "" || s.prefix == "/" {
		mount(r)
	} else {
		r.Route(s.prefix, mount)
	}
	return r
}

func (s *Server) handleHealthCheck(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handlePublishEvent runs one event through the pipeline and maps the
// outcome onto a status code.
func (s *Server) handlePublishEvent(w http.ResponseWriter, r *http.Request) {
	var event model.Event
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event: "+err.Error())
		return
	}
	if meta := transportMetadataFrom(r.Context()); meta != nil {
		if event.TransportMetadata == nil {
			event.TransportMetadata = make(map[string]string, len(meta))
		}
		for k, v := range meta {
			event.TransportMetadata[k] = v
		}
	}

	err := s.gw.Handle(r.Context(), &event)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	case errors.Is(err, gateway.ErrSchemaInvalid):
		writeError(w, http.StatusBadRequest, "schema validation failed")
	case errors.Is(err, gateway.ErrNoTopicToRoute):
		writeError(w, http.StatusNotAcceptable, "no destination found")
	default:
		s.logger.Error("event handling failed",
			zap.String("eventId", event.ID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (s *Server) handleAddRoutingRule(w http.ResponseWriter, r *http.Request) {
	var rule model.TopicRoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid routing rule: "+err.Error())
		return
	}
	// Create bodies carry no id; the server assigns one.
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if err := s.gw.AddRoutingRule(r.Context(), rule); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetRoutingRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.gw.GetRoutingRules(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (s *Server) handleGetRoutingRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	rule, err := s.gw.GetRoutingRule(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRoutingRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	var rule model.TopicRoutingRule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "invalid routing rule: "+err.Error())
		return
	}
	if err := s.gw.UpdateRoutingRule(r.Context(), id, rule); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Deletes are idempotent: removing an id that is already gone is a success.
func (s *Server) handleDeleteRoutingRule(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.gw.DeleteRoutingRule(r.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAddTopicValidation(w http.ResponseWriter, r *http.Request) {
	var v model.TopicValidationConfig
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid topic validation: "+err.Error())
		return
	}
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	if err := s.gw.AddTopicValidation(r.Context(), v); err != nil {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetTopicValidations(w http.ResponseWriter, r *http.Request) {
	validations, err := s.gw.GetTopicValidations(r.Context())
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, validations)
}

func (s *Server) handleDeleteTopicValidation(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(w, r)
	if !ok {
		return
	}
	if err := s.gw.DeleteTopicValidation(r.Context(), id); err != nil && !errors.Is(err, store.ErrNotFound) {
		s.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetSampleEvents(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultSampleLimit)
	if limit > maxSampleLimit {
		limit = maxSampleLimit
	}
	offset := queryInt(r, "offset", 0)

	events, total, err := s.gw.GetSampleEvents(r.Context(), limit, offset)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"events": events,
		"total":  total,
	})
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "item not found")
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "item already exists")
	default:
		s.logger.Error("storage operation failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func idParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id: must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, fallback int64) int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
