// Package httpapi is the application REST surface (C9): a thin
// chi-router layer translating HTTP requests into calls against the
// narrow Controller interface, and marshaling DTOs.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/ics-guard/icsguard/internal/controllerclient"
	"github.com/ics-guard/icsguard/internal/eventbus"
	"github.com/ics-guard/icsguard/internal/flowstore"
	"github.com/ics-guard/icsguard/internal/inference"
	"github.com/ics-guard/icsguard/internal/policyengine"
)

const maxPerPage = 200

// Controller is the narrow boundary between the HTTP layer and the core,
// mirroring the reference corpus's ServerController interface shape.
type Controller interface {
	Topology(ctx context.Context) (controllerclient.Topology, error)
	Alerts(ctx context.Context) ([]controllerclient.Alert, error)
	HoneypotLogs(ctx context.Context) ([]controllerclient.HoneypotLog, error)

	Policies() []*policyengine.Policy
	GetPolicy(id string) (*policyengine.Policy, bool)
	CreatePolicy(p *policyengine.Policy)
	UpdatePolicy(p *policyengine.Policy)
	DeletePolicy(id string)

	PredictFlow(flow *flowstore.Flow) flowstore.DetectionResult
	PredictBatch(flows []*flowstore.Flow) []flowstore.DetectionResult
	ModelMeta() inference.Artifacts

	RecentEvents(limit int, typeFilter eventbus.EventType) []eventbus.Event
}

// Server wires the chi router to a Controller and the UI event stream.
type Server struct {
	router     chi.Router
	controller Controller
	uiStream   http.Handler
	logger     *zap.Logger
}

// NewServer builds the full route table.
func NewServer(controller Controller, uiStream http.Handler, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{controller: controller, uiStream: uiStream, logger: logger.Named("httpapi")}
	s.router = s.setupRoutes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) setupRoutes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(RequestIDLoggerMiddleware(s.logger.Sugar()))
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.handleHealthz)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/login", s.handleAuthLogin)
		r.Get("/auth/me", s.handleAuthMe)

		r.Get("/topology", s.handleTopology)

		r.Get("/policies", s.handlePoliciesList)
		r.Post("/policies", s.handlePoliciesCreate)
		r.Get("/policies/{id}", s.handlePolicyGet)
		r.Put("/policies/{id}", s.handlePolicyUpdate)
		r.Delete("/policies/{id}", s.handlePolicyDelete)

		r.Post("/detect/flow", s.handleDetectFlow)
		r.Post("/detect/batch", s.handleDetectBatch)

		r.Get("/model/meta", s.handleModelMeta)

		r.Get("/alerts", s.handleAlerts)
		r.Get("/honeypot/logs", s.handleHoneypotLogs)

		r.Get("/events", s.uiStream.ServeHTTP)
		r.Get("/events/logs", s.handleEventsLogs)

		r.Get("/audit", s.handleAudit)
		r.Get("/audit/export", s.handleAuditExport)

		r.Get("/preferences/{key}", s.handlePreferenceGet)
		r.Put("/preferences/{key}", s.handlePreferenceSet)
	})

	r.Get("/ui-events", s.uiStream.ServeHTTP)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleAuthLogin and handleAuthMe are placeholders for the application's
// own operator-session auth, distinct from C7's controller-credential
// token lifecycle; neither is detailed further by the specification's
// invariants, so they return a minimal, honest stub.
func (s *Server) handleAuthLogin(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "not_implemented"})
}

func (s *Server) handleAuthMe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "not_implemented"})
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	topo, err := s.controller.Topology(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, topo)
}

func (s *Server) handlePoliciesList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.Policies())
}

func (s *Server) handlePoliciesCreate(w http.ResponseWriter, r *http.Request) {
	var p policyengine.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy body")
		return
	}
	s.controller.CreatePolicy(&p)
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handlePolicyGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	p, ok := s.controller.GetPolicy(id)
	if !ok {
		writeError(w, http.StatusNotFound, "policy not found")
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePolicyUpdate(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var p policyengine.Policy
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid policy body")
		return
	}
	p.ID = id
	s.controller.UpdatePolicy(&p)
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handlePolicyDelete(w http.ResponseWriter, r *http.Request) {
	s.controller.DeletePolicy(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDetectFlow(w http.ResponseWriter, r *http.Request) {
	var flow flowstore.Flow
	if err := json.NewDecoder(r.Body).Decode(&flow); err != nil {
		writeError(w, http.StatusBadRequest, "invalid flow body")
		return
	}
	writeJSON(w, http.StatusOK, s.controller.PredictFlow(&flow))
}

func (s *Server) handleDetectBatch(w http.ResponseWriter, r *http.Request) {
	var flows []*flowstore.Flow
	if err := json.NewDecoder(r.Body).Decode(&flows); err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch body")
		return
	}
	writeJSON(w, http.StatusOK, s.controller.PredictBatch(flows))
}

func (s *Server) handleModelMeta(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.controller.ModelMeta())
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts, err := s.controller.Alerts(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

func (s *Server) handleHoneypotLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := s.controller.HoneypotLogs(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

// handleEventsLogs paginates the cached event history. page/per_page
// follow the clamp documented in §4.9; type is the only filter applied,
// mapped onto eventbus.EventType, and other query parameters are ignored.
func (s *Server) handleEventsLogs(w http.ResponseWriter, r *http.Request) {
	page := parseIntDefault(r.URL.Query().Get("page"), 1)
	perPage := parseIntDefault(r.URL.Query().Get("per_page"), 50)
	if perPage > maxPerPage {
		perPage = maxPerPage
	}
	if perPage < 1 {
		perPage = 1
	}
	if page < 1 {
		page = 1
	}

	typeFilter := eventbus.EventType(r.URL.Query().Get("type"))
	all := s.controller.RecentEvents(0, typeFilter)

	start := (page - 1) * perPage
	if start > len(all) {
		start = len(all)
	}
	end := start + perPage
	if end > len(all) {
		end = len(all)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"page":     page,
		"per_page": perPage,
		"total":    len(all),
		"items":    all[start:end],
	})
}

// handleAudit and handleAuditExport surface the same event-log history
// under the audit-trail framing the specification names; no distinct
// audit store exists beyond the event cache (C2) and detection logs (C3).
func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	s.handleEventsLogs(w, r)
}

func (s *Server) handleAuditExport(w http.ResponseWriter, r *http.Request) {
	all := s.controller.RecentEvents(0, "")
	w.Header().Set("Content-Disposition", "attachment; filename=audit-export.json")
	writeJSON(w, http.StatusOK, all)
}

// preferenceStore is a small per-operator key/value store; the
// specification names the endpoints without a backing model, so this is
// an in-memory stub scoped to process lifetime.
type preferenceStore struct {
	mu     sync.RWMutex
	values map[string]string
}

var preferences = &preferenceStore{values: map[string]string{}}

func (s *Server) handlePreferenceGet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	preferences.mu.RLock()
	value := preferences.values[key]
	preferences.mu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]string{"key": key, "value": value})
}

func (s *Server) handlePreferenceSet(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var body struct {
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid preference body")
		return
	}
	preferences.mu.Lock()
	preferences.values[key] = body.Value
	preferences.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func parseIntDefault(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}
