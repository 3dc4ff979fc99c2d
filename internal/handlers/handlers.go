package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	log "github.com/sirupsen/logrus"

	"fleetpilot-backend/internal/alerts"
	"fleetpilot-backend/internal/models"
	"fleetpilot-backend/internal/storage"
)

// AlertService is the part of the alert manager exposed over HTTP.
type AlertService interface {
	List(ctx context.Context, filter models.AlertFilter) ([]models.Alert, error)
	ResolveByID(ctx context.Context, id int64) (*models.Alert, error)
	Snooze(ctx context.Context, id int64, days int) error
	Unsnooze(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	BulkSnooze(ctx context.Context, ids []int64, days int) (int, error)
	BulkResolve(ctx context.Context, ids []int64) (int, error)
}

// AssignmentStore persists policy and alert template assignments.
type AssignmentStore interface {
	SetAgentPolicy(ctx context.Context, agentID int64, policyID *int64) error
	SetSiteAlertTemplate(ctx context.Context, siteID int64, templateID *int64) error
	SetClientAlertTemplate(ctx context.Context, clientID int64, templateID *int64) error
	SetPolicyAlertTemplate(ctx context.Context, policyID int64, templateID *int64) error
}

type ChangePublisher interface {
	Publish(ctx context.Context, ev models.ChangeEvent) error
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	alerts    AlertService
	store     AssignmentStore
	publisher ChangePublisher
	health    map[string]HealthCheck
}

func New(alertSvc AlertService, store AssignmentStore, publisher ChangePublisher, health map[string]HealthCheck) *Handler {
	return &Handler{
		alerts:    alertSvc,
		store:     store,
		publisher: publisher,
		health:    health,
	}
}

// RegisterRoutes mounts every route. bulk wraps the bulk endpoint, usually
// with a rate limiter; nil leaves it unwrapped.
func (h *Handler) RegisterRoutes(r chi.Router, bulk func(http.Handler) http.Handler) {
	r.Get("/healthz", h.Health)

	// Alerts
	r.Get("/v1/alerts", h.ListAlerts)
	if bulk != nil {
		r.With(bulk).Post("/v1/alerts/bulk", h.BulkAlerts)
	} else {
		r.Post("/v1/alerts/bulk", h.BulkAlerts)
	}
	r.Post("/v1/alerts/{id}/resolve", h.ResolveAlert)
	r.Post("/v1/alerts/{id}/snooze", h.SnoozeAlert)
	r.Post("/v1/alerts/{id}/unsnooze", h.UnsnoozeAlert)
	r.Delete("/v1/alerts/{id}", h.DeleteAlert)

	// Assignments
	r.Put("/v1/agents/{id}/policy", h.AssignAgentPolicy)
	r.Put("/v1/sites/{id}/alert-template", h.AssignSiteTemplate)
	r.Put("/v1/clients/{id}/alert-template", h.AssignClientTemplate)
	r.Put("/v1/policies/{id}/alert-template", h.AssignPolicyTemplate)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]string{}
	healthy := true
	for name, check := range h.health {
		if err := check(ctx); err != nil {
			status[name] = err.Error()
			healthy = false
			continue
		}
		status[name] = "ok"
	}

	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// ListAlerts - GET /v1/alerts?start=&end=&client=&severity=&snoozed=&resolved=&limit=
func (h *Handler) ListAlerts(w http.ResponseWriter, r *http.Request) {
	filter, err := parseAlertFilter(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	list, err := h.alerts.List(r.Context(), filter)
	if err != nil {
		log.WithError(err).Error("list alerts")
		http.Error(w, "Failed to list alerts", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []models.Alert{}
	}
	writeJSON(w, http.StatusOK, list)
}

type bulkRequest struct {
	Action string  `json:"action"`
	IDs    []int64 `json:"ids"`
	Days   int     `json:"days"`
}

func (h *Handler) BulkAlerts(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if len(req.IDs) == 0 {
		http.Error(w, "ids is required", http.StatusBadRequest)
		return
	}

	var (
		n   int
		err error
	)
	switch req.Action {
	case "snooze":
		n, err = h.alerts.BulkSnooze(r.Context(), req.IDs, req.Days)
	case "resolve":
		n, err = h.alerts.BulkResolve(r.Context(), req.IDs)
	default:
		http.Error(w, fmt.Sprintf("unknown action %q", req.Action), http.StatusBadRequest)
		return
	}
	if err != nil {
		h.alertError(w, err, "bulk "+req.Action)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"updated": n})
}

func (h *Handler) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	alert, err := h.alerts.ResolveByID(r.Context(), id)
	if err != nil {
		h.alertError(w, err, "resolve alert")
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

type snoozeRequest struct {
	Days int `json:"days"`
}

func (h *Handler) SnoozeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req snoozeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.alerts.Snooze(r.Context(), id, req.Days); err != nil {
		h.alertError(w, err, "snooze alert")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) UnsnoozeAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.alerts.Unsnooze(r.Context(), id); err != nil {
		h.alertError(w, err, "unsnooze alert")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) DeleteAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	if err := h.alerts.Delete(r.Context(), id); err != nil {
		h.alertError(w, err, "delete alert")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type policyRequest struct {
	PolicyID *int64 `json:"policy_id"`
}

func (h *Handler) AssignAgentPolicy(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req policyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := h.store.SetAgentPolicy(r.Context(), id, req.PolicyID); err != nil {
		h.assignError(w, err, "assign agent policy")
		return
	}
	h.announce(r.Context(), models.ChangeEvent{
		Kind:     models.ChangePolicyAssignment,
		AgentID:  &id,
		PolicyID: req.PolicyID,
	})
	w.WriteHeader(http.StatusNoContent)
}

type templateRequest struct {
	TemplateID *int64 `json:"template_id"`
}

func (h *Handler) AssignSiteTemplate(w http.ResponseWriter, r *http.Request) {
	h.assignTemplate(w, r, h.store.SetSiteAlertTemplate, func(ev *models.ChangeEvent, id int64) { ev.SiteID = &id })
}

func (h *Handler) AssignClientTemplate(w http.ResponseWriter, r *http.Request) {
	h.assignTemplate(w, r, h.store.SetClientAlertTemplate, func(ev *models.ChangeEvent, id int64) { ev.ClientID = &id })
}

func (h *Handler) AssignPolicyTemplate(w http.ResponseWriter, r *http.Request) {
	h.assignTemplate(w, r, h.store.SetPolicyAlertTemplate, func(ev *models.ChangeEvent, id int64) { ev.PolicyID = &id })
}

func (h *Handler) assignTemplate(
	w http.ResponseWriter,
	r *http.Request,
	set func(ctx context.Context, id int64, templateID *int64) error,
	scope func(ev *models.ChangeEvent, id int64),
) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if err := set(r.Context(), id, req.TemplateID); err != nil {
		h.assignError(w, err, "assign alert template")
		return
	}
	ev := models.ChangeEvent{Kind: models.ChangeTemplateAssignment, TemplateID: req.TemplateID}
	scope(&ev, id)
	h.announce(r.Context(), ev)
	w.WriteHeader(http.StatusNoContent)
}

// announce publishes a change after it was committed. A lost event is picked
// up by the periodic recache, so failures are only logged.
func (h *Handler) announce(ctx context.Context, ev models.ChangeEvent) {
	if err := h.publisher.Publish(ctx, ev); err != nil {
		log.WithError(err).WithField("kind", ev.Kind).Error("publish change event")
	}
}

func (h *Handler) alertError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, storage.ErrAlertNotFound):
		http.Error(w, "Alert not found", http.StatusNotFound)
	case errors.Is(err, alerts.ErrInvalidSnooze):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		log.WithError(err).Error(op)
		http.Error(w, fmt.Sprintf("%s failed", op), http.StatusInternalServerError)
	}
}

func (h *Handler) assignError(w http.ResponseWriter, err error, op string) {
	switch {
	case errors.Is(err, storage.ErrAgentNotFound),
		errors.Is(err, storage.ErrSiteNotFound),
		errors.Is(err, storage.ErrClientNotFound),
		errors.Is(err, storage.ErrPolicyNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		log.WithError(err).Error(op)
		http.Error(w, fmt.Sprintf("%s failed", op), http.StatusInternalServerError)
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func parseAlertFilter(r *http.Request) (models.AlertFilter, error) {
	q := r.URL.Query()
	var f models.AlertFilter

	for _, name := range []string{"start", "end"} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, fmt.Errorf("invalid %s: %w", name, err)
		}
		if name == "start" {
			f.Start = &t
		} else {
			f.End = &t
		}
	}

	for _, v := range splitValues(q["client"]) {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, fmt.Errorf("invalid client %q", v)
		}
		f.ClientIDs = append(f.ClientIDs, id)
	}

	for _, v := range splitValues(q["severity"]) {
		s := models.Severity(v)
		switch s {
		case models.SeverityInfo, models.SeverityWarning, models.SeverityError:
			f.Severities = append(f.Severities, s)
		default:
			return f, fmt.Errorf("invalid severity %q", v)
		}
	}

	var err error
	if f.Snoozed, err = parseBool(q.Get("snoozed")); err != nil {
		return f, fmt.Errorf("invalid snoozed: %w", err)
	}
	if f.Resolved, err = parseBool(q.Get("resolved")); err != nil {
		return f, fmt.Errorf("invalid resolved: %w", err)
	}

	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, fmt.Errorf("invalid limit %q", v)
		}
		f.Limit = n
	}
	return f, nil
}

// splitValues accepts both repeated and comma separated query values.
func splitValues(raw []string) []string {
	var out []string
	for _, v := range raw {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

func parseBool(v string) (*bool, error) {
	if v == "" {
		return nil, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("encode response")
	}
}
