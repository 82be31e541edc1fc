package rules

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/shared/auth"
	"github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/events"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// CacheInvalidator drops cached processing contexts after a rule change
// so the next adjudication run sees the new rule set.
type CacheInvalidator interface {
	Invalidate()
}

// Handler provides HTTP handlers for the rules module
type Handler struct {
	repo        *Repository
	bus         *events.Bus
	auditor     *audit.Recorder
	invalidator CacheInvalidator
}

// NewHandler creates a new rules handler
func NewHandler(repo *Repository, bus *events.Bus, auditor *audit.Recorder, invalidator CacheInvalidator) *Handler {
	return &Handler{
		repo:        repo,
		bus:         bus,
		auditor:     auditor,
		invalidator: invalidator,
	}
}

// Routes registers the rules routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListRules)
	r.Post("/", h.CreateRule)
	r.Get("/{ruleID}", h.GetRule)
	r.Put("/{ruleID}", h.UpdateRule)
	r.Delete("/{ruleID}", h.DeleteRule)

	r.Route("/indicators", func(r chi.Router) {
		r.Get("/", h.ListIndicators)
		r.Post("/", h.CreateIndicator)
		r.Get("/{indicatorID}", h.GetIndicator)
		r.Put("/{indicatorID}", h.UpdateIndicator)
		r.Delete("/{indicatorID}", h.DeleteIndicator)
	})

	return r
}

// ruleChanged invalidates cached contexts, publishes the change event and
// records the audit entry. Every mutation goes through here.
func (h *Handler) ruleChanged(r *http.Request, action string, resourceID types.ID, code, change string) {
	if h.invalidator != nil {
		h.invalidator.Invalidate()
	}

	actorID := types.ID("")
	actorType := "system"
	if user := auth.GetUser(r.Context()); user != nil {
		actorID = user.ID
		actorType = user.UserType
	}

	if h.bus != nil {
		event := events.NewEvent(events.TypeRuleChanged, "rules", map[string]any{
			"rule_id": resourceID.String(),
			"code":    code,
			"change":  change,
		}).WithActor(actorID, actorType)
		h.bus.Publish(r.Context(), event)
	}

	if h.auditor != nil {
		h.auditor.RecordResource(r.Context(), "rule", resourceID, action,
			audit.ActorTypeReviewer, actorID, code+" "+change, nil)
	}
}

// --- Business Rule Handlers ---

// ListRules lists business rules
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	result, err := h.repo.ListRules(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  result,
		"total": len(result),
	})
}

// CreateRuleRequest is the request body for creating a rule
type CreateRuleRequest struct {
	Code   string `json:"code"`
	Title  string `json:"title"`
	Body   string `json:"body"`
	Active *bool  `json:"active"`
}

// CreateRule creates a new business rule
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	rule := &BusinessRule{
		ID:     types.NewID(),
		Code:   strings.TrimSpace(req.Code),
		Title:  strings.TrimSpace(req.Title),
		Body:   req.Body,
		Active: true,
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := rule.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.CreateRule(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}

	h.ruleChanged(r, audit.ActionRuleChanged, rule.ID, rule.Code, "created")

	writeJSON(w, http.StatusCreated, rule)
}

// GetRule gets a business rule by ID
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid rule ID"))
		return
	}

	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, rule)
}

// UpdateRuleRequest is the request body for updating a rule
type UpdateRuleRequest struct {
	Title  *string `json:"title"`
	Body   *string `json:"body"`
	Active *bool   `json:"active"`
}

// UpdateRule updates a business rule
func (h *Handler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid rule ID"))
		return
	}

	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Title != nil {
		rule.Title = *req.Title
	}
	if req.Body != nil {
		rule.Body = *req.Body
	}
	if req.Active != nil {
		rule.Active = *req.Active
	}

	if err := rule.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.UpdateRule(r.Context(), rule); err != nil {
		writeError(w, err)
		return
	}

	h.ruleChanged(r, audit.ActionRuleChanged, rule.ID, rule.Code, "updated")

	writeJSON(w, http.StatusOK, rule)
}

// DeleteRule deletes a business rule
func (h *Handler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "ruleID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid rule ID"))
		return
	}

	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.DeleteRule(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.ruleChanged(r, audit.ActionRuleChanged, rule.ID, rule.Code, "deleted")

	w.WriteHeader(http.StatusNoContent)
}

// --- Fraud Indicator Handlers ---

// ListIndicators lists fraud indicators
func (h *Handler) ListIndicators(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"

	result, err := h.repo.ListIndicators(r.Context(), activeOnly)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"data":  result,
		"total": len(result),
	})
}

// CreateIndicatorRequest is the request body for creating an indicator
type CreateIndicatorRequest struct {
	Code        string   `json:"code"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Active      *bool    `json:"active"`
}

// CreateIndicator creates a new fraud indicator
func (h *Handler) CreateIndicator(w http.ResponseWriter, r *http.Request) {
	var req CreateIndicatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	ind := &FraudIndicator{
		ID:          types.NewID(),
		Code:        strings.TrimSpace(req.Code),
		Description: req.Description,
		Severity:    req.Severity,
		Active:      true,
	}
	if req.Active != nil {
		ind.Active = *req.Active
	}

	if err := ind.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.CreateIndicator(r.Context(), ind); err != nil {
		writeError(w, err)
		return
	}

	h.ruleChanged(r, audit.ActionIndicatorChanged, ind.ID, ind.Code, "created")

	writeJSON(w, http.StatusCreated, ind)
}

// GetIndicator gets a fraud indicator by ID
func (h *Handler) GetIndicator(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "indicatorID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid indicator ID"))
		return
	}

	ind, err := h.repo.GetIndicator(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ind)
}

// UpdateIndicatorRequest is the request body for updating an indicator
type UpdateIndicatorRequest struct {
	Description *string   `json:"description"`
	Severity    *Severity `json:"severity"`
	Active      *bool     `json:"active"`
}

// UpdateIndicator updates a fraud indicator
func (h *Handler) UpdateIndicator(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "indicatorID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid indicator ID"))
		return
	}

	ind, err := h.repo.GetIndicator(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req UpdateIndicatorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if req.Description != nil {
		ind.Description = *req.Description
	}
	if req.Severity != nil {
		ind.Severity = *req.Severity
	}
	if req.Active != nil {
		ind.Active = *req.Active
	}

	if err := ind.Validate(); err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.UpdateIndicator(r.Context(), ind); err != nil {
		writeError(w, err)
		return
	}

	h.ruleChanged(r, audit.ActionIndicatorChanged, ind.ID, ind.Code, "updated")

	writeJSON(w, http.StatusOK, ind)
}

// DeleteIndicator deletes a fraud indicator
func (h *Handler) DeleteIndicator(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "indicatorID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid indicator ID"))
		return
	}

	ind, err := h.repo.GetIndicator(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	if err := h.repo.DeleteIndicator(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}

	h.ruleChanged(r, audit.ActionIndicatorChanged, ind.ID, ind.Code, "deleted")

	w.WriteHeader(http.StatusNoContent)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
