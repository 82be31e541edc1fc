package evaluator

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/meridian-health/claims-platform/internal/shared/errors"
)

// Handler provides HTTP handlers for the evaluator module
type Handler struct {
	client *Client
}

// NewHandler creates a new evaluator handler
func NewHandler(client *Client) *Handler {
	return &Handler{client: client}
}

// Routes registers the evaluator routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/ask", h.Ask)
	r.Get("/health", h.HealthCheck)

	return r
}

// Ask forwards a free-form adjudication question to the evaluator service
func (h *Handler) Ask(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body: "+err.Error()))
		return
	}

	if strings.TrimSpace(req.Question) == "" {
		writeError(w, errors.BadRequest("question is required"))
		return
	}

	result, err := h.client.Ask(r.Context(), req.Question)
	if err != nil {
		writeError(w, errors.Wrap(err, "evaluator query failed"))
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// HealthCheck checks evaluator service health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	if err := h.client.Health(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

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
