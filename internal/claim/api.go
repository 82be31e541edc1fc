package claim

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/shared/auth"
	"github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/events"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// Submitter hands accepted claims to the ingestion queues. The queue types
// live in the ingest package, which depends on this one, so the handler only
// sees this interface.
type Submitter interface {
	SubmitBatch(claims []*Claim, sourceFile string) bool
	SubmitClaim(c *Claim) bool
}

// Handler provides HTTP handlers for the claim module
type Handler struct {
	repo      Repository
	submitter Submitter
	auditor   *audit.Recorder
	bus       *events.Bus
	devMode   bool
}

// NewHandler creates a new claim handler
func NewHandler(repo Repository, submitter Submitter, auditor *audit.Recorder, bus *events.Bus) *Handler {
	env := os.Getenv("ENV")
	return &Handler{
		repo:      repo,
		submitter: submitter,
		auditor:   auditor,
		bus:       bus,
		devMode:   env == "" || env == "development" || env == "dev",
	}
}

// Routes registers the claim routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListClaims)
	r.Post("/upload", h.UploadBatch)
	r.Post("/ingest", h.IngestClaim)
	r.Get("/summaries/batches", h.ListBatchSummaries)
	r.Get("/{claimID}", h.GetClaim)
	r.Get("/{claimID}/decision", h.GetDecision)
	r.Post("/{claimID}/review", h.ReviewClaim)
	r.Post("/{claimID}/resubmit", h.ResubmitClaim)
	r.Post("/{claimID}/retry", h.RetryClaim)

	return r
}

// ClaimRow is one normalized claim line as submitted over the API
type ClaimRow struct {
	ClaimLineKey      string  `json:"claim_line_key"`
	ClaimNumber       string  `json:"claim_number"`
	TransactionNumber string  `json:"transaction_number"`
	MemberNumber      string  `json:"member_number"`
	PatientName       string  `json:"patient_name"`
	ProviderName      string  `json:"provider_name"`
	PracticeNumber    string  `json:"practice_number"`
	ClaimedAmount     float64 `json:"claimed_amount"`
	PaidAmount        float64 `json:"paid_amount"`
	CopayAmount       float64 `json:"copay_amount"`
	TariffAmount      float64 `json:"tariff_amount"`
	RiskLevel         string  `json:"risk_level"`
}

// toClaim builds a claim from a row. A blank line key is an error; the
// caller decides whether that rejects the row or the whole request.
func (row ClaimRow) toClaim(source Source) (*Claim, error) {
	c, err := New(row.ClaimLineKey, source)
	if err != nil {
		return nil, err
	}

	c.ClaimNumber = row.ClaimNumber
	c.TransactionNumber = row.TransactionNumber
	c.MemberNumber = row.MemberNumber
	c.PatientName = row.PatientName
	c.ProviderName = row.ProviderName
	c.PracticeNumber = row.PracticeNumber
	c.ClaimedAmount = row.ClaimedAmount
	c.PaidAmount = row.PaidAmount
	c.CopayAmount = row.CopayAmount
	c.TariffAmount = row.TariffAmount

	switch RiskLevel(row.RiskLevel) {
	case RiskLow, RiskMedium, RiskHigh, RiskCritical:
		c.RiskLevel = RiskLevel(row.RiskLevel)
	}

	return c, nil
}

// UploadRequest carries one bulk upload of claim rows
type UploadRequest struct {
	SourceFile string     `json:"source_file"`
	Claims     []ClaimRow `json:"claims"`
}

// ReviewRequest carries a human review decision
type ReviewRequest struct {
	Action string `json:"action"` // approve, reject, request_info
	Note   string `json:"note"`
}

// ResubmitRequest carries a provider resubmission. Financial fields are
// optional; absent fields keep their current values.
type ResubmitRequest struct {
	Note          string   `json:"note"`
	ClaimedAmount *float64 `json:"claimed_amount,omitempty"`
	PaidAmount    *float64 `json:"paid_amount,omitempty"`
	CopayAmount   *float64 `json:"copay_amount,omitempty"`
	TariffAmount  *float64 `json:"tariff_amount,omitempty"`
}

// UploadBatch accepts a batch of normalized claim rows and queues them for
// bulk ingestion. Rows with a blank claim line key are rejected here and
// never reach the queue.
func (h *Handler) UploadBatch(w http.ResponseWriter, r *http.Request) {
	var req UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if len(req.Claims) == 0 {
		writeError(w, errors.Validation("batch contains no claims", nil))
		return
	}
	if strings.TrimSpace(req.SourceFile) == "" {
		req.SourceFile = "api-upload-" + time.Now().UTC().Format("20060102T150405")
	}

	claims := make([]*Claim, 0, len(req.Claims))
	rejected := 0
	for _, row := range req.Claims {
		c, err := row.toClaim(SourceUpload)
		if err != nil {
			rejected++
			metrics.RecordClaimRejected()
			continue
		}
		c.SourceFile = req.SourceFile
		claims = append(claims, c)
	}

	if len(claims) == 0 {
		writeError(w, errors.Validation("all rows were rejected", map[string]string{
			"claim_line_key": "every row is missing a claim line key",
		}))
		return
	}

	if !h.submitter.SubmitBatch(claims, req.SourceFile) {
		writeError(w, errors.Internal(errors.Conflict("ingestion is shutting down")))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"source_file": req.SourceFile,
		"queued":      len(claims),
		"rejected":    rejected,
	})
}

// IngestClaim accepts a single claim and queues it for adjudication
func (h *Handler) IngestClaim(w http.ResponseWriter, r *http.Request) {
	var row ClaimRow
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	c, err := row.toClaim(SourceManual)
	if err != nil {
		metrics.RecordClaimRejected()
		writeError(w, errors.Validation("claim line key is required", map[string]string{
			"claim_line_key": "must not be blank",
		}))
		return
	}

	if !h.submitter.SubmitClaim(c) {
		writeError(w, errors.Internal(errors.Conflict("ingestion is shutting down")))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"claim_line_key": c.ClaimLineKey,
		"status":         string(c.Status),
	})
}

// ListClaims returns claims matching the query filters
func (h *Handler) ListClaims(w http.ResponseWriter, r *http.Request) {
	filter := ListFilter{
		MemberNumber: r.URL.Query().Get("member_number"),
		Search:       r.URL.Query().Get("search"),
		Limit:        50,
	}

	if s := r.URL.Query().Get("status"); s != "" {
		status := Status(s)
		filter.Status = &status
	}
	if s := r.URL.Query().Get("source"); s != "" {
		source := Source(s)
		filter.Source = &source
	}
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}
	if s := r.URL.Query().Get("offset"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n >= 0 {
			filter.Offset = n
		}
	}

	claims, total, err := h.repo.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"claims": claims,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

// GetClaim returns a single claim by ID
func (h *Handler) GetClaim(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "claimID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid claim ID"))
		return
	}

	c, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// GetDecision returns the agent decision for a claim
func (h *Handler) GetDecision(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "claimID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid claim ID"))
		return
	}

	d, err := h.repo.GetDecision(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// ReviewClaim records a human review decision on a claim under human review
func (h *Handler) ReviewClaim(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "claimID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid claim ID"))
		return
	}

	reviewer, reviewerID, ok := h.requireReviewer(w, r)
	if !ok {
		return
	}

	var req ReviewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	c, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	from := c.Status

	switch req.Action {
	case "approve":
		err = c.Approve(reviewer, req.Note)
	case "reject":
		err = c.Reject(reviewer, req.Note)
	case "request_info":
		err = c.RequestMoreInfo(reviewer, req.Note)
	default:
		writeError(w, errors.Validation("unknown review action", map[string]string{
			"action": "must be approve, reject or request_info",
		}))
		return
	}
	if err != nil {
		writeError(w, errors.Conflict(err.Error()))
		return
	}

	if err := h.updateClaim(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	h.claimChanged(r, c, from, audit.ActionClaimReviewed, reviewerID,
		"Review decision: "+req.Action, map[string]any{"action": req.Action, "note": req.Note})

	writeJSON(w, http.StatusOK, c)
}

// ResubmitClaim records a provider resubmission and re-queues the claim
func (h *Handler) ResubmitClaim(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "claimID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid claim ID"))
		return
	}

	var req ResubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	c, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	from := c.Status

	if err := c.Resubmit(req.Note); err != nil {
		writeError(w, errors.Conflict(err.Error()))
		return
	}

	// Resubmission is the one path allowed to revise financials
	if req.ClaimedAmount != nil {
		c.ClaimedAmount = *req.ClaimedAmount
	}
	if req.PaidAmount != nil {
		c.PaidAmount = *req.PaidAmount
	}
	if req.CopayAmount != nil {
		c.CopayAmount = *req.CopayAmount
	}
	if req.TariffAmount != nil {
		c.TariffAmount = *req.TariffAmount
	}

	if err := h.updateClaim(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	actorID := types.ID("")
	if user := auth.GetUser(r.Context()); user != nil {
		actorID = user.ID
	}
	h.claimChanged(r, c, from, audit.ActionClaimResubmitted, actorID,
		"Claim resubmitted with additional information", nil)

	if !h.submitter.SubmitClaim(c) {
		writeError(w, errors.Internal(errors.Conflict("ingestion is shutting down")))
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// RetryClaim re-queues a failed claim for another adjudication attempt.
// This is the only path out of Failed; re-delivery alone never reruns it.
func (h *Handler) RetryClaim(w http.ResponseWriter, r *http.Request) {
	id, err := types.ParseID(chi.URLParam(r, "claimID"))
	if err != nil {
		writeError(w, errors.BadRequest("invalid claim ID"))
		return
	}

	operator, operatorID, ok := h.requireReviewer(w, r)
	if !ok {
		return
	}

	c, err := h.repo.FindByID(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	from := c.Status

	if err := c.Retry(); err != nil {
		writeError(w, errors.Conflict(err.Error()))
		return
	}
	c.AppendReasoning("Retry requested by " + operator)

	if err := h.updateClaim(r.Context(), c); err != nil {
		writeError(w, err)
		return
	}

	h.claimChanged(r, c, from, audit.ActionClaimRetried, operatorID,
		"Failed claim queued for retry", nil)

	if !h.submitter.SubmitClaim(c) {
		writeError(w, errors.Internal(errors.Conflict("ingestion is shutting down")))
		return
	}

	writeJSON(w, http.StatusOK, c)
}

// ListBatchSummaries returns recent bulk upload summaries
func (h *Handler) ListBatchSummaries(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if s := r.URL.Query().Get("limit"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	summaries, err := h.repo.ListBatchSummaries(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"summaries": summaries})
}

// updateClaim persists a reviewed claim, translating a lost optimistic
// concurrency race into a retryable conflict for the caller.
func (h *Handler) updateClaim(ctx context.Context, c *Claim) error {
	if err := h.repo.Update(ctx, c); err != nil {
		if stderrors.Is(err, ErrVersionConflict) {
			return errors.Conflict("claim was modified concurrently, retry")
		}
		return err
	}
	return nil
}

// claimChanged publishes the status-change event and audit entry for a
// successful human action on a claim.
func (h *Handler) claimChanged(r *http.Request, c *Claim, from Status, action string, actorID types.ID, description string, changes map[string]any) {
	metrics.RecordClaimStatusChange(string(from), string(c.Status))

	if h.bus != nil {
		event := events.NewEvent(events.TypeClaimStatusChanged, "claims", map[string]any{
			"claim_id":       c.ID.String(),
			"claim_line_key": c.ClaimLineKey,
			"from":           string(from),
			"to":             string(c.Status),
		}).WithActor(actorID, "reviewer")
		h.bus.Publish(r.Context(), event)
	}

	if h.auditor != nil {
		h.auditor.RecordChange(r.Context(), c.ID, action, audit.ActorTypeReviewer,
			actorID, description, changes)
	}
}

// requireReviewer resolves the acting reviewer. Development mode skips
// authentication the same way the audit endpoints do.
func (h *Handler) requireReviewer(w http.ResponseWriter, r *http.Request) (string, types.ID, bool) {
	if h.devMode {
		return "dev-reviewer", types.ID(""), true
	}

	user := auth.GetUser(r.Context())
	if user == nil {
		writeError(w, errors.Unauthorized("authentication required"))
		return "", types.ID(""), false
	}
	if !user.IsReviewer() {
		writeError(w, errors.Forbidden("reviewer role required"))
		return "", types.ID(""), false
	}
	return user.ID.String(), user.ID, true
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
