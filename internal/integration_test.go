package internal

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/meridian-health/claims-platform/internal/adjudication"
	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/claim"
	"github.com/meridian-health/claims-platform/internal/evaluator"
	"github.com/meridian-health/claims-platform/internal/ingest"
	"github.com/meridian-health/claims-platform/internal/rules"
	"github.com/meridian-health/claims-platform/internal/shared/config"
	apperrors "github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// memClaimRepo is an in-memory claim store with optimistic concurrency,
// standing in for Postgres across the whole pipeline.
type memClaimRepo struct {
	mu        sync.Mutex
	byKey     map[string]*claim.Claim
	decisions map[types.ID]*claim.Decision
	summaries []claim.BatchSummary
}

func newMemClaimRepo() *memClaimRepo {
	return &memClaimRepo{
		byKey:     make(map[string]*claim.Claim),
		decisions: make(map[types.ID]*claim.Decision),
	}
}

func (r *memClaimRepo) Insert(ctx context.Context, c *claim.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byKey[c.ClaimLineKey]; exists {
		return claim.ErrDuplicateKey
	}
	stored := *c
	r.byKey[c.ClaimLineKey] = &stored
	return nil
}

func (r *memClaimRepo) BulkInsert(ctx context.Context, claims []*claim.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range claims {
		if _, exists := r.byKey[c.ClaimLineKey]; exists {
			return claim.ErrDuplicateKey
		}
	}
	for _, c := range claims {
		stored := *c
		r.byKey[c.ClaimLineKey] = &stored
	}
	return nil
}

func (r *memClaimRepo) Update(ctx context.Context, c *claim.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.byKey[c.ClaimLineKey]
	if !ok {
		return apperrors.ErrNotFound
	}
	if stored.RowVersion != c.RowVersion {
		return claim.ErrVersionConflict
	}
	c.RowVersion++
	copied := *c
	r.byKey[c.ClaimLineKey] = &copied
	return nil
}

func (r *memClaimRepo) FindByID(ctx context.Context, id types.ID) (*claim.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.byKey {
		if c.ID == id {
			copied := *c
			return &copied, nil
		}
	}
	return nil, apperrors.ErrNotFound
}

func (r *memClaimRepo) FindByLineKey(ctx context.Context, lineKey string) (*claim.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byKey[lineKey]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *memClaimRepo) List(ctx context.Context, filter claim.ListFilter) ([]claim.Claim, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]claim.Claim, 0, len(r.byKey))
	for _, c := range r.byKey {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (r *memClaimRepo) SaveDecision(ctx context.Context, d *claim.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[d.ClaimID] = d
	return nil
}

func (r *memClaimRepo) GetDecision(ctx context.Context, claimID types.ID) (*claim.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[claimID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return d, nil
}

func (r *memClaimRepo) SaveBatchSummary(ctx context.Context, s *claim.BatchSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, *s)
	return nil
}

func (r *memClaimRepo) ListBatchSummaries(ctx context.Context, limit int) ([]claim.BatchSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaries, nil
}

type memAuditRepo struct {
	mu      sync.Mutex
	entries []*audit.Entry
}

func (r *memAuditRepo) Initialize(ctx context.Context) error { return nil }

func (r *memAuditRepo) Append(ctx context.Context, entry *audit.Entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entry)
	return nil
}

func (r *memAuditRepo) List(ctx context.Context, filter audit.ListFilter) ([]*audit.Entry, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.entries, len(r.entries), nil
}

func (r *memAuditRepo) GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*audit.Entry, error) {
	return nil, nil
}

func (r *memAuditRepo) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*audit.VerifyResult, error) {
	return &audit.VerifyResult{Valid: true}, nil
}

type staticRuleSource struct{}

func (staticRuleSource) ListRules(ctx context.Context, activeOnly bool) ([]rules.BusinessRule, error) {
	return []rules.BusinessRule{{Code: "BR-010", Title: "Tariff ceiling", Body: "Claimed amount must not exceed tariff by more than 20%.", Active: true}}, nil
}

func (staticRuleSource) ListIndicators(ctx context.Context, activeOnly bool) ([]rules.FraudIndicator, error) {
	return []rules.FraudIndicator{{Code: "FI-004", Description: "Duplicate service on same day", Severity: rules.SeverityHigh, Active: true}}, nil
}

// approvingEvaluator approves every stage with high confidence
type approvingEvaluator struct{}

func (approvingEvaluator) Evaluate(ctx context.Context, req evaluator.EvaluationRequest) (*evaluator.EvaluationResponse, error) {
	return &evaluator.EvaluationResponse{
		Recommendation: evaluator.RecommendApprove,
		Confidence:     0.92,
		Reasoning:      req.Stage + " found no issues",
	}, nil
}

// faultyEvaluator fails every stage until recovered, then approves
type faultyEvaluator struct {
	mu   sync.Mutex
	down bool
}

func (e *faultyEvaluator) Evaluate(ctx context.Context, req evaluator.EvaluationRequest) (*evaluator.EvaluationResponse, error) {
	e.mu.Lock()
	down := e.down
	e.mu.Unlock()
	if down {
		return nil, fmt.Errorf("evaluator unavailable")
	}
	return approvingEvaluator{}.Evaluate(ctx, req)
}

func (e *faultyEvaluator) recover() {
	e.mu.Lock()
	e.down = false
	e.mu.Unlock()
}

func pipelineConfig() config.PipelineConfig {
	return config.PipelineConfig{
		ReviewConfidenceFloor:     0.80,
		MedicalNecessityThreshold: 5000,
		BatchWorkers:              3,
		RunTimeout:                5 * time.Second,
	}
}

// TestFullClaimWorkflow runs a bulk upload end to end: dedupe, persistence,
// queueing, dispatch, adjudication and the final human decision.
func TestFullClaimWorkflow(t *testing.T) {
	ctx := context.Background()

	repo := newMemClaimRepo()
	auditRepo := &memAuditRepo{}
	auditor := audit.NewRecorder(auditRepo)

	cache := adjudication.NewContextCache(staticRuleSource{}, config.CacheConfig{
		SlidingTTL:  15 * time.Minute,
		AbsoluteTTL: time.Hour,
	})
	pipeline := adjudication.NewPipeline(approvingEvaluator{}, pipelineConfig())
	orchestrator := adjudication.NewOrchestrator(repo, cache, pipeline, auditor, nil, pipelineConfig())

	adjQueue := ingest.NewQueue[ingest.Event]("adjudication")
	bulk := ingest.NewBulkProcessor(repo, auditor, adjQueue)
	dispatcher := ingest.NewDispatcher(repo, auditor, orchestrator)

	// One key is already in the store: the batch must treat it as a
	// duplicate, not a failure
	existing, err := claim.New("WF-100", claim.SourceUpload)
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.Insert(ctx, existing); err != nil {
		t.Fatal(err)
	}

	batch := ingest.BulkBatch{SourceFile: "upload.xlsx", IngestedAt: time.Now().UTC()}
	for i := 100; i < 105; i++ {
		c, err := claim.New(fmt.Sprintf("WF-%d", i), claim.SourceUpload)
		if err != nil {
			t.Fatal(err)
		}
		c.ClaimedAmount = 1800
		c.MemberNumber = "M-42"
		batch.Claims = append(batch.Claims, c)
	}

	// 1. Bulk ingestion
	summary := bulk.ProcessBatch(ctx, batch)
	if summary.Inserted != 4 || summary.Duplicates != 1 {
		t.Fatalf("summary = %+v, want 4 inserted and 1 duplicate", summary)
	}
	if adjQueue.Len() != 4 {
		t.Fatalf("adjudication queue has %d items, want 4", adjQueue.Len())
	}

	// 2. Dispatch and adjudicate everything that was queued
	adjQueue.Close()
	for {
		evt, ok := adjQueue.Dequeue()
		if !ok {
			break
		}
		if err := dispatcher.Dispatch(ctx, evt); err != nil {
			t.Fatalf("dispatch %s: %v", evt.Claim.ClaimLineKey, err)
		}
	}

	// 3. Every adjudicated claim awaits human review with a decision
	c, err := repo.FindByLineKey(ctx, "WF-101")
	if err != nil {
		t.Fatal(err)
	}
	if c.Status != claim.StatusUnderHumanReview {
		t.Fatalf("status = %s, want under_human_review", c.Status)
	}
	decision, err := repo.GetDecision(ctx, c.ID)
	if err != nil {
		t.Fatalf("no decision recorded: %v", err)
	}
	if decision.Decision != claim.DecisionApprove {
		t.Errorf("decision = %s, want approve", decision.Decision)
	}
	if decision.RequiresReview {
		t.Error("high-confidence unanimous approval should not require extra review")
	}

	// 4. Human reviewer approves
	if err := c.Approve("reviewer-1", "verified against member plan"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(ctx, c); err != nil {
		t.Fatal(err)
	}

	final, err := repo.FindByLineKey(ctx, "WF-101")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != claim.StatusApproved {
		t.Errorf("final status = %s, want approved", final.Status)
	}

	// 5. The batch summary was persisted
	summaries, err := repo.ListBatchSummaries(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 || summaries[0].SourceFile != "upload.xlsx" {
		t.Errorf("summaries = %+v", summaries)
	}
}

// TestRequestInfoRoundTrip exercises the request-info and resubmission path
func TestRequestInfoRoundTrip(t *testing.T) {
	ctx := context.Background()

	repo := newMemClaimRepo()
	auditor := audit.NewRecorder(&memAuditRepo{})
	cache := adjudication.NewContextCache(staticRuleSource{}, config.CacheConfig{
		SlidingTTL:  15 * time.Minute,
		AbsoluteTTL: time.Hour,
	})
	pipeline := adjudication.NewPipeline(approvingEvaluator{}, pipelineConfig())
	orchestrator := adjudication.NewOrchestrator(repo, cache, pipeline, auditor, nil, pipelineConfig())
	dispatcher := ingest.NewDispatcher(repo, auditor, orchestrator)

	c, err := claim.New("WF-200", claim.SourceManual)
	if err != nil {
		t.Fatal(err)
	}
	if err := dispatcher.Dispatch(ctx, ingest.Event{Claim: c, IngestedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	stored, err := repo.FindByLineKey(ctx, "WF-200")
	if err != nil {
		t.Fatal(err)
	}
	if err := stored.RequestMoreInfo("reviewer-1", "itemized invoice missing"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(ctx, stored); err != nil {
		t.Fatal(err)
	}

	// Provider resubmits; the claim becomes eligible and runs again
	if err := stored.Resubmit("invoice attached"); err != nil {
		t.Fatal(err)
	}
	if err := repo.Update(ctx, stored); err != nil {
		t.Fatal(err)
	}
	if err := dispatcher.Dispatch(ctx, ingest.Event{Claim: stored, IngestedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	final, err := repo.FindByLineKey(ctx, "WF-200")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != claim.StatusUnderHumanReview {
		t.Errorf("status after resubmission run = %s, want under_human_review", final.Status)
	}
}

// TestFailedClaimRetry walks a claim through an evaluator outage: the run
// fails, re-delivery leaves it alone, and an operator retry sends it
// through adjudication again once the evaluator is back.
func TestFailedClaimRetry(t *testing.T) {
	ctx := context.Background()

	repo := newMemClaimRepo()
	auditor := audit.NewRecorder(&memAuditRepo{})
	cache := adjudication.NewContextCache(staticRuleSource{}, config.CacheConfig{
		SlidingTTL:  15 * time.Minute,
		AbsoluteTTL: time.Hour,
	})
	eval := &faultyEvaluator{down: true}
	pipeline := adjudication.NewPipeline(eval, pipelineConfig())
	orchestrator := adjudication.NewOrchestrator(repo, cache, pipeline, auditor, nil, pipelineConfig())
	dispatcher := ingest.NewDispatcher(repo, auditor, orchestrator)

	c, err := claim.New("WF-300", claim.SourceManual)
	if err != nil {
		t.Fatal(err)
	}
	if err := dispatcher.Dispatch(ctx, ingest.Event{Claim: c, IngestedAt: time.Now().UTC()}); err == nil {
		t.Fatal("expected dispatch to surface the pipeline failure")
	}

	stored, err := repo.FindByLineKey(ctx, "WF-300")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != claim.StatusFailed {
		t.Fatalf("status = %s, want failed", stored.Status)
	}

	// Re-delivery of a failed claim must not rerun it
	if err := dispatcher.Dispatch(ctx, ingest.Event{Claim: stored, IngestedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}
	stored, err = repo.FindByLineKey(ctx, "WF-300")
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != claim.StatusFailed {
		t.Fatalf("status after re-delivery = %s, want failed", stored.Status)
	}

	// Operator retries once the evaluator is back
	eval.recover()
	if err := stored.Retry(); err != nil {
		t.Fatal(err)
	}
	if stored.ProcessedAt != nil {
		t.Error("retry should clear the processed timestamp")
	}
	if err := repo.Update(ctx, stored); err != nil {
		t.Fatal(err)
	}
	if err := dispatcher.Dispatch(ctx, ingest.Event{Claim: stored, IngestedAt: time.Now().UTC()}); err != nil {
		t.Fatal(err)
	}

	final, err := repo.FindByLineKey(ctx, "WF-300")
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != claim.StatusUnderHumanReview {
		t.Errorf("status after retry run = %s, want under_human_review", final.Status)
	}
	if _, err := repo.GetDecision(ctx, final.ID); err != nil {
		t.Errorf("no decision recorded after retry: %v", err)
	}
}
