package adjudication

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/claim"
	"github.com/meridian-health/claims-platform/internal/evaluator"
	"github.com/meridian-health/claims-platform/internal/shared/config"
	"github.com/meridian-health/claims-platform/internal/shared/events"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// Orchestrator owns the claim state machine around a pipeline run. The
// entry gate serializes eligibility checks and the Processing transition
// so no claim ever has two active runs; the runs themselves execute
// outside the gate and may overlap across claims.
type Orchestrator struct {
	gate sync.Mutex

	repo     claim.Repository
	cache    *ContextCache
	pipeline *Pipeline
	auditor  *audit.Recorder
	bus      *events.Bus
	cfg      config.PipelineConfig
}

// NewOrchestrator creates an orchestrator
func NewOrchestrator(repo claim.Repository, cache *ContextCache, pipeline *Pipeline, auditor *audit.Recorder, bus *events.Bus, cfg config.PipelineConfig) *Orchestrator {
	return &Orchestrator{
		repo:     repo,
		cache:    cache,
		pipeline: pipeline,
		auditor:  auditor,
		bus:      bus,
		cfg:      cfg,
	}
}

// ProcessClaim runs one claim through adjudication. A claim in an
// ineligible status is a no-op success, not an error, so re-delivery is
// harmless. On any pipeline failure the claim lands in Failed with the
// cause on its reasoning trail; it is never left in agent review.
func (o *Orchestrator) ProcessClaim(ctx context.Context, c *claim.Claim) error {
	start := time.Now()

	pctx, err := o.enter(ctx, c)
	if err != nil {
		return err
	}
	if pctx == nil {
		// Ineligible status: idempotent no-op
		return nil
	}

	runCtx, cancel := context.WithTimeout(ctx, o.cfg.RunTimeout)
	defer cancel()

	result, runErr := o.pipeline.Run(runCtx, c, pctx)
	if runErr != nil {
		metrics.RecordPipelineRun("failed", time.Since(start))
		return o.fail(ctx, c, runErr)
	}

	if err := o.applyResult(ctx, c, result); err != nil {
		metrics.RecordPipelineRun("failed", time.Since(start))
		return o.fail(ctx, c, err)
	}

	metrics.RecordPipelineRun("succeeded", time.Since(start))
	return nil
}

// enter performs the serialized part of a run: eligibility check, the
// transition into agent review, and the context fetch. It returns a nil
// context (and nil error) when the claim is not eligible.
func (o *Orchestrator) enter(ctx context.Context, c *claim.Claim) (*ProcessingContext, error) {
	o.gate.Lock()
	defer o.gate.Unlock()

	if !c.EligibleForProcessing() {
		log.Printf("orchestrator: claim %s in status %s, nothing to do", c.ClaimLineKey, c.Status)
		return nil, nil
	}

	from := c.Status
	if err := c.StartProcessing(); err != nil {
		return nil, err
	}

	if err := o.repo.Update(ctx, c); err != nil {
		if errors.Is(err, claim.ErrVersionConflict) {
			// Another writer got there first; their run owns the claim now.
			log.Printf("orchestrator: lost update race for claim %s, skipping", c.ClaimLineKey)
			return nil, nil
		}
		return nil, err
	}

	o.statusChanged(ctx, c, from)

	return o.cache.Get(ctx), nil
}

func (o *Orchestrator) applyResult(ctx context.Context, c *claim.Claim, result *RunResult) error {
	outcome := claim.DecisionReject
	if result.Final == evaluator.RecommendApprove {
		outcome = claim.DecisionApprove
	}

	decision := &claim.Decision{
		ID:             types.NewID(),
		ClaimID:        c.ID,
		Decision:       outcome,
		Recommendation: string(result.Final),
		Reasoning:      result.Notes,
		Confidence:     result.Confidence,
		RequiresReview: result.RequiresReview,
		DecidedAt:      result.CompletedAt,
	}

	// An investigate verdict raises the recorded risk to at least high
	if result.Final == evaluator.RecommendInvestigate {
		c.RiskLevel = c.RiskLevel.Max(claim.RiskHigh)
	}

	from := c.Status
	note := fmt.Sprintf("Adjudication recommended %s (confidence %.2f)", result.Final, result.Confidence)
	if err := c.CompleteAgentReview(note); err != nil {
		return err
	}
	c.AppendReasoning(result.Notes)

	if err := o.repo.Update(ctx, c); err != nil {
		return err
	}

	if err := o.repo.SaveDecision(ctx, decision); err != nil {
		return err
	}

	o.statusChanged(ctx, c, from)
	o.auditor.Record(ctx, c.ID, audit.ActionClaimDecision, audit.ActorTypeSystem, note)

	if o.bus != nil {
		event := events.NewEvent(events.TypeClaimDecision, "adjudication", map[string]any{
			"claim_id":        c.ID.String(),
			"claim_line_key":  c.ClaimLineKey,
			"outcome":         string(decision.Decision),
			"recommendation":  decision.Recommendation,
			"confidence":      decision.Confidence,
			"requires_review": decision.RequiresReview,
		})
		o.bus.Publish(ctx, event)
	}

	return nil
}

// fail forces the claim to Failed with the cause on its trail. Returns
// the original error so callers see the run as failed.
func (o *Orchestrator) fail(ctx context.Context, c *claim.Claim, cause error) error {
	from := c.Status
	if err := c.Fail(cause.Error()); err != nil {
		log.Printf("orchestrator: cannot fail claim %s: %v", c.ClaimLineKey, err)
		return cause
	}

	if err := o.repo.Update(ctx, c); err != nil {
		log.Printf("orchestrator: failed to persist Failed status for claim %s: %v", c.ClaimLineKey, err)
		return cause
	}

	o.statusChanged(ctx, c, from)
	o.auditor.Record(ctx, c.ID, audit.ActionClaimFailed, audit.ActorTypeSystem,
		"Adjudication failed: "+cause.Error())
	metrics.RecordClaimFailed(string(c.Source))

	return cause
}

func (o *Orchestrator) statusChanged(ctx context.Context, c *claim.Claim, from claim.Status) {
	metrics.RecordClaimStatusChange(string(from), string(c.Status))

	if o.bus == nil {
		return
	}
	event := events.NewEvent(events.TypeClaimStatusChanged, "adjudication", map[string]any{
		"claim_id":    c.ID.String(),
		"from_status": string(from),
		"to_status":   string(c.Status),
	})
	o.bus.Publish(ctx, event)
}

// ProcessBatch adjudicates many claims with a bounded worker pool. The
// per-claim behavior is identical to ProcessClaim. Returns the number of
// claims that failed.
func (o *Orchestrator) ProcessBatch(ctx context.Context, claims []*claim.Claim) int {
	workers := o.cfg.BatchWorkers
	if workers < 1 {
		workers = 1
	}

	work := make(chan *claim.Claim)
	var failed int
	var mu sync.Mutex
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				if err := o.ProcessClaim(ctx, c); err != nil {
					log.Printf("orchestrator: batch claim %s failed: %v", c.ClaimLineKey, err)
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}

	for _, c := range claims {
		work <- c
	}
	close(work)
	wg.Wait()

	return failed
}
