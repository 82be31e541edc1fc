package ingest

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/claim"
	apperrors "github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
)

// Orchestrator adjudicates a persisted claim
type Orchestrator interface {
	ProcessClaim(ctx context.Context, c *claim.Claim) error
}

// Dispatcher drains the individual ingest queue. Re-delivery is expected:
// a claim that already exists in any post-Pending status is a no-op, and a
// stalled Pending claim is resumed rather than re-inserted.
type Dispatcher struct {
	repo         claim.Repository
	auditor      *audit.Recorder
	orchestrator Orchestrator
}

// NewDispatcher creates a dispatcher
func NewDispatcher(repo claim.Repository, auditor *audit.Recorder, orchestrator Orchestrator) *Dispatcher {
	return &Dispatcher{repo: repo, auditor: auditor, orchestrator: orchestrator}
}

// Dispatch handles one queued claim event
func (d *Dispatcher) Dispatch(ctx context.Context, evt Event) error {
	c := evt.Claim
	if err := c.Validate(); err != nil {
		metrics.RecordClaimRejected()
		return fmt.Errorf("invalid claim event: %w", err)
	}

	existing, err := d.repo.FindByLineKey(ctx, c.ClaimLineKey)
	switch {
	case err == nil:
		return d.dispatchExisting(ctx, existing)
	case errors.Is(err, apperrors.ErrNotFound):
		return d.dispatchNew(ctx, c)
	default:
		return fmt.Errorf("failed to look up claim %s: %w", c.ClaimLineKey, err)
	}
}

// dispatchExisting resumes a stalled or resubmitted claim, or no-ops an
// idempotent re-delivery.
func (d *Dispatcher) dispatchExisting(ctx context.Context, existing *claim.Claim) error {
	if existing.Status == claim.StatusResubmitted {
		return d.orchestrator.ProcessClaim(ctx, existing)
	}
	if existing.Status == claim.StatusPending && existing.ProcessedAt == nil {
		log.Printf("dispatch: resuming stalled claim %s", existing.ClaimLineKey)
		return d.orchestrator.ProcessClaim(ctx, existing)
	}

	// Already in flight or decided: idempotent re-delivery, nothing to do
	return nil
}

// dispatchNew persists a claim and hands it to the orchestrator
func (d *Dispatcher) dispatchNew(ctx context.Context, c *claim.Claim) error {
	c.Status = claim.StatusPending

	if err := d.repo.Insert(ctx, c); err != nil {
		if errors.Is(err, claim.ErrDuplicateKey) {
			// Raced another producer; re-read and treat as existing
			existing, findErr := d.repo.FindByLineKey(ctx, c.ClaimLineKey)
			if findErr != nil {
				return fmt.Errorf("failed to re-read claim %s after duplicate: %w", c.ClaimLineKey, findErr)
			}
			metrics.RecordClaimDuplicate(string(c.Source))
			return d.dispatchExisting(ctx, existing)
		}
		metrics.RecordClaimFailed(string(c.Source))
		return fmt.Errorf("failed to persist claim %s: %w", c.ClaimLineKey, err)
	}

	metrics.RecordClaimIngested(string(c.Source))
	d.auditor.Record(ctx, c.ID, audit.ActionClaimIngested, audit.ActorTypeSystem,
		"Claim ingested from "+string(c.Source))

	return d.orchestrator.ProcessClaim(ctx, c)
}
