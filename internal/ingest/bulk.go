package ingest

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/claim"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// BulkProcessor drains the bulk queue: it deduplicates a batch against the
// claim line key, persists survivors, and re-enqueues each survivor for
// adjudication. Duplicates are expected (overlapping re-uploads) and are
// counted, never surfaced as failures.
type BulkProcessor struct {
	repo     claim.Repository
	auditor  *audit.Recorder
	adjQueue *Queue[Event]
}

// NewBulkProcessor creates a bulk processor feeding the adjudication queue
func NewBulkProcessor(repo claim.Repository, auditor *audit.Recorder, adjQueue *Queue[Event]) *BulkProcessor {
	return &BulkProcessor{repo: repo, auditor: auditor, adjQueue: adjQueue}
}

// ProcessBatch runs one batch through dedupe, persistence and queuing.
// The returned summary is also persisted, keyed by source file name.
func (p *BulkProcessor) ProcessBatch(ctx context.Context, batch BulkBatch) *claim.BatchSummary {
	summary := &claim.BatchSummary{
		ID:         types.NewID(),
		SourceFile: batch.SourceFile,
		CreatedAt:  time.Now().UTC(),
	}

	// Blank keys are dropped, not batch failures
	valid := make([]*claim.Claim, 0, len(batch.Claims))
	for _, c := range batch.Claims {
		if strings.TrimSpace(c.ClaimLineKey) == "" {
			log.Printf("bulk: dropping claim with blank line key from %s", batch.SourceFile)
			metrics.RecordClaimRejected()
			continue
		}
		valid = append(valid, c)
	}

	if len(valid) == 0 {
		p.saveSummary(ctx, summary)
		return summary
	}

	inserted, ok := p.persist(ctx, valid, summary)
	if !ok {
		metrics.RecordBatchProcessed("failed")
		p.saveSummary(ctx, summary)
		return summary
	}

	for _, c := range inserted {
		p.auditor.Record(ctx, c.ID, audit.ActionClaimIngested, audit.ActorTypeSystem,
			"Claim ingested from bulk upload "+batch.SourceFile)
		if p.adjQueue.Enqueue(Event{Claim: c, IngestedAt: batch.IngestedAt}) {
			summary.Queued++
		}
		metrics.RecordClaimIngested(string(c.Source))
	}

	metrics.RecordBatchProcessed("ok")
	p.saveSummary(ctx, summary)
	return summary
}

// persist tries the bulk fast path, falling back to row-by-row insertion
// when the batch trips the unique index. Returns the newly inserted claims
// and whether the batch as a whole succeeded.
func (p *BulkProcessor) persist(ctx context.Context, claims []*claim.Claim, summary *claim.BatchSummary) ([]*claim.Claim, bool) {
	err := p.repo.BulkInsert(ctx, claims)
	if err == nil {
		summary.Inserted = len(claims)
		return claims, true
	}

	if !errors.Is(err, claim.ErrDuplicateKey) {
		// A non-uniqueness failure fails the whole batch, no fallback
		log.Printf("bulk: batch insert failed for %s: %v", summary.SourceFile, err)
		summary.Failed = len(claims)
		for _, c := range claims {
			metrics.RecordClaimFailed(string(c.Source))
		}
		return nil, false
	}

	// The transaction rolled back, so start over row by row. A duplicate on
	// one row must not sink its neighbours.
	summary.Inserted = 0
	summary.Duplicates = 0
	summary.Failed = 0

	inserted := make([]*claim.Claim, 0, len(claims))
	for _, c := range claims {
		switch insErr := p.repo.Insert(ctx, c); {
		case insErr == nil:
			summary.Inserted++
			inserted = append(inserted, c)
		case errors.Is(insErr, claim.ErrDuplicateKey):
			summary.Duplicates++
			metrics.RecordClaimDuplicate(string(c.Source))
		default:
			log.Printf("bulk: row insert failed for key %s: %v", c.ClaimLineKey, insErr)
			summary.Failed++
			metrics.RecordClaimFailed(string(c.Source))
		}
	}

	return inserted, true
}

func (p *BulkProcessor) saveSummary(ctx context.Context, summary *claim.BatchSummary) {
	if err := p.repo.SaveBatchSummary(ctx, summary); err != nil {
		log.Printf("bulk: failed to save batch summary for %s: %v", summary.SourceFile, err)
	}
	log.Printf("bulk: %s inserted=%d duplicates=%d failed=%d queued=%d",
		summary.SourceFile, summary.Inserted, summary.Duplicates, summary.Failed, summary.Queued)
}
