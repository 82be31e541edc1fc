package audit

import (
	"context"
	"log"
	"time"

	"github.com/meridian-health/claims-platform/internal/shared/metrics"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// appendTimeout bounds the detached append so a slow audit store
// cannot pile up goroutines indefinitely.
const appendTimeout = 10 * time.Second

// Recorder is the write-side facade over the audit repository. Recording
// is fire-and-forget: a failed append is logged, never propagated, so
// audit problems cannot fail the business operation being audited.
type Recorder struct {
	repo Repository
}

// NewRecorder creates a new audit recorder
func NewRecorder(repo Repository) *Recorder {
	return &Recorder{repo: repo}
}

// Record records a claim-scoped audit entry asynchronously
func (r *Recorder) Record(ctx context.Context, claimID types.ID, action string, actorType ActorType, description string) {
	entry := NewEntry(actorType, types.ID(""), action, "claim", &claimID, description, nil)
	r.append(entry)
}

// RecordChange records a claim-scoped audit entry with actor identity
// and a structured change set
func (r *Recorder) RecordChange(ctx context.Context, claimID types.ID, action string, actorType ActorType, actorID types.ID, description string, changes map[string]any) {
	entry := NewEntry(actorType, actorID, action, "claim", &claimID, description, changes)
	r.append(entry)
}

// RecordResource records an audit entry for a non-claim resource
func (r *Recorder) RecordResource(ctx context.Context, resourceType string, resourceID types.ID, action string, actorType ActorType, actorID types.ID, description string, changes map[string]any) {
	entry := NewEntry(actorType, actorID, action, resourceType, &resourceID, description, changes)
	r.append(entry)
}

func (r *Recorder) append(entry *Entry) {
	if r.repo == nil {
		// No audit store configured; the entry is logged and dropped
		log.Printf("audit: dropping entry action=%s resource=%s (no store)",
			entry.Action, entry.ResourceType)
		return
	}

	go func() {
		// Detached from the caller's context: the business operation may
		// already be done by the time the append lands.
		ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
		defer cancel()

		if err := r.repo.Append(ctx, entry); err != nil {
			log.Printf("audit: failed to append entry action=%s resource=%s: %v",
				entry.Action, entry.ResourceType, err)
			return
		}
		metrics.RecordAuditEntry()
	}()
}
