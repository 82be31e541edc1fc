package ingest

import (
	"time"

	"github.com/meridian-health/claims-platform/internal/claim"
)

// QueueGateway adapts the ingest queues to the claim API's Submitter
// interface, keeping the queue types out of the claim package.
type QueueGateway struct {
	bulk *Queue[BulkBatch]
	adj  *Queue[Event]
}

// NewQueueGateway creates a gateway over both ingest queues
func NewQueueGateway(bulk *Queue[BulkBatch], adj *Queue[Event]) *QueueGateway {
	return &QueueGateway{bulk: bulk, adj: adj}
}

// SubmitBatch queues one bulk upload. Returns false once the queue is closed.
func (g *QueueGateway) SubmitBatch(claims []*claim.Claim, sourceFile string) bool {
	return g.bulk.Enqueue(BulkBatch{
		Claims:     claims,
		SourceFile: sourceFile,
		IngestedAt: time.Now().UTC(),
	})
}

// SubmitClaim queues one claim for individual adjudication
func (g *QueueGateway) SubmitClaim(c *claim.Claim) bool {
	return g.adj.Enqueue(Event{Claim: c, IngestedAt: time.Now().UTC()})
}
