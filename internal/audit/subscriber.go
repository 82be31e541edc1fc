package audit

import (
	"context"
	"fmt"
	"log"

	"github.com/meridian-health/claims-platform/internal/shared/events"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// Subscriber mirrors domain events into the audit log so that anything
// published on the bus leaves a tamper-evident trace, regardless of
// whether the publisher also recorded an entry directly.
type Subscriber struct {
	repo Repository
	bus  *events.Bus
}

// NewSubscriber creates a new audit subscriber
func NewSubscriber(repo Repository, bus *events.Bus) *Subscriber {
	return &Subscriber{repo: repo, bus: bus}
}

// Start subscribes to all domain events and records them
func (s *Subscriber) Start(ctx context.Context) error {
	return s.bus.Subscribe(ctx, "*", s.handleEvent)
}

func (s *Subscriber) handleEvent(ctx context.Context, event events.Event) error {
	entry := s.eventToEntry(event)
	if entry == nil {
		return nil
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		log.Printf("audit: failed to record event %s (%s): %v", event.ID, event.Type, err)
		// Don't return error, audit failures shouldn't stop event processing
		return nil
	}

	metrics.RecordAuditEntry()
	return nil
}

func (s *Subscriber) eventToEntry(event events.Event) *Entry {
	actorType := ActorTypeSystem
	switch event.ActorType {
	case "provider":
		actorType = ActorTypeProvider
	case "reviewer":
		actorType = ActorTypeReviewer
	case "external":
		actorType = ActorTypeExternal
	}

	var action, resourceType, description string
	var resourceID *types.ID

	data, _ := event.Data.(map[string]any)

	switch event.Type {
	case events.TypeClaimIngested:
		action = ActionClaimIngested
		resourceType = "claim"
		resourceID = extractID(data, "claim_id")
		description = fmt.Sprintf("Claim ingested via %v", data["source"])

	case events.TypeClaimStatusChanged:
		action = ActionClaimStatusChanged
		resourceType = "claim"
		resourceID = extractID(data, "claim_id")
		description = fmt.Sprintf("Claim status changed from %v to %v",
			data["from_status"], data["to_status"])

	case events.TypeClaimDecision:
		action = ActionClaimDecision
		resourceType = "claim"
		resourceID = extractID(data, "claim_id")
		description = fmt.Sprintf("Adjudication decided %v (confidence %v)",
			data["outcome"], data["confidence"])

	case events.TypeBatchProcessed:
		action = ActionBatchProcessed
		resourceType = "batch"
		description = fmt.Sprintf("Batch %v processed", data["source_file"])

	case events.TypeRuleChanged:
		action = ActionRuleChanged
		resourceType = "rule"
		resourceID = extractID(data, "rule_id")
		description = fmt.Sprintf("Business rule %v %v", data["code"], data["change"])

	default:
		// Unknown event types are not audited
		return nil
	}

	var changes map[string]any
	if len(data) > 0 {
		changes = data
	}

	return NewEntry(actorType, event.ActorID, action, resourceType, resourceID, description, changes)
}

func extractID(data map[string]any, key string) *types.ID {
	if data == nil {
		return nil
	}
	raw, ok := data[key].(string)
	if !ok {
		return nil
	}
	id, err := types.ParseID(raw)
	if err != nil {
		return nil
	}
	return &id
}
