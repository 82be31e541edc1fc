package ingest

import (
	"context"
	"sync"
	"testing"

	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/claim"
	apperrors "github.com/meridian-health/claims-platform/internal/shared/errors"
)

type fakeOrchestrator struct {
	mu     sync.Mutex
	claims []*claim.Claim
}

func (o *fakeOrchestrator) ProcessClaim(ctx context.Context, c *claim.Claim) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.claims = append(o.claims, c)
	return nil
}

func (o *fakeOrchestrator) processed() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.claims)
}

func newDispatcher(repo claim.Repository) (*Dispatcher, *fakeOrchestrator) {
	orch := &fakeOrchestrator{}
	return NewDispatcher(repo, audit.NewRecorder(nopAuditRepo{}), orch), orch
}

func TestDispatchNewClaim(t *testing.T) {
	repo := newMemRepo()
	d, orch := newDispatcher(repo)

	c, _ := claim.New("K-NEW-1", claim.SourceManual)
	if err := d.Dispatch(context.Background(), Event{Claim: c}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}

	if _, err := repo.FindByLineKey(context.Background(), "K-NEW-1"); err != nil {
		t.Errorf("claim was not persisted: %v", err)
	}
	if orch.processed() != 1 {
		t.Errorf("orchestrator ran %d times, want 1", orch.processed())
	}
}

func TestDispatchRejectsInvalidClaim(t *testing.T) {
	repo := newMemRepo()
	d, orch := newDispatcher(repo)

	bad := &claim.Claim{ClaimLineKey: "  ", Status: claim.StatusPending}
	if err := d.Dispatch(context.Background(), Event{Claim: bad}); err == nil {
		t.Error("expected an error for an invalid claim")
	}
	if orch.processed() != 0 {
		t.Error("invalid claim must not reach the orchestrator")
	}
}

func TestDispatchIdempotentRedelivery(t *testing.T) {
	repo := newMemRepo()
	d, orch := newDispatcher(repo)

	// Already past Pending in the store
	repo.seed("K-SEEN-1")
	repo.mu.Lock()
	repo.byKey["K-SEEN-1"].Status = claim.StatusUnderHumanReview
	repo.mu.Unlock()

	dup, _ := claim.New("K-SEEN-1", claim.SourceSwitchFeed)
	if err := d.Dispatch(context.Background(), Event{Claim: dup}); err != nil {
		t.Fatalf("re-delivery should be a no-op, got: %v", err)
	}
	if orch.processed() != 0 {
		t.Error("re-delivered claim must not be reprocessed")
	}
}

func TestDispatchResumesStalledClaim(t *testing.T) {
	repo := newMemRepo()
	d, orch := newDispatcher(repo)

	// Persisted Pending, never processed: a crashed run left it stalled
	repo.seed("K-STALL-1")

	dup, _ := claim.New("K-STALL-1", claim.SourceSwitchFeed)
	if err := d.Dispatch(context.Background(), Event{Claim: dup}); err != nil {
		t.Fatalf("dispatch failed: %v", err)
	}
	if orch.processed() != 1 {
		t.Errorf("stalled claim should be resumed, orchestrator ran %d times", orch.processed())
	}
}

// raceRepo reports the key missing on lookup but duplicate on insert,
// reproducing two producers racing the same claim line key.
type raceRepo struct {
	*memRepo
	missFirst bool
}

func (r *raceRepo) FindByLineKey(ctx context.Context, lineKey string) (*claim.Claim, error) {
	if r.missFirst {
		r.missFirst = false
		return nil, apperrors.ErrNotFound
	}
	return r.memRepo.FindByLineKey(ctx, lineKey)
}

func TestDispatchDuplicateInsertRace(t *testing.T) {
	inner := newMemRepo()
	inner.seed("K-RACE-1")
	inner.mu.Lock()
	inner.byKey["K-RACE-1"].Status = claim.StatusUnderAgentReview
	inner.mu.Unlock()

	repo := &raceRepo{memRepo: inner, missFirst: true}
	d, orch := newDispatcher(repo)

	dup, _ := claim.New("K-RACE-1", claim.SourceManual)
	if err := d.Dispatch(context.Background(), Event{Claim: dup}); err != nil {
		t.Fatalf("losing the insert race should not error: %v", err)
	}
	if orch.processed() != 0 {
		t.Error("claim already in flight must not be reprocessed")
	}
}
