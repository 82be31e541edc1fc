package ingest

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/meridian-health/claims-platform/internal/audit"
	"github.com/meridian-health/claims-platform/internal/claim"
	apperrors "github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// memRepo is an in-memory claim repository keyed by claim line key.
// failInsert simulates a non-uniqueness storage failure.
type memRepo struct {
	mu         sync.Mutex
	byKey      map[string]*claim.Claim
	decisions  map[types.ID]*claim.Decision
	summaries  []claim.BatchSummary
	failInsert bool
}

func newMemRepo() *memRepo {
	return &memRepo{
		byKey:     make(map[string]*claim.Claim),
		decisions: make(map[types.ID]*claim.Decision),
	}
}

func (r *memRepo) seed(keys ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		c, _ := claim.New(key, claim.SourceUpload)
		r.byKey[key] = c
	}
}

func (r *memRepo) Insert(ctx context.Context, c *claim.Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInsert {
		return fmt.Errorf("storage unavailable")
	}
	if _, exists := r.byKey[c.ClaimLineKey]; exists {
		return claim.ErrDuplicateKey
	}
	stored := *c
	r.byKey[c.ClaimLineKey] = &stored
	return nil
}

func (r *memRepo) BulkInsert(ctx context.Context, claims []*claim.Claim) error {
	r.mu.Lock()
	if r.failInsert {
		r.mu.Unlock()
		return fmt.Errorf("storage unavailable")
	}
	for _, c := range claims {
		if _, exists := r.byKey[c.ClaimLineKey]; exists {
			r.mu.Unlock()
			// Whole transaction rolls back on the first duplicate
			return claim.ErrDuplicateKey
		}
	}
	for _, c := range claims {
		stored := *c
		r.byKey[c.ClaimLineKey] = &stored
	}
	r.mu.Unlock()
	return nil
}

func (r *memRepo) Update(ctx context.Context, c *claim.Claim) error {
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

func (r *memRepo) FindByID(ctx context.Context, id types.ID) (*claim.Claim, error) {
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

func (r *memRepo) FindByLineKey(ctx context.Context, lineKey string) (*claim.Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.byKey[lineKey]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	copied := *c
	return &copied, nil
}

func (r *memRepo) List(ctx context.Context, filter claim.ListFilter) ([]claim.Claim, int, error) {
	return nil, 0, nil
}

func (r *memRepo) SaveDecision(ctx context.Context, d *claim.Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decisions[d.ClaimID] = d
	return nil
}

func (r *memRepo) GetDecision(ctx context.Context, claimID types.ID) (*claim.Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.decisions[claimID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return d, nil
}

func (r *memRepo) SaveBatchSummary(ctx context.Context, s *claim.BatchSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.summaries = append(r.summaries, *s)
	return nil
}

func (r *memRepo) ListBatchSummaries(ctx context.Context, limit int) ([]claim.BatchSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.summaries, nil
}

type nopAuditRepo struct{}

func (nopAuditRepo) Initialize(ctx context.Context) error                 { return nil }
func (nopAuditRepo) Append(ctx context.Context, entry *audit.Entry) error { return nil }
func (nopAuditRepo) List(ctx context.Context, filter audit.ListFilter) ([]*audit.Entry, int, error) {
	return nil, 0, nil
}
func (nopAuditRepo) GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*audit.Entry, error) {
	return nil, nil
}
func (nopAuditRepo) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*audit.VerifyResult, error) {
	return &audit.VerifyResult{Valid: true}, nil
}

func makeBatch(t *testing.T, keys ...string) BulkBatch {
	t.Helper()
	claims := make([]*claim.Claim, 0, len(keys))
	for i, key := range keys {
		c := &claim.Claim{ClaimLineKey: key, Status: claim.StatusPending, Source: claim.SourceUpload}
		if key != "" {
			fresh, err := claim.New(key, claim.SourceUpload)
			if err != nil {
				t.Fatalf("claim %d: %v", i, err)
			}
			c = fresh
		}
		claims = append(claims, c)
	}
	return BulkBatch{Claims: claims, SourceFile: "test.xlsx"}
}

func newBulkProcessor(repo *memRepo) (*BulkProcessor, *Queue[Event]) {
	adjQueue := NewQueue[Event]("adjudication-test")
	return NewBulkProcessor(repo, audit.NewRecorder(nopAuditRepo{}), adjQueue), adjQueue
}

func TestBulkFastPath(t *testing.T) {
	repo := newMemRepo()
	p, adjQueue := newBulkProcessor(repo)

	summary := p.ProcessBatch(context.Background(), makeBatch(t, "K-1", "K-2", "K-3"))

	if summary.Inserted != 3 || summary.Duplicates != 0 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 3 inserted", summary)
	}
	if summary.Queued != 3 {
		t.Errorf("queued = %d, want 3", summary.Queued)
	}
	if adjQueue.Len() != 3 {
		t.Errorf("adjudication queue has %d items, want 3", adjQueue.Len())
	}
}

func TestBulkDuplicateFallback(t *testing.T) {
	repo := newMemRepo()
	repo.seed("K-2", "K-5", "K-9")
	p, adjQueue := newBulkProcessor(repo)

	keys := make([]string, 0, 100)
	for i := 1; i <= 100; i++ {
		keys = append(keys, fmt.Sprintf("K-%d", i))
	}
	summary := p.ProcessBatch(context.Background(), makeBatch(t, keys...))

	if summary.Inserted != 97 {
		t.Errorf("inserted = %d, want 97", summary.Inserted)
	}
	if summary.Duplicates != 3 {
		t.Errorf("duplicates = %d, want 3", summary.Duplicates)
	}
	if summary.Failed != 0 {
		t.Errorf("failed = %d, want 0", summary.Failed)
	}
	if adjQueue.Len() != 97 {
		t.Errorf("queued %d claims, want only the 97 new ones", adjQueue.Len())
	}
}

func TestBulkBlankKeysDropped(t *testing.T) {
	repo := newMemRepo()
	p, adjQueue := newBulkProcessor(repo)

	summary := p.ProcessBatch(context.Background(), makeBatch(t, "K-1", "", "K-3"))

	if summary.Inserted != 2 {
		t.Errorf("inserted = %d, want 2", summary.Inserted)
	}
	if adjQueue.Len() != 2 {
		t.Errorf("queue has %d items, want 2", adjQueue.Len())
	}
}

func TestBulkStorageFailureFailsBatch(t *testing.T) {
	repo := newMemRepo()
	repo.failInsert = true
	p, adjQueue := newBulkProcessor(repo)

	summary := p.ProcessBatch(context.Background(), makeBatch(t, "K-1", "K-2"))

	if summary.Failed != 2 || summary.Inserted != 0 {
		t.Errorf("summary = %+v, want the whole batch failed", summary)
	}
	if adjQueue.Len() != 0 {
		t.Errorf("queue has %d items, want 0 after a failed batch", adjQueue.Len())
	}
}

func TestBulkSummaryPersisted(t *testing.T) {
	repo := newMemRepo()
	p, _ := newBulkProcessor(repo)

	p.ProcessBatch(context.Background(), makeBatch(t, "K-1"))

	summaries, _ := repo.ListBatchSummaries(context.Background(), 10)
	if len(summaries) != 1 {
		t.Fatalf("stored %d summaries, want 1", len(summaries))
	}
	if summaries[0].SourceFile != "test.xlsx" {
		t.Errorf("summary source file = %s", summaries[0].SourceFile)
	}
}
