package claim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// stubRepo holds a handful of claims keyed by ID, enough to drive the
// handler paths under test.
type stubRepo struct {
	mu     sync.Mutex
	claims map[types.ID]*Claim
}

func newStubRepo(claims ...*Claim) *stubRepo {
	r := &stubRepo{claims: map[types.ID]*Claim{}}
	for _, c := range claims {
		stored := *c
		r.claims[c.ID] = &stored
	}
	return r
}

func (r *stubRepo) Insert(ctx context.Context, c *Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored := *c
	r.claims[c.ID] = &stored
	return nil
}

func (r *stubRepo) BulkInsert(ctx context.Context, claims []*Claim) error {
	for _, c := range claims {
		if err := r.Insert(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (r *stubRepo) Update(ctx context.Context, c *Claim) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.claims[c.ID]
	if !ok {
		return errors.NotFound("claim", c.ID.String())
	}
	if stored.RowVersion != c.RowVersion {
		return ErrVersionConflict
	}
	c.RowVersion++
	copied := *c
	r.claims[c.ID] = &copied
	return nil
}

func (r *stubRepo) FindByID(ctx context.Context, id types.ID) (*Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, ok := r.claims[id]
	if !ok {
		return nil, errors.NotFound("claim", id.String())
	}
	copied := *stored
	return &copied, nil
}

func (r *stubRepo) FindByLineKey(ctx context.Context, lineKey string) (*Claim, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.claims {
		if c.ClaimLineKey == lineKey {
			copied := *c
			return &copied, nil
		}
	}
	return nil, errors.NotFound("claim", lineKey)
}

func (r *stubRepo) List(ctx context.Context, filter ListFilter) ([]Claim, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Claim, 0, len(r.claims))
	for _, c := range r.claims {
		out = append(out, *c)
	}
	return out, len(out), nil
}

func (r *stubRepo) SaveDecision(ctx context.Context, d *Decision) error { return nil }

func (r *stubRepo) GetDecision(ctx context.Context, claimID types.ID) (*Decision, error) {
	return nil, errors.NotFound("decision", claimID.String())
}

func (r *stubRepo) SaveBatchSummary(ctx context.Context, s *BatchSummary) error { return nil }

func (r *stubRepo) ListBatchSummaries(ctx context.Context, limit int) ([]BatchSummary, error) {
	return nil, nil
}

// recordingSubmitter records what the handler hands to the queues
type recordingSubmitter struct {
	mu      sync.Mutex
	batches int
	claims  []*Claim
	closed  bool
}

func (s *recordingSubmitter) SubmitBatch(claims []*Claim, sourceFile string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.batches++
	return true
}

func (s *recordingSubmitter) SubmitClaim(c *Claim) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.claims = append(s.claims, c)
	return true
}

func newTestHandler(repo Repository, sub Submitter) *Handler {
	return &Handler{repo: repo, submitter: sub, devMode: true}
}

func TestRetryClaim(t *testing.T) {
	failed := newTestClaim(t, StatusFailed)
	repo := newStubRepo(failed)
	sub := &recordingSubmitter{}
	h := newTestHandler(repo, sub)

	req := httptest.NewRequest(http.MethodPost, "/"+failed.ID.String()+"/retry", nil)
	rec := httptest.NewRecorder()
	h.Routes().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}

	stored, err := repo.FindByID(req.Context(), failed.ID)
	if err != nil {
		t.Fatal(err)
	}
	if stored.Status != StatusPending {
		t.Errorf("status = %s, want pending", stored.Status)
	}
	if !strings.Contains(stored.ReasoningTrail, "Queued for retry") {
		t.Errorf("reasoning trail missing retry note: %q", stored.ReasoningTrail)
	}

	if len(sub.claims) != 1 {
		t.Fatalf("submitted %d claims, want 1", len(sub.claims))
	}
	if sub.claims[0].ID != failed.ID {
		t.Errorf("submitted claim %s, want %s", sub.claims[0].ID, failed.ID)
	}
}

func TestRetryClaimRejectsNonFailedStatuses(t *testing.T) {
	for _, status := range []Status{
		StatusPending, StatusUnderAgentReview, StatusUnderHumanReview,
		StatusApproved, StatusRejected, StatusRequestMoreInfo,
	} {
		t.Run(string(status), func(t *testing.T) {
			c := newTestClaim(t, status)
			repo := newStubRepo(c)
			sub := &recordingSubmitter{}
			h := newTestHandler(repo, sub)

			req := httptest.NewRequest(http.MethodPost, "/"+c.ID.String()+"/retry", nil)
			rec := httptest.NewRecorder()
			h.Routes().ServeHTTP(rec, req)

			if rec.Code != http.StatusConflict {
				t.Fatalf("status = %d, want 409", rec.Code)
			}
			if len(sub.claims) != 0 {
				t.Errorf("nothing should reach the queue, got %d claims", len(sub.claims))
			}
			stored, _ := repo.FindByID(req.Context(), c.ID)
			if stored.Status != status {
				t.Errorf("status changed to %s", stored.Status)
			}
		})
	}
}
