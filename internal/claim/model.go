package claim

import (
	"fmt"
	"strings"
	"time"

	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// Status defines the adjudication status of a claim
type Status string

const (
	StatusPending          Status = "pending"
	StatusUnderAgentReview Status = "under_agent_review"
	StatusUnderHumanReview Status = "under_human_review"
	StatusApproved         Status = "approved"
	StatusRejected         Status = "rejected"
	StatusRequestMoreInfo  Status = "request_more_info"
	StatusResubmitted      Status = "resubmitted"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
)

// Source defines where a claim entered the system
type Source string

const (
	SourceSwitchFeed Source = "switch_feed"
	SourceUpload     Source = "upload"
	SourceManual     Source = "manual"
)

// RiskLevel is a coarse fraud-risk classification attached to a claim
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// rank orders risk levels so they can be compared
func (r RiskLevel) rank() int {
	switch r {
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether r is at or above the given level
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.rank() >= other.rank()
}

// Max returns the higher of two risk levels
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if other.rank() > r.rank() {
		return other
	}
	return r
}

// Claim is a single billed service line submitted for reimbursement.
// ClaimLineKey uniquely identifies the line across the whole store; a second
// record with the same key is a duplicate, never a new entity.
type Claim struct {
	ID           types.ID `json:"id"`
	ClaimLineKey string   `json:"claim_line_key"`

	// Identity
	ClaimNumber       string `json:"claim_number"`
	TransactionNumber string `json:"transaction_number"`
	MemberNumber      string `json:"member_number"`

	// Parties
	PatientName    string `json:"patient_name"`
	ProviderName   string `json:"provider_name"`
	PracticeNumber string `json:"practice_number"`

	// Financials - immutable after ingestion except through resubmission
	ClaimedAmount float64 `json:"claimed_amount"`
	PaidAmount    float64 `json:"paid_amount"`
	CopayAmount   float64 `json:"copay_amount"`
	TariffAmount  float64 `json:"tariff_amount"`

	// Processing metadata
	Status         Status    `json:"status"`
	Source         Source    `json:"source"`
	RiskLevel      RiskLevel `json:"risk_level"`
	SourceFile     string    `json:"source_file,omitempty"`
	Transcript     string    `json:"transcript,omitempty"`
	ReasoningTrail string    `json:"reasoning_trail,omitempty"`

	RowVersion  int64      `json:"row_version"`
	IngestedAt  time.Time  `json:"ingested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// New creates a claim in Pending with validation
func New(lineKey string, source Source) (*Claim, error) {
	if strings.TrimSpace(lineKey) == "" {
		return nil, fmt.Errorf("claim line key is required")
	}

	now := time.Now().UTC()
	return &Claim{
		ID:           types.NewID(),
		ClaimLineKey: lineKey,
		Status:       StatusPending,
		Source:       source,
		RiskLevel:    RiskLow,
		RowVersion:   1,
		IngestedAt:   now,
		UpdatedAt:    now,
	}, nil
}

// Validate checks the invariants required before a claim may be queued
func (c *Claim) Validate() error {
	if strings.TrimSpace(c.ClaimLineKey) == "" {
		return fmt.Errorf("claim line key is required")
	}
	if c.Status == "" {
		return fmt.Errorf("status is required")
	}
	if c.Source == "" {
		return fmt.Errorf("source is required")
	}
	return nil
}

// IsTerminal reports whether the claim has reached a terminal status
func (c *Claim) IsTerminal() bool {
	switch c.Status {
	case StatusApproved, StatusRejected, StatusCompleted:
		return true
	}
	return false
}

// EligibleForProcessing reports whether the orchestrator may pick the claim up
func (c *Claim) EligibleForProcessing() bool {
	return c.Status == StatusPending || c.Status == StatusResubmitted
}

// StartProcessing moves the claim into agent review
func (c *Claim) StartProcessing() error {
	if !c.EligibleForProcessing() {
		return fmt.Errorf("cannot start processing a claim in status %s", c.Status)
	}
	c.transition(StatusUnderAgentReview, "Adjudication started")
	return nil
}

// CompleteAgentReview hands the claim off to human review after a decision
func (c *Claim) CompleteAgentReview(note string) error {
	if c.Status != StatusUnderAgentReview {
		return fmt.Errorf("cannot complete agent review in status %s", c.Status)
	}
	c.transition(StatusUnderHumanReview, note)
	now := time.Now().UTC()
	c.ProcessedAt = &now
	return nil
}

// Fail marks an in-flight claim as failed. Terminal claims cannot fail.
func (c *Claim) Fail(reason string) error {
	if c.IsTerminal() {
		return fmt.Errorf("cannot fail a claim in terminal status %s", c.Status)
	}
	c.transition(StatusFailed, "Processing failed: "+reason)
	return nil
}

// Retry re-enters Pending from Failed for another adjudication attempt.
// ProcessedAt is cleared so dispatch treats the claim as stalled work.
func (c *Claim) Retry() error {
	if c.Status != StatusFailed {
		return fmt.Errorf("can only retry a failed claim, status is %s", c.Status)
	}
	c.ProcessedAt = nil
	c.transition(StatusPending, "Queued for retry")
	return nil
}

// Approve records a human approval
func (c *Claim) Approve(reviewer, note string) error {
	if c.Status != StatusUnderHumanReview {
		return fmt.Errorf("can only approve a claim under human review, status is %s", c.Status)
	}
	c.transition(StatusApproved, fmt.Sprintf("Approved by %s: %s", reviewer, note))
	return nil
}

// Reject records a human rejection
func (c *Claim) Reject(reviewer, note string) error {
	if c.Status != StatusUnderHumanReview {
		return fmt.Errorf("can only reject a claim under human review, status is %s", c.Status)
	}
	c.transition(StatusRejected, fmt.Sprintf("Rejected by %s: %s", reviewer, note))
	return nil
}

// RequestMoreInfo asks the provider for additional information
func (c *Claim) RequestMoreInfo(reviewer, note string) error {
	if c.Status != StatusUnderHumanReview {
		return fmt.Errorf("can only request info for a claim under human review, status is %s", c.Status)
	}
	c.transition(StatusRequestMoreInfo, fmt.Sprintf("More information requested by %s: %s", reviewer, note))
	return nil
}

// Resubmit records a provider resubmission, making the claim eligible again
func (c *Claim) Resubmit(note string) error {
	if c.Status != StatusRequestMoreInfo {
		return fmt.Errorf("can only resubmit a claim awaiting more information, status is %s", c.Status)
	}
	c.transition(StatusResubmitted, "Resubmitted: "+note)
	return nil
}

// Complete closes out an approved claim after payment
func (c *Claim) Complete() error {
	if c.Status != StatusApproved {
		return fmt.Errorf("can only complete an approved claim, status is %s", c.Status)
	}
	c.transition(StatusCompleted, "Claim completed")
	return nil
}

// AppendReasoning adds a timestamped line to the reasoning trail
func (c *Claim) AppendReasoning(note string) {
	if note == "" {
		return
	}
	line := fmt.Sprintf("[%s] %s", time.Now().UTC().Format(time.RFC3339), note)
	if c.ReasoningTrail == "" {
		c.ReasoningTrail = line
	} else {
		c.ReasoningTrail += "\n" + line
	}
	c.UpdatedAt = time.Now().UTC()
}

func (c *Claim) transition(to Status, note string) {
	c.Status = to
	c.UpdatedAt = time.Now().UTC()
	c.AppendReasoning(note)
}

// DecisionOutcome is the automated verdict on a claim
type DecisionOutcome string

const (
	DecisionApprove DecisionOutcome = "approve"
	DecisionReject  DecisionOutcome = "reject"
)

// Decision is the agent decision record, one-to-one with a claim. It is
// written only by the orchestrator after a completed pipeline run.
type Decision struct {
	ID             types.ID        `json:"id"`
	ClaimID        types.ID        `json:"claim_id"`
	Decision       DecisionOutcome `json:"decision"`
	Recommendation string          `json:"recommendation"`
	Reasoning      string          `json:"reasoning"`
	Confidence     float64         `json:"confidence"`
	RequiresReview bool            `json:"requires_review"`
	DecidedAt      time.Time       `json:"decided_at"`
}

// BatchSummary reports the outcome of one bulk upload batch
type BatchSummary struct {
	ID         types.ID  `json:"id"`
	SourceFile string    `json:"source_file"`
	Inserted   int       `json:"inserted"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
	Queued     int       `json:"queued"`
	CreatedAt  time.Time `json:"created_at"`
}
