package evaluator

import "time"

// Recommendation is the evaluator's verdict for one review pass
type Recommendation string

const (
	RecommendApprove     Recommendation = "approve"
	RecommendDeny        Recommendation = "deny"
	RecommendReview      Recommendation = "review"
	RecommendInvestigate Recommendation = "investigate"
)

// IsValid checks if the recommendation is a known value
func (r Recommendation) IsValid() bool {
	switch r {
	case RecommendApprove, RecommendDeny, RecommendReview, RecommendInvestigate:
		return true
	}
	return false
}

// ClaimSnapshot carries the claim fields the evaluator needs. The service
// never sees internal row versions or queue bookkeeping.
type ClaimSnapshot struct {
	ClaimLineKey      string  `json:"claim_line_key"`
	ClaimNumber       string  `json:"claim_number"`
	TransactionNumber string  `json:"transaction_number"`
	MemberNumber      string  `json:"member_number"`
	PatientName       string  `json:"patient_name"`
	ProviderName      string  `json:"provider_name"`
	PracticeNumber    string  `json:"practice_number"`
	ClaimedAmount     float64 `json:"claimed_amount"`
	PaidAmount        float64 `json:"paid_amount"`
	CopayAmount       float64 `json:"copay_amount"`
	TariffAmount      float64 `json:"tariff_amount"`
	RiskLevel         string  `json:"risk_level"`
	Transcript        string  `json:"transcript,omitempty"`
	ReasoningTrail    string  `json:"reasoning_trail,omitempty"`
}

// EvaluationRequest asks the evaluator to review a claim from one angle
type EvaluationRequest struct {
	Stage        string         `json:"stage"`
	Instructions string         `json:"instructions"`
	Claim        ClaimSnapshot  `json:"claim"`
	Rules        []ContextRule  `json:"rules,omitempty"`
	Indicators   []ContextEntry `json:"fraud_indicators,omitempty"`
	History      []string       `json:"claim_history,omitempty"`
	Degraded     bool           `json:"degraded_context,omitempty"`
}

// ContextRule is a business rule forwarded to the evaluator
type ContextRule struct {
	Code  string `json:"code"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// ContextEntry is a fraud indicator forwarded to the evaluator
type ContextEntry struct {
	Code        string `json:"code"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
}

// EvaluationResponse is the evaluator's verdict
type EvaluationResponse struct {
	RequestID        string         `json:"request_id"`
	Timestamp        time.Time      `json:"timestamp"`
	Recommendation   Recommendation `json:"recommendation"`
	Confidence       float64        `json:"confidence"`
	Reasoning        string         `json:"reasoning"`
	ProcessingTimeMs int            `json:"processing_time_ms"`
	ModelUsed        string         `json:"model_used"`
}

// AskRequest is a free-form policy question
type AskRequest struct {
	Question string `json:"question"`
}

// AskResponse is the evaluator's answer with cited sources
type AskResponse struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources,omitempty"`
}
