package adjudication

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meridian-health/claims-platform/internal/claim"
	"github.com/meridian-health/claims-platform/internal/evaluator"
	"github.com/meridian-health/claims-platform/internal/shared/config"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
)

// Stage names, used in results, metrics and reasoning trails.
const (
	StagePrimary          = "primary"
	StageFraud            = "fraud"
	StageMedicalNecessity = "medical_necessity"
	StagePolicyCompliance = "policy_compliance"
)

// Evaluator is the decision-evaluator capability one stage invokes
type Evaluator interface {
	Evaluate(ctx context.Context, req evaluator.EvaluationRequest) (*evaluator.EvaluationResponse, error)
}

// StageResult is one evaluator stage's verdict within a run
type StageResult struct {
	Stage          string                   `json:"stage"`
	Success        bool                     `json:"success"`
	Recommendation evaluator.Recommendation `json:"recommendation,omitempty"`
	Confidence     float64                  `json:"confidence"`
	Notes          string                   `json:"notes,omitempty"`
}

// RunResult is the outcome of one pipeline run for one claim. It lives
// only long enough to be applied to the claim.
type RunResult struct {
	StartedAt      time.Time
	CompletedAt    time.Time
	Stages         []StageResult
	Final          evaluator.Recommendation
	Confidence     float64
	RequiresReview bool
	Notes          string
}

// Pipeline runs the multi-stage adjudication for a single claim: the
// primary stage first, then the applicable specialized stages in
// parallel, then consolidation.
type Pipeline struct {
	eval Evaluator
	cfg  config.PipelineConfig
}

// NewPipeline creates an adjudication pipeline
func NewPipeline(eval Evaluator, cfg config.PipelineConfig) *Pipeline {
	return &Pipeline{eval: eval, cfg: cfg}
}

// Run adjudicates one claim. The primary stage must succeed; its failure
// aborts the run. Specialized-stage failures are recorded in the result
// and consolidation proceeds on whatever succeeded.
func (p *Pipeline) Run(ctx context.Context, c *claim.Claim, pctx *ProcessingContext) (*RunResult, error) {
	result := &RunResult{StartedAt: time.Now().UTC()}

	primary := p.runStage(ctx, StagePrimary, c, pctx)
	result.Stages = append(result.Stages, primary)
	if !primary.Success {
		return nil, fmt.Errorf("primary adjudication failed: %s", primary.Notes)
	}

	stages := p.selectSpecializedStages(c)

	specialized := make([]StageResult, len(stages))
	var wg sync.WaitGroup
	for i, stage := range stages {
		wg.Add(1)
		go func(i int, stage string) {
			defer wg.Done()
			specialized[i] = p.runStage(ctx, stage, c, pctx)
		}(i, stage)
	}
	wg.Wait()

	result.Stages = append(result.Stages, specialized...)

	verdict := consolidate(result.Stages, p.cfg.ReviewConfidenceFloor)
	result.Final = verdict.Final
	result.Confidence = verdict.Confidence
	result.RequiresReview = verdict.RequiresReview
	result.Notes = verdict.Notes
	result.CompletedAt = time.Now().UTC()

	return result, nil
}

// selectSpecializedStages picks the stages this claim needs. Policy
// compliance always runs; fraud and medical necessity are conditional.
func (p *Pipeline) selectSpecializedStages(c *claim.Claim) []string {
	var stages []string
	if c.RiskLevel.AtLeast(claim.RiskMedium) {
		stages = append(stages, StageFraud)
	}
	if c.ClaimedAmount > p.cfg.MedicalNecessityThreshold {
		stages = append(stages, StageMedicalNecessity)
	}
	stages = append(stages, StagePolicyCompliance)
	return stages
}

func (p *Pipeline) runStage(ctx context.Context, stage string, c *claim.Claim, pctx *ProcessingContext) StageResult {
	start := time.Now()

	req := evaluator.EvaluationRequest{
		Stage:        stage,
		Instructions: stageInstructions[stage],
		Claim:        snapshot(c),
		Rules:        pctx.Rules,
		Indicators:   pctx.Indicators,
		Degraded:     pctx.Degraded,
	}

	resp, err := p.eval.Evaluate(ctx, req)
	if err != nil {
		metrics.RecordStage(stage, "failed", time.Since(start))
		return StageResult{
			Stage: stage,
			Notes: err.Error(),
		}
	}

	metrics.RecordStage(stage, "succeeded", time.Since(start))
	return StageResult{
		Stage:          stage,
		Success:        true,
		Recommendation: resp.Recommendation,
		Confidence:     resp.Confidence,
		Notes:          resp.Reasoning,
	}
}

var stageInstructions = map[string]string{
	StagePrimary: "Adjudicate this claim against the plan rules. Recommend approve, deny, " +
		"review, or investigate, with reasoning and a confidence score.",
	StageFraud: "Assess this claim for fraud. Check it against the known fraud indicators " +
		"and the provider's billing pattern. Recommend investigate if any indicator matches.",
	StageMedicalNecessity: "Assess whether the billed service was medically necessary for " +
		"this member given the claim details and tariff.",
	StagePolicyCompliance: "Check this claim for compliance with the active business rules. " +
		"Flag any rule the claim violates.",
}

func snapshot(c *claim.Claim) evaluator.ClaimSnapshot {
	return evaluator.ClaimSnapshot{
		ClaimLineKey:      c.ClaimLineKey,
		ClaimNumber:       c.ClaimNumber,
		TransactionNumber: c.TransactionNumber,
		MemberNumber:      c.MemberNumber,
		PatientName:       c.PatientName,
		ProviderName:      c.ProviderName,
		PracticeNumber:    c.PracticeNumber,
		ClaimedAmount:     c.ClaimedAmount,
		PaidAmount:        c.PaidAmount,
		CopayAmount:       c.CopayAmount,
		TariffAmount:      c.TariffAmount,
		RiskLevel:         string(c.RiskLevel),
		Transcript:        c.Transcript,
		ReasoningTrail:    c.ReasoningTrail,
	}
}
