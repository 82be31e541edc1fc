package adjudication

import (
	"fmt"
	"strings"

	"github.com/meridian-health/claims-platform/internal/evaluator"
)

// verdict is the consolidated outcome of all stages of one run
type verdict struct {
	Final          evaluator.Recommendation
	Confidence     float64
	RequiresReview bool
	Notes          string
}

// consolidate reconciles the stage verdicts into one recommendation.
//
// Precedence, highest first: any Investigate wins, then any Deny, then
// any Review. A unanimous Approve stands, but still requires human
// review when the mean confidence across participating stages is below
// the configured floor. Anything else (mixed or unrecognized verdicts,
// or no surviving stage at all) falls back to Review.
func consolidate(stages []StageResult, reviewFloor float64) verdict {
	var (
		participating int
		confidenceSum float64
		counts        = map[evaluator.Recommendation]int{}
		notes         []string
	)

	for _, s := range stages {
		if !s.Success {
			notes = append(notes, fmt.Sprintf("%s stage failed: %s", s.Stage, s.Notes))
			continue
		}
		participating++
		confidenceSum += s.Confidence
		counts[s.Recommendation]++
		if s.Notes != "" {
			notes = append(notes, fmt.Sprintf("%s: %s", s.Stage, s.Notes))
		}
	}

	v := verdict{RequiresReview: true}
	if participating > 0 {
		v.Confidence = confidenceSum / float64(participating)
	}

	switch {
	case counts[evaluator.RecommendInvestigate] > 0:
		v.Final = evaluator.RecommendInvestigate
	case counts[evaluator.RecommendDeny] > 0:
		v.Final = evaluator.RecommendDeny
	case counts[evaluator.RecommendReview] > 0:
		v.Final = evaluator.RecommendReview
	case participating > 0 && counts[evaluator.RecommendApprove] == participating:
		v.Final = evaluator.RecommendApprove
		v.RequiresReview = v.Confidence < reviewFloor
	default:
		v.Final = evaluator.RecommendReview
	}

	notes = append(notes, fmt.Sprintf("consolidated %d stage(s): %s (confidence %.2f)",
		participating, v.Final, v.Confidence))
	v.Notes = strings.Join(notes, "\n")
	return v
}
