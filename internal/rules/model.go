package rules

import (
	"strings"
	"time"

	"github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// Severity grades how strongly a fraud indicator should weigh in review
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// IsValid checks if the severity is a known value
func (s Severity) IsValid() bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// BusinessRule is an adjudication guideline applied during claim evaluation.
// Active rules are assembled into the processing context for every run.
type BusinessRule struct {
	ID        types.ID  `json:"id"`
	Code      string    `json:"code"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required fields
func (r *BusinessRule) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return errors.Validation("code is required", nil)
	}
	if strings.TrimSpace(r.Title) == "" {
		return errors.Validation("title is required", nil)
	}
	if strings.TrimSpace(r.Body) == "" {
		return errors.Validation("body is required", nil)
	}
	return nil
}

// FraudIndicator is a known fraud pattern checked during the fraud stage
type FraudIndicator struct {
	ID          types.ID  `json:"id"`
	Code        string    `json:"code"`
	Description string    `json:"description"`
	Severity    Severity  `json:"severity"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Validate checks required fields
func (f *FraudIndicator) Validate() error {
	if strings.TrimSpace(f.Code) == "" {
		return errors.Validation("code is required", nil)
	}
	if strings.TrimSpace(f.Description) == "" {
		return errors.Validation("description is required", nil)
	}
	if !f.Severity.IsValid() {
		return errors.Validation("invalid severity", map[string]string{
			"severity": string(f.Severity),
		})
	}
	return nil
}
