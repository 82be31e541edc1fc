package adjudication

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/meridian-health/claims-platform/internal/evaluator"
	"github.com/meridian-health/claims-platform/internal/rules"
	"github.com/meridian-health/claims-platform/internal/shared/config"
	"github.com/meridian-health/claims-platform/internal/shared/metrics"
)

// RuleSource supplies the active rule set the processing context is built from
type RuleSource interface {
	ListRules(ctx context.Context, activeOnly bool) ([]rules.BusinessRule, error)
	ListIndicators(ctx context.Context, activeOnly bool) ([]rules.FraudIndicator, error)
}

// ProcessingContext is the shared adjudication context handed to every
// evaluator stage. It is rebuilt as a whole, never patched in place.
type ProcessingContext struct {
	Document   string
	Rules      []evaluator.ContextRule
	Indicators []evaluator.ContextEntry
	Degraded   bool
	BuiltAt    time.Time
}

// degradedPlaceholder is what evaluators see when the context could not
// be built. They proceed with reduced information instead of stalling.
const degradedPlaceholder = "Processing context unavailable: active business rules and fraud " +
	"indicators could not be loaded. Evaluate using claim data only and flag uncertainty."

// ContextCache holds the single processing-context entry. A build is
// single-flight: concurrent callers during a miss block on the mutex and
// the first one through rebuilds for everyone.
//
// The entry expires after SlidingTTL without a read, and unconditionally
// after AbsoluteTTL, so a quiet or a busy service both converge on the
// current rule set. Rule mutations evict immediately via Invalidate.
type ContextCache struct {
	source RuleSource

	mu               sync.Mutex
	entry            *ProcessingContext
	slidingDeadline  time.Time
	absoluteDeadline time.Time
	slidingTTL       time.Duration
	absoluteTTL      time.Duration
}

// NewContextCache creates a context cache over the given rule source
func NewContextCache(source RuleSource, cfg config.CacheConfig) *ContextCache {
	return &ContextCache{
		source:      source,
		slidingTTL:  cfg.SlidingTTL,
		absoluteTTL: cfg.AbsoluteTTL,
	}
}

// Get returns the current processing context, rebuilding it if the entry
// is missing or expired. A failed rebuild returns a degraded context and
// leaves the cache empty so the next call tries again.
func (c *ContextCache) Get(ctx context.Context) *ProcessingContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	if c.entry != nil && now.Before(c.slidingDeadline) && now.Before(c.absoluteDeadline) {
		c.slidingDeadline = now.Add(c.slidingTTL)
		metrics.RecordContextCacheHit()
		return c.entry
	}

	metrics.RecordContextCacheMiss()

	entry, err := c.build(ctx)
	if err != nil {
		log.Printf("context cache: build failed, serving degraded context: %v", err)
		return &ProcessingContext{
			Document: degradedPlaceholder,
			Degraded: true,
			BuiltAt:  now,
		}
	}

	c.entry = entry
	c.slidingDeadline = now.Add(c.slidingTTL)
	c.absoluteDeadline = now.Add(c.absoluteTTL)
	return entry
}

// Invalidate evicts the cached entry. Called synchronously from rule and
// fraud-indicator mutations.
func (c *ContextCache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
	metrics.RecordContextCacheInvalidation()
}

func (c *ContextCache) build(ctx context.Context) (*ProcessingContext, error) {
	activeRules, err := c.source.ListRules(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("loading business rules: %w", err)
	}

	indicators, err := c.source.ListIndicators(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("loading fraud indicators: %w", err)
	}

	pc := &ProcessingContext{BuiltAt: time.Now()}

	var doc strings.Builder
	doc.WriteString("# Adjudication Guidelines\n\n## Business Rules\n\n")
	for _, r := range activeRules {
		pc.Rules = append(pc.Rules, evaluator.ContextRule{
			Code:  r.Code,
			Title: r.Title,
			Body:  r.Body,
		})
		fmt.Fprintf(&doc, "### %s: %s\n%s\n\n", r.Code, r.Title, r.Body)
	}

	doc.WriteString("## Fraud Indicators\n\n")
	for _, ind := range indicators {
		pc.Indicators = append(pc.Indicators, evaluator.ContextEntry{
			Code:        ind.Code,
			Description: ind.Description,
			Severity:    string(ind.Severity),
		})
		fmt.Fprintf(&doc, "- [%s] %s: %s\n", ind.Severity, ind.Code, ind.Description)
	}

	pc.Document = doc.String()
	return pc, nil
}
