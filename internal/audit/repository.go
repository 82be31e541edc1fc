package audit

import (
	"context"

	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// Repository defines append-only audit storage
type Repository interface {
	// Initialize loads initial state (last hash, sequence)
	Initialize(ctx context.Context) error

	// Append appends a new audit entry
	Append(ctx context.Context, entry *Entry) error

	// List lists audit entries with filters
	List(ctx context.Context, filter ListFilter) ([]*Entry, int, error)

	// GetByResource gets audit entries for a specific resource
	GetByResource(ctx context.Context, resourceType string, resourceID types.ID, limit int) ([]*Entry, error)

	// VerifyChain verifies the integrity of the audit chain
	VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error)
}

var _ Repository = (*KurrentDBRepository)(nil)
