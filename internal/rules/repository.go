package rules

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// Repository provides database operations for business rules and fraud indicators
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a new rules repository
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- Business Rule Operations ---

// CreateRule creates a new business rule
func (r *Repository) CreateRule(ctx context.Context, rule *BusinessRule) error {
	now := time.Now().UTC()
	rule.CreatedAt = now
	rule.UpdatedAt = now

	query := `
		INSERT INTO rules.business_rules (id, code, title, body, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		rule.ID, rule.Code, rule.Title, rule.Body, rule.Active, rule.CreatedAt, rule.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("rule with this code already exists")
		}
		return apperrors.Wrap(err, "failed to create rule")
	}

	return nil
}

// GetRule retrieves a business rule by ID
func (r *Repository) GetRule(ctx context.Context, id types.ID) (*BusinessRule, error) {
	query := `
		SELECT id, code, title, body, active, created_at, updated_at
		FROM rules.business_rules
		WHERE id = $1`

	rule := &BusinessRule{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rule.ID, &rule.Code, &rule.Title, &rule.Body, &rule.Active,
		&rule.CreatedAt, &rule.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("rule", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get rule")
	}

	return rule, nil
}

// UpdateRule updates a business rule
func (r *Repository) UpdateRule(ctx context.Context, rule *BusinessRule) error {
	query := `
		UPDATE rules.business_rules SET
			title = $2, body = $3, active = $4, updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		rule.ID, rule.Title, rule.Body, rule.Active,
	)

	if err != nil {
		return apperrors.Wrap(err, "failed to update rule")
	}

	if result.RowsAffected() == 0 {
		return apperrors.NotFound("rule", rule.ID.String())
	}

	return nil
}

// DeleteRule deletes a business rule
func (r *Repository) DeleteRule(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM rules.business_rules WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete rule")
	}

	if result.RowsAffected() == 0 {
		return apperrors.NotFound("rule", id.String())
	}

	return nil
}

// ListRules lists business rules, optionally only active ones
func (r *Repository) ListRules(ctx context.Context, activeOnly bool) ([]BusinessRule, error) {
	query := `
		SELECT id, code, title, body, active, created_at, updated_at
		FROM rules.business_rules`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY code`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list rules")
	}
	defer rows.Close()

	var result []BusinessRule
	for rows.Next() {
		var rule BusinessRule
		err := rows.Scan(
			&rule.ID, &rule.Code, &rule.Title, &rule.Body, &rule.Active,
			&rule.CreatedAt, &rule.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan rule")
		}
		result = append(result, rule)
	}

	return result, nil
}

// --- Fraud Indicator Operations ---

// CreateIndicator creates a new fraud indicator
func (r *Repository) CreateIndicator(ctx context.Context, ind *FraudIndicator) error {
	now := time.Now().UTC()
	ind.CreatedAt = now
	ind.UpdatedAt = now

	query := `
		INSERT INTO rules.fraud_indicators (id, code, description, severity, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		ind.ID, ind.Code, ind.Description, ind.Severity, ind.Active, ind.CreatedAt, ind.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.Conflict("indicator with this code already exists")
		}
		return apperrors.Wrap(err, "failed to create indicator")
	}

	return nil
}

// GetIndicator retrieves a fraud indicator by ID
func (r *Repository) GetIndicator(ctx context.Context, id types.ID) (*FraudIndicator, error) {
	query := `
		SELECT id, code, description, severity, active, created_at, updated_at
		FROM rules.fraud_indicators
		WHERE id = $1`

	ind := &FraudIndicator{}
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&ind.ID, &ind.Code, &ind.Description, &ind.Severity, &ind.Active,
		&ind.CreatedAt, &ind.UpdatedAt,
	)

	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("indicator", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get indicator")
	}

	return ind, nil
}

// UpdateIndicator updates a fraud indicator
func (r *Repository) UpdateIndicator(ctx context.Context, ind *FraudIndicator) error {
	query := `
		UPDATE rules.fraud_indicators SET
			description = $2, severity = $3, active = $4, updated_at = NOW()
		WHERE id = $1`

	result, err := r.pool.Exec(ctx, query,
		ind.ID, ind.Description, ind.Severity, ind.Active,
	)

	if err != nil {
		return apperrors.Wrap(err, "failed to update indicator")
	}

	if result.RowsAffected() == 0 {
		return apperrors.NotFound("indicator", ind.ID.String())
	}

	return nil
}

// DeleteIndicator deletes a fraud indicator
func (r *Repository) DeleteIndicator(ctx context.Context, id types.ID) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM rules.fraud_indicators WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete indicator")
	}

	if result.RowsAffected() == 0 {
		return apperrors.NotFound("indicator", id.String())
	}

	return nil
}

// ListIndicators lists fraud indicators, optionally only active ones
func (r *Repository) ListIndicators(ctx context.Context, activeOnly bool) ([]FraudIndicator, error) {
	query := `
		SELECT id, code, description, severity, active, created_at, updated_at
		FROM rules.fraud_indicators`
	if activeOnly {
		query += ` WHERE active`
	}
	query += ` ORDER BY code`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list indicators")
	}
	defer rows.Close()

	var result []FraudIndicator
	for rows.Next() {
		var ind FraudIndicator
		err := rows.Scan(
			&ind.ID, &ind.Code, &ind.Description, &ind.Severity, &ind.Active,
			&ind.CreatedAt, &ind.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan indicator")
		}
		result = append(result, ind)
	}

	return result, nil
}
