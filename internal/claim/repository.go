package claim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	apperrors "github.com/meridian-health/claims-platform/internal/shared/errors"
	"github.com/meridian-health/claims-platform/internal/shared/types"
)

// ErrDuplicateKey signals a unique-index violation on the claim line key.
// Callers must be able to tell duplicates apart from all other failures.
var ErrDuplicateKey = errors.New("duplicate claim line key")

// ErrVersionConflict signals a lost optimistic-concurrency race on update.
var ErrVersionConflict = errors.New("claim row version conflict")

// Repository defines durable claim storage
type Repository interface {
	Insert(ctx context.Context, c *Claim) error
	BulkInsert(ctx context.Context, claims []*Claim) error
	Update(ctx context.Context, c *Claim) error
	FindByID(ctx context.Context, id types.ID) (*Claim, error)
	FindByLineKey(ctx context.Context, lineKey string) (*Claim, error)
	List(ctx context.Context, filter ListFilter) ([]Claim, int, error)

	SaveDecision(ctx context.Context, d *Decision) error
	GetDecision(ctx context.Context, claimID types.ID) (*Decision, error)

	SaveBatchSummary(ctx context.Context, s *BatchSummary) error
	ListBatchSummaries(ctx context.Context, limit int) ([]BatchSummary, error)
}

// ListFilter defines filters for listing claims
type ListFilter struct {
	Status       *Status
	Source       *Source
	MemberNumber string
	Search       string
	Limit        int
	Offset       int
}

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const claimColumns = `id, claim_line_key, claim_number, transaction_no, member_number,
	patient_name, provider_name, practice_number,
	claimed_amount, paid_amount, copay_amount, tariff_amount,
	status, source, risk_level, source_file, transcript, reasoning_trail,
	row_version, ingested_at, processed_at, updated_at`

const claimInsert = `
	INSERT INTO claims.claims (
		id, claim_line_key, claim_number, transaction_no, member_number,
		patient_name, provider_name, practice_number,
		claimed_amount, paid_amount, copay_amount, tariff_amount,
		status, source, risk_level, source_file, transcript, reasoning_trail,
		row_version, ingested_at, processed_at, updated_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
		$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
	)`

func claimInsertArgs(c *Claim) []any {
	return []any{
		c.ID, c.ClaimLineKey, c.ClaimNumber, c.TransactionNumber, c.MemberNumber,
		c.PatientName, c.ProviderName, c.PracticeNumber,
		c.ClaimedAmount, c.PaidAmount, c.CopayAmount, c.TariffAmount,
		c.Status, c.Source, c.RiskLevel, c.SourceFile, c.Transcript, c.ReasoningTrail,
		c.RowVersion, c.IngestedAt, c.ProcessedAt, c.UpdatedAt,
	}
}

// isUniqueViolation reports whether err is a Postgres unique-index violation
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Insert persists a single claim
func (r *PostgresRepository) Insert(ctx context.Context, c *Claim) error {
	_, err := r.pool.Exec(ctx, claimInsert, claimInsertArgs(c)...)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("claim %s: %w", c.ClaimLineKey, ErrDuplicateKey)
		}
		return apperrors.Wrap(err, "failed to insert claim")
	}
	return nil
}

// BulkInsert persists a batch of claims in one transaction. All rows commit
// or none do; a unique-index violation surfaces as ErrDuplicateKey so the
// caller can fall back to row-by-row insertion.
func (r *PostgresRepository) BulkInsert(ctx context.Context, claims []*Claim) error {
	if len(claims) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range claims {
		batch.Queue(claimInsert, claimInsertArgs(c)...)
	}

	results := tx.SendBatch(ctx, batch)
	for range claims {
		if _, err := results.Exec(); err != nil {
			results.Close()
			if isUniqueViolation(err) {
				return ErrDuplicateKey
			}
			return apperrors.Wrap(err, "bulk insert failed")
		}
	}
	if err := results.Close(); err != nil {
		return apperrors.Wrap(err, "bulk insert failed")
	}

	if err := tx.Commit(ctx); err != nil {
		return apperrors.Wrap(err, "failed to commit bulk insert")
	}
	return nil
}

// Update persists claim mutations with an optimistic row-version check
func (r *PostgresRepository) Update(ctx context.Context, c *Claim) error {
	query := `
		UPDATE claims.claims SET
			status = $2, risk_level = $3, reasoning_trail = $4,
			processed_at = $5, updated_at = $6, row_version = row_version + 1
		WHERE id = $1 AND row_version = $7`

	result, err := r.pool.Exec(ctx, query,
		c.ID, c.Status, c.RiskLevel, c.ReasoningTrail,
		c.ProcessedAt, c.UpdatedAt, c.RowVersion,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update claim")
	}

	if result.RowsAffected() == 0 {
		// Either the row is gone or someone else updated it first
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM claims.claims WHERE id = $1)`, c.ID,
		).Scan(&exists); err != nil {
			return apperrors.Wrap(err, "failed to check claim existence")
		}
		if !exists {
			return apperrors.NotFound("claim", c.ID.String())
		}
		return ErrVersionConflict
	}

	c.RowVersion++
	return nil
}

// FindByID finds a claim by ID
func (r *PostgresRepository) FindByID(ctx context.Context, id types.ID) (*Claim, error) {
	query := fmt.Sprintf(`SELECT %s FROM claims.claims WHERE id = $1`, claimColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, id), id.String())
}

// FindByLineKey finds a claim by its uniqueness key
func (r *PostgresRepository) FindByLineKey(ctx context.Context, lineKey string) (*Claim, error) {
	query := fmt.Sprintf(`SELECT %s FROM claims.claims WHERE claim_line_key = $1`, claimColumns)
	return r.scanOne(r.pool.QueryRow(ctx, query, lineKey), lineKey)
}

func (r *PostgresRepository) scanOne(row pgx.Row, key string) (*Claim, error) {
	c := &Claim{}
	err := row.Scan(
		&c.ID, &c.ClaimLineKey, &c.ClaimNumber, &c.TransactionNumber, &c.MemberNumber,
		&c.PatientName, &c.ProviderName, &c.PracticeNumber,
		&c.ClaimedAmount, &c.PaidAmount, &c.CopayAmount, &c.TariffAmount,
		&c.Status, &c.Source, &c.RiskLevel, &c.SourceFile, &c.Transcript, &c.ReasoningTrail,
		&c.RowVersion, &c.IngestedAt, &c.ProcessedAt, &c.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("claim", key)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to find claim")
	}
	return c, nil
}

// List lists claims with filters
func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Claim, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argNum))
		args = append(args, *filter.Status)
		argNum++
	}
	if filter.Source != nil {
		conditions = append(conditions, fmt.Sprintf("source = $%d", argNum))
		args = append(args, *filter.Source)
		argNum++
	}
	if filter.MemberNumber != "" {
		conditions = append(conditions, fmt.Sprintf("member_number = $%d", argNum))
		args = append(args, filter.MemberNumber)
		argNum++
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf(
			"(claim_number ILIKE $%d OR patient_name ILIKE $%d OR provider_name ILIKE $%d)",
			argNum, argNum, argNum))
		args = append(args, "%"+filter.Search+"%")
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM claims.claims %s", whereClause)
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, apperrors.Wrap(err, "failed to count claims")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`
		SELECT %s FROM claims.claims
		%s
		ORDER BY ingested_at DESC
		LIMIT $%d OFFSET $%d`, claimColumns, whereClause, argNum, argNum+1)
	args = append(args, limit, filter.Offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, "failed to list claims")
	}
	defer rows.Close()

	var claims []Claim
	for rows.Next() {
		var c Claim
		err := rows.Scan(
			&c.ID, &c.ClaimLineKey, &c.ClaimNumber, &c.TransactionNumber, &c.MemberNumber,
			&c.PatientName, &c.ProviderName, &c.PracticeNumber,
			&c.ClaimedAmount, &c.PaidAmount, &c.CopayAmount, &c.TariffAmount,
			&c.Status, &c.Source, &c.RiskLevel, &c.SourceFile, &c.Transcript, &c.ReasoningTrail,
			&c.RowVersion, &c.IngestedAt, &c.ProcessedAt, &c.UpdatedAt,
		)
		if err != nil {
			return nil, 0, apperrors.Wrap(err, "failed to scan claim")
		}
		claims = append(claims, c)
	}

	return claims, total, nil
}

// SaveDecision upserts the agent decision record for a claim. At most one
// live decision exists per claim; a rerun overwrites the previous one.
func (r *PostgresRepository) SaveDecision(ctx context.Context, d *Decision) error {
	query := `
		INSERT INTO claims.decisions (
			id, claim_id, decision, recommendation, reasoning,
			confidence, requires_review, decided_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (claim_id) DO UPDATE SET
			decision = EXCLUDED.decision,
			recommendation = EXCLUDED.recommendation,
			reasoning = EXCLUDED.reasoning,
			confidence = EXCLUDED.confidence,
			requires_review = EXCLUDED.requires_review,
			decided_at = EXCLUDED.decided_at`

	_, err := r.pool.Exec(ctx, query,
		d.ID, d.ClaimID, d.Decision, d.Recommendation, d.Reasoning,
		d.Confidence, d.RequiresReview, d.DecidedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to save decision")
	}
	return nil
}

// GetDecision fetches the agent decision record for a claim
func (r *PostgresRepository) GetDecision(ctx context.Context, claimID types.ID) (*Decision, error) {
	query := `
		SELECT id, claim_id, decision, recommendation, reasoning,
			confidence, requires_review, decided_at
		FROM claims.decisions
		WHERE claim_id = $1`

	d := &Decision{}
	err := r.pool.QueryRow(ctx, query, claimID).Scan(
		&d.ID, &d.ClaimID, &d.Decision, &d.Recommendation, &d.Reasoning,
		&d.Confidence, &d.RequiresReview, &d.DecidedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, apperrors.NotFound("decision", claimID.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to get decision")
	}
	return d, nil
}

// SaveBatchSummary persists the outcome of a bulk batch
func (r *PostgresRepository) SaveBatchSummary(ctx context.Context, s *BatchSummary) error {
	if s.ID.IsZero() {
		s.ID = types.NewID()
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO claims.batch_summaries (
			id, source_file, inserted, duplicates, failed, queued, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := r.pool.Exec(ctx, query,
		s.ID, s.SourceFile, s.Inserted, s.Duplicates, s.Failed, s.Queued, s.CreatedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to save batch summary")
	}
	return nil
}

// ListBatchSummaries lists recent bulk batch outcomes
func (r *PostgresRepository) ListBatchSummaries(ctx context.Context, limit int) ([]BatchSummary, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}

	query := `
		SELECT id, source_file, inserted, duplicates, failed, queued, created_at
		FROM claims.batch_summaries
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list batch summaries")
	}
	defer rows.Close()

	var summaries []BatchSummary
	for rows.Next() {
		var s BatchSummary
		err := rows.Scan(&s.ID, &s.SourceFile, &s.Inserted, &s.Duplicates, &s.Failed, &s.Queued, &s.CreatedAt)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan batch summary")
		}
		summaries = append(summaries, s)
	}

	return summaries, nil
}
