package switchfeed

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/denisenkom/go-mssqldb" // SQL Server driver
	"github.com/meridian-health/claims-platform/internal/claim"
	"github.com/meridian-health/claims-platform/internal/ingest"
	"github.com/meridian-health/claims-platform/internal/shared/config"
)

// Adapter polls the external claims switch's staging database and feeds
// normalized claims onto the individual ingest queue. The switch's wire
// protocol stays on the other side of that staging table.
type Adapter struct {
	cfg   config.SwitchConfig
	queue *ingest.Queue[ingest.Event]

	db       *sql.DB
	running  bool
	mu       sync.RWMutex
	cancel   context.CancelFunc
	lastSeen time.Time
	wg       sync.WaitGroup
}

// New creates a new switch-feed adapter
func New(cfg config.SwitchConfig, queue *ingest.Queue[ingest.Event]) *Adapter {
	return &Adapter{cfg: cfg, queue: queue}
}

// Start opens the staging database connection and starts polling
func (a *Adapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.running {
		return fmt.Errorf("adapter already running")
	}

	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		a.cfg.Host,
		a.cfg.Port,
		a.cfg.Database,
		a.cfg.User,
		a.cfg.Password,
	)

	if a.cfg.SSLMode != "disable" {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return fmt.Errorf("failed to open staging database: %w", err)
	}

	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping staging database: %w", err)
	}

	a.db = db
	a.running = true
	// Start from one poll interval back so a restart picks up the rows
	// that landed while we were down; duplicates are absorbed downstream.
	a.lastSeen = time.Now().Add(-a.cfg.PollInterval)

	pollCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.wg.Add(1)
	go a.pollLoop(pollCtx)

	return nil
}

// Stop stops polling and closes the connection
func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.running {
		a.mu.Unlock()
		return nil
	}
	a.running = false
	if a.cancel != nil {
		a.cancel()
	}
	db := a.db
	// Wait with the mutex released; the poll loop takes it to move the
	// checkpoint, so holding it here would stall an in-flight poll.
	a.mu.Unlock()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if db != nil {
		db.Close()
	}

	return nil
}

// Health checks staging database connectivity
func (a *Adapter) Health(ctx context.Context) error {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if !a.running {
		return fmt.Errorf("adapter not running")
	}
	return a.db.PingContext(ctx)
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.mu.Lock()
			since := a.lastSeen
			a.mu.Unlock()

			latest, err := a.poll(ctx, since)
			if err != nil {
				log.Printf("switchfeed: poll failed: %v", err)
				continue
			}

			if latest.After(since) {
				a.mu.Lock()
				a.lastSeen = latest
				a.mu.Unlock()
			}
		}
	}
}

// poll reads staging rows newer than the checkpoint, normalizes them and
// enqueues them. Returns the newest row timestamp seen so the checkpoint
// only advances past rows that made it onto the queue.
func (a *Adapter) poll(ctx context.Context, since time.Time) (time.Time, error) {
	query := fmt.Sprintf(`
		SELECT
			ClaimLineKey,
			ClaimNumber,
			TransactionNumber,
			MemberNumber,
			PatientName,
			ProviderName,
			PracticeNumber,
			ClaimedAmount,
			PaidAmount,
			CopayAmount,
			TariffAmount,
			RiskLevel,
			ReceivedAt
		FROM %s
		WHERE ReceivedAt > @since
		ORDER BY ReceivedAt ASC
	`, a.cfg.StagingTable)

	rows, err := a.db.QueryContext(ctx, query, sql.Named("since", since))
	if err != nil {
		return since, fmt.Errorf("failed to query staging table: %w", err)
	}
	defer rows.Close()

	latest := since
	for rows.Next() {
		var row stagingRow
		err := rows.Scan(
			&row.ClaimLineKey,
			&row.ClaimNumber,
			&row.TransactionNumber,
			&row.MemberNumber,
			&row.PatientName,
			&row.ProviderName,
			&row.PracticeNumber,
			&row.ClaimedAmount,
			&row.PaidAmount,
			&row.CopayAmount,
			&row.TariffAmount,
			&row.RiskLevel,
			&row.ReceivedAt,
		)
		if err != nil {
			log.Printf("switchfeed: failed to scan staging row: %v", err)
			continue
		}

		c, err := row.normalize()
		if err != nil {
			log.Printf("switchfeed: dropping staging row: %v", err)
			continue
		}

		if !a.queue.Enqueue(ingest.Event{Claim: c, IngestedAt: row.ReceivedAt}) {
			// Queue closed, shutting down
			return latest, nil
		}

		if row.ReceivedAt.After(latest) {
			latest = row.ReceivedAt
		}
	}

	return latest, rows.Err()
}

type stagingRow struct {
	ClaimLineKey      string
	ClaimNumber       sql.NullString
	TransactionNumber sql.NullString
	MemberNumber      sql.NullString
	PatientName       sql.NullString
	ProviderName      sql.NullString
	PracticeNumber    sql.NullString
	ClaimedAmount     float64
	PaidAmount        sql.NullFloat64
	CopayAmount       sql.NullFloat64
	TariffAmount      sql.NullFloat64
	RiskLevel         sql.NullString
	ReceivedAt        time.Time
}

func (row *stagingRow) normalize() (*claim.Claim, error) {
	c, err := claim.New(row.ClaimLineKey, claim.SourceSwitchFeed)
	if err != nil {
		return nil, err
	}

	c.ClaimNumber = row.ClaimNumber.String
	c.TransactionNumber = row.TransactionNumber.String
	c.MemberNumber = row.MemberNumber.String
	c.PatientName = row.PatientName.String
	c.ProviderName = row.ProviderName.String
	c.PracticeNumber = row.PracticeNumber.String
	c.ClaimedAmount = row.ClaimedAmount
	c.PaidAmount = row.PaidAmount.Float64
	c.CopayAmount = row.CopayAmount.Float64
	c.TariffAmount = row.TariffAmount.Float64

	if row.RiskLevel.Valid {
		switch claim.RiskLevel(row.RiskLevel.String) {
		case claim.RiskLow, claim.RiskMedium, claim.RiskHigh, claim.RiskCritical:
			c.RiskLevel = claim.RiskLevel(row.RiskLevel.String)
		}
	}

	return c, nil
}
