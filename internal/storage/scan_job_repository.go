package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	apperrors "github.com/newsletter-scanner/internal/errors"
	"github.com/newsletter-scanner/internal/models"
	"github.com/newsletter-scanner/internal/scan"
	"github.com/newsletter-scanner/internal/types"
)

const scanJobColumns = `
	id, owner_id, status, scan_depth, smart_filtering, categories,
	total_to_scan, inbox_total, processed_count, newsletters_found_count,
	cursor, discovered, result, error,
	started_at, updated_at, completed_at, created_at
`

// ScanJobRepository is the Postgres-backed scan job store. Status
// transitions are enforced in SQL: every write is conditional on the
// current status, so concurrent chunk claims and cancels serialize
// through the database.
type ScanJobRepository struct {
	db *PostgresDB
}

var _ scan.JobStore = (*ScanJobRepository)(nil)

// NewScanJobRepository creates a new scan job repository
func NewScanJobRepository(db *PostgresDB) *ScanJobRepository {
	return &ScanJobRepository{db: db}
}

// CreateJob persists a new PENDING job. The partial unique index on
// owner_id turns a concurrent second start into a conflict here.
func (r *ScanJobRepository) CreateJob(ctx context.Context, job *models.ScanJobRecord) error {
	categories, err := marshalNullable(job.Categories)
	if err != nil {
		return apperrors.NewDatabaseError("create scan job", err)
	}
	discovered, err := json.Marshal(job.Discovered)
	if err != nil {
		return apperrors.NewDatabaseError("create scan job", err)
	}

	query := `
		INSERT INTO scan_jobs (
			id, owner_id, status, scan_depth, smart_filtering, categories,
			total_to_scan, inbox_total, processed_count, newsletters_found_count,
			cursor, discovered, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`

	_, err = r.db.Pool().Exec(ctx, query,
		job.ID,
		job.OwnerID,
		job.Status,
		job.ScanDepth,
		job.SmartFiltering,
		categories,
		job.TotalToScan,
		job.InboxTotal,
		job.ProcessedCount,
		job.NewslettersFoundCount,
		job.Cursor,
		discovered,
		job.CreatedAt,
		job.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if active, activeErr := r.ActiveJobForOwner(ctx, job.OwnerID); activeErr == nil && active != nil {
				return apperrors.NewActiveJobConflictError(active.ID)
			}
			return apperrors.NewActiveJobConflictError("")
		}
		return apperrors.NewDatabaseError("create scan job", err)
	}
	return nil
}

// GetForOwner returns the job if it exists and belongs to ownerID
func (r *ScanJobRepository) GetForOwner(ctx context.Context, jobID, ownerID string) (*models.ScanJobRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM scan_jobs WHERE id = $1 AND owner_id = $2`, scanJobColumns)
	job, err := scanJobRow(r.db.Pool().QueryRow(ctx, query, jobID, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("get scan job", err)
	}
	return job, nil
}

// ActiveJobForOwner returns the owner's PENDING or PROCESSING job
func (r *ScanJobRepository) ActiveJobForOwner(ctx context.Context, ownerID string) (*models.ScanJobRecord, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scan_jobs
		WHERE owner_id = $1 AND status IN ('PENDING', 'PROCESSING')
		ORDER BY created_at DESC
		LIMIT 1
	`, scanJobColumns)

	job, err := scanJobRow(r.db.Pool().QueryRow(ctx, query, ownerID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("get active scan job", err)
	}
	return job, nil
}

// ClaimForProcessing atomically moves a PENDING job to PROCESSING.
// Exactly one concurrent caller gets the row back; the rest get nil.
func (r *ScanJobRepository) ClaimForProcessing(ctx context.Context, jobID string) (*models.ScanJobRecord, error) {
	query := fmt.Sprintf(`
		UPDATE scan_jobs
		SET status = 'PROCESSING', updated_at = now()
		WHERE id = $1 AND status = 'PENDING'
		RETURNING %s
	`, scanJobColumns)

	job, err := scanJobRow(r.db.Pool().QueryRow(ctx, query, jobID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, apperrors.NewDatabaseError("claim scan job", err)
	}
	return job, nil
}

// MarkStarted stamps started_at once, on the first claimed chunk
func (r *ScanJobRepository) MarkStarted(ctx context.Context, jobID string, at time.Time) error {
	query := `
		UPDATE scan_jobs
		SET started_at = $2, updated_at = $2
		WHERE id = $1 AND started_at IS NULL
	`
	if _, err := r.db.Pool().Exec(ctx, query, jobID, at); err != nil {
		return apperrors.NewDatabaseError("mark scan job started", err)
	}
	return nil
}

// SaveChunkAndRelease persists chunk results and releases the job back
// to PENDING, only while it is still PROCESSING
func (r *ScanJobRepository) SaveChunkAndRelease(ctx context.Context, jobID string, upd *scan.ChunkUpdate) (bool, error) {
	discovered, err := json.Marshal(upd.Discovered)
	if err != nil {
		return false, apperrors.NewDatabaseError("save scan chunk", err)
	}

	query := `
		UPDATE scan_jobs
		SET status = 'PENDING',
			processed_count = $2,
			newsletters_found_count = $3,
			cursor = $4,
			discovered = $5,
			updated_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`

	tag, err := r.db.Pool().Exec(ctx, query, jobID, upd.ProcessedCount, upd.NewslettersFoundCount, upd.Cursor, discovered)
	if err != nil {
		return false, apperrors.NewDatabaseError("save scan chunk", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CompleteFromProcessing finalizes the job with its result list and
// clears the working state, only while it is still PROCESSING
func (r *ScanJobRepository) CompleteFromProcessing(ctx context.Context, jobID string, upd *scan.ChunkUpdate, result []types.NewsletterSender) (bool, error) {
	if result == nil {
		result = []types.NewsletterSender{}
	}
	encoded, err := json.Marshal(result)
	if err != nil {
		return false, apperrors.NewDatabaseError("complete scan job", err)
	}

	query := `
		UPDATE scan_jobs
		SET status = 'COMPLETED',
			processed_count = $2,
			newsletters_found_count = $3,
			result = $4,
			cursor = NULL,
			discovered = NULL,
			updated_at = now(),
			completed_at = now()
		WHERE id = $1 AND status = 'PROCESSING'
	`

	tag, err := r.db.Pool().Exec(ctx, query, jobID, upd.ProcessedCount, upd.NewslettersFoundCount, encoded)
	if err != nil {
		return false, apperrors.NewDatabaseError("complete scan job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// FailIfActive records a failure message, never overwriting a terminal
// state
func (r *ScanJobRepository) FailIfActive(ctx context.Context, jobID, message string) (bool, error) {
	query := `
		UPDATE scan_jobs
		SET status = 'FAILED',
			error = $2,
			updated_at = now(),
			completed_at = now()
		WHERE id = $1 AND status IN ('PENDING', 'PROCESSING')
	`

	tag, err := r.db.Pool().Exec(ctx, query, jobID, message)
	if err != nil {
		return false, apperrors.NewDatabaseError("fail scan job", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Cancel moves the owner's active job to CANCELLED and clears its
// working state
func (r *ScanJobRepository) Cancel(ctx context.Context, jobID, ownerID string) (*models.ScanJobRecord, error) {
	query := fmt.Sprintf(`
		UPDATE scan_jobs
		SET status = 'CANCELLED',
			cursor = NULL,
			discovered = NULL,
			updated_at = now(),
			completed_at = now()
		WHERE id = $1 AND owner_id = $2 AND status IN ('PENDING', 'PROCESSING')
		RETURNING %s
	`, scanJobColumns)

	job, err := scanJobRow(r.db.Pool().QueryRow(ctx, query, jobID, ownerID))
	if err == nil {
		return job, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NewDatabaseError("cancel scan job", err)
	}

	// No active row: distinguish unknown job from already-terminal job.
	var status types.ScanStatus
	err = r.db.Pool().QueryRow(ctx, `SELECT status FROM scan_jobs WHERE id = $1 AND owner_id = $2`, jobID, ownerID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.NewJobNotFoundError(jobID)
		}
		return nil, apperrors.NewDatabaseError("cancel scan job", err)
	}
	return nil, apperrors.NewJobNotCancellableError(jobID, status)
}

// ReleaseStale reverts PROCESSING jobs that have not been touched within
// the timeout back to PENDING so the sweep can re-trigger them
func (r *ScanJobRepository) ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error) {
	query := `
		UPDATE scan_jobs
		SET status = 'PENDING', updated_at = now()
		WHERE status = 'PROCESSING' AND updated_at < $1
	`

	tag, err := r.db.Pool().Exec(ctx, query, time.Now().UTC().Add(-olderThan))
	if err != nil {
		return 0, apperrors.NewDatabaseError("release stale scan jobs", err)
	}
	return int(tag.RowsAffected()), nil
}

// ListPendingIDs returns PENDING job ids, least recently touched first
func (r *ScanJobRepository) ListPendingIDs(ctx context.Context, limit int) ([]string, error) {
	query := `
		SELECT id FROM scan_jobs
		WHERE status = 'PENDING'
		ORDER BY updated_at ASC
		LIMIT $1
	`

	rows, err := r.db.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list pending scan jobs", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.NewDatabaseError("list pending scan jobs", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list pending scan jobs", err)
	}
	return ids, nil
}

// scanJobRow scans one scan_jobs row, decoding the JSONB columns
func scanJobRow(row pgx.Row) (*models.ScanJobRecord, error) {
	var job models.ScanJobRecord
	var categories, discovered, result []byte

	err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.Status,
		&job.ScanDepth,
		&job.SmartFiltering,
		&categories,
		&job.TotalToScan,
		&job.InboxTotal,
		&job.ProcessedCount,
		&job.NewslettersFoundCount,
		&job.Cursor,
		&discovered,
		&result,
		&job.Error,
		&job.StartedAt,
		&job.UpdatedAt,
		&job.CompletedAt,
		&job.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(categories) > 0 {
		if err := json.Unmarshal(categories, &job.Categories); err != nil {
			return nil, fmt.Errorf("failed to decode categories: %w", err)
		}
	}
	if len(discovered) > 0 {
		if err := json.Unmarshal(discovered, &job.Discovered); err != nil {
			return nil, fmt.Errorf("failed to decode discovered senders: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("failed to decode scan result: %w", err)
		}
	}

	return &job, nil
}

func marshalNullable(c *types.Categories) ([]byte, error) {
	if c == nil {
		return nil, nil
	}
	return json.Marshal(c)
}
