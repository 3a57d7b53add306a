package scan

import (
	"context"
	"time"

	"github.com/newsletter-scanner/internal/models"
	"github.com/newsletter-scanner/internal/types"
)

// ChunkUpdate carries the accumulated state written back after a chunk
// that left the job unfinished.
type ChunkUpdate struct {
	ProcessedCount        int
	NewslettersFoundCount int
	Cursor                *string
	Discovered            map[string]types.NewsletterSender
}

// JobStore is the durable record of scan jobs. Implementations must make
// ClaimForProcessing atomic (exactly one caller wins a PENDING job) and
// must apply the conditional writes only when the job is still in the
// stated status, so a concurrent cancel is never overwritten.
type JobStore interface {
	// CreateJob persists a new PENDING job.
	CreateJob(ctx context.Context, job *models.ScanJobRecord) error

	// GetForOwner returns the job if it exists and belongs to ownerID,
	// nil otherwise.
	GetForOwner(ctx context.Context, jobID, ownerID string) (*models.ScanJobRecord, error)

	// ActiveJobForOwner returns the owner's PENDING or PROCESSING job,
	// nil when there is none.
	ActiveJobForOwner(ctx context.Context, ownerID string) (*models.ScanJobRecord, error)

	// ClaimForProcessing atomically moves a PENDING job to PROCESSING and
	// returns the claimed record. Returns nil when the job does not exist
	// or is not PENDING.
	ClaimForProcessing(ctx context.Context, jobID string) (*models.ScanJobRecord, error)

	// MarkStarted stamps startedAt on the job's first claimed chunk.
	MarkStarted(ctx context.Context, jobID string, at time.Time) error

	// SaveChunkAndRelease persists chunk results and moves the job from
	// PROCESSING back to PENDING so the next chunk can claim it. Returns
	// false without writing when the job is no longer PROCESSING.
	SaveChunkAndRelease(ctx context.Context, jobID string, upd *ChunkUpdate) (bool, error)

	// CompleteFromProcessing finalizes the job: status COMPLETED, result
	// set, cursor and discovered working state cleared. Returns false
	// without writing when the job is no longer PROCESSING.
	CompleteFromProcessing(ctx context.Context, jobID string, upd *ChunkUpdate, result []types.NewsletterSender) (bool, error)

	// FailIfActive moves a PENDING or PROCESSING job to FAILED with the
	// given message. Returns false when the job is already terminal.
	FailIfActive(ctx context.Context, jobID, message string) (bool, error)

	// Cancel moves the owner's PENDING or PROCESSING job to CANCELLED,
	// clearing cursor and discovered state, and returns the updated
	// record. Implementations return a categorized not-found or
	// not-cancellable error otherwise.
	Cancel(ctx context.Context, jobID, ownerID string) (*models.ScanJobRecord, error)

	// ReleaseStale reverts PROCESSING jobs whose updatedAt is older than
	// the timeout back to PENDING, returning how many were released.
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int, error)

	// ListPendingIDs returns up to limit PENDING job IDs, oldest first.
	ListPendingIDs(ctx context.Context, limit int) ([]string, error)
}
