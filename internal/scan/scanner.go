// Package scan implements the newsletter scan engine: job lifecycle,
// chunked incremental processing, and progress reporting.
package scan

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/newsletter-scanner/internal/classifier"
	apperrors "github.com/newsletter-scanner/internal/errors"
	"github.com/newsletter-scanner/internal/logging"
	"github.com/newsletter-scanner/internal/mailbox"
	"github.com/newsletter-scanner/internal/models"
	"github.com/newsletter-scanner/internal/retry"
	"github.com/newsletter-scanner/internal/types"
)

// Trigger enqueues a chunk invocation for a job. Enqueueing is
// best-effort: a false return means the queue was full and the
// reconciliation sweep will pick the job up instead.
type Trigger interface {
	Trigger(jobID string) bool
}

// StatusInvalidator drops any cached status snapshot for a job after its
// record changed
type StatusInvalidator interface {
	Invalidate(ctx context.Context, jobID string)
}

// Options tunes the chunk engine
type Options struct {
	PageSize     int // message ids listed per chunk
	SubBatchSize int // metadata fetches in flight at once
}

// Scanner owns the scan job lifecycle. All mutations go through the job
// store's conditional writes, so concurrent triggers and cancels resolve
// to exactly one winner.
type Scanner struct {
	store    JobStore
	clients  mailbox.ClientFactory
	opts     Options
	logger   *logging.Logger
	retryCfg *retry.Config

	trigger Trigger
	cache   StatusInvalidator
	now     func() time.Time
}

// NewScanner creates a scan engine over the given store and mailbox
// client factory
func NewScanner(store JobStore, clients mailbox.ClientFactory, opts Options, logger *logging.Logger) *Scanner {
	if opts.PageSize <= 0 {
		opts.PageSize = 25
	}
	if opts.SubBatchSize <= 0 {
		opts.SubBatchSize = 25
	}
	return &Scanner{
		store:    store,
		clients:  clients,
		opts:     opts,
		logger:   logger,
		retryCfg: retry.DefaultConfig(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetTrigger wires the chunk dispatcher. Set once at startup, before any
// request is served.
func (s *Scanner) SetTrigger(t Trigger) {
	s.trigger = t
}

// SetStatusInvalidator wires the optional status cache
func (s *Scanner) SetStatusInvalidator(inv StatusInvalidator) {
	s.cache = inv
}

// Start creates a new scan job for the owner and triggers its first
// chunk. At most one PENDING or PROCESSING job may exist per owner; a
// second start returns a conflict carrying the existing job id.
func (s *Scanner) Start(ctx context.Context, ownerID string, settings *types.ScanSettings) (*models.ScanJobRecord, error) {
	if ownerID == "" {
		return nil, apperrors.NewInvalidParameterError("ownerId", "must not be empty")
	}

	resolved := types.DefaultScanSettings()
	if settings != nil {
		resolved = *settings
	}
	if resolved.ScanDepth == "" {
		resolved.ScanDepth = types.DepthStandard
	}
	if _, ok := types.DepthSizes[resolved.ScanDepth]; !ok {
		return nil, apperrors.NewInvalidParameterError("scanDepth", "must be one of quick, standard, deep")
	}

	active, err := s.store.ActiveJobForOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.NewActiveJobConflictError(active.ID)
	}

	client, err := s.clients.ClientFor(ctx, ownerID)
	if err != nil {
		return nil, mailboxError(err)
	}

	var profile *mailbox.Profile
	var fatal error
	err = retry.WithBackoff(ctx, s.retryCfg, func(ctx context.Context, attempt int) error {
		p, profErr := client.GetProfile(ctx)
		if profErr != nil {
			if mailbox.IsAuth(profErr) {
				fatal = profErr
				return nil
			}
			return profErr
		}
		profile = p
		return nil
	})
	if fatal != nil {
		return nil, mailboxError(fatal)
	}
	if err != nil {
		return nil, mailboxError(err)
	}

	total := resolved.ScanDepth.MessageCap()
	if profile.TotalMessages < total {
		total = profile.TotalMessages
	}

	now := s.now()
	job := &models.ScanJobRecord{
		ID:             uuid.NewString(),
		OwnerID:        ownerID,
		Status:         types.ScanStatusPending,
		ScanDepth:      resolved.ScanDepth,
		SmartFiltering: resolved.SmartFiltering,
		Categories:     resolved.Categories,
		TotalToScan:    total,
		InboxTotal:     profile.TotalMessages,
		Discovered:     map[string]types.NewsletterSender{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateJob(ctx, job); err != nil {
		return nil, err
	}

	s.logger.WithJob(job.ID).WithFields(map[string]interface{}{
		"ownerId":     ownerID,
		"scanDepth":   string(resolved.ScanDepth),
		"totalToScan": total,
		"inboxTotal":  profile.TotalMessages,
	}).Info("Scan job created")

	s.dispatch(job.ID)
	return job, nil
}

// GetStatus returns the current status snapshot for the owner's job
func (s *Scanner) GetStatus(ctx context.Context, jobID, ownerID string) (*types.JobStatusView, error) {
	job, err := s.store.GetForOwner(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, apperrors.NewJobNotFoundError(jobID)
	}
	return BuildStatusView(job, s.now()), nil
}

// Cancel moves the owner's job to CANCELLED if it is still PENDING or
// PROCESSING and returns its final snapshot
func (s *Scanner) Cancel(ctx context.Context, jobID, ownerID string) (*types.JobStatusView, error) {
	job, err := s.store.Cancel(ctx, jobID, ownerID)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, jobID)
	s.logger.WithJob(jobID).Info("Scan job cancelled")
	return BuildStatusView(job, s.now()), nil
}

// ProcessChunk claims the job and processes one chunk of its mailbox.
// When the job is not claimable (already PROCESSING, or terminal) it
// returns a conflict error and changes nothing; duplicate triggers are
// expected and harmless.
func (s *Scanner) ProcessChunk(ctx context.Context, jobID string) error {
	job, err := s.store.ClaimForProcessing(ctx, jobID)
	if err != nil {
		return err
	}
	if job == nil {
		return apperrors.NewClaimConflictError(jobID)
	}

	logger := s.logger.WithJob(jobID)
	ctx = logging.WithLogger(ctx, logger)

	if job.StartedAt == nil {
		now := s.now()
		if err := s.store.MarkStarted(ctx, jobID, now); err != nil {
			logger.WithError(err).Warn("Failed to stamp scan start time")
		} else {
			job.StartedAt = &now
		}
	}

	if err := s.runChunk(ctx, logger, job); err != nil {
		s.failJob(ctx, logger, jobID, err)
		return err
	}
	return nil
}

func (s *Scanner) runChunk(ctx context.Context, logger *logging.Logger, job *models.ScanJobRecord) error {
	// Nothing left to examine: finalize from the accumulated state. This
	// also covers empty mailboxes, where totalToScan is zero.
	if job.ProcessedCount >= job.TotalToScan {
		return s.finish(ctx, logger, job, &ChunkUpdate{
			ProcessedCount:        job.ProcessedCount,
			NewslettersFoundCount: len(job.Discovered),
			Discovered:            job.Discovered,
		})
	}

	client, err := s.clients.ClientFor(ctx, job.OwnerID)
	if err != nil {
		return mailboxError(err)
	}

	cursor := ""
	if job.Cursor != nil {
		cursor = *job.Cursor
	}
	page, err := s.listPage(ctx, client, &mailbox.ListRequest{
		Cursor:   cursor,
		PageSize: s.opts.PageSize,
		Query:    mailbox.BuildQuery(job.Categories),
	})
	if err != nil {
		return mailboxError(err)
	}

	processed := job.ProcessedCount
	var found []types.NewsletterSender

	budget := job.TotalToScan - processed
	ids := page.IDs
	if len(ids) > budget {
		ids = ids[:budget]
	}

	for start := 0; start < len(ids); start += s.opts.SubBatchSize {
		end := start + s.opts.SubBatchSize
		if end > len(ids) {
			end = len(ids)
		}

		metas, fetchErrs := s.fetchSubBatch(ctx, client, ids[start:end])

		// Accounting is serialized and ordered: every attempted message
		// counts as processed, successful or not, so progress and the
		// message cap stay deterministic under concurrent fetches.
		for i := range metas {
			processed++
			if fetchErrs[i] != nil {
				if mailbox.IsAuth(fetchErrs[i]) {
					return mailboxError(fetchErrs[i])
				}
				logger.WithError(fetchErrs[i]).WithField("messageId", ids[start+i]).Warn("Skipping unreadable message")
				continue
			}
			meta := metas[i]
			if !classifier.Classify(meta, job.SmartFiltering) {
				continue
			}
			found = append(found, classifier.ExtractSender(meta))
		}
	}

	merged := MergeSenders(job.Discovered, found)

	upd := &ChunkUpdate{
		ProcessedCount:        processed,
		NewslettersFoundCount: len(merged),
		Discovered:            merged,
	}
	if page.NextCursor != "" {
		next := page.NextCursor
		upd.Cursor = &next
	}

	if page.NextCursor == "" || processed >= job.TotalToScan {
		return s.finish(ctx, logger, job, upd)
	}

	var released bool
	err = retry.WithBackoff(ctx, s.retryCfg, func(ctx context.Context, attempt int) error {
		ok, saveErr := s.store.SaveChunkAndRelease(ctx, job.ID, upd)
		released = ok
		return saveErr
	})
	if err != nil {
		return err
	}
	if !released {
		// Lost the status race, most likely to a cancel. The terminal
		// state stands; this chunk's work is discarded.
		logger.Info("Chunk result discarded, job is no longer processing")
		return nil
	}

	s.invalidate(ctx, job.ID)
	logger.WithFields(map[string]interface{}{
		"processedCount": processed,
		"totalToScan":    job.TotalToScan,
		"foundCount":     len(merged),
	}).Debug("Chunk saved, job released for next chunk")

	s.dispatch(job.ID)
	return nil
}

// finish moves the job from PROCESSING to COMPLETED with the merged
// sender list as its result
func (s *Scanner) finish(ctx context.Context, logger *logging.Logger, job *models.ScanJobRecord, upd *ChunkUpdate) error {
	result := SenderList(upd.Discovered)
	upd.NewslettersFoundCount = len(result)

	var completed bool
	err := retry.WithBackoff(ctx, s.retryCfg, func(ctx context.Context, attempt int) error {
		ok, compErr := s.store.CompleteFromProcessing(ctx, job.ID, upd, result)
		completed = ok
		return compErr
	})
	if err != nil {
		return err
	}
	if !completed {
		logger.Info("Completion discarded, job is no longer processing")
		return nil
	}

	s.invalidate(ctx, job.ID)
	logger.WithFields(map[string]interface{}{
		"processedCount": upd.ProcessedCount,
		"foundCount":     len(result),
	}).Info("Scan job completed")
	return nil
}

// listPage lists one page of message ids, retrying transient failures
// but giving up immediately on authentication errors
func (s *Scanner) listPage(ctx context.Context, client mailbox.Client, req *mailbox.ListRequest) (*mailbox.MessagePage, error) {
	var page *mailbox.MessagePage
	var fatal error
	err := retry.WithBackoff(ctx, s.retryCfg, func(ctx context.Context, attempt int) error {
		p, listErr := client.ListMessageIDs(ctx, req)
		if listErr != nil {
			if mailbox.IsAuth(listErr) {
				fatal = listErr
				return nil
			}
			return listErr
		}
		page = p
		return nil
	})
	if fatal != nil {
		return nil, fatal
	}
	if err != nil {
		return nil, err
	}
	return page, nil
}

// fetchSubBatch fetches metadata for a slice of message ids concurrently.
// Results and errors are position-indexed so the caller can account for
// them in listing order.
func (s *Scanner) fetchSubBatch(ctx context.Context, client mailbox.Client, ids []string) ([]*types.EmailMetadata, []error) {
	metas := make([]*types.EmailMetadata, len(ids))
	errs := make([]error, len(ids))

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			metas[i], errs[i] = client.GetMessageMetadata(ctx, id)
		}(i, id)
	}
	wg.Wait()

	return metas, errs
}

// failJob records a chunk failure on the job unless a terminal state
// already won the race
func (s *Scanner) failJob(ctx context.Context, logger *logging.Logger, jobID string, cause error) {
	message := apperrors.Categorize(cause).Message
	ok, err := s.store.FailIfActive(ctx, jobID, message)
	if err != nil {
		logger.WithError(err).Error("Failed to record scan job failure")
		return
	}
	if !ok {
		logger.WithError(cause).Info("Chunk failed after job reached a terminal state")
		return
	}
	s.invalidate(ctx, jobID)
	logger.WithError(cause).Error("Scan job failed")
}

func (s *Scanner) dispatch(jobID string) {
	if s.trigger == nil {
		return
	}
	if !s.trigger.Trigger(jobID) {
		s.logger.WithJob(jobID).Warn("Chunk queue full, leaving job for reconciliation sweep")
	}
}

func (s *Scanner) invalidate(ctx context.Context, jobID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, jobID)
	}
}

// mailboxError maps a mailbox client failure onto the error taxonomy
// with a user-facing message
func mailboxError(err error) error {
	if catErr, ok := err.(*apperrors.CategorizedError); ok {
		return catErr
	}
	switch mailbox.KindOf(err) {
	case mailbox.KindAuth:
		return apperrors.NewMailboxAuthError(err)
	case mailbox.KindRateLimit:
		return apperrors.NewMailboxRateLimitError(err)
	default:
		return apperrors.NewMailboxError(err)
	}
}
