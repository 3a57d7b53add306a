package scan

import (
	"context"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/newsletter-scanner/internal/errors"
	"github.com/newsletter-scanner/internal/mailbox"
	"github.com/newsletter-scanner/internal/models"
	"github.com/newsletter-scanner/internal/types"
)

// memStore is an in-memory JobStore with the same conditional-write
// semantics as the SQL implementation.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*models.ScanJobRecord
}

func newMemStore() *memStore {
	return &memStore{jobs: map[string]*models.ScanJobRecord{}}
}

func copyJob(j *models.ScanJobRecord) *models.ScanJobRecord {
	cp := *j
	if j.Discovered != nil {
		cp.Discovered = make(map[string]types.NewsletterSender, len(j.Discovered))
		for k, v := range j.Discovered {
			cp.Discovered[k] = v
		}
	}
	cp.Result = append([]types.NewsletterSender(nil), j.Result...)
	return &cp
}

func (m *memStore) CreateJob(_ context.Context, job *models.ScanJobRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.jobs {
		if existing.OwnerID == job.OwnerID && !existing.Status.IsTerminal() {
			return apperrors.NewActiveJobConflictError(existing.ID)
		}
	}
	m.jobs[job.ID] = copyJob(job)
	return nil
}

func (m *memStore) GetForOwner(_ context.Context, jobID, ownerID string) (*models.ScanJobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, nil
	}
	return copyJob(job), nil
}

func (m *memStore) ActiveJobForOwner(_ context.Context, ownerID string) (*models.ScanJobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, job := range m.jobs {
		if job.OwnerID == ownerID && !job.Status.IsTerminal() {
			return copyJob(job), nil
		}
	}
	return nil, nil
}

func (m *memStore) ClaimForProcessing(_ context.Context, jobID string) (*models.ScanJobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != types.ScanStatusPending {
		return nil, nil
	}
	job.Status = types.ScanStatusProcessing
	job.UpdatedAt = time.Now().UTC()
	return copyJob(job), nil
}

func (m *memStore) MarkStarted(_ context.Context, jobID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok && job.StartedAt == nil {
		job.StartedAt = &at
		job.UpdatedAt = at
	}
	return nil
}

func (m *memStore) SaveChunkAndRelease(_ context.Context, jobID string, upd *ChunkUpdate) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != types.ScanStatusProcessing {
		return false, nil
	}
	job.Status = types.ScanStatusPending
	job.ProcessedCount = upd.ProcessedCount
	job.NewslettersFoundCount = upd.NewslettersFoundCount
	job.Cursor = upd.Cursor
	job.Discovered = upd.Discovered
	job.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *memStore) CompleteFromProcessing(_ context.Context, jobID string, upd *ChunkUpdate, result []types.NewsletterSender) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status != types.ScanStatusProcessing {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = types.ScanStatusCompleted
	job.ProcessedCount = upd.ProcessedCount
	job.NewslettersFoundCount = upd.NewslettersFoundCount
	job.Result = result
	job.Cursor = nil
	job.Discovered = nil
	job.UpdatedAt = now
	job.CompletedAt = &now
	return true, nil
}

func (m *memStore) FailIfActive(_ context.Context, jobID, message string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.Status.IsTerminal() {
		return false, nil
	}
	now := time.Now().UTC()
	job.Status = types.ScanStatusFailed
	job.Error = &message
	job.UpdatedAt = now
	job.CompletedAt = &now
	return true, nil
}

func (m *memStore) Cancel(_ context.Context, jobID, ownerID string) (*models.ScanJobRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[jobID]
	if !ok || job.OwnerID != ownerID {
		return nil, apperrors.NewJobNotFoundError(jobID)
	}
	if job.Status.IsTerminal() {
		return nil, apperrors.NewJobNotCancellableError(jobID, job.Status)
	}
	now := time.Now().UTC()
	job.Status = types.ScanStatusCancelled
	job.Cursor = nil
	job.Discovered = nil
	job.UpdatedAt = now
	job.CompletedAt = &now
	return copyJob(job), nil
}

func (m *memStore) ReleaseStale(_ context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	released := 0
	for _, job := range m.jobs {
		if job.Status == types.ScanStatusProcessing && job.UpdatedAt.Before(cutoff) {
			job.Status = types.ScanStatusPending
			job.UpdatedAt = time.Now().UTC()
			released++
		}
	}
	return released, nil
}

func (m *memStore) ListPendingIDs(_ context.Context, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, job := range m.jobs {
		if job.Status == types.ScanStatusPending {
			ids = append(ids, id)
			if len(ids) >= limit {
				break
			}
		}
	}
	return ids, nil
}

// mustGet returns the raw stored record for assertions
func (m *memStore) mustGet(jobID string) *models.ScanJobRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return copyJob(m.jobs[jobID])
}

// setStatus force-sets a status, for arranging race scenarios
func (m *memStore) setStatus(jobID string, status types.ScanStatus, updatedAt time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.Status = status
		job.UpdatedAt = updatedAt
	}
}

// fakeMailbox serves a fixed corpus of messages. Cursors are numeric
// offsets into the corpus.
type fakeMailbox struct {
	profile  mailbox.Profile
	messages []*types.EmailMetadata

	mu       sync.Mutex
	listErrs []error // popped per ListMessageIDs call
	metaErrs map[string]error
	onFetch  func(id string)
}

func (f *fakeMailbox) GetProfile(context.Context) (*mailbox.Profile, error) {
	p := f.profile
	return &p, nil
}

func (f *fakeMailbox) ListMessageIDs(_ context.Context, req *mailbox.ListRequest) (*mailbox.MessagePage, error) {
	f.mu.Lock()
	if len(f.listErrs) > 0 {
		err := f.listErrs[0]
		f.listErrs = f.listErrs[1:]
		f.mu.Unlock()
		if err != nil {
			return nil, err
		}
	} else {
		f.mu.Unlock()
	}

	start := 0
	if req.Cursor != "" {
		start, _ = strconv.Atoi(req.Cursor)
	}
	end := start + req.PageSize
	if end > len(f.messages) {
		end = len(f.messages)
	}
	page := &mailbox.MessagePage{}
	for _, msg := range f.messages[start:end] {
		page.IDs = append(page.IDs, msg.ID)
	}
	if end < len(f.messages) {
		page.NextCursor = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeMailbox) GetMessageMetadata(_ context.Context, id string) (*types.EmailMetadata, error) {
	if f.onFetch != nil {
		f.onFetch(id)
	}
	f.mu.Lock()
	err := f.metaErrs[id]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	for _, msg := range f.messages {
		if msg.ID == id {
			return msg, nil
		}
	}
	return nil, &mailbox.Error{Kind: mailbox.KindNotFound, Message: "message not found"}
}

type fakeFactory struct {
	client *fakeMailbox
	err    error
}

func (f *fakeFactory) ClientFor(context.Context, string) (mailbox.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

// recordingTrigger captures dispatched job ids without processing them
type recordingTrigger struct {
	mu   sync.Mutex
	ids  []string
	full bool
}

func (r *recordingTrigger) Trigger(jobID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.full {
		return false
	}
	r.ids = append(r.ids, jobID)
	return true
}

func (r *recordingTrigger) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}
