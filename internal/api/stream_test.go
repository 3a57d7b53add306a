package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/newsletter-scanner/internal/errors"
	"github.com/newsletter-scanner/internal/types"
)

func streamRequest(srv *Server, jobID, owner string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", "/api/scans/"+jobID+"/stream", nil)
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestStreamRequiresIdentity(t *testing.T) {
	srv := newTestServer(&stubScanService{}, nil)
	rec := streamRequest(srv, "job-1", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStreamEmitsProgressThenCompletion(t *testing.T) {
	var polls int32
	svc := &stubScanService{
		statusFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			n := atomic.AddInt32(&polls, 1)
			if n < 3 {
				return &types.JobStatusView{ID: jobID, Status: types.ScanStatusProcessing, ProcessedCount: int(n) * 25}, nil
			}
			return &types.JobStatusView{ID: jobID, Status: types.ScanStatusCompleted, ProcessedCount: 60, Result: []types.NewsletterSender{{Address: "news@a.com"}}}, nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := streamRequest(srv, "job-1", "user-1")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "event: job-status")
	assert.Contains(t, body, "event: job-completed")
	assert.Contains(t, body, "news@a.com")
	// The stream closed on the terminal event, not on a timeout.
	assert.GreaterOrEqual(t, atomic.LoadInt32(&polls), int32(3))
}

func TestStreamEmitsCancellation(t *testing.T) {
	svc := &stubScanService{
		statusFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			return &types.JobStatusView{ID: jobID, Status: types.ScanStatusCancelled}, nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := streamRequest(srv, "job-1", "user-1")
	assert.Contains(t, rec.Body.String(), "event: job-cancelled")
}

func TestStreamEmitsFailure(t *testing.T) {
	msg := "We're having trouble reading your mailbox. Please try again later."
	svc := &stubScanService{
		statusFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			return &types.JobStatusView{ID: jobID, Status: types.ScanStatusFailed, Error: &msg}, nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := streamRequest(srv, "job-1", "user-1")
	body := rec.Body.String()
	assert.Contains(t, body, "event: job-failed")
	assert.Contains(t, body, "trouble reading your mailbox")
}

func TestStreamGivesUpAfterRepeatedNotFound(t *testing.T) {
	var polls int32
	svc := &stubScanService{
		statusFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			atomic.AddInt32(&polls, 1)
			return nil, apperrors.NewJobNotFoundError(jobID)
		},
	}
	srv := newTestServer(svc, nil)

	rec := streamRequest(srv, "missing", "user-1")

	body := rec.Body.String()
	assert.Contains(t, body, "event: job-error")
	assert.Contains(t, body, "JOB_NOT_FOUND")
	assert.Equal(t, int32(srv.streamNotFoundLimit), atomic.LoadInt32(&polls), "bounded retries before giving up")
}

func TestStreamToleratesTransientNotFound(t *testing.T) {
	var polls int32
	svc := &stubScanService{
		statusFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			n := atomic.AddInt32(&polls, 1)
			if n == 1 {
				// The job row has not committed yet.
				return nil, apperrors.NewJobNotFoundError(jobID)
			}
			return &types.JobStatusView{ID: jobID, Status: types.ScanStatusCompleted}, nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := streamRequest(srv, "job-1", "user-1")
	assert.Contains(t, rec.Body.String(), "event: job-completed")
}
