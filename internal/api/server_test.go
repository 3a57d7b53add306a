package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/newsletter-scanner/internal/errors"
	"github.com/newsletter-scanner/internal/logging"
	"github.com/newsletter-scanner/internal/models"
	"github.com/newsletter-scanner/internal/types"
)

type stubScanService struct {
	startFn   func(ctx context.Context, ownerID string, settings *types.ScanSettings) (*models.ScanJobRecord, error)
	statusFn  func(ctx context.Context, jobID, ownerID string) (*types.JobStatusView, error)
	cancelFn  func(ctx context.Context, jobID, ownerID string) (*types.JobStatusView, error)
	processFn func(ctx context.Context, jobID string) error
}

func (s *stubScanService) Start(ctx context.Context, ownerID string, settings *types.ScanSettings) (*models.ScanJobRecord, error) {
	return s.startFn(ctx, ownerID, settings)
}

func (s *stubScanService) GetStatus(ctx context.Context, jobID, ownerID string) (*types.JobStatusView, error) {
	return s.statusFn(ctx, jobID, ownerID)
}

func (s *stubScanService) Cancel(ctx context.Context, jobID, ownerID string) (*types.JobStatusView, error) {
	return s.cancelFn(ctx, jobID, ownerID)
}

func (s *stubScanService) ProcessChunk(ctx context.Context, jobID string) error {
	return s.processFn(ctx, jobID)
}

type stubStatusCache struct {
	entries map[string]*types.JobStatusView
	puts    int
}

func (c *stubStatusCache) Get(_ context.Context, jobID string) *types.JobStatusView {
	return c.entries[jobID]
}

func (c *stubStatusCache) Put(_ context.Context, view *types.JobStatusView) {
	c.puts++
	c.entries[view.ID] = view
}

func newTestServer(svc ScanServiceInterface, cache StatusCacheInterface) *Server {
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	logger.SetOutput(io.Discard)

	srv := NewServer(&ServerConfig{
		Host:          "127.0.0.1",
		Port:          "0",
		InternalToken: "internal-secret",
		RateLimitRPS:  1000,
	}, svc, cache, logger)
	srv.streamPollInterval = 5 * time.Millisecond
	srv.streamNotFoundLimit = 3
	return srv
}

func doRequest(srv *Server, method, path, owner string, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(&stubScanService{}, nil)
	rec := doRequest(srv, "GET", "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")
}

func TestStartScanReturnsAccepted(t *testing.T) {
	var gotSettings *types.ScanSettings
	svc := &stubScanService{
		startFn: func(_ context.Context, ownerID string, settings *types.ScanSettings) (*models.ScanJobRecord, error) {
			gotSettings = settings
			return &models.ScanJobRecord{
				ID:          "job-1",
				OwnerID:     ownerID,
				Status:      types.ScanStatusPending,
				TotalToScan: 3000,
				InboxTotal:  8000,
			}, nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := doRequest(srv, "POST", "/api/scans", "user-1", `{"scanDepth":"deep","smartFiltering":false}`)

	require.Equal(t, http.StatusAccepted, rec.Code)
	var resp startScanResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "job-1", resp.JobID)
	assert.Equal(t, types.ScanStatusPending, resp.Status)
	assert.Equal(t, 3000, resp.TotalToScan)

	require.NotNil(t, gotSettings)
	assert.Equal(t, types.DepthDeep, gotSettings.ScanDepth)
	assert.False(t, gotSettings.SmartFiltering)
}

func TestStartScanEmptyBodyUsesDefaults(t *testing.T) {
	var gotSettings *types.ScanSettings
	svc := &stubScanService{
		startFn: func(_ context.Context, _ string, settings *types.ScanSettings) (*models.ScanJobRecord, error) {
			gotSettings = settings
			return &models.ScanJobRecord{ID: "job-1", Status: types.ScanStatusPending}, nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := doRequest(srv, "POST", "/api/scans", "user-1", "")

	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotNil(t, gotSettings)
	assert.Equal(t, types.DepthStandard, gotSettings.ScanDepth)
	assert.True(t, gotSettings.SmartFiltering)
}

func TestStartScanRequiresIdentity(t *testing.T) {
	srv := newTestServer(&stubScanService{}, nil)
	rec := doRequest(srv, "POST", "/api/scans", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStartScanRejectsMalformedBody(t *testing.T) {
	srv := newTestServer(&stubScanService{}, nil)
	rec := doRequest(srv, "POST", "/api/scans", "user-1", `{"scanDepth":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartScanConflict(t *testing.T) {
	svc := &stubScanService{
		startFn: func(context.Context, string, *types.ScanSettings) (*models.ScanJobRecord, error) {
			return nil, apperrors.NewActiveJobConflictError("existing-job")
		},
	}
	srv := newTestServer(svc, nil)

	rec := doRequest(srv, "POST", "/api/scans", "user-1", "")

	require.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ACTIVE_SCAN_EXISTS", resp.Error.Code)
	assert.Equal(t, "existing-job", resp.Error.Details["jobId"])
}

func TestGetScanStatus(t *testing.T) {
	svc := &stubScanService{
		statusFn: func(_ context.Context, jobID, ownerID string) (*types.JobStatusView, error) {
			return &types.JobStatusView{ID: jobID, Status: types.ScanStatusProcessing, ProcessedCount: 50}, nil
		},
	}
	cache := &stubStatusCache{entries: map[string]*types.JobStatusView{}}
	srv := newTestServer(svc, cache)

	rec := doRequest(srv, "GET", "/api/scans/job-1", "user-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var view types.JobStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, "job-1", view.ID)
	assert.Equal(t, 50, view.ProcessedCount)
	assert.Equal(t, 1, cache.puts, "snapshot is cached after the read")
}

func TestGetScanStatusServesFromCache(t *testing.T) {
	svc := &stubScanService{
		statusFn: func(context.Context, string, string) (*types.JobStatusView, error) {
			t.Fatal("service must not be hit on a cache hit")
			return nil, nil
		},
	}
	cache := &stubStatusCache{entries: map[string]*types.JobStatusView{
		"job-1": {ID: "job-1", Status: types.ScanStatusPending},
	}}
	srv := newTestServer(svc, cache)

	rec := doRequest(srv, "GET", "/api/scans/job-1", "user-1", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetScanStatusNotFound(t *testing.T) {
	svc := &stubScanService{
		statusFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			return nil, apperrors.NewJobNotFoundError(jobID)
		},
	}
	srv := newTestServer(svc, nil)

	rec := doRequest(srv, "GET", "/api/scans/missing", "user-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCancelScan(t *testing.T) {
	svc := &stubScanService{
		cancelFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			return &types.JobStatusView{ID: jobID, Status: types.ScanStatusCancelled}, nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := doRequest(srv, "POST", "/api/scans/job-1/cancel", "user-1", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var view types.JobStatusView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, types.ScanStatusCancelled, view.Status)
}

func TestCancelTerminalScanConflict(t *testing.T) {
	svc := &stubScanService{
		cancelFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			return nil, apperrors.NewJobNotCancellableError(jobID, types.ScanStatusCompleted)
		},
	}
	srv := newTestServer(svc, nil)

	rec := doRequest(srv, "POST", "/api/scans/job-1/cancel", "user-1", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestProcessChunkRequiresInternalToken(t *testing.T) {
	processed := false
	svc := &stubScanService{
		processFn: func(context.Context, string) error {
			processed = true
			return nil
		},
	}
	srv := newTestServer(svc, nil)

	rec := doRequest(srv, "POST", "/internal/scans/job-1/process", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, processed)

	req := httptest.NewRequest("POST", "/internal/scans/job-1/process", nil)
	req.Header.Set("X-Internal-Token", "internal-secret")
	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.True(t, processed)
}

func TestProcessChunkClaimConflict(t *testing.T) {
	svc := &stubScanService{
		processFn: func(_ context.Context, jobID string) error {
			return apperrors.NewClaimConflictError(jobID)
		},
	}
	srv := newTestServer(svc, nil)

	req := httptest.NewRequest("POST", "/internal/scans/job-1/process", nil)
	req.Header.Set("X-Internal-Token", "internal-secret")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestInternalErrorsAreNotExposed(t *testing.T) {
	svc := &stubScanService{
		statusFn: func(context.Context, string, string) (*types.JobStatusView, error) {
			return nil, apperrors.NewDatabaseError("get scan job", assert.AnError)
		},
	}
	srv := newTestServer(svc, nil)

	rec := doRequest(srv, "GET", "/api/scans/job-1", "user-1", "")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.NotContains(t, rec.Body.String(), assert.AnError.Error())
	assert.Contains(t, rec.Body.String(), "An internal error occurred")
}

func TestRateLimitExceeded(t *testing.T) {
	svc := &stubScanService{
		statusFn: func(_ context.Context, jobID, _ string) (*types.JobStatusView, error) {
			return &types.JobStatusView{ID: jobID, Status: types.ScanStatusPending}, nil
		},
	}
	logger := logging.NewLogger(logging.LevelError, logging.FormatJSON)
	logger.SetOutput(io.Discard)
	srv := NewServer(&ServerConfig{Host: "127.0.0.1", Port: "0", RateLimitRPS: 1, RateLimitBurst: 1}, svc, nil, logger)

	first := doRequest(srv, "GET", "/api/scans/job-1", "user-1", "")
	assert.Equal(t, http.StatusOK, first.Code)

	second := doRequest(srv, "GET", "/api/scans/job-1", "user-1", "")
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
}
