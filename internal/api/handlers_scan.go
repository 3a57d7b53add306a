package api

import (
	"errors"
	"io"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/newsletter-scanner/internal/types"
)

// startScanRequest is the optional request body for starting a scan.
// Absent fields fall back to the defaults.
type startScanRequest struct {
	ScanDepth      string            `json:"scanDepth"`
	SmartFiltering *bool             `json:"smartFiltering"`
	Categories     *types.Categories `json:"categories"`
}

// startScanResponse acknowledges an accepted scan job
type startScanResponse struct {
	JobID       string           `json:"jobId"`
	Status      types.ScanStatus `json:"status"`
	TotalToScan int              `json:"totalToScan"`
	InboxTotal  int              `json:"inboxTotal"`
}

// ownerID extracts the authenticated user from the request. The identity
// layer upstream sets this header after validating the session.
func ownerID(r *http.Request) string {
	return r.Header.Get("X-User-ID")
}

// handleStartScan handles POST /api/scans
func (s *Server) handleStartScan(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user identity", nil)
		return
	}

	settings := types.DefaultScanSettings()
	var req startScanRequest
	if err := parseJSONBody(r, &req); err != nil {
		if !errors.Is(err, io.EOF) {
			respondError(w, http.StatusBadRequest, "INVALID_INPUT", "Invalid request body", nil)
			return
		}
		// Empty body: scan with defaults.
	} else {
		if req.ScanDepth != "" {
			settings.ScanDepth = types.ScanDepth(req.ScanDepth)
		}
		if req.SmartFiltering != nil {
			settings.SmartFiltering = *req.SmartFiltering
		}
		if req.Categories != nil {
			settings.Categories = req.Categories
		}
	}

	job, err := s.scanService.Start(r.Context(), owner, &settings)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	respondJSON(w, http.StatusAccepted, startScanResponse{
		JobID:       job.ID,
		Status:      job.Status,
		TotalToScan: job.TotalToScan,
		InboxTotal:  job.InboxTotal,
	})
}

// handleGetScan handles GET /api/scans/{id}
func (s *Server) handleGetScan(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user identity", nil)
		return
	}
	jobID := mux.Vars(r)["id"]

	if s.statusCache != nil {
		if view := s.statusCache.Get(r.Context(), jobID); view != nil {
			respondJSON(w, http.StatusOK, view)
			return
		}
	}

	view, err := s.scanService.GetStatus(r.Context(), jobID, owner)
	if err != nil {
		respondServiceError(w, err)
		return
	}

	if s.statusCache != nil {
		s.statusCache.Put(r.Context(), view)
	}
	respondJSON(w, http.StatusOK, view)
}

// handleCancelScan handles POST /api/scans/{id}/cancel
func (s *Server) handleCancelScan(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user identity", nil)
		return
	}
	jobID := mux.Vars(r)["id"]

	view, err := s.scanService.Cancel(r.Context(), jobID, owner)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleProcessChunk handles POST /internal/scans/{id}/process. This is
// the trusted re-entry point for chunk processing; it must never be
// exposed to end users.
func (s *Server) handleProcessChunk(w http.ResponseWriter, r *http.Request) {
	if s.config.InternalToken != "" && r.Header.Get("X-Internal-Token") != s.config.InternalToken {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid internal token", nil)
		return
	}
	jobID := mux.Vars(r)["id"]

	if err := s.scanService.ProcessChunk(r.Context(), jobID); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}
