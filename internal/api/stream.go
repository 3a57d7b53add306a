package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	apperrors "github.com/newsletter-scanner/internal/errors"
	"github.com/newsletter-scanner/internal/types"
)

// Server-sent event names for scan progress
const (
	eventStatus    = "job-status"
	eventCompleted = "job-completed"
	eventFailed    = "job-failed"
	eventCancelled = "job-cancelled"
	eventError     = "job-error"
)

// handleStreamScan handles GET /api/scans/{id}/stream. It polls the
// job's status and pushes snapshots as server-sent events until the job
// reaches a terminal state or the client disconnects. The point-in-time
// GET endpoint remains the source of truth; this stream is a
// convenience projection of the same record.
func (s *Server) handleStreamScan(w http.ResponseWriter, r *http.Request) {
	owner := ownerID(r)
	if owner == "" {
		respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing user identity", nil)
		return
	}
	jobID := mux.Vars(r)["id"]

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "STREAMING_UNSUPPORTED", "Streaming is not supported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(s.streamPollInterval)
	defer ticker.Stop()

	// A just-created job can race the first poll, so not-found is
	// tolerated a few times before the stream gives up.
	notFoundCount := 0

	for {
		view, err := s.scanService.GetStatus(r.Context(), jobID, owner)
		switch {
		case err == nil:
			notFoundCount = 0
			if done := s.writeStatusEvent(w, flusher, view); done {
				return
			}
		case apperrors.IsNotFound(err):
			notFoundCount++
			if notFoundCount >= s.streamNotFoundLimit {
				writeEvent(w, flusher, eventError, apperrors.Categorize(err).ToServiceError())
				return
			}
		default:
			writeEvent(w, flusher, eventError, apperrors.Categorize(err).ToServiceError())
			return
		}

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

// writeStatusEvent emits the snapshot under the event name matching its
// status and reports whether the stream is finished
func (s *Server) writeStatusEvent(w http.ResponseWriter, flusher http.Flusher, view *types.JobStatusView) bool {
	switch view.Status {
	case types.ScanStatusCompleted:
		writeEvent(w, flusher, eventCompleted, view)
		return true
	case types.ScanStatusFailed:
		writeEvent(w, flusher, eventFailed, view)
		return true
	case types.ScanStatusCancelled:
		writeEvent(w, flusher, eventCancelled, view)
		return true
	default:
		writeEvent(w, flusher, eventStatus, view)
		return false
	}
}

// writeEvent writes one server-sent event and flushes it to the client
func writeEvent(w http.ResponseWriter, flusher http.Flusher, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	flusher.Flush()
}
