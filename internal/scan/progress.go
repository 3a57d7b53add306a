package scan

import (
	"math"
	"time"

	"github.com/newsletter-scanner/internal/models"
	"github.com/newsletter-scanner/internal/types"
)

// BuildStatusView derives the client-facing progress snapshot from a job
// record. All derived figures are guarded: percent is clamped to [0,100],
// speed stays zero and the ETA is omitted rather than reported as Inf or
// NaN when the job has not started or has processed nothing yet.
func BuildStatusView(job *models.ScanJobRecord, now time.Time) *types.JobStatusView {
	view := &types.JobStatusView{
		ID:                    job.ID,
		Status:                job.Status,
		TotalToScan:           job.TotalToScan,
		ProcessedCount:        job.ProcessedCount,
		NewslettersFoundCount: job.NewslettersFoundCount,
		Error:                 job.Error,
		Result:                job.Result,
		StartedAt:             job.StartedAt,
		UpdatedAt:             job.UpdatedAt,
		CompletedAt:           job.CompletedAt,
	}

	if job.TotalToScan > 0 {
		pct := float64(job.ProcessedCount) / float64(job.TotalToScan) * 100
		view.PercentComplete = math.Min(100, math.Max(0, math.Floor(pct)))
	} else if job.Status == types.ScanStatusCompleted {
		view.PercentComplete = 100
	}

	if job.StartedAt == nil {
		return view
	}

	end := now
	if job.CompletedAt != nil {
		end = *job.CompletedAt
	}
	elapsed := end.Sub(*job.StartedAt).Seconds()
	if elapsed <= 0 {
		return view
	}
	view.ElapsedSeconds = elapsed

	if job.ProcessedCount <= 0 {
		return view
	}
	view.ProcessingSpeed = float64(job.ProcessedCount) / elapsed

	if !job.Status.IsTerminal() {
		remaining := job.TotalToScan - job.ProcessedCount
		if remaining > 0 && view.ProcessingSpeed > 0 {
			eta := float64(remaining) / view.ProcessingSpeed
			view.EstimatedTimeRemaining = &eta
		}
	}

	return view
}
