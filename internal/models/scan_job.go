package models

import (
	"time"

	"github.com/newsletter-scanner/internal/types"
)

// ScanJobRecord represents a scan job in the database. It is the single
// source of truth for resumption: all chunk state (cursor, counters,
// discovered senders) lives here between invocations.
type ScanJobRecord struct {
	ID                    string                            `json:"id" db:"id"`
	OwnerID               string                            `json:"ownerId" db:"owner_id"`
	Status                types.ScanStatus                  `json:"status" db:"status"`
	ScanDepth             types.ScanDepth                   `json:"scanDepth" db:"scan_depth"`
	SmartFiltering        bool                              `json:"smartFiltering" db:"smart_filtering"`
	Categories            *types.Categories                 `json:"categories,omitempty" db:"categories"`
	TotalToScan           int                               `json:"totalToScan" db:"total_to_scan"`
	InboxTotal            int                               `json:"inboxTotal" db:"inbox_total"`
	ProcessedCount        int                               `json:"processedCount" db:"processed_count"`
	NewslettersFoundCount int                               `json:"newslettersFoundCount" db:"newsletters_found_count"`
	Cursor                *string                           `json:"cursor,omitempty" db:"cursor"`
	Discovered            map[string]types.NewsletterSender `json:"discovered" db:"discovered"`
	Result                []types.NewsletterSender          `json:"result,omitempty" db:"result"`
	Error                 *string                           `json:"error,omitempty" db:"error"`
	StartedAt             *time.Time                        `json:"startedAt,omitempty" db:"started_at"`
	UpdatedAt             time.Time                         `json:"updatedAt" db:"updated_at"`
	CompletedAt           *time.Time                        `json:"completedAt,omitempty" db:"completed_at"`
	CreatedAt             time.Time                         `json:"createdAt" db:"created_at"`
}

// Remaining returns how many messages the job may still examine
func (j *ScanJobRecord) Remaining() int {
	if j.ProcessedCount >= j.TotalToScan {
		return 0
	}
	return j.TotalToScan - j.ProcessedCount
}
