// Package types defines shared domain types for the newsletter scanner.
package types

import "time"

// ScanStatus represents the lifecycle state of a scan job
type ScanStatus string

const (
	ScanStatusPending    ScanStatus = "PENDING"
	ScanStatusProcessing ScanStatus = "PROCESSING"
	ScanStatusCompleted  ScanStatus = "COMPLETED"
	ScanStatusFailed     ScanStatus = "FAILED"
	ScanStatusCancelled  ScanStatus = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible from s
func (s ScanStatus) IsTerminal() bool {
	return s == ScanStatusCompleted || s == ScanStatusFailed || s == ScanStatusCancelled
}

// ScanDepth selects how many messages a scan examines
type ScanDepth string

const (
	DepthQuick    ScanDepth = "quick"
	DepthStandard ScanDepth = "standard"
	DepthDeep     ScanDepth = "deep"
)

// DepthSizes maps each scan depth to its message cap
var DepthSizes = map[ScanDepth]int{
	DepthQuick:    200,
	DepthStandard: 3000,
	DepthDeep:     5000,
}

// MessageCap returns the message cap for d, defaulting to standard depth
func (d ScanDepth) MessageCap() int {
	if n, ok := DepthSizes[d]; ok {
		return n
	}
	return DepthSizes[DepthStandard]
}

// Categories selects which Gmail categories a scan covers
type Categories struct {
	Primary    bool `json:"primary"`
	Promotions bool `json:"promotions"`
	Social     bool `json:"social"`
	Updates    bool `json:"updates"`
	Forums     bool `json:"forums"`
}

// ScanSettings are the user-supplied options for a scan
type ScanSettings struct {
	ScanDepth      ScanDepth   `json:"scanDepth"`
	SmartFiltering bool        `json:"smartFiltering"`
	Categories     *Categories `json:"categories,omitempty"`
}

// DefaultScanSettings returns the settings used when the client sends none
func DefaultScanSettings() ScanSettings {
	return ScanSettings{
		ScanDepth:      DepthStandard,
		SmartFiltering: true,
		Categories: &Categories{
			Primary:    true,
			Promotions: true,
		},
	}
}

// NewsletterSender is a discovered newsletter subscription candidate,
// keyed by sender address
type NewsletterSender struct {
	Address        string `json:"address"`
	Name           string `json:"name"`
	UnsubscribeURL string `json:"unsubscribeUrl,omitempty"`
	FaviconURL     string `json:"faviconUrl,omitempty"`
}

// AddressInfo is a parsed From header
type AddressInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

// EmailMetadata is the per-message projection used for classification.
// It is never persisted beyond the scan.
type EmailMetadata struct {
	ID                string      `json:"id"`
	FromRaw           string      `json:"fromRaw"`
	From              AddressInfo `json:"from"`
	Subject           string      `json:"subject"`
	Snippet           string      `json:"snippet,omitempty"`
	Date              time.Time   `json:"date"`
	IsRead            bool        `json:"isRead"`
	IsStarred         bool        `json:"isStarred"`
	IsImportant       bool        `json:"isImportant"`
	UnsubscribeHeader string      `json:"unsubscribeHeader,omitempty"`
	ListID            string      `json:"listId,omitempty"`
}

// JobStatusView is the read-only status projection returned to clients.
// Result is populated only for completed jobs.
type JobStatusView struct {
	ID                     string             `json:"id"`
	Status                 ScanStatus         `json:"status"`
	ProcessedCount         int                `json:"processedCount"`
	TotalToScan            int                `json:"totalToScan"`
	NewslettersFoundCount  int                `json:"newslettersFoundCount"`
	PercentComplete        float64            `json:"percentComplete"`
	ProcessingSpeed        float64            `json:"processingSpeed"`
	ElapsedSeconds         float64            `json:"elapsedSeconds"`
	EstimatedTimeRemaining *float64           `json:"estimatedTimeRemaining,omitempty"`
	Error                  *string            `json:"error,omitempty"`
	Result                 []NewsletterSender `json:"result,omitempty"`
	StartedAt              *time.Time         `json:"startedAt,omitempty"`
	UpdatedAt              time.Time          `json:"updatedAt"`
	CompletedAt            *time.Time         `json:"completedAt,omitempty"`
}

// ServiceError represents a structured error response
type ServiceError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *ServiceError) Error() string {
	return e.Message
}
