// Package mailbox defines the mailbox client contract the scan engine
// depends on, plus the Gmail implementation of it.
package mailbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/newsletter-scanner/internal/types"
)

// Profile describes the mailbox being scanned
type Profile struct {
	EmailAddress  string `json:"emailAddress"`
	TotalMessages int    `json:"totalMessages"`
}

// MessagePage is one page of message ids. An empty NextCursor means the
// listing is exhausted; cursors are opaque and must never be fabricated.
type MessagePage struct {
	IDs        []string `json:"ids"`
	NextCursor string   `json:"nextCursor,omitempty"`
}

// ListRequest selects one page of message ids
type ListRequest struct {
	Cursor   string // empty means start from the beginning
	PageSize int
	Query    string // provider query string, e.g. Gmail category filters
}

// Client lists message ids and fetches per-message metadata for one
// mailbox. Implementations are scoped to a single owner.
type Client interface {
	GetProfile(ctx context.Context) (*Profile, error)
	ListMessageIDs(ctx context.Context, req *ListRequest) (*MessagePage, error)
	GetMessageMetadata(ctx context.Context, id string) (*types.EmailMetadata, error)
}

// ClientFactory builds a mailbox client for a specific owner. There is no
// shared process-wide client: every job constructs its own, bound to the
// owner's credentials.
type ClientFactory interface {
	ClientFor(ctx context.Context, ownerID string) (Client, error)
}

// ErrorKind distinguishes mailbox failures the scan engine reacts to
// differently
type ErrorKind string

const (
	// KindAuth means credentials are invalid or expired; fatal to a chunk
	KindAuth ErrorKind = "auth"
	// KindRateLimit means the provider throttled us
	KindRateLimit ErrorKind = "rate_limit"
	// KindNotFound means the message or resource does not exist
	KindNotFound ErrorKind = "not_found"
	// KindTransient covers everything recoverable by skip or retry
	KindTransient ErrorKind = "transient"
)

// Error is a mailbox failure tagged with its kind
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("mailbox %s error: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("mailbox %s error: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the error kind for err, defaulting to transient for
// errors that did not come from a mailbox client
func KindOf(err error) ErrorKind {
	var mbErr *Error
	if errors.As(err, &mbErr) {
		return mbErr.Kind
	}
	return KindTransient
}

// IsAuth reports whether err is an authentication/authorization failure
func IsAuth(err error) bool {
	return KindOf(err) == KindAuth
}

// IsRateLimit reports whether err is a provider throttle
func IsRateLimit(err error) bool {
	return KindOf(err) == KindRateLimit
}
