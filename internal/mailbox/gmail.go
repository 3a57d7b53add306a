package mailbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"github.com/newsletter-scanner/internal/classifier"
	"github.com/newsletter-scanner/internal/types"
)

const gmailUser = "me"

// metadataHeaders are the only headers fetched per message; bodies are
// never retrieved during a scan
var metadataHeaders = []string{"From", "Subject", "Date", "List-Unsubscribe", "List-Id"}

// TokenProvider supplies OAuth token sources per owner. The surrounding
// product's identity layer implements this; tests and single-user
// deployments use StaticTokenProvider.
type TokenProvider interface {
	TokenSource(ctx context.Context, ownerID string) (oauth2.TokenSource, error)
}

// StaticTokenProvider returns the same refresh token for every owner.
// Useful for development and single-mailbox deployments only.
type StaticTokenProvider struct {
	Config       *oauth2.Config
	RefreshToken string
}

// TokenSource implements TokenProvider
func (p *StaticTokenProvider) TokenSource(ctx context.Context, ownerID string) (oauth2.TokenSource, error) {
	if p.RefreshToken == "" {
		return nil, &Error{Kind: KindAuth, Message: "no refresh token configured"}
	}
	return p.Config.TokenSource(ctx, &oauth2.Token{RefreshToken: p.RefreshToken}), nil
}

// GmailClientFactory builds per-owner Gmail clients
type GmailClientFactory struct {
	tokens TokenProvider
}

// NewGmailClientFactory creates a Gmail client factory
func NewGmailClientFactory(tokens TokenProvider) *GmailClientFactory {
	return &GmailClientFactory{tokens: tokens}
}

// ClientFor builds a Gmail client bound to ownerID's credentials
func (f *GmailClientFactory) ClientFor(ctx context.Context, ownerID string) (Client, error) {
	ts, err := f.tokens.TokenSource(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("token source for owner %s: %w", ownerID, err)
	}

	svc, err := gmail.NewService(ctx, option.WithTokenSource(ts))
	if err != nil {
		return nil, mapGmailError(err, "create gmail service")
	}

	return &gmailClient{svc: svc}, nil
}

// gmailClient implements Client over the Gmail REST API
type gmailClient struct {
	svc *gmail.Service
}

// GetProfile returns the mailbox profile with its total message count
func (c *gmailClient) GetProfile(ctx context.Context) (*Profile, error) {
	profile, err := c.svc.Users.GetProfile(gmailUser).Context(ctx).Do()
	if err != nil {
		return nil, mapGmailError(err, "get profile")
	}

	return &Profile{
		EmailAddress:  profile.EmailAddress,
		TotalMessages: int(profile.MessagesTotal),
	}, nil
}

// ListMessageIDs lists one page of message ids starting at the cursor
func (c *gmailClient) ListMessageIDs(ctx context.Context, req *ListRequest) (*MessagePage, error) {
	call := c.svc.Users.Messages.List(gmailUser).
		MaxResults(int64(req.PageSize)).
		Context(ctx)
	if req.Cursor != "" {
		call = call.PageToken(req.Cursor)
	}
	if req.Query != "" {
		call = call.Q(req.Query)
	}

	resp, err := call.Do()
	if err != nil {
		return nil, mapGmailError(err, "list messages")
	}

	page := &MessagePage{NextCursor: resp.NextPageToken}
	for _, m := range resp.Messages {
		if m.Id != "" {
			page.IDs = append(page.IDs, m.Id)
		}
	}

	return page, nil
}

// GetMessageMetadata fetches the classification headers for one message
func (c *gmailClient) GetMessageMetadata(ctx context.Context, id string) (*types.EmailMetadata, error) {
	msg, err := c.svc.Users.Messages.Get(gmailUser, id).
		Format("metadata").
		MetadataHeaders(metadataHeaders...).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapGmailError(err, fmt.Sprintf("get message %s", id))
	}

	meta := &types.EmailMetadata{
		ID:      msg.Id,
		Snippet: msg.Snippet,
	}

	if msg.Payload != nil {
		for _, h := range msg.Payload.Headers {
			switch strings.ToLower(h.Name) {
			case "from":
				meta.FromRaw = h.Value
				meta.From = classifier.ParseAddress(h.Value)
			case "subject":
				meta.Subject = h.Value
			case "date":
				if ts, err := mailDate(h.Value); err == nil {
					meta.Date = ts
				}
			case "list-unsubscribe":
				meta.UnsubscribeHeader = h.Value
			case "list-id":
				meta.ListID = h.Value
			}
		}
	}

	meta.IsRead = !containsLabel(msg.LabelIds, "UNREAD")
	meta.IsStarred = containsLabel(msg.LabelIds, "STARRED")
	meta.IsImportant = containsLabel(msg.LabelIds, "IMPORTANT")

	return meta, nil
}

// BuildQuery compiles category settings into a Gmail search query.
// Selecting all five categories is the same as no filter, so it yields an
// empty query.
func BuildQuery(categories *types.Categories) string {
	if categories == nil {
		return ""
	}

	var parts []string
	if categories.Primary {
		parts = append(parts, "category:primary")
	}
	if categories.Promotions {
		parts = append(parts, "category:promotions")
	}
	if categories.Social {
		parts = append(parts, "category:social")
	}
	if categories.Updates {
		parts = append(parts, "category:updates")
	}
	if categories.Forums {
		parts = append(parts, "category:forums")
	}

	if len(parts) == 0 || len(parts) == 5 {
		return ""
	}
	return "(" + strings.Join(parts, " OR ") + ")"
}

// mapGmailError converts a Gmail API failure into a kinded mailbox error
func mapGmailError(err error, op string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			return &Error{Kind: KindAuth, Message: op, Cause: err}
		case apiErr.Code == http.StatusTooManyRequests:
			return &Error{Kind: KindRateLimit, Message: op, Cause: err}
		case apiErr.Code == http.StatusForbidden:
			// Gmail reports quota exhaustion as 403 with a rate-limit reason
			if isQuotaReason(apiErr) {
				return &Error{Kind: KindRateLimit, Message: op, Cause: err}
			}
			return &Error{Kind: KindAuth, Message: op, Cause: err}
		case apiErr.Code == http.StatusNotFound:
			return &Error{Kind: KindNotFound, Message: op, Cause: err}
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid_grant"), strings.Contains(msg, "invalid credentials"):
		return &Error{Kind: KindAuth, Message: op, Cause: err}
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "quota"):
		return &Error{Kind: KindRateLimit, Message: op, Cause: err}
	}

	return &Error{Kind: KindTransient, Message: op, Cause: err}
}

func isQuotaReason(apiErr *googleapi.Error) bool {
	for _, e := range apiErr.Errors {
		switch e.Reason {
		case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
			return true
		}
	}
	return false
}

func containsLabel(labels []string, label string) bool {
	for _, l := range labels {
		if l == label {
			return true
		}
	}
	return false
}

// mailDate parses the formats seen in Date headers
func mailDate(value string) (time.Time, error) {
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
	}
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date format: %q", value)
}
