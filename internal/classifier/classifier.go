// Package classifier decides whether a message looks like a newsletter and
// extracts the sender candidate from its metadata. All functions are pure:
// no I/O, no side effects, deterministic for a given input.
package classifier

import (
	"fmt"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/newsletter-scanner/internal/types"
)

// Lexical markers that flag a sender or subject as newsletter-like
var markerPattern = regexp.MustCompile(`(?i)newsletter|update|digest|weekly|monthly|daily`)

// Stronger markers that override the smart-filter exclusions
var strongMarkerPattern = regexp.MustCompile(`(?i)newsletter|digest|weekly|monthly`)

// Reply/forward subjects are never newsletters
var replyPattern = regexp.MustCompile(`(?i)^(re:|fw:|fwd:)`)

// parenForm matches the "addr@domain (Name)" From variant
var parenForm = regexp.MustCompile(`^([^(]+)\s*\(([^)]+)\)\s*$`)

// Sender address prefixes/suffixes that usually mean transactional or
// security mail rather than a subscription
var excludedSenderPatterns = []string{
	"@google.com", ".google.com",
	"@apple.com", ".apple.com",
	"@microsoft.com", ".microsoft.com",
	"@github.com", "@amazon.com", "@facebook.com", "@linkedin.com",
	"support.", "service.", "help.",
	"noreply.", "no-reply.", "donotreply.", "do-not-reply.",
	"account.", "accounts.", "security.", "verification.",
	"alert.", "alerts.", "notification.", "notifications.",
	"billing.", "payment.", "info.", "confirm.", "confirmation.",
	"auth.", "team.", "admin.", "status.", "system.",
}

// Classify reports whether the message looks like a newsletter.
//
// A List-Unsubscribe or List-Id header is definitive. Otherwise the sender
// string and subject are checked against lexical markers. With smart
// filtering enabled, common transactional sender patterns are excluded
// first unless a strong marker confirms the message anyway. False
// positives are acceptable; false negatives only reduce recall.
func Classify(meta *types.EmailMetadata, smartFiltering bool) bool {
	if meta.UnsubscribeHeader != "" || meta.ListID != "" {
		return true
	}

	address := strings.ToLower(meta.From.Address)
	if address == "" || meta.Subject == "" {
		return false
	}

	if smartFiltering {
		domainPart := address[strings.Index(address, "@")+1:]
		for _, pattern := range excludedSenderPatterns {
			var excluded bool
			if strings.HasPrefix(pattern, "@") || strings.HasPrefix(pattern, ".") {
				excluded = strings.HasSuffix(address, pattern)
			} else {
				excluded = strings.HasPrefix(domainPart, pattern)
			}
			if excluded {
				return strongMarkerPattern.MatchString(meta.FromRaw)
			}
		}

		if replyPattern.MatchString(meta.Subject) {
			return false
		}
	}

	return markerPattern.MatchString(meta.FromRaw) || markerPattern.MatchString(meta.Subject)
}

// ExtractSender builds the sender candidate for a classified message
func ExtractSender(meta *types.EmailMetadata) types.NewsletterSender {
	info := meta.From
	if info.Address == "" {
		info = ParseAddress(meta.FromRaw)
	}

	name := info.Name
	if name == "" {
		name = info.Address
	}

	return types.NewsletterSender{
		Address:        info.Address,
		Name:           name,
		UnsubscribeURL: ExtractUnsubscribeURL(meta.UnsubscribeHeader),
		FaviconURL:     FaviconURL(info.Address),
	}
}

// ParseAddress parses a raw From header into name and address. It handles
// "Name <addr@domain>", "addr@domain (Name)" and bare-address forms; on a
// bare address the local part doubles as the display name.
func ParseAddress(from string) types.AddressInfo {
	from = strings.TrimSpace(from)
	if from == "" {
		return types.AddressInfo{}
	}

	if addr, err := mail.ParseAddress(from); err == nil {
		name := strings.TrimSpace(addr.Name)
		if name == "" {
			name = localPart(addr.Address)
		}
		return types.AddressInfo{Name: name, Address: strings.TrimSpace(addr.Address)}
	}

	if m := parenForm.FindStringSubmatch(from); m != nil && strings.Contains(m[1], "@") {
		return types.AddressInfo{
			Name:    trimQuotes(strings.TrimSpace(m[2])),
			Address: strings.TrimSpace(m[1]),
		}
	}

	if strings.Contains(from, "@") {
		return types.AddressInfo{Name: localPart(from), Address: from}
	}

	return types.AddressInfo{}
}

// ExtractUnsubscribeURL returns the first HTTP(S) URL from a
// List-Unsubscribe header. The header holds comma-separated angle-bracketed
// entries like "<https://example.com/unsub>, <mailto:unsub@example.com>";
// mailto entries are skipped.
func ExtractUnsubscribeURL(header string) string {
	if header == "" {
		return ""
	}

	for _, part := range strings.Split(header, ",") {
		part = strings.TrimSpace(part)
		part = strings.TrimPrefix(part, "<")
		part = strings.TrimSuffix(part, ">")

		lower := strings.ToLower(part)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			return part
		}
	}

	return ""
}

// FaviconURL derives a favicon lookup URL from the sender's domain.
// No network call happens here; the URL is resolved by the client.
func FaviconURL(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return ""
	}
	domain := address[at+1:]
	return fmt.Sprintf("https://www.google.com/s2/favicons?domain=%s&sz=128", url.QueryEscape(domain))
}

func localPart(address string) string {
	if at := strings.IndexByte(address, '@'); at > 0 {
		return address[:at]
	}
	return address
}

func trimQuotes(s string) string {
	if len(s) >= 2 && strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`) {
		s = s[1 : len(s)-1]
	}
	return strings.ReplaceAll(s, `\"`, "")
}
