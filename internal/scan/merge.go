package scan

import (
	"sort"

	"github.com/newsletter-scanner/internal/types"
)

// MergeSenders merges newly found senders into the accumulated set, keyed
// by address. A new address is inserted as-is. For a known address the
// existing record wins, except that empty optional fields (unsubscribe
// URL, favicon URL) are backfilled from the new record. A populated field
// is never overwritten, which makes the merge commutative over any
// ordering of the found list.
func MergeSenders(existing map[string]types.NewsletterSender, found []types.NewsletterSender) map[string]types.NewsletterSender {
	merged := make(map[string]types.NewsletterSender, len(existing)+len(found))
	for addr, sender := range existing {
		merged[addr] = sender
	}

	for _, sender := range found {
		if sender.Address == "" {
			continue
		}

		current, ok := merged[sender.Address]
		if !ok {
			merged[sender.Address] = sender
			continue
		}

		if current.UnsubscribeURL == "" && sender.UnsubscribeURL != "" {
			current.UnsubscribeURL = sender.UnsubscribeURL
		}
		if current.FaviconURL == "" && sender.FaviconURL != "" {
			current.FaviconURL = sender.FaviconURL
		}
		if current.Name == "" && sender.Name != "" {
			current.Name = sender.Name
		}
		merged[sender.Address] = current
	}

	return merged
}

// SenderList flattens a merged sender map into a list ordered by address,
// so persisted results are deterministic
func SenderList(senders map[string]types.NewsletterSender) []types.NewsletterSender {
	list := make([]types.NewsletterSender, 0, len(senders))
	for _, sender := range senders {
		list = append(list, sender)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].Address < list[j].Address
	})
	return list
}
