package sync

import (
	"strings"

	"github.com/CodyTseng/nostr-comments/internal/comments"
	"github.com/nbd-wtf/go-nostr"
)

// DefaultPageSize is used when a page does not set one
const DefaultPageSize = 50

// URLVariants returns url and its trailing-slash twin so comments tagged
// with either spelling are found.
func URLVariants(url string) []string {
	if url == "" {
		return nil
	}
	if strings.HasSuffix(url, "/") {
		return []string{url, strings.TrimSuffix(url, "/")}
	}
	return []string{url, url + "/"}
}

// CommentFilter builds the query for comments scoped to url. until is
// omitted when nil.
func CommentFilter(url string, pageSize int, until *nostr.Timestamp) nostr.Filter {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	filter := nostr.Filter{
		Kinds: []int{comments.KindComment},
		Tags:  nostr.TagMap{"I": URLVariants(url)},
		Limit: pageSize,
	}
	if until != nil {
		ts := *until
		filter.Until = &ts
	}
	return filter
}
