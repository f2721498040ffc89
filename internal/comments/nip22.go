package comments

import (
	"regexp"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip13"
)

const (
	// KindComment is the NIP-22 comment kind
	KindComment = 1111
	// KindReaction is the NIP-25 reaction kind
	KindReaction = 7
	// KindRelayList is the NIP-65 relay list kind
	KindRelayList = 10002

	// RootKindWeb marks a comment scoped to an external web URL
	RootKindWeb = "web"
)

var hex64 = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// IsValidPubkey reports whether s is a 64 character hex public key
func IsValidPubkey(s string) bool {
	return hex64.MatchString(s)
}

// BuildRootComment creates an unsigned top-level comment for a page.
// An invalid mention is dropped rather than reported.
func BuildRootComment(url, content, mention string) nostr.Event {
	tags := nostr.Tags{
		{"I", url},
		{"K", RootKindWeb},
		{"i", url},
		{"k", RootKindWeb},
	}

	if IsValidPubkey(mention) {
		tags = append(tags, nostr.Tag{"P", mention}, nostr.Tag{"p", mention})
	}

	return nostr.Event{
		Kind:      KindComment,
		Content:   content,
		Tags:      tags,
		CreatedAt: nostr.Now(),
	}
}

// BuildReply creates an unsigned reply to parent.
// relayHint is where the parent was seen, empty when unknown.
func BuildReply(url, content string, parent *nostr.Event, relayHint, mention string) nostr.Event {
	tags := nostr.Tags{
		{"I", url},
		{"K", RootKindWeb},
	}

	if IsValidPubkey(mention) {
		tags = append(tags, nostr.Tag{"P", mention})
	}

	tags = append(tags,
		nostr.Tag{"e", parent.ID, relayHint, parent.PubKey},
		nostr.Tag{"k", "1111"},
		nostr.Tag{"p", parent.PubKey},
	)

	return nostr.Event{
		Kind:      KindComment,
		Content:   content,
		Tags:      tags,
		CreatedAt: nostr.Now(),
	}
}

// firstTagValue returns the value of the first tag named name.
// Tags shorter than two elements are skipped.
func firstTagValue(evt *nostr.Event, name string) (string, bool) {
	if evt == nil {
		return "", false
	}
	for _, tag := range evt.Tags {
		if len(tag) >= 2 && tag[0] == name {
			return tag[1], true
		}
	}
	return "", false
}

// ParentID returns the id referenced by the first e tag
func ParentID(evt *nostr.Event) (string, bool) {
	return firstTagValue(evt, "e")
}

// RootURL returns the page URL referenced by the first I tag
func RootURL(evt *nostr.Event) (string, bool) {
	return firstTagValue(evt, "I")
}

// IsReply returns true if the comment has a parent reference
func IsReply(evt *nostr.Event) bool {
	_, ok := ParentID(evt)
	return ok
}

// Difficulty counts the leading zero bits of an event id.
// Malformed ids count as zero.
func Difficulty(id string) int {
	if len(id) != 64 {
		return 0
	}
	d := nip13.Difficulty(id)
	if d < 0 {
		return 0
	}
	return d
}

// FilterByPow keeps the events whose id meets minDifficulty.
// The input slice is not modified.
func FilterByPow(events []*nostr.Event, minDifficulty int) []*nostr.Event {
	if minDifficulty <= 0 {
		return events
	}

	filtered := make([]*nostr.Event, 0, len(events))
	for _, evt := range events {
		if Difficulty(evt.ID) >= minDifficulty {
			filtered = append(filtered, evt)
		}
	}
	return filtered
}
