package nostr

import (
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// DefaultRelays is the fallback relay set used when nothing else resolves
var DefaultRelays = []string{
	"wss://relay.damus.io/",
	"wss://nos.lol/",
	"wss://nostr.mom/",
}

// RelaySet is an insertion-ordered set of normalized relay URLs
type RelaySet struct {
	urls []string
	seen map[string]bool
}

// NewRelaySet creates an empty relay set
func NewRelaySet() *RelaySet {
	return &RelaySet{seen: make(map[string]bool)}
}

// Add normalizes and inserts relays, skipping blanks and duplicates
func (s *RelaySet) Add(relays ...string) {
	for _, relay := range relays {
		relay = strings.TrimSpace(relay)
		if relay == "" {
			continue
		}
		normalized := nostr.NormalizeURL(relay)
		if normalized == "" || s.seen[normalized] {
			continue
		}
		s.seen[normalized] = true
		s.urls = append(s.urls, normalized)
	}
}

// Len returns the number of relays in the set
func (s *RelaySet) Len() int {
	return len(s.urls)
}

// Contains reports whether relay is in the set after normalization
func (s *RelaySet) Contains(relay string) bool {
	return s.seen[nostr.NormalizeURL(relay)]
}

// List returns a copy of the relays in insertion order
func (s *RelaySet) List() []string {
	out := make([]string, len(s.urls))
	copy(out, s.urls)
	return out
}

// NormalizeRelays deduplicates and normalizes a relay list
func NormalizeRelays(relays []string) []string {
	set := NewRelaySet()
	set.Add(relays...)
	return set.List()
}
