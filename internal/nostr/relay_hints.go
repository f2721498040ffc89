package nostr

import (
	"fmt"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

// RelayHint is one entry of a NIP-65 relay list
type RelayHint struct {
	Pubkey   string `json:"pubkey"`
	Relay    string `json:"relay"`
	CanRead  bool   `json:"read"`
	CanWrite bool   `json:"write"`
}

// ParseRelayHints extracts relay hints from a NIP-65 kind 10002 event
func ParseRelayHints(event *nostr.Event) ([]RelayHint, error) {
	if event.Kind != nostr.KindRelayListMetadata {
		return nil, fmt.Errorf("expected kind 10002, got %d", event.Kind)
	}

	hints := make([]RelayHint, 0, len(event.Tags))

	for _, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "r" {
			continue
		}

		relay := strings.TrimSpace(tag[1])
		if relay == "" || !ValidateRelayURL(relay) {
			continue
		}

		hint := RelayHint{
			Pubkey:   event.PubKey,
			Relay:    nostr.NormalizeURL(relay),
			CanRead:  true,
			CanWrite: true,
		}

		// No marker means both
		if len(tag) >= 3 {
			switch strings.ToLower(tag[2]) {
			case "read":
				hint.CanWrite = false
			case "write":
				hint.CanRead = false
			}
		}

		hints = append(hints, hint)
	}

	return hints, nil
}

// ReadRelays returns the relays marked read-capable, in list order
func ReadRelays(hints []RelayHint) []string {
	relays := make([]string, 0, len(hints))
	for _, hint := range hints {
		if hint.CanRead {
			relays = append(relays, hint.Relay)
		}
	}
	return relays
}

// BuildRelayListEvent creates an unsigned NIP-65 kind 10002 event
func BuildRelayListEvent(hints []RelayHint) *nostr.Event {
	event := &nostr.Event{
		Kind:      nostr.KindRelayListMetadata,
		CreatedAt: nostr.Now(),
		Tags:      make(nostr.Tags, 0, len(hints)),
	}

	for _, hint := range hints {
		tag := make(nostr.Tag, 0, 3)
		tag = append(tag, "r", hint.Relay)

		if hint.CanRead && !hint.CanWrite {
			tag = append(tag, "read")
		} else if hint.CanWrite && !hint.CanRead {
			tag = append(tag, "write")
		}

		event.Tags = append(event.Tags, tag)
	}

	return event
}

// ValidateRelayURL performs basic validation on a relay URL
func ValidateRelayURL(url string) bool {
	return nostr.IsValidRelayURL(url)
}
