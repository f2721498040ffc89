package nostr

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/nbd-wtf/go-nostr/nip11"
)

// NIP22 is the comment NIP number advertised in relay information documents
const NIP22 = 22

// RelayInfo is the part of a NIP-11 relay information document we use
type RelayInfo struct {
	URL           string `json:"-"`
	Name          string `json:"name"`
	Description   string `json:"description"`
	Software      string `json:"software"`
	Version       string `json:"version"`
	SupportedNIPs []any  `json:"supported_nips"`
}

// Supports reports whether the relay lists nip among its supported NIPs.
// Some relays publish numbers as strings.
func (i *RelayInfo) Supports(nip int) bool {
	for _, v := range i.SupportedNIPs {
		switch n := v.(type) {
		case int:
			if n == nip {
				return true
			}
		case float64:
			if int(n) == nip {
				return true
			}
		case string:
			if n == strconv.Itoa(nip) {
				return true
			}
		}
	}
	return false
}

// FetchRelayInfo fetches the NIP-11 document of a relay
func (c *Client) FetchRelayInfo(ctx context.Context, wsURL string) (*RelayInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, c.GetDefaultTimeout())
	defer cancel()

	doc, err := nip11.Fetch(ctx, wsURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch NIP-11 info: %w", err)
	}

	info := &RelayInfo{
		URL:         wsURL,
		Name:        doc.Name,
		Description: doc.Description,
		Software:    doc.Software,
		Version:     doc.Version,
	}
	for _, nip := range doc.SupportedNIPs {
		info.SupportedNIPs = append(info.SupportedNIPs, any(nip))
	}
	return info, nil
}

// FetchRelayInfos fetches NIP-11 documents for every relay concurrently.
// Relays that fail are reported in the error map.
func (c *Client) FetchRelayInfos(ctx context.Context, relays []string) (map[string]*RelayInfo, map[string]error) {
	type result struct {
		relay string
		info  *RelayInfo
		err   error
	}

	ctx, cancel := context.WithTimeout(ctx, c.GetDefaultTimeout()+time.Second)
	defer cancel()

	results := make(chan result, len(relays))
	for _, relay := range relays {
		go func(relay string) {
			info, err := c.FetchRelayInfo(ctx, relay)
			results <- result{relay: relay, info: info, err: err}
		}(relay)
	}

	infos := make(map[string]*RelayInfo)
	errs := make(map[string]error)
	for range relays {
		r := <-results
		if r.err != nil {
			errs[r.relay] = r.err
			continue
		}
		infos[r.relay] = r.info
	}
	return infos, errs
}
