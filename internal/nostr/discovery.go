package nostr

import (
	"context"
	"fmt"

	"github.com/CodyTseng/nostr-comments/internal/comments"
	"github.com/CodyTseng/nostr-comments/internal/config"
	"github.com/CodyTseng/nostr-comments/internal/ops"
	"github.com/nbd-wtf/go-nostr"
)

// EventFetcher runs one-shot queries. *Client implements it.
type EventFetcher interface {
	FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error)
}

// Resolver decides which relays a page's comments live on
type Resolver struct {
	fetcher  EventFetcher
	lookup   []string
	defaults []string
	cache    RelayListCache
	logger   *ops.Logger
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithRelayListCache sets the cache used for NIP-65 lookups
func WithRelayListCache(cache RelayListCache) ResolverOption {
	return func(r *Resolver) {
		r.cache = cache
	}
}

// WithResolverLogger sets the resolver logger
func WithResolverLogger(logger *ops.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger.WithComponent("resolver")
	}
}

// NewResolver creates a resolver. Lookup relays default to the fallback set
// when none are configured.
func NewResolver(fetcher EventFetcher, cfg *config.Relays, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		fetcher:  fetcher,
		defaults: DefaultRelays,
		logger:   ops.Discard(),
	}
	if cfg != nil {
		if len(cfg.Defaults) > 0 {
			r.defaults = cfg.Defaults
		}
		r.lookup = cfg.Lookup
	}
	if len(r.lookup) == 0 {
		r.lookup = r.defaults
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ResolveRelays returns explicit relays plus the read relays of mention's
// relay list, falling back to the defaults when both are empty. A failed
// relay list lookup counts as no list.
func (r *Resolver) ResolveRelays(ctx context.Context, explicit []string, mention string) []string {
	set := NewRelaySet()
	set.Add(explicit...)

	if comments.IsValidPubkey(mention) {
		relays, err := r.InboxRelays(ctx, mention)
		if err != nil {
			r.logger.Warn("relay list lookup failed", "pubkey", mention, "error", err)
		}
		set.Add(relays...)
	}

	if set.Len() == 0 {
		set.Add(r.defaults...)
	}

	return set.List()
}

// InboxRelays returns where pubkey RECEIVES interactions (read relays)
func (r *Resolver) InboxRelays(ctx context.Context, pubkey string) ([]string, error) {
	if r.cache != nil {
		if relays, ok := r.cache.Get(ctx, pubkey); ok {
			return relays, nil
		}
	}

	hints, err := r.FetchRelayList(ctx, pubkey)
	if err != nil {
		return nil, err
	}

	relays := ReadRelays(hints)
	if r.cache != nil {
		r.cache.Set(ctx, pubkey, relays)
	}
	return relays, nil
}

// FetchRelayList fetches the newest NIP-65 relay list of pubkey from the
// lookup relays. A pubkey without a list yields no hints and no error.
func (r *Resolver) FetchRelayList(ctx context.Context, pubkey string) ([]RelayHint, error) {
	filter := nostr.Filter{
		Kinds:   []int{nostr.KindRelayListMetadata},
		Authors: []string{pubkey},
		Limit:   1,
	}

	events, err := r.fetcher.FetchEvents(ctx, r.lookup, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch relay list: %w", err)
	}

	var newest *nostr.Event
	for _, evt := range events {
		if evt.PubKey != pubkey || evt.Kind != nostr.KindRelayListMetadata {
			continue
		}
		if newest == nil || evt.CreatedAt > newest.CreatedAt {
			newest = evt
		}
	}
	if newest == nil {
		return nil, nil
	}

	hints, err := ParseRelayHints(newest)
	if err != nil {
		return nil, fmt.Errorf("failed to parse relay hints: %w", err)
	}
	return hints, nil
}

// Defaults returns the fallback relay set
func (r *Resolver) Defaults() []string {
	return NormalizeRelays(r.defaults)
}
