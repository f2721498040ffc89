package nostr

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/CodyTseng/nostr-comments/internal/config"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/redis/go-redis/v9"
)

const redisKeyPrefix = "nostr-comments:relaylist:"

// RelayListCache stores resolved read relays per pubkey
type RelayListCache interface {
	Get(ctx context.Context, pubkey string) ([]string, bool)
	Set(ctx context.Context, pubkey string, relays []string)
}

// NewRelayListCache builds the cache selected by the caching config.
// It returns nil when caching is disabled.
func NewRelayListCache(cfg *config.Caching) (RelayListCache, error) {
	if cfg == nil || !cfg.Enabled {
		return nil, nil
	}

	ttl := time.Duration(cfg.RelayListTTL) * time.Second

	switch cfg.Engine {
	case "", "memory":
		return NewMemoryRelayListCache(ttl), nil
	case "redis":
		cache, err := NewRedisRelayListCache(cfg.RedisURL, ttl)
		if err != nil {
			return nil, err
		}
		return cache, nil
	default:
		return nil, fmt.Errorf("unsupported cache engine: %s", cfg.Engine)
	}
}

type cachedRelays struct {
	relays  []string
	expires time.Time
}

// MemoryRelayListCache keeps relay lists in process memory
type MemoryRelayListCache struct {
	entries *xsync.MapOf[string, cachedRelays]
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryRelayListCache creates an in-memory cache. A zero ttl never expires.
func NewMemoryRelayListCache(ttl time.Duration) *MemoryRelayListCache {
	return &MemoryRelayListCache{
		entries: xsync.NewMapOf[string, cachedRelays](),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns the cached relays for pubkey, dropping expired entries
func (c *MemoryRelayListCache) Get(_ context.Context, pubkey string) ([]string, bool) {
	entry, ok := c.entries.Load(pubkey)
	if !ok {
		return nil, false
	}
	if !entry.expires.IsZero() && c.now().After(entry.expires) {
		c.entries.Delete(pubkey)
		return nil, false
	}
	out := make([]string, len(entry.relays))
	copy(out, entry.relays)
	return out, true
}

// Set stores relays for pubkey
func (c *MemoryRelayListCache) Set(_ context.Context, pubkey string, relays []string) {
	entry := cachedRelays{relays: append([]string(nil), relays...)}
	if c.ttl > 0 {
		entry.expires = c.now().Add(c.ttl)
	}
	c.entries.Store(pubkey, entry)
}

// Len returns the number of cached entries, expired ones included
func (c *MemoryRelayListCache) Len() int {
	return c.entries.Size()
}

// RedisRelayListCache shares relay lists across processes through redis
type RedisRelayListCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisRelayListCache connects to redis at url
func NewRedisRelayListCache(url string, ttl time.Duration) (*RedisRelayListCache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &RedisRelayListCache{
		client: redis.NewClient(opts),
		ttl:    ttl,
	}, nil
}

// Get returns the cached relays for pubkey. Redis errors count as a miss.
func (c *RedisRelayListCache) Get(ctx context.Context, pubkey string) ([]string, bool) {
	data, err := c.client.Get(ctx, redisKeyPrefix+pubkey).Bytes()
	if err != nil {
		return nil, false
	}

	var relays []string
	if err := json.Unmarshal(data, &relays); err != nil {
		return nil, false
	}
	return relays, true
}

// Set stores relays for pubkey with the configured ttl
func (c *RedisRelayListCache) Set(ctx context.Context, pubkey string, relays []string) {
	if relays == nil {
		relays = []string{}
	}
	data, err := json.Marshal(relays)
	if err != nil {
		return
	}
	c.client.Set(ctx, redisKeyPrefix+pubkey, data, c.ttl)
}

// Ping checks the redis connection
func (c *RedisRelayListCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping failed: %w", err)
	}
	return nil
}

// Close closes the redis connection
func (c *RedisRelayListCache) Close() error {
	return c.client.Close()
}
