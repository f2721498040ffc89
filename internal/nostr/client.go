package nostr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CodyTseng/nostr-comments/internal/config"
	"github.com/CodyTseng/nostr-comments/internal/ops"
	"github.com/nbd-wtf/go-nostr"
)

var (
	// ErrNoRelays is returned when an operation is given an empty relay set
	ErrNoRelays = errors.New("no relays")
	// ErrPublishFailed is returned when no relay accepted an event
	ErrPublishFailed = errors.New("failed to publish to any relay")
	// ErrRelaysUnreachable is returned when no relay of a query accepted a
	// connection
	ErrRelaysUnreachable = errors.New("no relay reachable")
)

// Pool is the subset of nostr.SimplePool the client relies on
type Pool interface {
	EnsureRelay(url string) (*nostr.Relay, error)
	FetchMany(ctx context.Context, urls []string, filter nostr.Filter, opts ...nostr.SubscriptionOption) chan nostr.RelayEvent
	SubscribeManyNotifyEOSE(ctx context.Context, urls []string, filter nostr.Filter, eoseChan chan struct{}, opts ...nostr.SubscriptionOption) chan nostr.RelayEvent
	PublishMany(ctx context.Context, urls []string, evt nostr.Event) chan nostr.PublishResult
	Close(reason string)
}

// Delivery is an event together with the relay it arrived from
type Delivery struct {
	Event *nostr.Event
	Relay string
}

// Client provides a high-level interface for interacting with Nostr relays
type Client struct {
	pool        Pool
	relayConfig *config.Relays
	logger      *ops.Logger
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithPool replaces the relay pool
func WithPool(pool Pool) ClientOption {
	return func(c *Client) {
		c.pool = pool
	}
}

// WithLogger sets the client logger
func WithLogger(logger *ops.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.WithComponent("relays")
	}
}

// New creates a new Nostr client with the given configuration
func New(ctx context.Context, relayConfig *config.Relays, opts ...ClientOption) *Client {
	c := &Client{
		relayConfig: relayConfig,
		logger:      ops.Discard(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.pool == nil {
		c.pool = nostr.NewSimplePool(ctx)
	}
	return c
}

// Query runs a one-shot request and returns once every relay has sent its
// stored events or the query timeout elapsed. Relays that fail are skipped,
// but when none of them can be reached the query fails with
// ErrRelaysUnreachable so an empty result always means an empty answer.
// Cancelling ctx is reported as an error along with whatever arrived.
func (c *Client) Query(ctx context.Context, relays []string, filter nostr.Filter) ([]Delivery, error) {
	if len(relays) == 0 {
		return nil, ErrNoRelays
	}

	queryCtx, cancel := context.WithTimeout(ctx, c.QueryTimeout())
	defer cancel()

	reachable, err := c.connect(queryCtx, relays)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("query interrupted: %w", ctxErr)
		}
		c.logger.LogSubscription("query", relays, 0)
		return nil, err
	}

	deliveries := make([]Delivery, 0)
	seen := make(map[string]bool)
	for relayEvent := range c.pool.FetchMany(queryCtx, reachable, filter) {
		if relayEvent.Event == nil || seen[relayEvent.Event.ID] {
			continue
		}
		seen[relayEvent.Event.ID] = true
		deliveries = append(deliveries, Delivery{
			Event: relayEvent.Event,
			Relay: relayURL(relayEvent.Relay),
		})
	}

	if err := ctx.Err(); err != nil {
		return deliveries, fmt.Errorf("query interrupted: %w", err)
	}

	c.logger.LogSubscription("query", relays, len(deliveries))
	return deliveries, nil
}

// connect opens the relays in parallel and returns those that answered
// before ctx ended
func (c *Client) connect(ctx context.Context, relays []string) ([]string, error) {
	type dialResult struct {
		url string
		err error
	}

	results := make(chan dialResult, len(relays))
	for _, url := range relays {
		go func() {
			_, err := c.pool.EnsureRelay(url)
			results <- dialResult{url: url, err: err}
		}()
	}

	reachable := make([]string, 0, len(relays))
	var lastErr error
wait:
	for range relays {
		select {
		case r := <-results:
			if r.err != nil {
				c.logger.Debug("relay unreachable", "relay", r.url, "error", r.err)
				lastErr = r.err
				continue
			}
			reachable = append(reachable, r.url)
		case <-ctx.Done():
			lastErr = ctx.Err()
			break wait
		}
	}

	if len(reachable) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrRelaysUnreachable, lastErr)
	}
	return reachable, nil
}

// FetchEvents fetches events from the given relays matching the filter
func (c *Client) FetchEvents(ctx context.Context, relays []string, filter nostr.Filter) ([]*nostr.Event, error) {
	deliveries, err := c.Query(ctx, relays, filter)
	if err != nil {
		return nil, err
	}

	events := make([]*nostr.Event, len(deliveries))
	for i, d := range deliveries {
		events[i] = d.Event
	}
	return events, nil
}

// Publish sends evt to every relay and returns as soon as one accepts it.
// The remaining relays keep going in the background until the publish
// timeout.
func (c *Client) Publish(ctx context.Context, relays []string, evt *nostr.Event) (string, error) {
	if len(relays) == 0 {
		return "", fmt.Errorf("%w: %w", ErrPublishFailed, ErrNoRelays)
	}

	publishCtx, cancel := context.WithTimeout(ctx, c.PublishTimeout())
	results := c.pool.PublishMany(publishCtx, relays, *evt)

	var lastErr error
	for result := range results {
		if result.Error != nil {
			lastErr = result.Error
			continue
		}

		go func() {
			for range results {
			}
			cancel()
		}()
		c.logger.LogRelayPublish(evt.ID, result.RelayURL, len(relays), nil)
		return result.RelayURL, nil
	}
	cancel()

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	if lastErr == nil {
		lastErr = errors.New("no relay answered")
	}

	err := fmt.Errorf("%w: %w", ErrPublishFailed, lastErr)
	c.logger.LogRelayPublish(evt.ID, "", len(relays), err)
	return "", err
}

// Subscription is a live relay subscription. Callbacks run on a single
// goroutine in arrival order.
type Subscription struct {
	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	done   chan struct{}
}

// SubscribeLive streams events matching filter. onEOSE fires exactly once,
// when every relay has sent its stored events or the EOSE timeout elapsed.
// Callbacks must not call Close on their own subscription.
func (c *Client) SubscribeLive(ctx context.Context, relays []string, filter nostr.Filter, onEvent func(Delivery), onEOSE func()) *Subscription {
	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		cancel: cancel,
		done:   make(chan struct{}),
	}

	eose := make(chan struct{})
	events := c.pool.SubscribeManyNotifyEOSE(subCtx, relays, filter, eose)
	c.logger.LogSubscription("open", relays, 0)

	go sub.run(subCtx, events, eose, c.EOSETimeout(), onEvent, onEOSE)

	return sub
}

func (s *Subscription) run(ctx context.Context, events chan nostr.RelayEvent, eose chan struct{}, eoseTimeout time.Duration, onEvent func(Delivery), onEOSE func()) {
	defer close(s.done)

	timer := time.NewTimer(eoseTimeout)
	defer timer.Stop()

	eoseSent := false
	sendEOSE := func() {
		if eoseSent {
			return
		}
		eoseSent = true
		timer.Stop()
		if onEOSE != nil {
			s.dispatch(onEOSE)
		}
	}

	for {
		select {
		case relayEvent, ok := <-events:
			if !ok {
				sendEOSE()
				return
			}
			if relayEvent.Event == nil || onEvent == nil {
				continue
			}
			d := Delivery{Event: relayEvent.Event, Relay: relayURL(relayEvent.Relay)}
			s.dispatch(func() { onEvent(d) })
		case <-eose:
			eose = nil
			sendEOSE()
		case <-timer.C:
			sendEOSE()
		case <-ctx.Done():
			return
		}
	}
}

// dispatch runs fn unless the subscription has been closed
func (s *Subscription) dispatch(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	fn()
}

// Close stops the subscription. It is safe to call more than once and no
// callback runs after it returns.
func (s *Subscription) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cancel()
}

// Done is closed once the subscription goroutine has exited
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close closes all relay connections
func (c *Client) Close() {
	c.pool.Close("client shutting down")
}

// QueryTimeout returns the configured one-shot query timeout
func (c *Client) QueryTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.QueryTimeoutMs == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.QueryTimeoutMs) * time.Millisecond
}

// PublishTimeout returns the configured publish timeout
func (c *Client) PublishTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.PublishTimeoutMs == 0 {
		return 10 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.PublishTimeoutMs) * time.Millisecond
}

// EOSETimeout returns how long a subscription waits for EOSE
func (c *Client) EOSETimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.EOSETimeoutMs == 0 {
		return 8 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.EOSETimeoutMs) * time.Millisecond
}

// GetDefaultTimeout returns the configured connect timeout
func (c *Client) GetDefaultTimeout() time.Duration {
	if c.relayConfig == nil || c.relayConfig.Policy.ConnectTimeoutMs == 0 {
		return 30 * time.Second
	}
	return time.Duration(c.relayConfig.Policy.ConnectTimeoutMs) * time.Millisecond
}

func relayURL(relay *nostr.Relay) string {
	if relay == nil {
		return ""
	}
	return relay.URL
}
