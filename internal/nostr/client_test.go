package nostr

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/CodyTseng/nostr-comments/internal/config"
	"github.com/nbd-wtf/go-nostr"
)

// fakePool replays canned relay traffic
type fakePool struct {
	mu sync.Mutex

	fetched   []nostr.RelayEvent
	stored    []nostr.RelayEvent
	sendEOSE  bool
	live      chan nostr.RelayEvent
	published []nostr.PublishResult

	unreachable map[string]bool

	fetchFilters []nostr.Filter
	fetchURLs    [][]string
	publishCount int
	closed       bool
}

func newFakePool() *fakePool {
	return &fakePool{live: make(chan nostr.RelayEvent, 16), sendEOSE: true}
}

func (p *fakePool) EnsureRelay(url string) (*nostr.Relay, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.unreachable[url] {
		return nil, errors.New("connection refused")
	}
	return &nostr.Relay{URL: url}, nil
}

func (p *fakePool) FetchMany(ctx context.Context, urls []string, filter nostr.Filter, opts ...nostr.SubscriptionOption) chan nostr.RelayEvent {
	p.mu.Lock()
	p.fetchFilters = append(p.fetchFilters, filter)
	p.fetchURLs = append(p.fetchURLs, urls)
	events := append([]nostr.RelayEvent(nil), p.fetched...)
	p.mu.Unlock()

	ch := make(chan nostr.RelayEvent, len(events))
	for _, e := range events {
		ch <- e
	}
	close(ch)
	return ch
}

func (p *fakePool) SubscribeManyNotifyEOSE(ctx context.Context, urls []string, filter nostr.Filter, eoseChan chan struct{}, opts ...nostr.SubscriptionOption) chan nostr.RelayEvent {
	ch := make(chan nostr.RelayEvent)
	go func() {
		defer close(ch)
		for _, e := range p.stored {
			select {
			case ch <- e:
			case <-ctx.Done():
				return
			}
		}
		if p.sendEOSE {
			close(eoseChan)
		}
		for {
			select {
			case e := <-p.live:
				select {
				case ch <- e:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}

func (p *fakePool) PublishMany(ctx context.Context, urls []string, evt nostr.Event) chan nostr.PublishResult {
	p.mu.Lock()
	p.publishCount++
	results := append([]nostr.PublishResult(nil), p.published...)
	p.mu.Unlock()

	ch := make(chan nostr.PublishResult, len(results))
	for _, r := range results {
		ch <- r
	}
	close(ch)
	return ch
}

func (p *fakePool) Close(reason string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func relayEvent(id string, createdAt int64, relay string) nostr.RelayEvent {
	return nostr.RelayEvent{
		Event: &nostr.Event{ID: id, Kind: 1111, CreatedAt: nostr.Timestamp(createdAt)},
		Relay: &nostr.Relay{URL: relay},
	}
}

func testRelayConfig() *config.Relays {
	return &config.Relays{
		Policy: config.RelayPolicy{
			ConnectTimeoutMs: 1000,
			QueryTimeoutMs:   1000,
			PublishTimeoutMs: 1000,
			EOSETimeoutMs:    1000,
		},
	}
}

func TestNew(t *testing.T) {
	client := New(context.Background(), testRelayConfig())
	if client == nil {
		t.Fatal("Expected client, got nil")
	}
	if client.pool == nil {
		t.Error("Expected pool to be initialized")
	}
	defer client.Close()
}

func TestTimeouts(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *config.Relays
		query   time.Duration
		publish time.Duration
		eose    time.Duration
		connect time.Duration
	}{
		{
			name:    "configured",
			cfg:     testRelayConfig(),
			query:   time.Second,
			publish: time.Second,
			eose:    time.Second,
			connect: time.Second,
		},
		{
			name:    "nil config",
			cfg:     nil,
			query:   10 * time.Second,
			publish: 10 * time.Second,
			eose:    8 * time.Second,
			connect: 30 * time.Second,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := New(context.Background(), tt.cfg, WithPool(newFakePool()))

			if got := client.QueryTimeout(); got != tt.query {
				t.Errorf("Expected query timeout %v, got %v", tt.query, got)
			}
			if got := client.PublishTimeout(); got != tt.publish {
				t.Errorf("Expected publish timeout %v, got %v", tt.publish, got)
			}
			if got := client.EOSETimeout(); got != tt.eose {
				t.Errorf("Expected eose timeout %v, got %v", tt.eose, got)
			}
			if got := client.GetDefaultTimeout(); got != tt.connect {
				t.Errorf("Expected connect timeout %v, got %v", tt.connect, got)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	pool := newFakePool()
	pool.fetched = []nostr.RelayEvent{
		relayEvent("a", 10, "wss://one.test"),
		relayEvent("b", 20, "wss://two.test"),
		relayEvent("a", 10, "wss://two.test"),
		{Relay: &nostr.Relay{URL: "wss://one.test"}},
	}
	client := New(context.Background(), testRelayConfig(), WithPool(pool))

	deliveries, err := client.Query(context.Background(), []string{"wss://one.test", "wss://two.test"}, nostr.Filter{Kinds: []int{1111}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}

	if len(deliveries) != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", len(deliveries))
	}
	if deliveries[0].Event.ID != "a" || deliveries[0].Relay != "wss://one.test" {
		t.Errorf("Unexpected first delivery %+v", deliveries[0])
	}
	if deliveries[1].Event.ID != "b" || deliveries[1].Relay != "wss://two.test" {
		t.Errorf("Unexpected second delivery %+v", deliveries[1])
	}
}

func TestQueryErrors(t *testing.T) {
	client := New(context.Background(), testRelayConfig(), WithPool(newFakePool()))

	if _, err := client.Query(context.Background(), nil, nostr.Filter{}); !errors.Is(err, ErrNoRelays) {
		t.Errorf("Expected ErrNoRelays, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := client.Query(ctx, []string{"wss://one.test"}, nostr.Filter{}); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
}

func TestQueryUnreachableRelays(t *testing.T) {
	pool := newFakePool()
	pool.unreachable = map[string]bool{"wss://down.test": true, "wss://gone.test": true}
	pool.fetched = []nostr.RelayEvent{relayEvent("a", 10, "wss://up.test")}
	client := New(context.Background(), testRelayConfig(), WithPool(pool))

	_, err := client.Query(context.Background(), []string{"wss://down.test", "wss://gone.test"}, nostr.Filter{})
	if !errors.Is(err, ErrRelaysUnreachable) {
		t.Fatalf("Expected ErrRelaysUnreachable, got %v", err)
	}
	if len(pool.fetchURLs) != 0 {
		t.Errorf("Expected no fetch when every relay is down, got %v", pool.fetchURLs)
	}

	deliveries, err := client.Query(context.Background(), []string{"wss://down.test", "wss://up.test"}, nostr.Filter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(deliveries) != 1 {
		t.Errorf("Expected 1 delivery, got %d", len(deliveries))
	}
	if len(pool.fetchURLs) != 1 || len(pool.fetchURLs[0]) != 1 || pool.fetchURLs[0][0] != "wss://up.test" {
		t.Errorf("Expected fetch from the reachable relay only, got %v", pool.fetchURLs)
	}
}

func TestQueryClosedPorts(t *testing.T) {
	client := New(context.Background(), testRelayConfig())
	defer client.Close()

	deliveries, err := client.Query(context.Background(), []string{"ws://127.0.0.1:1", "ws://127.0.0.1:2"}, nostr.Filter{Kinds: []int{1111}})
	if !errors.Is(err, ErrRelaysUnreachable) {
		t.Errorf("Expected ErrRelaysUnreachable, got %v", err)
	}
	if len(deliveries) != 0 {
		t.Errorf("Expected no deliveries, got %d", len(deliveries))
	}
}

func TestFetchEvents(t *testing.T) {
	pool := newFakePool()
	pool.fetched = []nostr.RelayEvent{relayEvent("a", 10, "wss://one.test")}
	client := New(context.Background(), testRelayConfig(), WithPool(pool))

	events, err := client.FetchEvents(context.Background(), []string{"wss://one.test"}, nostr.Filter{})
	if err != nil {
		t.Fatalf("FetchEvents() error = %v", err)
	}
	if len(events) != 1 || events[0].ID != "a" {
		t.Errorf("Unexpected events %v", events)
	}
}

func TestPublish(t *testing.T) {
	tests := []struct {
		name      string
		results   []nostr.PublishResult
		relays    []string
		wantRelay string
		wantErr   bool
	}{
		{
			name: "first success wins",
			results: []nostr.PublishResult{
				{RelayURL: "wss://one.test", Error: errors.New("blocked")},
				{RelayURL: "wss://two.test"},
				{RelayURL: "wss://three.test"},
			},
			relays:    []string{"wss://one.test", "wss://two.test", "wss://three.test"},
			wantRelay: "wss://two.test",
		},
		{
			name: "all fail",
			results: []nostr.PublishResult{
				{RelayURL: "wss://one.test", Error: errors.New("blocked")},
				{RelayURL: "wss://two.test", Error: errors.New("pow too low")},
			},
			relays:  []string{"wss://one.test", "wss://two.test"},
			wantErr: true,
		},
		{
			name:    "no relays",
			relays:  nil,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pool := newFakePool()
			pool.published = tt.results
			client := New(context.Background(), testRelayConfig(), WithPool(pool))

			relay, err := client.Publish(context.Background(), tt.relays, &nostr.Event{ID: "x"})
			if tt.wantErr {
				if !errors.Is(err, ErrPublishFailed) {
					t.Fatalf("Expected ErrPublishFailed, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Publish() error = %v", err)
			}
			if relay != tt.wantRelay {
				t.Errorf("Expected relay %s, got %s", tt.wantRelay, relay)
			}
		})
	}
}

// recorder collects subscription callbacks
type recorder struct {
	mu     sync.Mutex
	ids    []string
	relays []string
	eoses  int
	eose   chan struct{}
	event  chan struct{}
}

func newRecorder() *recorder {
	return &recorder{eose: make(chan struct{}, 4), event: make(chan struct{}, 16)}
}

func (r *recorder) onEvent(d Delivery) {
	r.mu.Lock()
	r.ids = append(r.ids, d.Event.ID)
	r.relays = append(r.relays, d.Relay)
	r.mu.Unlock()
	r.event <- struct{}{}
}

func (r *recorder) onEOSE() {
	r.mu.Lock()
	r.eoses++
	r.mu.Unlock()
	r.eose <- struct{}{}
}

func (r *recorder) snapshot() ([]string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...), r.eoses
}

func waitFor(t *testing.T, ch chan struct{}, what string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", what)
	}
}

func TestSubscribeLive(t *testing.T) {
	pool := newFakePool()
	pool.stored = []nostr.RelayEvent{
		relayEvent("a", 30, "wss://one.test"),
		relayEvent("b", 20, "wss://two.test"),
	}
	client := New(context.Background(), testRelayConfig(), WithPool(pool))
	rec := newRecorder()

	sub := client.SubscribeLive(context.Background(), []string{"wss://one.test"}, nostr.Filter{}, rec.onEvent, rec.onEOSE)
	defer sub.Close()

	waitFor(t, rec.eose, "eose")

	ids, eoses := rec.snapshot()
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("Expected stored events in arrival order, got %v", ids)
	}
	if eoses != 1 {
		t.Errorf("Expected one eose, got %d", eoses)
	}

	pool.live <- relayEvent("c", 40, "wss://one.test")
	waitFor(t, rec.event, "event a")
	waitFor(t, rec.event, "event b")
	waitFor(t, rec.event, "live event")

	ids, eoses = rec.snapshot()
	if len(ids) != 3 || ids[2] != "c" {
		t.Errorf("Expected live event last, got %v", ids)
	}
	if eoses != 1 {
		t.Errorf("Expected eose to fire exactly once, got %d", eoses)
	}
	if rec.relays[0] != "wss://one.test" {
		t.Errorf("Expected relay provenance, got %v", rec.relays)
	}
}

func TestSubscribeLiveEOSETimeout(t *testing.T) {
	pool := newFakePool()
	pool.sendEOSE = false
	cfg := testRelayConfig()
	cfg.Policy.EOSETimeoutMs = 20
	client := New(context.Background(), cfg, WithPool(pool))
	rec := newRecorder()

	sub := client.SubscribeLive(context.Background(), []string{"wss://slow.test"}, nostr.Filter{}, rec.onEvent, rec.onEOSE)
	defer sub.Close()

	waitFor(t, rec.eose, "eose fallback")

	time.Sleep(50 * time.Millisecond)
	if _, eoses := rec.snapshot(); eoses != 1 {
		t.Errorf("Expected exactly one eose, got %d", eoses)
	}
}

func TestSubscriptionClose(t *testing.T) {
	pool := newFakePool()
	client := New(context.Background(), testRelayConfig(), WithPool(pool))
	rec := newRecorder()

	sub := client.SubscribeLive(context.Background(), []string{"wss://one.test"}, nostr.Filter{}, rec.onEvent, rec.onEOSE)
	waitFor(t, rec.eose, "eose")

	sub.Close()
	sub.Close()

	pool.live <- relayEvent("late", 50, "wss://one.test")

	select {
	case <-sub.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("subscription goroutine did not exit")
	}

	if ids, _ := rec.snapshot(); len(ids) != 0 {
		t.Errorf("Expected no callbacks after close, got %v", ids)
	}
}
