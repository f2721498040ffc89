package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/nbd-wtf/go-nostr"

	"github.com/CodyTseng/nostr-comments/internal/comments"
	"github.com/CodyTseng/nostr-comments/internal/config"
	internalnostr "github.com/CodyTseng/nostr-comments/internal/nostr"
	"github.com/CodyTseng/nostr-comments/internal/ops"
)

var (
	// ErrSuperseded is returned when a newer load replaced the one in flight
	ErrSuperseded = errors.New("load superseded")
	// ErrNoPage is returned by Retry before any page was loaded
	ErrNoPage = errors.New("no page loaded")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("engine closed")
)

// State is the lifecycle of the current page
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StateLoadingMore
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateLoadingMore:
		return "loading_more"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Page identifies the comment context being displayed
type Page struct {
	URL      string
	Mention  string
	Relays   []string
	PageSize int
	MinPow   int
}

func (p Page) withDefaults() Page {
	if p.PageSize <= 0 {
		p.PageSize = DefaultPageSize
	}
	return p
}

// Closer is a live subscription handle
type Closer interface {
	Close()
}

// Gateway is the relay access the engine needs
type Gateway interface {
	Query(ctx context.Context, relays []string, filter nostr.Filter) ([]internalnostr.Delivery, error)
	Subscribe(ctx context.Context, relays []string, filter nostr.Filter, onEvent func(internalnostr.Delivery), onEOSE func()) Closer
}

// RelayResolver picks the relays for a page
type RelayResolver interface {
	ResolveRelays(ctx context.Context, explicit []string, mention string) []string
}

// ClientGateway adapts a relay client to Gateway
type ClientGateway struct {
	*internalnostr.Client
}

// Subscribe opens a live subscription on the client
func (g ClientGateway) Subscribe(ctx context.Context, relays []string, filter nostr.Filter, onEvent func(internalnostr.Delivery), onEOSE func()) Closer {
	return g.Client.SubscribeLive(ctx, relays, filter, onEvent, onEOSE)
}

// Snapshot is a consistent view of the current page
type Snapshot struct {
	State    State
	Comments []*comments.Comment
	// Count is the number of displayed comments including replies
	Count   int
	HasMore bool
	Err     error
	// Total is the number of stored events before the pow filter
	Total int
	// Orphans counts replies whose root is not loaded yet. They are not part
	// of Comments.
	Orphans int
}

// Engine loads, paginates and live-updates the comments of one page at a
// time. All methods are safe for concurrent use.
type Engine struct {
	gateway  Gateway
	resolver RelayResolver
	logger   *ops.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	closed     bool
	generation uint64
	page       Page
	relays     []string
	state      State
	err        error
	events     []*nostr.Event
	ids        map[string]struct{}
	seenOn     map[string][]string
	cursor     Cursor
	sub        Closer

	// first-page buffering until end of stored events
	eosed      bool
	buffer     []*nostr.Event
	bufferIDs  map[string]struct{}
	ready      chan struct{}
	superseded chan struct{}

	listenersMu sync.Mutex
	listeners   map[int]func(Snapshot)
	nextID      int
	debounced   func(func())
}

// EngineOption configures an Engine
type EngineOption func(*Engine)

// WithLogger sets the engine logger
func WithLogger(logger *ops.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates an engine. Change notifications are coalesced over
// cfg.DebounceMs when it is positive.
func New(ctx context.Context, gateway Gateway, resolver RelayResolver, cfg *config.Sync, opts ...EngineOption) *Engine {
	engineCtx, cancel := context.WithCancel(ctx)

	e := &Engine{
		gateway:   gateway,
		resolver:  resolver,
		logger:    ops.Discard(),
		ctx:       engineCtx,
		cancel:    cancel,
		ids:       make(map[string]struct{}),
		seenOn:    make(map[string][]string),
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.WithComponent("sync")

	if cfg != nil && cfg.DebounceMs > 0 {
		e.debounced = debounce.New(time.Duration(cfg.DebounceMs) * time.Millisecond)
	}

	return e
}

// Load replaces the current page and blocks until the first page of stored
// comments is available. After that comments keep arriving live.
func (e *Engine) Load(ctx context.Context, page Page) error {
	page = page.withDefaults()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	old := e.sub
	gen := e.reset(page)
	ready := e.ready
	superseded := e.superseded
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	e.changed()

	relays := e.resolver.ResolveRelays(ctx, page.Relays, page.Mention)

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return ErrSuperseded
	}
	e.relays = relays
	e.mu.Unlock()

	filter := CommentFilter(page.URL, page.PageSize, nil)
	sub := e.gateway.Subscribe(e.ctx, relays, filter, e.onEvent(gen), e.onEOSE(gen))
	e.logger.LogSubscription("load", relays, 0)

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		sub.Close()
		return ErrSuperseded
	}
	e.sub = sub
	e.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-superseded:
		return ErrSuperseded
	case <-ctx.Done():
		e.abort(gen, ctx.Err())
		return ctx.Err()
	}
}

// reset starts a new generation for page. Callers hold e.mu.
func (e *Engine) reset(page Page) uint64 {
	e.generation++
	if e.superseded != nil {
		close(e.superseded)
	}

	e.page = page
	e.relays = nil
	e.state = StateLoading
	e.err = nil
	e.events = nil
	e.ids = make(map[string]struct{})
	e.seenOn = make(map[string][]string)
	e.cursor = Cursor{}
	e.sub = nil
	e.eosed = false
	e.buffer = nil
	e.bufferIDs = make(map[string]struct{})
	e.ready = make(chan struct{})
	e.superseded = make(chan struct{})

	return e.generation
}

// abort moves a still-current load into the error state and drops its
// subscription
func (e *Engine) abort(gen uint64, err error) {
	e.mu.Lock()
	if e.generation != gen || e.eosed {
		e.mu.Unlock()
		return
	}
	e.state = StateError
	e.err = err
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	e.changed()
}

func (e *Engine) onEvent(gen uint64) func(internalnostr.Delivery) {
	return func(d internalnostr.Delivery) {
		evt := d.Event

		e.mu.Lock()
		if e.generation != gen {
			e.mu.Unlock()
			return
		}
		e.recordSeen(evt.ID, d.Relay)

		if !e.eosed {
			if _, dup := e.bufferIDs[evt.ID]; !dup {
				e.bufferIDs[evt.ID] = struct{}{}
				e.buffer = append(e.buffer, evt)
			}
			e.mu.Unlock()
			return
		}

		added := e.prepend(evt)
		e.mu.Unlock()

		if added {
			e.changed()
		}
	}
}

func (e *Engine) onEOSE(gen uint64) func() {
	return func() {
		e.mu.Lock()
		if e.generation != gen || e.eosed {
			e.mu.Unlock()
			return
		}

		e.eosed = true
		page := e.buffer
		SortNewestFirst(page)
		if len(page) > e.page.PageSize {
			page = page[:e.page.PageSize]
		}

		// events inserted while loading stay ahead of the stored page and
		// do not count against the page size
		inserted := e.events
		e.events = make([]*nostr.Event, 0, len(inserted)+len(page))
		e.ids = make(map[string]struct{}, len(inserted)+len(page))
		for _, batch := range [][]*nostr.Event{inserted, page} {
			for _, evt := range batch {
				if _, dup := e.ids[evt.ID]; dup {
					continue
				}
				e.ids[evt.ID] = struct{}{}
				e.events = append(e.events, evt)
			}
		}
		e.cursor = CursorAfterLoad(page, e.page.PageSize)
		e.buffer = nil
		e.bufferIDs = nil
		e.state = StateReady
		close(e.ready)
		relays := e.relays
		e.mu.Unlock()

		e.logger.LogSubscription("eose", relays, len(page))
		e.changed()
	}
}

// recordSeen notes that id was delivered by relay. Callers hold e.mu.
func (e *Engine) recordSeen(id, relay string) {
	if relay == "" {
		return
	}
	for _, r := range e.seenOn[id] {
		if r == relay {
			return
		}
	}
	e.seenOn[id] = append(e.seenOn[id], relay)
}

// prepend inserts evt at the front unless it is already known. Callers
// hold e.mu.
func (e *Engine) prepend(evt *nostr.Event) bool {
	if _, dup := e.ids[evt.ID]; dup {
		return false
	}
	e.ids[evt.ID] = struct{}{}

	events := make([]*nostr.Event, 0, len(e.events)+1)
	events = append(events, evt)
	e.events = append(events, e.events...)
	return true
}

// LoadMore fetches the next older page. It does nothing while a load is in
// flight or when there is nothing older.
func (e *Engine) LoadMore(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	until, ok := e.cursor.Until()
	if e.state != StateReady || !ok {
		e.mu.Unlock()
		return nil
	}
	gen := e.generation
	page := e.page
	relays := e.relays
	e.state = StateLoadingMore
	e.mu.Unlock()
	e.changed()

	deliveries, err := e.gateway.Query(ctx, relays, CommentFilter(page.URL, page.PageSize, &until))

	e.mu.Lock()
	if e.generation != gen {
		e.mu.Unlock()
		return ErrSuperseded
	}
	if err != nil {
		e.state = StateError
		e.err = err
		e.mu.Unlock()
		e.logger.LogPagination(page.URL, int64(until), 0, 0, err)
		e.changed()
		return err
	}

	batch := make([]*nostr.Event, 0, len(deliveries))
	for _, d := range deliveries {
		e.recordSeen(d.Event.ID, d.Relay)
		batch = append(batch, d.Event)
	}
	SortNewestFirst(batch)

	added := 0
	for _, evt := range batch {
		if _, dup := e.ids[evt.ID]; dup {
			continue
		}
		e.ids[evt.ID] = struct{}{}
		e.events = append(e.events, evt)
		added++
	}
	e.cursor = e.cursor.Advance(batch)
	e.state = StateReady
	e.mu.Unlock()

	e.logger.LogPagination(page.URL, int64(until), len(batch), added, nil)
	e.changed()
	return nil
}

// Insert adds a locally published event to the front of the page
func (e *Engine) Insert(evt *nostr.Event) {
	if evt == nil {
		return
	}

	e.mu.Lock()
	added := e.prepend(evt)
	e.mu.Unlock()

	if added {
		e.changed()
	}
}

// Retry reloads the current page
func (e *Engine) Retry(ctx context.Context) error {
	e.mu.Lock()
	page := e.page
	e.mu.Unlock()

	if page.URL == "" {
		return ErrNoPage
	}
	return e.Load(ctx, page)
}

// Snapshot returns the current page state
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	state := e.state
	err := e.err
	hasMore := e.cursor.HasMore()
	minPow := e.page.MinPow
	events := make([]*nostr.Event, len(e.events))
	copy(events, e.events)
	e.mu.Unlock()

	visible := comments.FilterByPow(events, minPow)
	tree := comments.BuildTree(visible)

	return Snapshot{
		State:    state,
		Comments: tree,
		Count:    comments.CountComments(tree),
		HasMore:  hasMore,
		Err:      err,
		Total:    len(events),
		Orphans:  countOrphans(visible, tree),
	}
}

func countOrphans(events []*nostr.Event, tree []*comments.Comment) int {
	roots := make(map[string]struct{}, len(tree))
	for _, root := range tree {
		roots[root.Event.ID] = struct{}{}
	}

	orphans := 0
	for rootID, replies := range comments.GroupReplies(events) {
		if _, ok := roots[rootID]; !ok {
			orphans += len(replies)
		}
	}
	return orphans
}

// Events returns the stored events newest first, before the pow filter
func (e *Engine) Events() []*nostr.Event {
	e.mu.Lock()
	defer e.mu.Unlock()

	events := make([]*nostr.Event, len(e.events))
	copy(events, e.events)
	return events
}

// Relays returns the relays serving the current page
func (e *Engine) Relays() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	relays := make([]string, len(e.relays))
	copy(relays, e.relays)
	return relays
}

// Page returns the current page context
func (e *Engine) Page() Page {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.page
}

// SeenOn returns the relays that delivered id
func (e *Engine) SeenOn(id string) []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	relays := make([]string, len(e.seenOn[id]))
	copy(relays, e.seenOn[id])
	return relays
}

// Subscribe registers fn for page changes. It returns an unsubscribe
// function.
func (e *Engine) Subscribe(fn func(Snapshot)) func() {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners[id] = fn

	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		delete(e.listeners, id)
	}
}

func (e *Engine) changed() {
	if e.debounced != nil {
		e.debounced(e.notify)
		return
	}
	e.notify()
}

func (e *Engine) notify() {
	e.listenersMu.Lock()
	listeners := make([]func(Snapshot), 0, len(e.listeners))
	for _, fn := range e.listeners {
		listeners = append(listeners, fn)
	}
	e.listenersMu.Unlock()

	if len(listeners) == 0 {
		return
	}

	snapshot := e.Snapshot()
	for _, fn := range listeners {
		fn(snapshot)
	}
}

// Close stops the live subscription. Pending loads return ErrSuperseded.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.generation++
	if e.superseded != nil {
		close(e.superseded)
		e.superseded = nil
	}
	sub := e.sub
	e.sub = nil
	e.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	e.cancel()
}
