// Package widget ties the comment engine, relay gateway, miner and signer
// session together behind the operations a comment box needs.
package widget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/nbd-wtf/go-nostr"

	"github.com/CodyTseng/nostr-comments/internal/comments"
	"github.com/CodyTseng/nostr-comments/internal/config"
	internalnostr "github.com/CodyTseng/nostr-comments/internal/nostr"
	"github.com/CodyTseng/nostr-comments/internal/ops"
	"github.com/CodyTseng/nostr-comments/internal/pow"
	"github.com/CodyTseng/nostr-comments/internal/signer"
	commentsync "github.com/CodyTseng/nostr-comments/internal/sync"
)

// Gateway is the relay access a widget needs
type Gateway interface {
	commentsync.Gateway
	Publish(ctx context.Context, relays []string, evt *nostr.Event) (string, error)
}

// Options are the per-page embedding options
type Options struct {
	config.Widget

	// Signer is a pre-authenticated signer supplied by the host
	Signer signer.Signer

	OnCommentPublished func(*nostr.Event)
	OnError            func(error)
}

// Deps are the collaborators a widget is composed from. Nil fields get
// defaults except Gateway and Resolver.
type Deps struct {
	Gateway  Gateway
	Resolver commentsync.RelayResolver
	Miner    *pow.Miner
	Session  *signer.Manager
	Sync     *config.Sync
	Logger   *ops.Logger
}

// Widget is one embedded comment section
type Widget struct {
	opts     Options
	gateway  Gateway
	resolver commentsync.RelayResolver
	miner    *pow.Miner
	session  *signer.Manager
	engine   *commentsync.Engine
	logger   *ops.Logger

	mu        sync.Mutex
	reactions []*nostr.Event
	reactIDs  map[string]struct{}
}

// New creates a widget for opts.URL
func New(ctx context.Context, opts Options, deps Deps) (*Widget, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, ErrMissingURL
	}
	if deps.Gateway == nil || deps.Resolver == nil {
		return nil, errors.New("widget requires a gateway and a relay resolver")
	}
	if opts.PageSize <= 0 {
		opts.PageSize = commentsync.DefaultPageSize
	}

	logger := deps.Logger
	if logger == nil {
		logger = ops.Discard()
	}
	miner := deps.Miner
	if miner == nil {
		miner = pow.NewMiner(nil, pow.WithLogger(logger))
	}
	session := deps.Session
	if session == nil {
		session = signer.NewManager(opts.EnabledSigners, logger)
	}

	w := &Widget{
		opts:     opts,
		gateway:  deps.Gateway,
		resolver: deps.Resolver,
		miner:    miner,
		session:  session,
		engine:   commentsync.New(ctx, deps.Gateway, deps.Resolver, deps.Sync, commentsync.WithLogger(logger)),
		logger:   logger.WithComponent("widget").WithFields("url", opts.URL),
		reactIDs: make(map[string]struct{}),
	}

	// an external signer that cannot report its key is ignored and the
	// regular login options stay available
	if opts.Signer != nil {
		if _, err := session.SetExternal(ctx, opts.Signer); err != nil {
			w.report(fmt.Errorf("%w: %w", ErrSigningFailed, err))
		}
	}

	return w, nil
}

func (w *Widget) page() commentsync.Page {
	return commentsync.Page{
		URL:      w.opts.URL,
		Mention:  w.opts.Mention,
		Relays:   w.opts.Relays,
		PageSize: w.opts.PageSize,
		MinPow:   w.opts.Pow,
	}
}

// Session returns the signer session manager
func (w *Widget) Session() *signer.Manager {
	return w.session
}

// Engine returns the underlying sync engine
func (w *Widget) Engine() *commentsync.Engine {
	return w.engine
}

// Load fetches the first page and starts live updates
func (w *Widget) Load(ctx context.Context) error {
	return w.loadResult(w.engine.Load(ctx, w.page()))
}

// LoadMore fetches older comments
func (w *Widget) LoadMore(ctx context.Context) error {
	return w.loadResult(w.engine.LoadMore(ctx))
}

// Retry reloads after an error
func (w *Widget) Retry(ctx context.Context) error {
	return w.loadResult(w.engine.Retry(ctx))
}

func (w *Widget) loadResult(err error) error {
	if err == nil || errors.Is(err, commentsync.ErrSuperseded) {
		return err
	}
	if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, commentsync.ErrClosed) {
		err = fmt.Errorf("%w: %w", ErrRelayUnavailable, err)
	}
	w.report(err)
	return err
}

// Snapshot returns the rendered comment state
func (w *Widget) Snapshot() commentsync.Snapshot {
	return w.engine.Snapshot()
}

// Subscribe registers fn for comment changes
func (w *Widget) Subscribe(fn func(commentsync.Snapshot)) func() {
	return w.engine.Subscribe(fn)
}

// Post publishes a comment, or a reply when parent is set. The event is
// mined when pow is configured, signed by the active session and inserted
// locally once a relay accepted it.
func (w *Widget) Post(ctx context.Context, content string, parent *nostr.Event) (*nostr.Event, error) {
	evt, err := w.post(ctx, content, parent)
	if err != nil {
		w.report(err)
		return nil, err
	}

	w.engine.Insert(evt)
	if w.opts.OnCommentPublished != nil {
		w.opts.OnCommentPublished(evt)
	}
	return evt, nil
}

func (w *Widget) post(ctx context.Context, content string, parent *nostr.Event) (*nostr.Event, error) {
	session := w.session.Current()
	if session == nil {
		return nil, ErrLoginRequired
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}

	var template nostr.Event
	if parent == nil {
		template = comments.BuildRootComment(w.opts.URL, content, w.opts.Mention)
	} else {
		hint := ""
		if seen := w.engine.SeenOn(parent.ID); len(seen) > 0 {
			hint = seen[0]
		}
		template = comments.BuildReply(w.opts.URL, content, parent, hint, w.opts.Mention)
	}
	template.PubKey = session.PublicKey

	evt, err := w.mine(ctx, template)
	if err != nil {
		return nil, err
	}

	if err := signer.SignAndVerify(ctx, session.Signer, &evt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}
	if w.opts.Pow > 0 && comments.Difficulty(evt.ID) < w.opts.Pow {
		return nil, ErrPowLost
	}

	relays := w.publishRelays(ctx, parent)
	if _, err := w.gateway.Publish(ctx, relays, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// mine runs the pow job for evt and discards it if ctx ends first
func (w *Widget) mine(ctx context.Context, evt nostr.Event) (nostr.Event, error) {
	if w.opts.Pow <= 0 {
		return evt, nil
	}

	job := w.miner.Submit(evt, w.opts.Pow)
	mined, err := job.Wait(ctx)
	if err != nil {
		job.Cancel()
		return nostr.Event{}, fmt.Errorf("failed to mine event: %w", err)
	}
	return mined, nil
}

// publishRelays are the page relays plus the parent author's inbox
func (w *Widget) publishRelays(ctx context.Context, parent *nostr.Event) []string {
	relays := w.resolver.ResolveRelays(ctx, w.opts.Relays, w.opts.Mention)
	if parent != nil && parent.PubKey != w.opts.Mention {
		relays = w.resolver.ResolveRelays(ctx, relays, parent.PubKey)
	}
	return relays
}

// Like publishes a "+" reaction to target
func (w *Widget) Like(ctx context.Context, target *nostr.Event) (*nostr.Event, error) {
	evt, err := w.like(ctx, target)
	if err != nil {
		w.report(err)
		return nil, err
	}

	w.addReactions([]*nostr.Event{evt})
	return evt, nil
}

func (w *Widget) like(ctx context.Context, target *nostr.Event) (*nostr.Event, error) {
	session := w.session.Current()
	if session == nil {
		return nil, ErrLoginRequired
	}

	evt := comments.BuildReaction(target, comments.LikeContent)
	evt.PubKey = session.PublicKey
	if err := signer.SignAndVerify(ctx, session.Signer, &evt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	relays := w.resolver.ResolveRelays(ctx, w.opts.Relays, target.PubKey)
	if _, err := w.gateway.Publish(ctx, relays, &evt); err != nil {
		return nil, err
	}
	return &evt, nil
}

// PublishRelayList announces relays as the signed-in user's NIP-65 inbox and
// outbox, so replies to their comments can find them
func (w *Widget) PublishRelayList(ctx context.Context, relays []string) (*nostr.Event, error) {
	evt, err := w.publishRelayList(ctx, relays)
	if err != nil {
		w.report(err)
	}
	return evt, err
}

func (w *Widget) publishRelayList(ctx context.Context, relays []string) (*nostr.Event, error) {
	session := w.session.Current()
	if session == nil {
		return nil, ErrLoginRequired
	}

	valid := make([]string, 0, len(relays))
	for _, relay := range internalnostr.NormalizeRelays(relays) {
		if internalnostr.ValidateRelayURL(relay) {
			valid = append(valid, relay)
		}
	}
	relays = valid
	if len(relays) == 0 {
		return nil, fmt.Errorf("%w: %w", ErrRelayUnavailable, internalnostr.ErrNoRelays)
	}

	hints := make([]internalnostr.RelayHint, len(relays))
	for i, relay := range relays {
		hints[i] = internalnostr.RelayHint{Pubkey: session.PublicKey, Relay: relay, CanRead: true, CanWrite: true}
	}
	evt := internalnostr.BuildRelayListEvent(hints)
	evt.PubKey = session.PublicKey
	if err := signer.SignAndVerify(ctx, session.Signer, evt); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSigningFailed, err)
	}

	if _, err := w.gateway.Publish(ctx, relays, evt); err != nil {
		return nil, err
	}
	return evt, nil
}

// LoadReactions fetches reactions to every displayed comment
func (w *Widget) LoadReactions(ctx context.Context) error {
	snapshot := w.engine.Snapshot()
	displayed := comments.Flatten(snapshot.Comments)

	ids := make([]string, len(displayed))
	for i, evt := range displayed {
		ids[i] = evt.ID
	}
	filter, ok := comments.ReactionFilter(ids)
	if !ok {
		return nil
	}

	deliveries, err := w.gateway.Query(ctx, w.engine.Relays(), filter)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrRelayUnavailable, err)
		w.report(err)
		return err
	}

	reactions := make([]*nostr.Event, len(deliveries))
	for i, d := range deliveries {
		reactions[i] = d.Event
	}
	w.addReactions(reactions)
	return nil
}

func (w *Widget) addReactions(reactions []*nostr.Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, r := range reactions {
		if _, dup := w.reactIDs[r.ID]; dup {
			continue
		}
		w.reactIDs[r.ID] = struct{}{}
		w.reactions = append(w.reactions, r)
	}
}

// Likes returns the like count for a comment
func (w *Widget) Likes(eventID string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return comments.CountLikes(w.reactions, eventID)
}

// Liked reports whether the logged-in user liked a comment
func (w *Widget) Liked(eventID string) bool {
	session := w.session.Current()
	if session == nil {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	return comments.HasLiked(w.reactions, eventID, session.PublicKey)
}

// LikeCounts returns like counts keyed by event id
func (w *Widget) LikeCounts() map[string]int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return comments.LikeCounts(w.reactions)
}

// Close stops live updates. The signer session is left to its owner.
func (w *Widget) Close() {
	w.engine.Close()
}

func (w *Widget) report(err error) {
	w.logger.Warn("widget error", "class", string(Classify(err)), "error", err)
	if w.opts.OnError != nil {
		w.opts.OnError(err)
	}
}

// compile-time check that the client adapter satisfies Gateway
var _ Gateway = commentsync.ClientGateway{}

// NewClientGateway adapts a relay client for widget use
func NewClientGateway(client *internalnostr.Client) Gateway {
	return commentsync.ClientGateway{Client: client}
}
