package signer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/CodyTseng/nostr-comments/internal/comments"
	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip05"
	"github.com/nbd-wtf/go-nostr/nip46"
)

// BunkerPointer is a parsed bunker:// connection descriptor
type BunkerPointer struct {
	Pubkey string
	Relays []string
	Secret string
}

// RemoteSigner is an open NIP-46 session
type RemoteSigner interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
	Close() error
}

// BunkerDialer opens remote signer sessions
type BunkerDialer interface {
	Dial(ctx context.Context, clientSecretKey string, pointer BunkerPointer, onAuth func(string)) (RemoteSigner, error)
}

// NIP05Lookup resolves a name@domain identifier to a pubkey and relays
type NIP05Lookup func(ctx context.Context, identifier string) (*nostr.ProfilePointer, error)

// BunkerOptions configures a BunkerSigner
type BunkerOptions struct {
	// ClientSecretKey identifies this client to the bunker. Generated when empty.
	ClientSecretKey string
	// OnAuth receives authorization URLs the user must open
	OnAuth func(url string)
	Dialer BunkerDialer
	// Lookup resolves name@domain bunker input. Defaults to a NIP-05 query.
	Lookup NIP05Lookup
}

// ParseBunkerURL parses bunker://<hex pubkey>?relay=wss://...&secret=...
func ParseBunkerURL(input string) (BunkerPointer, error) {
	input = strings.TrimSpace(input)
	if !nip46.IsValidBunkerURL(input) {
		return BunkerPointer{}, fmt.Errorf("%w: not a bunker:// url", ErrInvalidBunkerInput)
	}

	u, err := url.Parse(input)
	if err != nil {
		return BunkerPointer{}, fmt.Errorf("%w: %w", ErrInvalidBunkerInput, err)
	}

	query := u.Query()
	relays := validRelays(query["relay"])
	if len(relays) == 0 {
		return BunkerPointer{}, fmt.Errorf("%w: no relays", ErrInvalidBunkerInput)
	}

	return BunkerPointer{
		Pubkey: strings.ToLower(u.Host),
		Relays: relays,
		Secret: query.Get("secret"),
	}, nil
}

func validRelays(candidates []string) []string {
	relays := make([]string, 0, len(candidates))
	for _, relay := range candidates {
		if nostr.IsValidRelayURL(relay) {
			relays = append(relays, nostr.NormalizeURL(relay))
		}
	}
	return relays
}

// BunkerSigner signs through a remote NIP-46 bunker. It must be connected
// before use and closed when the session ends.
type BunkerSigner struct {
	clientKey  string
	onAuth     func(string)
	dialer     BunkerDialer
	lookup     NIP05Lookup
	identifier string

	mu      sync.Mutex
	pointer BunkerPointer
	remote  RemoteSigner
	pubkey  string
}

// NewBunkerSigner validates input and returns an unconnected signer. Input
// is either a bunker:// url or a name@domain identifier, which is resolved
// on Connect.
func NewBunkerSigner(input string, opts BunkerOptions) (*BunkerSigner, error) {
	input = strings.TrimSpace(input)

	b := &BunkerSigner{
		clientKey: opts.ClientSecretKey,
		onAuth:    opts.OnAuth,
		dialer:    opts.Dialer,
		lookup:    opts.Lookup,
	}

	if strings.HasPrefix(input, "bunker://") || !nip05.IsValidIdentifier(input) {
		pointer, err := ParseBunkerURL(input)
		if err != nil {
			return nil, err
		}
		b.pointer = pointer
	} else {
		b.identifier = input
	}

	if b.clientKey == "" {
		b.clientKey = nostr.GeneratePrivateKey()
	}
	if b.dialer == nil {
		b.dialer = nip46Dialer{}
	}
	if b.onAuth == nil {
		b.onAuth = func(string) {}
	}
	if b.lookup == nil {
		b.lookup = nip05.QueryIdentifier
	}

	return b, nil
}

// resolve fills the pointer of a name@domain signer. Callers hold b.mu.
func (b *BunkerSigner) resolve(ctx context.Context) error {
	if b.pointer.Pubkey != "" {
		return nil
	}

	profile, err := b.lookup(ctx, b.identifier)
	if err != nil {
		return fmt.Errorf("failed to resolve %s: %w", b.identifier, err)
	}
	if profile == nil || !comments.IsValidPubkey(profile.PublicKey) {
		return fmt.Errorf("%w: %s has no pubkey", ErrInvalidBunkerInput, b.identifier)
	}
	relays := validRelays(profile.Relays)
	if len(relays) == 0 {
		return fmt.Errorf("%w: %s lists no relays", ErrInvalidBunkerInput, b.identifier)
	}

	b.pointer = BunkerPointer{Pubkey: strings.ToLower(profile.PublicKey), Relays: relays}
	return nil
}

// Pointer returns the connection descriptor. It is empty for a name@domain
// signer until Connect resolved it.
func (b *BunkerSigner) Pointer() BunkerPointer {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pointer
}

// Connect performs the remote handshake. It may block until the user
// approves the connection out of band.
func (b *BunkerSigner) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.remote != nil {
		return nil
	}
	if err := b.resolve(ctx); err != nil {
		return err
	}

	remote, err := b.dialer.Dial(ctx, b.clientKey, b.pointer, b.onAuth)
	if err != nil {
		return fmt.Errorf("failed to connect to bunker: %w", err)
	}
	b.remote = remote
	return nil
}

func (b *BunkerSigner) session() (RemoteSigner, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.remote == nil {
		return nil, ErrNotConnected
	}
	return b.remote, nil
}

// GetPublicKey returns the user's public key as reported by the bunker
func (b *BunkerSigner) GetPublicKey(ctx context.Context) (string, error) {
	remote, err := b.session()
	if err != nil {
		return "", err
	}

	b.mu.Lock()
	cached := b.pubkey
	b.mu.Unlock()
	if cached != "" {
		return cached, nil
	}

	pubkey, err := remote.GetPublicKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get public key from bunker: %w", err)
	}

	b.mu.Lock()
	b.pubkey = pubkey
	b.mu.Unlock()
	return pubkey, nil
}

// SignEvent asks the bunker to sign evt
func (b *BunkerSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	remote, err := b.session()
	if err != nil {
		return err
	}
	if err := remote.SignEvent(ctx, evt); err != nil {
		return fmt.Errorf("bunker refused to sign: %w", err)
	}
	return nil
}

// Close releases the remote session. Safe to call more than once.
func (b *BunkerSigner) Close() error {
	b.mu.Lock()
	remote := b.remote
	b.remote = nil
	b.pubkey = ""
	b.mu.Unlock()

	if remote == nil {
		return nil
	}
	return remote.Close()
}

// nip46Dialer connects through go-nostr's NIP-46 client on its own pool
type nip46Dialer struct{}

func (nip46Dialer) Dial(ctx context.Context, clientSecretKey string, pointer BunkerPointer, onAuth func(string)) (RemoteSigner, error) {
	sessionCtx, cancel := context.WithCancel(context.Background())
	pool := nostr.NewSimplePool(sessionCtx)

	bunker := nip46.NewBunker(sessionCtx, clientSecretKey, pointer.Pubkey, pointer.Relays, pool, onAuth)
	if _, err := bunker.RPC(ctx, "connect", []string{pointer.Pubkey, pointer.Secret}); err != nil {
		cancel()
		pool.Close("bunker connect failed")
		return nil, err
	}

	return &nip46Session{bunker: bunker, pool: pool, cancel: cancel}, nil
}

type nip46Session struct {
	bunker *nip46.BunkerClient
	pool   *nostr.SimplePool
	cancel context.CancelFunc
	once   sync.Once
}

func (s *nip46Session) GetPublicKey(ctx context.Context) (string, error) {
	return s.bunker.GetPublicKey(ctx)
}

func (s *nip46Session) SignEvent(ctx context.Context, evt *nostr.Event) error {
	return s.bunker.SignEvent(ctx, evt)
}

func (s *nip46Session) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.pool.Close("bunker session closed")
	})
	return nil
}
