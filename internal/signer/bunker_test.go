package signer

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nbd-wtf/go-nostr"
)

var testBunkerPubkey = func() string {
	pk, _ := nostr.GetPublicKey(nostr.GeneratePrivateKey())
	return pk
}()

// fakeRemote signs locally and records Close calls
type fakeRemote struct {
	sk        string
	failKey   bool
	closeMu   sync.Mutex
	closeCall int
}

func (r *fakeRemote) GetPublicKey(context.Context) (string, error) {
	if r.failKey {
		return "", errors.New("no key")
	}
	return nostr.GetPublicKey(r.sk)
}

func (r *fakeRemote) SignEvent(_ context.Context, evt *nostr.Event) error {
	return evt.Sign(r.sk)
}

func (r *fakeRemote) Close() error {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	r.closeCall++
	return nil
}

func (r *fakeRemote) closed() int {
	r.closeMu.Lock()
	defer r.closeMu.Unlock()
	return r.closeCall
}

type fakeDialer struct {
	remote  *fakeRemote
	err     error
	dials   int
	pointer BunkerPointer
}

func (d *fakeDialer) Dial(_ context.Context, _ string, pointer BunkerPointer, _ func(string)) (RemoteSigner, error) {
	d.dials++
	d.pointer = pointer
	if d.err != nil {
		return nil, d.err
	}
	return d.remote, nil
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{remote: &fakeRemote{sk: nostr.GeneratePrivateKey()}}
}

func bunkerURL() string {
	return "bunker://" + testBunkerPubkey + "?relay=wss://relay.example.com/&relay=wss%3A%2F%2Fnos.lol&secret=s3cret"
}

func TestParseBunkerURL(t *testing.T) {
	pointer, err := ParseBunkerURL(bunkerURL())
	if err != nil {
		t.Fatalf("ParseBunkerURL failed: %v", err)
	}

	if pointer.Pubkey != testBunkerPubkey {
		t.Errorf("Expected pubkey %s, got %s", testBunkerPubkey, pointer.Pubkey)
	}
	if len(pointer.Relays) != 2 {
		t.Fatalf("Expected 2 relays, got %d", len(pointer.Relays))
	}
	if pointer.Relays[0] != "wss://relay.example.com" {
		t.Errorf("Expected normalized relay, got %s", pointer.Relays[0])
	}
	if pointer.Relays[1] != "wss://nos.lol" {
		t.Errorf("Expected decoded relay, got %s", pointer.Relays[1])
	}
	if pointer.Secret != "s3cret" {
		t.Errorf("Expected secret s3cret, got %s", pointer.Secret)
	}
}

func TestParseBunkerURLInvalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"wrong scheme", "nostrconnect://" + testBunkerPubkey + "?relay=wss://relay.example.com"},
		{"short pubkey", "bunker://abcd?relay=wss://relay.example.com"},
		{"no relays", "bunker://" + testBunkerPubkey},
		{"only bad relays", "bunker://" + testBunkerPubkey + "?relay=https://relay.example.com"},
		{"nip05", "alice@example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseBunkerURL(tt.input)
			if !errors.Is(err, ErrInvalidBunkerInput) {
				t.Errorf("Expected ErrInvalidBunkerInput, got %v", err)
			}
		})
	}
}

func TestBunkerSignerNIP05(t *testing.T) {
	var looked string
	lookup := func(_ context.Context, identifier string) (*nostr.ProfilePointer, error) {
		looked = identifier
		return &nostr.ProfilePointer{
			PublicKey: testBunkerPubkey,
			Relays:    []string{"wss://bunker.example.com/", "https://not-a-relay.example.com"},
		}, nil
	}
	dialer := newFakeDialer()

	b, err := NewBunkerSigner("alice@example.com", BunkerOptions{Dialer: dialer, Lookup: lookup})
	if err != nil {
		t.Fatalf("NewBunkerSigner failed: %v", err)
	}
	if b.Pointer().Pubkey != "" {
		t.Error("Expected pointer unresolved before Connect")
	}

	if err := b.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if looked != "alice@example.com" {
		t.Errorf("Expected lookup of alice@example.com, got %q", looked)
	}
	if dialer.pointer.Pubkey != testBunkerPubkey {
		t.Errorf("Expected dial to %s, got %s", testBunkerPubkey, dialer.pointer.Pubkey)
	}
	if len(dialer.pointer.Relays) != 1 || dialer.pointer.Relays[0] != "wss://bunker.example.com" {
		t.Errorf("Expected one normalized relay, got %v", dialer.pointer.Relays)
	}
}

func TestBunkerSignerNIP05Failures(t *testing.T) {
	tests := []struct {
		name    string
		profile *nostr.ProfilePointer
		err     error
	}{
		{"lookup error", nil, errors.New("no such host")},
		{"unknown name", &nostr.ProfilePointer{}, nil},
		{"no relays", &nostr.ProfilePointer{PublicKey: testBunkerPubkey}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := newFakeDialer()
			lookup := func(context.Context, string) (*nostr.ProfilePointer, error) {
				return tt.profile, tt.err
			}

			b, err := NewBunkerSigner("alice@example.com", BunkerOptions{Dialer: dialer, Lookup: lookup})
			if err != nil {
				t.Fatalf("NewBunkerSigner failed: %v", err)
			}
			if err := b.Connect(context.Background()); err == nil {
				t.Error("Expected Connect to fail")
			}
			if dialer.dials != 0 {
				t.Errorf("Expected no dial, got %d", dialer.dials)
			}
		})
	}
}

func TestBunkerSignerRequiresConnect(t *testing.T) {
	b, err := NewBunkerSigner(bunkerURL(), BunkerOptions{Dialer: newFakeDialer()})
	if err != nil {
		t.Fatalf("NewBunkerSigner failed: %v", err)
	}

	if _, err := b.GetPublicKey(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from GetPublicKey, got %v", err)
	}
	if err := b.SignEvent(context.Background(), template()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected from SignEvent, got %v", err)
	}
}

func TestBunkerSignerLifecycle(t *testing.T) {
	dialer := newFakeDialer()
	b, err := NewBunkerSigner(bunkerURL(), BunkerOptions{Dialer: dialer})
	if err != nil {
		t.Fatalf("NewBunkerSigner failed: %v", err)
	}

	ctx := context.Background()
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if err := b.Connect(ctx); err != nil {
		t.Fatalf("Second Connect failed: %v", err)
	}
	if dialer.dials != 1 {
		t.Errorf("Expected 1 dial, got %d", dialer.dials)
	}
	if dialer.pointer.Secret != "s3cret" {
		t.Errorf("Expected secret passed to dialer, got %q", dialer.pointer.Secret)
	}

	if err := SignAndVerify(ctx, b, template()); err != nil {
		t.Fatalf("SignAndVerify failed: %v", err)
	}

	b.Close()
	b.Close()
	if dialer.remote.closed() != 1 {
		t.Errorf("Expected remote closed once, got %d", dialer.remote.closed())
	}
	if _, err := b.GetPublicKey(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected after Close, got %v", err)
	}
}

func TestBunkerConnectFailure(t *testing.T) {
	dialer := newFakeDialer()
	dialer.err = errors.New("timeout")

	b, _ := NewBunkerSigner(bunkerURL(), BunkerOptions{Dialer: dialer})
	if err := b.Connect(context.Background()); err == nil {
		t.Error("Expected connect error")
	}
	if _, err := b.GetPublicKey(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Expected ErrNotConnected, got %v", err)
	}
}
