package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

// EphemeralSigner holds a session-only secret key. The key leaves the
// process only through the explicit export methods.
type EphemeralSigner struct {
	secretKey string
	publicKey string
}

// KeyFile is the exported form of an ephemeral key
type KeyFile struct {
	Nsec   string `json:"nsec"`
	Npub   string `json:"npub"`
	Pubkey string `json:"pubkey"`
}

// NewEphemeralSigner creates a signer with a fresh random key
func NewEphemeralSigner() *EphemeralSigner {
	sk := nostr.GeneratePrivateKey()
	pk, _ := nostr.GetPublicKey(sk)
	return &EphemeralSigner{secretKey: sk, publicKey: pk}
}

// EphemeralFromNsec imports a bech32 encoded secret key
func EphemeralFromNsec(nsec string) (*EphemeralSigner, error) {
	prefix, value, err := nip19.Decode(strings.TrimSpace(nsec))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSecret, err)
	}
	if prefix != "nsec" {
		return nil, fmt.Errorf("%w: expected nsec, got %s", ErrInvalidSecret, prefix)
	}

	sk, ok := value.(string)
	if !ok {
		return nil, ErrInvalidSecret
	}
	pk, err := nostr.GetPublicKey(sk)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSecret, err)
	}

	return &EphemeralSigner{secretKey: sk, publicKey: pk}, nil
}

// GetPublicKey returns the hex public key
func (s *EphemeralSigner) GetPublicKey(context.Context) (string, error) {
	return s.publicKey, nil
}

// SignEvent signs evt with the session key
func (s *EphemeralSigner) SignEvent(_ context.Context, evt *nostr.Event) error {
	return evt.Sign(s.secretKey)
}

// Nsec returns the bech32 secret key
func (s *EphemeralSigner) Nsec() string {
	nsec, _ := nip19.EncodePrivateKey(s.secretKey)
	return nsec
}

// Npub returns the bech32 public key
func (s *EphemeralSigner) Npub() string {
	npub, _ := nip19.EncodePublicKey(s.publicKey)
	return npub
}

// KeyFile returns the backup form of the key
func (s *EphemeralSigner) KeyFile() KeyFile {
	return KeyFile{
		Nsec:   s.Nsec(),
		Npub:   s.Npub(),
		Pubkey: s.publicKey,
	}
}

// KeyFileName is the suggested file name for a key backup
func (s *EphemeralSigner) KeyFileName() string {
	return fmt.Sprintf("nostr-key-%s.json", s.publicKey[:8])
}

// WriteKeyFile writes the key backup as indented JSON
func (s *EphemeralSigner) WriteKeyFile(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.KeyFile()); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}
