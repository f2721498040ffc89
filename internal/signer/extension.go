package signer

import (
	"context"
	"sync"

	"github.com/nbd-wtf/go-nostr"
)

// Extension is a signing capability supplied by the host environment
type Extension interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

// Availability is the result of probing for an extension
type Availability int

const (
	Unavailable Availability = iota
	Available
)

// availabilityReporter is implemented by extensions that can go away
type availabilityReporter interface {
	Available() bool
}

// CheckExtension reports whether ext can be used. It must be checked before
// offering extension login.
func CheckExtension(ext Extension) Availability {
	if ext == nil {
		return Unavailable
	}
	if r, ok := ext.(availabilityReporter); ok && !r.Available() {
		return Unavailable
	}
	return Available
}

// ExtensionSigner delegates to a host extension and caches its public key
type ExtensionSigner struct {
	ext Extension

	mu     sync.Mutex
	pubkey string
}

// NewExtensionSigner wraps ext. It panics when ext is unavailable since
// callers are expected to check availability first.
func NewExtensionSigner(ext Extension) *ExtensionSigner {
	if CheckExtension(ext) != Available {
		panic("signer: extension is not available")
	}
	return &ExtensionSigner{ext: ext}
}

// GetPublicKey returns the extension's public key
func (s *ExtensionSigner) GetPublicKey(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pubkey != "" {
		return s.pubkey, nil
	}

	pubkey, err := s.ext.GetPublicKey(ctx)
	if err != nil {
		return "", err
	}
	s.pubkey = pubkey
	return pubkey, nil
}

// SignEvent asks the extension to sign evt
func (s *ExtensionSigner) SignEvent(ctx context.Context, evt *nostr.Event) error {
	if CheckExtension(s.ext) != Available {
		return ErrExtensionUnavailable
	}
	return s.ext.SignEvent(ctx, evt)
}
