// Package signer turns unsigned event templates into signed events through
// one of several key holders and tracks the active login session.
package signer

import (
	"context"
	"errors"
	"fmt"

	"github.com/nbd-wtf/go-nostr"
)

// Kind identifies how a session signs events
type Kind string

const (
	KindExtension Kind = "extension"
	KindBunker    Kind = "bunker"
	KindEphemeral Kind = "ephemeral"
)

var (
	// ErrNotConnected is returned by a bunker signer used before Connect
	ErrNotConnected = errors.New("remote signer not connected")
	// ErrInvalidBunkerInput is returned for unparsable bunker URLs
	ErrInvalidBunkerInput = errors.New("invalid bunker input")
	// ErrInvalidSecret is returned for malformed nsec input
	ErrInvalidSecret = errors.New("invalid nsec")
	// ErrInvalidSignature is returned when a signer produced a bad event
	ErrInvalidSignature = errors.New("signed event failed verification")
	// ErrExtensionUnavailable is returned when no extension is present
	ErrExtensionUnavailable = errors.New("signing extension not available")
	// ErrSignerDisabled is returned when a login method is switched off
	ErrSignerDisabled = errors.New("signer disabled")
	// ErrNotLoggedIn is returned when signing without a session
	ErrNotLoggedIn = errors.New("not logged in")
)

// Signer binds event templates to a key. SignEvent fills in pubkey, id and
// sig, and fails if the key holder refuses.
type Signer interface {
	GetPublicKey(ctx context.Context) (string, error)
	SignEvent(ctx context.Context, evt *nostr.Event) error
}

// SignAndVerify signs evt and checks that the result is a valid event
func SignAndVerify(ctx context.Context, s Signer, evt *nostr.Event) error {
	if err := s.SignEvent(ctx, evt); err != nil {
		return fmt.Errorf("failed to sign event: %w", err)
	}
	return Verify(evt)
}

// Verify checks the id and signature of evt
func Verify(evt *nostr.Event) error {
	if evt.ID != evt.GetID() {
		return fmt.Errorf("%w: id mismatch", ErrInvalidSignature)
	}
	ok, err := evt.CheckSignature()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if !ok {
		return ErrInvalidSignature
	}
	return nil
}

// ParseKind maps a config name onto a Kind
func ParseKind(name string) (Kind, error) {
	switch Kind(name) {
	case KindExtension, KindBunker, KindEphemeral:
		return Kind(name), nil
	default:
		return "", fmt.Errorf("unknown signer kind: %s", name)
	}
}
