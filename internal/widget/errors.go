package widget

import (
	"context"
	"errors"

	internalnostr "github.com/CodyTseng/nostr-comments/internal/nostr"
	"github.com/CodyTseng/nostr-comments/internal/pow"
	"github.com/CodyTseng/nostr-comments/internal/signer"
)

var (
	// ErrLoginRequired is returned when posting or liking without a session
	ErrLoginRequired = errors.New("login required")
	// ErrEmptyContent is returned for blank comments
	ErrEmptyContent = errors.New("comment is empty")
	// ErrMissingURL is returned when the widget has no page url
	ErrMissingURL = errors.New("page url is required")
	// ErrRelayUnavailable wraps relay query failures
	ErrRelayUnavailable = errors.New("relay query failed")
	// ErrSigningFailed wraps refusals and failures of the active signer
	ErrSigningFailed = errors.New("signing failed")
	// ErrPowLost is returned when the signer altered a mined event
	ErrPowLost = errors.New("signed event no longer meets pow")
)

// ErrorClass groups errors by how the caller should react
type ErrorClass string

const (
	// ClassInput errors are caused by bad caller input
	ClassInput ErrorClass = "input"
	// ClassTransport errors are recoverable by retrying
	ClassTransport ErrorClass = "transport"
	// ClassAuthorization errors come from the signer; the session stays
	ClassAuthorization ErrorClass = "authorization"
	ClassInternal      ErrorClass = "internal"
)

// Classify maps err onto the error taxonomy
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrEmptyContent),
		errors.Is(err, ErrMissingURL),
		errors.Is(err, signer.ErrInvalidBunkerInput),
		errors.Is(err, signer.ErrInvalidSecret),
		errors.Is(err, pow.ErrInvalidDifficulty):
		return ClassInput
	case errors.Is(err, ErrLoginRequired),
		errors.Is(err, ErrSigningFailed),
		errors.Is(err, signer.ErrNotLoggedIn),
		errors.Is(err, signer.ErrNotConnected),
		errors.Is(err, signer.ErrExtensionUnavailable),
		errors.Is(err, signer.ErrSignerDisabled),
		errors.Is(err, signer.ErrInvalidSignature):
		return ClassAuthorization
	case errors.Is(err, ErrRelayUnavailable),
		errors.Is(err, internalnostr.ErrPublishFailed),
		errors.Is(err, internalnostr.ErrNoRelays),
		errors.Is(err, internalnostr.ErrRelaysUnreachable),
		errors.Is(err, context.DeadlineExceeded):
		return ClassTransport
	default:
		return ClassInternal
	}
}
