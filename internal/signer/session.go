package signer

import (
	"context"
	"fmt"
	"io"
	"sync"
	"sync/atomic"

	"github.com/CodyTseng/nostr-comments/internal/ops"
	"github.com/nbd-wtf/go-nostr"
)

// Session is the active login. Sessions are immutable once published.
type Session struct {
	Kind      Kind
	PublicKey string
	Signer    Signer
}

// Manager owns the single process-wide signer session
type Manager struct {
	current atomic.Pointer[Session]
	enabled map[Kind]bool

	// login serializes session changes so a slow login cannot clobber a
	// newer one
	login sync.Mutex

	mu        sync.Mutex
	listeners map[int]func(*Session)
	nextID    int

	logger *ops.Logger
}

// NewManager creates a manager allowing the given signer kinds. An empty
// list allows every kind.
func NewManager(enabled []string, logger *ops.Logger) *Manager {
	if logger == nil {
		logger = ops.Discard()
	}

	m := &Manager{
		enabled:   make(map[Kind]bool),
		listeners: make(map[int]func(*Session)),
		logger:    logger.WithComponent("signer"),
	}

	if len(enabled) == 0 {
		enabled = []string{string(KindExtension), string(KindBunker), string(KindEphemeral)}
	}
	for _, name := range enabled {
		if kind, err := ParseKind(name); err == nil {
			m.enabled[kind] = true
		}
	}
	return m
}

// Enabled reports whether kind may be used to log in
func (m *Manager) Enabled(kind Kind) bool {
	return m.enabled[kind]
}

// Current returns the active session or nil
func (m *Manager) Current() *Session {
	return m.current.Load()
}

// LoggedIn reports whether a session is active
func (m *Manager) LoggedIn() bool {
	return m.current.Load() != nil
}

// LoginExtension logs in through a host extension
func (m *Manager) LoginExtension(ctx context.Context, ext Extension) (*Session, error) {
	if !m.enabled[KindExtension] {
		return nil, m.fail("login", KindExtension, ErrSignerDisabled)
	}
	if CheckExtension(ext) != Available {
		return nil, m.fail("login", KindExtension, ErrExtensionUnavailable)
	}
	return m.establish(ctx, KindExtension, NewExtensionSigner(ext))
}

// LoginBunker parses input, connects to the bunker and logs in. A bunker
// that connects but cannot report a public key is closed again.
func (m *Manager) LoginBunker(ctx context.Context, input string, opts BunkerOptions) (*Session, error) {
	if !m.enabled[KindBunker] {
		return nil, m.fail("login", KindBunker, ErrSignerDisabled)
	}

	bunker, err := NewBunkerSigner(input, opts)
	if err != nil {
		return nil, m.fail("login", KindBunker, err)
	}
	if err := bunker.Connect(ctx); err != nil {
		return nil, m.fail("login", KindBunker, err)
	}

	session, err := m.establish(ctx, KindBunker, bunker)
	if err != nil {
		bunker.Close()
		return nil, err
	}
	return session, nil
}

// LoginEphemeral logs in with a fresh session-only key
func (m *Manager) LoginEphemeral(ctx context.Context) (*Session, error) {
	if !m.enabled[KindEphemeral] {
		return nil, m.fail("login", KindEphemeral, ErrSignerDisabled)
	}
	return m.establish(ctx, KindEphemeral, NewEphemeralSigner())
}

// LoginNsec logs in with an imported secret key
func (m *Manager) LoginNsec(ctx context.Context, nsec string) (*Session, error) {
	if !m.enabled[KindEphemeral] {
		return nil, m.fail("login", KindEphemeral, ErrSignerDisabled)
	}

	s, err := EphemeralFromNsec(nsec)
	if err != nil {
		return nil, m.fail("login", KindEphemeral, err)
	}
	return m.establish(ctx, KindEphemeral, s)
}

// SetExternal installs a signer supplied by the embedding application. It
// is accepted once GetPublicKey succeeds and is reported as an extension
// session. On failure the current session is kept so the caller can offer
// the regular login options.
func (m *Manager) SetExternal(ctx context.Context, s Signer) (*Session, error) {
	return m.establish(ctx, KindExtension, s)
}

// establish validates s and publishes it as the new session
func (m *Manager) establish(ctx context.Context, kind Kind, s Signer) (*Session, error) {
	m.login.Lock()
	defer m.login.Unlock()

	pubkey, err := s.GetPublicKey(ctx)
	if err != nil {
		return nil, m.fail("login", kind, fmt.Errorf("failed to get public key: %w", err))
	}

	session := &Session{Kind: kind, PublicKey: pubkey, Signer: s}
	m.replace(session)
	m.logger.LogSession("login", string(kind), pubkey, nil)
	return session, nil
}

// Logout clears the session and releases the old signer
func (m *Manager) Logout() error {
	m.login.Lock()
	defer m.login.Unlock()

	old := m.replace(nil)
	if old != nil {
		m.logger.LogSession("logout", string(old.Kind), old.PublicKey, nil)
	}
	return nil
}

// replace swaps the session first and then closes the previous signer if
// it holds a remote connection.
func (m *Manager) replace(next *Session) *Session {
	old := m.current.Swap(next)

	if old != nil && (next == nil || old.Signer != next.Signer) {
		if closer, ok := old.Signer.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				m.logger.Warn("failed to close signer", "kind", old.Kind, "error", err)
			}
		}
	}

	m.notify(next)
	return old
}

// Sign signs evt with the active session and verifies the result
func (m *Manager) Sign(ctx context.Context, evt *nostr.Event) error {
	session := m.current.Load()
	if session == nil {
		return ErrNotLoggedIn
	}
	return SignAndVerify(ctx, session.Signer, evt)
}

// Subscribe registers fn for session changes. It returns an unsubscribe
// function.
func (m *Manager) Subscribe(fn func(*Session)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := m.nextID
	m.nextID++
	m.listeners[id] = fn

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.listeners, id)
	}
}

func (m *Manager) notify(session *Session) {
	m.mu.Lock()
	listeners := make([]func(*Session), 0, len(m.listeners))
	for _, fn := range m.listeners {
		listeners = append(listeners, fn)
	}
	m.mu.Unlock()

	for _, fn := range listeners {
		fn(session)
	}
}

func (m *Manager) fail(action string, kind Kind, err error) error {
	m.logger.LogSession(action, string(kind), "", err)
	return err
}
