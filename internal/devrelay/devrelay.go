package devrelay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"time"

	"github.com/CodyTseng/nostr-comments/internal/comments"
	"github.com/CodyTseng/nostr-comments/internal/config"
	"github.com/CodyTseng/nostr-comments/internal/ops"
	"github.com/fiatjaf/eventstore"
	"github.com/fiatjaf/eventstore/slicestore"
	"github.com/fiatjaf/eventstore/sqlite3"
	"github.com/fiatjaf/khatru"
	"github.com/nbd-wtf/go-nostr"
)

// Relay is a local khatru relay for trying the widget without public relays
type Relay struct {
	relay  *khatru.Relay
	store  eventstore.Store
	config *config.DevRelay
	logger *ops.Logger
}

// New creates a dev relay with the configured storage backend
func New(ctx context.Context, cfg *config.DevRelay, logger *ops.Logger) (*Relay, error) {
	if logger == nil {
		logger = ops.Discard()
	}

	r := &Relay{
		config: cfg,
		logger: logger.WithComponent("devrelay"),
	}

	switch cfg.Driver {
	case "", "memory":
		r.store = &slicestore.SliceStore{}
	case "sqlite":
		if err := os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		r.store = &sqlite3.SQLite3Backend{DatabaseURL: cfg.SQLitePath}
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", cfg.Driver)
	}

	if err := r.store.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.Driver, err)
	}

	relay := khatru.NewRelay()
	relay.Info.Name = "nostr-comments dev relay"
	relay.Info.Description = "local relay for NIP-22 web comments"
	relay.Info.SupportedNIPs = append(relay.Info.SupportedNIPs, 13, 22, 25, 65)

	relay.StoreEvent = append(relay.StoreEvent, r.store.SaveEvent)
	relay.QueryEvents = append(relay.QueryEvents, r.store.QueryEvents)
	relay.DeleteEvent = append(relay.DeleteEvent, r.store.DeleteEvent)
	relay.ReplaceEvent = append(relay.ReplaceEvent, r.store.ReplaceEvent)
	relay.RejectEvent = append(relay.RejectEvent, r.rejectKind, r.rejectPow)

	r.relay = relay
	return r, nil
}

// rejectKind refuses kinds outside allowed_kinds. An empty list allows all.
func (r *Relay) rejectKind(ctx context.Context, event *nostr.Event) (bool, string) {
	if len(r.config.AllowedKinds) == 0 || slices.Contains(r.config.AllowedKinds, event.Kind) {
		return false, ""
	}
	r.logger.Debug("rejected event", "event_id", event.ID, "kind", event.Kind)
	return true, fmt.Sprintf("blocked: kind %d is not accepted here", event.Kind)
}

// rejectPow refuses events whose id is under min_pow leading zero bits
func (r *Relay) rejectPow(ctx context.Context, event *nostr.Event) (bool, string) {
	if r.config.MinPow <= 0 {
		return false, ""
	}
	if d := comments.Difficulty(event.ID); d < r.config.MinPow {
		r.logger.Debug("rejected event", "event_id", event.ID, "difficulty", d)
		return true, fmt.Sprintf("pow: difficulty %d is less than %d", d, r.config.MinPow)
	}
	return false, ""
}

// Khatru returns the underlying Khatru relay instance
func (r *Relay) Khatru() *khatru.Relay {
	return r.relay
}

// Handler returns the websocket and NIP-11 handler
func (r *Relay) Handler() http.Handler {
	return r.relay
}

// StoreEvent runs the reject hooks and stores the event directly, bypassing
// the websocket. Used for seeding.
func (r *Relay) StoreEvent(ctx context.Context, event *nostr.Event) error {
	for _, reject := range r.relay.RejectEvent {
		if rejected, msg := reject(ctx, event); rejected {
			return fmt.Errorf("event rejected: %s", msg)
		}
	}

	if nostr.IsReplaceableKind(event.Kind) {
		for _, handler := range r.relay.ReplaceEvent {
			if err := handler(ctx, event); err != nil {
				return fmt.Errorf("failed to replace event: %w", err)
			}
		}
		return nil
	}

	for _, handler := range r.relay.StoreEvent {
		if err := handler(ctx, event); err != nil {
			return fmt.Errorf("failed to store event: %w", err)
		}
	}
	return nil
}

// QueryEvents queries events from the store using Nostr filters
func (r *Relay) QueryEvents(ctx context.Context, filter nostr.Filter) ([]*nostr.Event, error) {
	ch, err := r.store.QueryEvents(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}

	var events []*nostr.Event
	for event := range ch {
		events = append(events, event)
	}
	return events, nil
}

// Addr returns the configured listen address
func (r *Relay) Addr() string {
	return net.JoinHostPort(r.config.Host, strconv.Itoa(r.config.Port))
}

// URL returns the websocket URL clients use to reach the relay
func (r *Relay) URL() string {
	return "ws://" + r.Addr()
}

// ListenAndServe serves the relay until ctx ends
func (r *Relay) ListenAndServe(ctx context.Context) error {
	server := &http.Server{
		Addr:              r.Addr(),
		Handler:           r.relay,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		r.logger.Info("dev relay listening", "url", r.URL(), "driver", r.config.Driver)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("dev relay failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down dev relay: %w", err)
		}
		return nil
	}
}

// Close closes the store
func (r *Relay) Close() error {
	r.store.Close()
	return nil
}
