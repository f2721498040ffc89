package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/CodyTseng/nostr-comments/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a new structured logger based on config.
// Output goes to stderr so command output on stdout stays machine readable.
func NewLogger(cfg *config.Logging) *Logger {
	return newLogger(cfg, os.Stderr, func(groups []string, a slog.Attr) slog.Attr {
		if a.Key == slog.TimeKey {
			if t, ok := a.Value.Any().(time.Time); ok {
				a.Value = slog.StringValue(t.Format(time.RFC3339))
			}
		}
		return a
	})
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	return newLogger(cfg, w, nil)
}

func newLogger(cfg *config.Logging, w io.Writer, replace func([]string, slog.Attr) slog.Attr) *Logger {
	level := parseLevel(cfg.Level)
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: replace,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// Discard returns a logger that drops everything. Used as the fallback when a
// component is constructed without a logger.
func Discard() *Logger {
	return NewLoggerWithWriter(&config.Logging{Level: "error", Format: "text"}, io.Discard)
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogRelayPublish logs the outcome of publishing one event
func (l *Logger) LogRelayPublish(eventID string, relay string, attempted int, err error) {
	if err != nil {
		l.Warn("publish failed",
			"event_id", eventID,
			"relays", attempted,
			"error", err)
	} else {
		l.Info("event published",
			"event_id", eventID,
			"relay", relay,
			"relays", attempted)
	}
}

// LogSubscription logs a subscription lifecycle step
func (l *Logger) LogSubscription(step string, relays []string, events int) {
	l.Debug("subscription",
		"step", step,
		"relays", len(relays),
		"events", events)
}

// LogPagination logs a load-more round trip
func (l *Logger) LogPagination(url string, until int64, fetched int, added int, err error) {
	if err != nil {
		l.Error("load more failed",
			"url", url,
			"until", until,
			"error", err)
	} else {
		l.Debug("load more",
			"url", url,
			"until", until,
			"fetched", fetched,
			"added", added)
	}
}

// LogSession logs a signer session change
func (l *Logger) LogSession(action string, kind string, pubkey string, err error) {
	if err != nil {
		l.Warn("signer session change failed",
			"action", action,
			"kind", kind,
			"error", err)
	} else {
		l.Info("signer session changed",
			"action", action,
			"kind", kind,
			"pubkey", pubkey)
	}
}

// LogMining logs a finished proof-of-work job
func (l *Logger) LogMining(difficulty int, attempts uint64, duration time.Duration, err error) {
	if err != nil {
		l.Debug("mining aborted",
			"difficulty", difficulty,
			"attempts", attempts,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("mining complete",
			"difficulty", difficulty,
			"attempts", attempts,
			"duration_ms", duration.Milliseconds())
	}
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string, config map[string]interface{}) {
	l.Info("nostr-comments starting",
		"version", version,
		"commit", commit,
		"config", config)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("nostr-comments shutting down",
		"reason", reason)
}

// LogPanic logs a panic with stack trace
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", stack)
}
