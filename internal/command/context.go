package command

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/config"
	internalnostr "github.com/CodyTseng/nostr-comments/internal/nostr"
	"github.com/CodyTseng/nostr-comments/internal/ops"
	"github.com/CodyTseng/nostr-comments/internal/pow"
	"github.com/CodyTseng/nostr-comments/internal/widget"
)

// CommandContext holds what the page commands share
type CommandContext struct {
	Config   *config.Config
	Logger   *ops.Logger
	Client   *internalnostr.Client
	Resolver *internalnostr.Resolver
	JSONMode bool

	closers []io.Closer
}

// loadConfig reads --config, or the defaults when none is given, and
// applies the global flags on top
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)

	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Parse(nil)
	}
	if err != nil {
		return nil, err
	}

	if url, _ := cmd.Flags().GetString("url"); url != "" {
		cfg.Widget.URL = url
	}
	if relays, _ := cmd.Flags().GetStringArray("relay"); len(relays) > 0 {
		cfg.Widget.Relays = relays
	}
	if mention, _ := cmd.Flags().GetString("mention"); mention != "" {
		cfg.Widget.Mention = mention
	}
	if difficulty, _ := cmd.Flags().GetInt("pow"); difficulty >= 0 {
		cfg.Widget.Pow = difficulty
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}

	return cfg, nil
}

// GetContext loads and validates configuration and connects the relay
// client. Callers must Close the result.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	jsonMode, _ := cmd.Flags().GetBool("json")
	logger := ops.NewLoggerWithWriter(&cfg.Logging, cmd.ErrOrStderr())

	ctx := &CommandContext{
		Config:   cfg,
		Logger:   logger,
		JSONMode: jsonMode,
	}

	cache, err := internalnostr.NewRelayListCache(&cfg.Caching)
	if err != nil {
		return nil, fmt.Errorf("failed to create relay list cache: %w", err)
	}
	if closer, ok := cache.(io.Closer); ok {
		ctx.closers = append(ctx.closers, closer)
	}

	ctx.Client = internalnostr.New(cmd.Context(), &cfg.Relays, internalnostr.WithLogger(logger))
	ctx.Resolver = internalnostr.NewResolver(ctx.Client, &cfg.Relays,
		internalnostr.WithRelayListCache(cache),
		internalnostr.WithResolverLogger(logger))

	return ctx, nil
}

// NewWidget composes a widget for the configured page
func (c *CommandContext) NewWidget(ctx context.Context, opts widget.Options) (*widget.Widget, error) {
	opts.Widget = c.Config.Widget

	return widget.New(ctx, opts, widget.Deps{
		Gateway:  widget.NewClientGateway(c.Client),
		Resolver: c.Resolver,
		Miner:    pow.NewMiner(&c.Config.Pow, pow.WithLogger(c.Logger)),
		Sync:     &c.Config.Sync,
		Logger:   c.Logger,
	})
}

// Close releases relay connections and caches
func (c *CommandContext) Close() {
	if c.Client != nil {
		c.Client.Close()
	}
	for _, closer := range c.closers {
		if err := closer.Close(); err != nil {
			c.Logger.Warn("failed to close resource", "error", err)
		}
	}
}
