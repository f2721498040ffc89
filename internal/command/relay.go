package command

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/CodyTseng/nostr-comments/internal/config"
	"github.com/CodyTseng/nostr-comments/internal/devrelay"
	"github.com/CodyTseng/nostr-comments/internal/ops"
)

// NewRelayCmd creates the relay command.
func NewRelayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Run a local development relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("port") {
				cfg.DevRelay.Port, _ = cmd.Flags().GetInt("port")
			}
			if driver, _ := cmd.Flags().GetString("driver"); driver != "" {
				cfg.DevRelay.Driver = driver
			}
			if cmd.Flags().Changed("min-pow") {
				cfg.DevRelay.MinPow, _ = cmd.Flags().GetInt("min-pow")
			}
			if err := validateDevRelay(&cfg.DevRelay); err != nil {
				return err
			}

			logger := ops.NewLoggerWithWriter(&cfg.Logging, cmd.ErrOrStderr())
			logger.LogStartup(Version, "", map[string]interface{}{
				"driver":  cfg.DevRelay.Driver,
				"min_pow": cfg.DevRelay.MinPow,
				"kinds":   cfg.DevRelay.AllowedKinds,
			})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			relay, err := devrelay.New(ctx, &cfg.DevRelay, logger)
			if err != nil {
				return err
			}
			defer relay.Close()

			if path, _ := cmd.Flags().GetString("restore"); path != "" {
				n, err := relay.Restore(ctx, path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "restored %d events from %s\n", n, path)
			}

			var backups sync.WaitGroup
			if dir, _ := cmd.Flags().GetString("backup-dir"); dir != "" {
				interval, _ := cmd.Flags().GetDuration("backup-interval")
				maxAge, _ := cmd.Flags().GetDuration("backup-max-age")
				if interval <= 0 {
					return fmt.Errorf("backup interval must be positive")
				}
				periodic := devrelay.NewPeriodicBackup(relay, dir, interval, maxAge)
				backups.Add(1)
				go func() {
					defer backups.Done()
					periodic.Run(ctx)
				}()
			}
			defer func() {
				stop()
				backups.Wait()
			}()

			fmt.Fprintf(cmd.OutOrStdout(), "dev relay listening on %s (Ctrl+C to stop)\n", relay.URL())
			if err := relay.ListenAndServe(ctx); err != nil {
				return err
			}
			logger.LogShutdown("relay interrupted")
			return nil
		},
	}

	cmd.Flags().Int("port", 0, "listen port")
	cmd.Flags().String("driver", "", "storage driver (memory, sqlite)")
	cmd.Flags().Int("min-pow", 0, "reject events below this difficulty")
	cmd.Flags().String("restore", "", "load events from a backup file before serving")
	cmd.Flags().String("backup-dir", "", "write periodic backups to this directory")
	cmd.Flags().Duration("backup-interval", time.Hour, "time between periodic backups")
	cmd.Flags().Duration("backup-max-age", 7*24*time.Hour, "delete backups older than this (0 keeps all)")

	return cmd
}

func validateDevRelay(cfg *config.DevRelay) error {
	if cfg.Port < 1 || cfg.Port > 65535 {
		return fmt.Errorf("devrelay port must be between 1 and 65535")
	}
	switch cfg.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("invalid devrelay driver: %s (must be one of: memory, sqlite)", cfg.Driver)
	}
	if cfg.MinPow < 0 {
		return fmt.Errorf("devrelay min_pow must not be negative")
	}
	return nil
}
