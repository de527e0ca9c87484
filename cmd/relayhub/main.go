// Command relayhub runs the webhook relay service and its operator tools.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/xraph/relayhub/ratelimit"
	"github.com/xraph/relayhub/store"
	"github.com/xraph/relayhub/store/memory"
	"github.com/xraph/relayhub/store/postgres"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgFile string

	root := &cobra.Command{
		Use:   "relayhub",
		Short: "Webhook relay hub",
		Long: `relayhub receives webhooks, verifies their signatures, stores them and
forwards them downstream. Failed deliveries are kept in a dead letter queue
for replay.`,
		Version:      version,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./relayhub.yaml or /etc/relayhub/relayhub.yaml)")

	load := func() (*Config, *slog.Logger, error) {
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			return nil, nil, err
		}
		logger := newLogger(os.Stdout, cfg.Logging)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	root.AddCommand(
		newServeCmd(load),
		newMigrateCmd(load),
		newSignCmd(),
		newSecretCmd(),
	)
	return root
}

type loader func() (*Config, *slog.Logger, error)

// openStore opens the configured backend.
func openStore(ctx context.Context, cfg DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case "", "memory":
		return memory.New(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("database.dsn is required for the postgres driver")
		}
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// newLimiter builds the intake rate limiter. A Redis backend that cannot be
// reached degrades to no limiting.
func newLimiter(ctx context.Context, cfg RateLimitConfig, logger *slog.Logger) ratelimit.Limiter {
	if !cfg.Enabled || cfg.Requests <= 0 {
		logger.Info("rate limiting disabled")
		return ratelimit.NoOp{}
	}

	switch cfg.Backend {
	case "redis":
		l, err := ratelimit.NewRedis(ctx, cfg.RedisURL, cfg.Requests, cfg.Window)
		if err != nil {
			logger.Warn("redis rate limiter unavailable, continuing without rate limiting", "error", err)
			return ratelimit.NoOp{}
		}
		logger.Info("rate limiting enabled", "backend", "redis", "requests", cfg.Requests, "window", cfg.Window)
		return l
	default:
		logger.Info("rate limiting enabled", "backend", "memory", "requests", cfg.Requests, "window", cfg.Window)
		return ratelimit.NewLocal(cfg.Requests, cfg.Window)
	}
}
