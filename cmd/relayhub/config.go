package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/xraph/relayhub"
	"github.com/xraph/relayhub/signature"
)

// Config is the process configuration loaded from file and environment.
type Config struct {
	AppName    string           `mapstructure:"app_name"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Forward    ForwardConfig    `mapstructure:"forward"`
	Replay     ReplayConfig     `mapstructure:"replay"`
	Signatures SignaturesConfig `mapstructure:"signatures"`
	RateLimit  RateLimitConfig  `mapstructure:"ratelimit"`
	Retention  RetentionConfig  `mapstructure:"retention"`
	Sweeper    SweeperConfig    `mapstructure:"sweeper"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes"`
}

type DatabaseConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

type ForwardConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	URL         string        `mapstructure:"url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	Async       bool          `mapstructure:"async"`
	Concurrency int           `mapstructure:"concurrency"`
	QueueSize   int           `mapstructure:"queue_size"`
}

type ReplayConfig struct {
	Cooldown   time.Duration `mapstructure:"cooldown"`
	SuccessTTL time.Duration `mapstructure:"success_ttl"`
}

type SignaturesConfig struct {
	GitHubSecret string `mapstructure:"github_secret"`
	StripeSecret string `mapstructure:"stripe_secret"`
	CustomSecret string `mapstructure:"custom_secret"`
}

type RateLimitConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Backend is "memory" or "redis".
	Backend  string        `mapstructure:"backend"`
	RedisURL string        `mapstructure:"redis_url"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

type RetentionConfig struct {
	Days     int           `mapstructure:"days"`
	Interval time.Duration `mapstructure:"interval"`
}

type SweeperConfig struct {
	Interval   time.Duration `mapstructure:"interval"`
	BatchSize  int           `mapstructure:"batch_size"`
	MaxRetries int           `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configPath, or relayhub.yaml from the working directory
// or /etc/relayhub, and applies RELAYHUB_* environment overrides. A missing
// file is not an error.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	def := relayhub.DefaultConfig()

	v.SetDefault("app_name", def.AppName)
	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.shutdown_timeout", def.ShutdownTimeout.String())
	v.SetDefault("server.max_body_bytes", 1<<20)
	v.SetDefault("database.driver", "memory")
	v.SetDefault("database.dsn", "")
	v.SetDefault("forward.enabled", false)
	v.SetDefault("forward.url", "")
	v.SetDefault("forward.timeout", def.ForwardTimeout.String())
	v.SetDefault("forward.async", false)
	v.SetDefault("forward.concurrency", def.Concurrency)
	v.SetDefault("forward.queue_size", def.QueueSize)
	v.SetDefault("replay.cooldown", def.ReplayCooldown.String())
	v.SetDefault("replay.success_ttl", def.ReplaySuccessTTL.String())
	v.SetDefault("signatures.github_secret", "")
	v.SetDefault("signatures.stripe_secret", "")
	v.SetDefault("signatures.custom_secret", "")
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.backend", "memory")
	v.SetDefault("ratelimit.redis_url", "redis://localhost:6379/0")
	v.SetDefault("ratelimit.requests", 60)
	v.SetDefault("ratelimit.window", "1m")
	v.SetDefault("retention.days", def.RetentionDays)
	v.SetDefault("retention.interval", def.JanitorInterval.String())
	v.SetDefault("sweeper.interval", "0s")
	v.SetDefault("sweeper.batch_size", def.SweepBatchSize)
	v.SetDefault("sweeper.max_retries", def.SweepMaxRetries)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("relayhub")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/relayhub")
	}

	v.SetEnvPrefix("RELAYHUB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

// HubOptions translates the loaded configuration into Hub options.
func (c *Config) HubOptions() []relayhub.Option {
	opts := []relayhub.Option{
		relayhub.WithForwardTimeout(c.Forward.Timeout),
		relayhub.WithAsyncForward(c.Forward.Async),
		relayhub.WithConcurrency(c.Forward.Concurrency),
		relayhub.WithReplayWindows(c.Replay.Cooldown, c.Replay.SuccessTTL),
		relayhub.WithRetention(c.Retention.Days, c.Retention.Interval),
		relayhub.WithSweeper(c.Sweeper.Interval, c.Sweeper.BatchSize, c.Sweeper.MaxRetries),
		relayhub.WithQueueSize(c.Forward.QueueSize),
		relayhub.WithShutdownTimeout(c.Server.ShutdownTimeout),
		relayhub.WithAppName(c.AppName),
	}
	if c.Forward.URL != "" {
		opts = append(opts, relayhub.WithForwardURL(c.Forward.URL))
	}
	// forward.enabled=false keeps the URL as the replay default without
	// forwarding at ingest.
	opts = append(opts, relayhub.WithForwardEnabled(c.Forward.Enabled))

	for source, secret := range map[string]string{
		signature.SourceGitHub: c.Signatures.GitHubSecret,
		signature.SourceStripe: c.Signatures.StripeSecret,
		signature.SourceCustom: c.Signatures.CustomSecret,
	} {
		if secret != "" {
			opts = append(opts, relayhub.WithFallbackSecret(source, secret))
		}
	}
	return opts
}
