// Package config provides YAML-based configuration loading for Trunkline,
// with environment-variable overrides.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the top-level Trunkline configuration, loaded from config.yaml.
// Any field with an env tag can be overridden from the environment.
type Config struct {
	Identity   string           `yaml:"identity" env:"TRUNKLINE_IDENTITY"`
	Store      StoreConfig      `yaml:"store"`
	Platform   PlatformConfig   `yaml:"platform"`
	Ingest     IngestConfig     `yaml:"ingest"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Lease      LeaseConfig      `yaml:"lease"`
	Consensus  ConsensusConfig  `yaml:"consensus"`
	Status     StatusConfig     `yaml:"status"`
	Identities IdentitiesConfig `yaml:"identities"`
}

// StoreConfig selects the shared store backend.
type StoreConfig struct {
	Driver   string `yaml:"driver" env:"TRUNKLINE_STORE_DRIVER"` // "sqlite" (default) or "mysql"
	Path     string `yaml:"path" env:"TRUNKLINE_STORE_PATH"`
	Host     string `yaml:"host" env:"TRUNKLINE_STORE_HOST"`
	Port     int    `yaml:"port" env:"TRUNKLINE_STORE_PORT"`
	Database string `yaml:"database" env:"TRUNKLINE_STORE_DATABASE"`
	User     string `yaml:"user" env:"TRUNKLINE_STORE_USER"`
	Password string `yaml:"password" env:"TRUNKLINE_STORE_PASSWORD"`
}

// PlatformConfig holds chat platform connection settings.
type PlatformConfig struct {
	Kind     string `yaml:"kind" env:"TRUNKLINE_PLATFORM"` // "slack" (default) or "discord"
	BotToken string `yaml:"bot_token" env:"TRUNKLINE_BOT_TOKEN"`
	GuildID  string `yaml:"guild_id" env:"TRUNKLINE_GUILD_ID"` // discord only

	// Channel is the default coordination channel; Channels lists any
	// additional channels of interest polled every cycle.
	Channel  string   `yaml:"channel" env:"TRUNKLINE_CHANNEL"`
	Channels []string `yaml:"channels"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	PollIntervalMS    int    `yaml:"poll_interval_ms" env:"TRUNKLINE_POLL_INTERVAL_MS"`
	PageSize          int    `yaml:"page_size" env:"TRUNKLINE_PAGE_SIZE"`
	ThreadPollCap     int    `yaml:"thread_poll_cap" env:"TRUNKLINE_THREAD_POLL_CAP"`
	InboxRetentionMS  int    `yaml:"inbox_retention_ms" env:"TRUNKLINE_INBOX_RETENTION_MS"`
	ThreadRetentionMS int    `yaml:"thread_retention_ms" env:"TRUNKLINE_THREAD_RETENTION_MS"`
	SweepCron         string `yaml:"sweep_cron" env:"TRUNKLINE_SWEEP_CRON"`
}

// GatewayConfig tunes the rate-limited call gateway. The refill rate is
// expressed per minute for readability; the gateway converts internally.
type GatewayConfig struct {
	Burst           int `yaml:"burst" env:"TRUNKLINE_GATEWAY_BURST"`
	RefillPerMinute int `yaml:"refill_per_minute" env:"TRUNKLINE_GATEWAY_REFILL_PER_MINUTE"`
	RetryBudget     int `yaml:"retry_budget" env:"TRUNKLINE_GATEWAY_RETRY_BUDGET"`
	BaseBackoffMS   int `yaml:"base_backoff_ms" env:"TRUNKLINE_GATEWAY_BASE_BACKOFF_MS"`
	MaxBackoffMS    int `yaml:"max_backoff_ms" env:"TRUNKLINE_GATEWAY_MAX_BACKOFF_MS"`
}

// LeaseConfig tunes the poller leader lease.
type LeaseConfig struct {
	TTLMS int `yaml:"ttl_ms" env:"TRUNKLINE_LEASE_TTL_MS"`
}

// ConsensusConfig tunes the approval/permission resolution protocol.
type ConsensusConfig struct {
	TimeoutMS      int    `yaml:"timeout_ms" env:"TRUNKLINE_CONSENSUS_TIMEOUT_MS"`
	PollIntervalMS int    `yaml:"poll_interval_ms" env:"TRUNKLINE_CONSENSUS_POLL_INTERVAL_MS"`
	NotifyChannel  string `yaml:"notify_channel" env:"TRUNKLINE_CONSENSUS_NOTIFY_CHANNEL"`
}

// StatusConfig controls the local status HTTP endpoint. An empty listen
// address disables it.
type StatusConfig struct {
	Listen string `yaml:"listen" env:"TRUNKLINE_STATUS_LISTEN"`
}

// IdentitiesConfig lists the addressable identities that mention fan-out
// matches against message bodies.
type IdentitiesConfig struct {
	Members  []string `yaml:"members"`
	Roles    []string `yaml:"roles"`
	Personas []string `yaml:"personas"`
}

// Load reads a YAML config file from path, applies environment overrides,
// and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes, applies environment overrides and defaults,
// and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("config: env overrides: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Store.Driver == "" {
		c.Store.Driver = "sqlite"
	}
	if c.Store.Driver == "sqlite" && c.Store.Path == "" {
		c.Store.Path = "trunkline.db"
	}
	if c.Store.Driver == "mysql" {
		if c.Store.Host == "" {
			c.Store.Host = "127.0.0.1"
		}
		if c.Store.Port == 0 {
			c.Store.Port = 3306
		}
		if c.Store.Database == "" {
			c.Store.Database = "trunkline"
		}
	}
	if c.Platform.Kind == "" {
		c.Platform.Kind = "slack"
	}
	if c.Ingest.PollIntervalMS == 0 {
		c.Ingest.PollIntervalMS = 10_000
	}
	if c.Ingest.PageSize == 0 {
		c.Ingest.PageSize = 200
	}
	if c.Ingest.ThreadPollCap == 0 {
		c.Ingest.ThreadPollCap = 10
	}
	if c.Ingest.InboxRetentionMS == 0 {
		c.Ingest.InboxRetentionMS = int((7 * 24 * time.Hour).Milliseconds())
	}
	if c.Ingest.ThreadRetentionMS == 0 {
		c.Ingest.ThreadRetentionMS = int((48 * time.Hour).Milliseconds())
	}
	if c.Ingest.SweepCron == "" {
		c.Ingest.SweepCron = "*/30 * * * *"
	}
	if c.Gateway.Burst == 0 {
		c.Gateway.Burst = 10
	}
	if c.Gateway.RefillPerMinute == 0 {
		c.Gateway.RefillPerMinute = 45
	}
	if c.Gateway.RetryBudget == 0 {
		c.Gateway.RetryBudget = 3
	}
	if c.Gateway.BaseBackoffMS == 0 {
		c.Gateway.BaseBackoffMS = 1000
	}
	if c.Gateway.MaxBackoffMS == 0 {
		c.Gateway.MaxBackoffMS = int((2 * time.Minute).Milliseconds())
	}
	if c.Lease.TTLMS == 0 {
		c.Lease.TTLMS = 30_000
	}
	if c.Consensus.TimeoutMS == 0 {
		c.Consensus.TimeoutMS = int((5 * time.Minute).Milliseconds())
	}
	if c.Consensus.PollIntervalMS == 0 {
		c.Consensus.PollIntervalMS = 3000
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if c.Identity == "" {
		errs = append(errs, "identity is required")
	}
	if c.Platform.Kind != "slack" && c.Platform.Kind != "discord" {
		errs = append(errs, fmt.Sprintf("platform.kind %q is not supported", c.Platform.Kind))
	}
	if c.Platform.Channel == "" {
		errs = append(errs, "platform.channel is required")
	}
	if c.Store.Driver != "sqlite" && c.Store.Driver != "mysql" {
		errs = append(errs, fmt.Sprintf("store.driver %q is not supported", c.Store.Driver))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// AllChannels returns the default coordination channel plus every extra
// channel of interest, without duplicates.
func (c *Config) AllChannels() []string {
	out := []string{c.Platform.Channel}
	seen := map[string]bool{c.Platform.Channel: true}
	for _, ch := range c.Platform.Channels {
		if ch == "" || seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	return out
}

// Duration helpers for the millisecond-valued fields.

func (c *IngestConfig) PollInterval() time.Duration { return msDur(c.PollIntervalMS) }
func (c *IngestConfig) InboxRetention() time.Duration {
	return msDur(c.InboxRetentionMS)
}
func (c *IngestConfig) ThreadRetention() time.Duration {
	return msDur(c.ThreadRetentionMS)
}
func (c *GatewayConfig) BaseBackoff() time.Duration    { return msDur(c.BaseBackoffMS) }
func (c *GatewayConfig) MaxBackoff() time.Duration     { return msDur(c.MaxBackoffMS) }
func (c *LeaseConfig) TTL() time.Duration              { return msDur(c.TTLMS) }
func (c *ConsensusConfig) Timeout() time.Duration      { return msDur(c.TimeoutMS) }
func (c *ConsensusConfig) PollInterval() time.Duration { return msDur(c.PollIntervalMS) }

func msDur(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
