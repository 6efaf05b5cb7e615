// Package config loads server settings from TOML, .env and STACKSBET_*
// environment variables, in that order of precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kentomson01/stacksbet/internal/model"
)

type Config struct {
	LogLevel string         `toml:"log_level"`
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Auth     AuthConfig     `toml:"auth"`
	Platform PlatformConfig `toml:"platform"`
	Chain    ChainConfig    `toml:"chain"`
	Redis    RedisConfig    `toml:"redis"`
	Sweeper  SweeperConfig  `toml:"sweeper"`
}

type ServerConfig struct {
	Addr           string   `toml:"addr"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// DatabaseConfig selects the Postgres ledger. An empty DSN runs the
// in-memory ledger instead. SyncInterval is how often an idle instance polls
// the shared journal for other instances' commits.
type DatabaseConfig struct {
	DSN           string   `toml:"dsn"`
	MigrationsDir string   `toml:"migrations_dir"`
	RunMigrations bool     `toml:"run_migrations"`
	SyncInterval  Duration `toml:"sync_interval"`
}

type AuthConfig struct {
	JWTSecret string   `toml:"jwt_secret"`
	TokenTTL  Duration `toml:"token_ttl"`
}

// PlatformConfig holds the initial platform parameters. Owner-gated updates
// made at runtime are journaled and win over these on replay.
type PlatformConfig struct {
	Owner          string `toml:"owner"`
	Oracle         string `toml:"oracle"`
	Escrow         string `toml:"escrow"`
	OwnerPassword  string `toml:"owner_password"`
	OraclePassword string `toml:"oracle_password"`
	MinimumStake   uint64 `toml:"minimum_stake"`
	FeeRateBps     uint64 `toml:"fee_rate_bps"`
}

// ChainConfig drives the wall clock: height = start + (now-genesis)/interval.
type ChainConfig struct {
	Genesis       time.Time `toml:"genesis"`
	BlockInterval Duration  `toml:"block_interval"`
	StartHeight   uint64    `toml:"start_height"`
}

type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	EventChannel string   `toml:"event_channel"`
	RateLimit    int      `toml:"rate_limit"`
	RateWindow   Duration `toml:"rate_window"`
}

type SweeperConfig struct {
	Enabled  bool   `toml:"enabled"`
	Schedule string `toml:"schedule"`
}

// Duration decodes TOML strings such as "5m" or "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

func Defaults() Config {
	return Config{
		LogLevel: "info",
		Server: ServerConfig{
			Addr:           ":4000",
			RequestTimeout: Duration{30 * time.Second},
		},
		Database: DatabaseConfig{
			MigrationsDir: "migrations",
			RunMigrations: true,
			SyncInterval:  Duration{2 * time.Second},
		},
		Auth: AuthConfig{
			TokenTTL: Duration{72 * time.Hour},
		},
		Platform: PlatformConfig{
			Owner:        "owner",
			Oracle:       "oracle",
			Escrow:       "stacksbet:pool",
			MinimumStake: model.DefaultMinimumStake,
			FeeRateBps:   model.DefaultFeeRateBps,
		},
		Chain: ChainConfig{
			Genesis:       time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
			BlockInterval: Duration{10 * time.Minute},
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     10,
			EventChannel: "stacksbet:events",
			RateLimit:    60,
			RateWindow:   Duration{time.Minute},
		},
		Sweeper: SweeperConfig{
			Enabled:  true,
			Schedule: "@every 1m",
		},
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if c.Database.SyncInterval.Duration < 0 {
		errs = append(errs, "database: sync_interval must not be negative")
	}
	if c.Server.Addr == "" {
		errs = append(errs, "server: addr must not be empty")
	}
	if len(c.Auth.JWTSecret) < 32 {
		errs = append(errs, "auth: jwt_secret must be at least 32 characters")
	}
	if c.Auth.TokenTTL.Duration <= 0 {
		errs = append(errs, "auth: token_ttl must be positive")
	}

	p := c.Platform
	if p.Owner == "" || p.Oracle == "" || p.Escrow == "" {
		errs = append(errs, "platform: owner, oracle and escrow must be set")
	}
	if p.Escrow == p.Owner || p.Escrow == p.Oracle {
		errs = append(errs, "platform: escrow must differ from owner and oracle")
	}
	if p.MinimumStake == 0 || p.MinimumStake > model.MaxMinimumStake {
		errs = append(errs, fmt.Sprintf("platform: minimum_stake must be in (0, %d]", model.MaxMinimumStake))
	}
	if p.FeeRateBps > model.MaxFeeRateBps {
		errs = append(errs, fmt.Sprintf("platform: fee_rate_bps must be <= %d", model.MaxFeeRateBps))
	}

	if c.Chain.BlockInterval.Duration <= 0 {
		errs = append(errs, "chain: block_interval must be positive")
	}
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.RateLimit < 0 || (c.Redis.RateLimit > 0 && c.Redis.RateWindow.Duration <= 0) {
			errs = append(errs, "redis: rate_limit needs a positive rate_window")
		}
	}
	if c.Sweeper.Enabled && c.Sweeper.Schedule == "" {
		errs = append(errs, "sweeper: schedule must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
