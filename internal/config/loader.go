package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load merges the TOML file at path (if any) over Defaults, then .env, then
// STACKSBET_* variables. The result is not validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// .env is optional.
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.LogLevel, "STACKSBET_LOG_LEVEL")

	// ── Server ──
	setStr(&cfg.Server.Addr, "STACKSBET_SERVER_ADDR")
	setDuration(&cfg.Server.RequestTimeout, "STACKSBET_SERVER_REQUEST_TIMEOUT")

	// ── Database ──
	setStr(&cfg.Database.DSN, "STACKSBET_DATABASE_DSN")
	setStr(&cfg.Database.MigrationsDir, "STACKSBET_DATABASE_MIGRATIONS_DIR")
	setBool(&cfg.Database.RunMigrations, "STACKSBET_DATABASE_RUN_MIGRATIONS")
	setDuration(&cfg.Database.SyncInterval, "STACKSBET_DATABASE_SYNC_INTERVAL")

	// ── Auth ──
	setStr(&cfg.Auth.JWTSecret, "STACKSBET_AUTH_JWT_SECRET")
	setDuration(&cfg.Auth.TokenTTL, "STACKSBET_AUTH_TOKEN_TTL")

	// ── Platform ──
	setStr(&cfg.Platform.Owner, "STACKSBET_PLATFORM_OWNER")
	setStr(&cfg.Platform.Oracle, "STACKSBET_PLATFORM_ORACLE")
	setStr(&cfg.Platform.Escrow, "STACKSBET_PLATFORM_ESCROW")
	setStr(&cfg.Platform.OwnerPassword, "STACKSBET_PLATFORM_OWNER_PASSWORD")
	setStr(&cfg.Platform.OraclePassword, "STACKSBET_PLATFORM_ORACLE_PASSWORD")
	setUint64(&cfg.Platform.MinimumStake, "STACKSBET_PLATFORM_MINIMUM_STAKE")
	setUint64(&cfg.Platform.FeeRateBps, "STACKSBET_PLATFORM_FEE_RATE_BPS")

	// ── Chain ──
	setTime(&cfg.Chain.Genesis, "STACKSBET_CHAIN_GENESIS")
	setDuration(&cfg.Chain.BlockInterval, "STACKSBET_CHAIN_BLOCK_INTERVAL")
	setUint64(&cfg.Chain.StartHeight, "STACKSBET_CHAIN_START_HEIGHT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "STACKSBET_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "STACKSBET_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "STACKSBET_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "STACKSBET_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "STACKSBET_REDIS_POOL_SIZE")
	setStr(&cfg.Redis.EventChannel, "STACKSBET_REDIS_EVENT_CHANNEL")
	setInt(&cfg.Redis.RateLimit, "STACKSBET_REDIS_RATE_LIMIT")
	setDuration(&cfg.Redis.RateWindow, "STACKSBET_REDIS_RATE_WINDOW")

	// ── Sweeper ──
	setBool(&cfg.Sweeper.Enabled, "STACKSBET_SWEEPER_ENABLED")
	setStr(&cfg.Sweeper.Schedule, "STACKSBET_SWEEPER_SCHEDULE")
}

// Each setter only touches dst when the variable is set and parses.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint64(dst *uint64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setTime(dst *time.Time, key string) {
	if v := os.Getenv(key); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			*dst = t
		}
	}
}
