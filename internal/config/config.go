// Package config defines the top-level configuration for propengine and
// provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PROPENGINE_* environment variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Market   MarketConfig   `toml:"market"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Snapshot SnapshotConfig `toml:"snapshot"`
	Archive  ArchiveConfig  `toml:"archive"`
	Feed     FeedConfig     `toml:"feed"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig tunes every per-exchange engine.
type EngineConfig struct {
	CacheCapacity      int      `toml:"cache_capacity"`
	DefaultTTL         duration `toml:"default_ttl"`
	SlowBatchThreshold duration `toml:"slow_batch_threshold"`
	LatencyWindow      int      `toml:"latency_window"`
	TraverseWidth      int      `toml:"traverse_width"`
	IDKey              string   `toml:"id_key"`
}

// MarketConfig holds the arbitrage scoring parameters.
type MarketConfig struct {
	Stake         float64 `toml:"stake"`
	EdgeThreshold float64 `toml:"edge_threshold"`
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters for the
// summary history and audit log.
type SupabaseConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters for the shared hierarchy
// cache, the event bus and export locks.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	Prefix         string `toml:"prefix"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// SnapshotConfig selects where exports go and how they are signed.
type SnapshotConfig struct {
	// Backend is "s3", "badger" or "none".
	Backend    string `toml:"backend"`
	BadgerPath string `toml:"badger_path"`
	// Scheme is "none", "hmac" or "secp256k1".
	Scheme     string `toml:"scheme"`
	Passphrase string `toml:"passphrase"`
	Salt       string `toml:"salt"`
	PrivateKey string `toml:"private_key"`
	// EncryptedKeyPath and KeyPassword load the secp256k1 key from an
	// encrypted key file instead of PrivateKey.
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// VerifyAddress verifies secp256k1 exports without a private key.
	VerifyAddress  string   `toml:"verify_address"`
	ExportInterval duration `toml:"export_interval"`
	RestoreOnStart bool     `toml:"restore_on_start"`
	Exchanges      []string `toml:"exchanges"`
}

// ArchiveConfig controls moving old summary rows into the bucket.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// FeedConfig lists live quote sources followed in server mode.
type FeedConfig struct {
	// WSURLs are exchange adapter WebSocket endpoints streaming snapshots.
	WSURLs []string `toml:"ws_urls"`
	// Symbols, when set, are sent in a subscribe command on connect.
	Symbols []string `toml:"symbols"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config that runs a single process with no external
// services: local Badger exports, unsigned.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			CacheCapacity:      10_000,
			DefaultTTL:         duration{30 * time.Second},
			SlowBatchThreshold: duration{5 * time.Millisecond},
			LatencyWindow:      1024,
			TraverseWidth:      8,
			IDKey:              "propengine",
		},
		Market: MarketConfig{
			Stake:         100_000,
			EdgeThreshold: 0.02,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "propengine-data",
			ForcePathStyle: true,
		},
		Snapshot: SnapshotConfig{
			Backend:        "badger",
			BadgerPath:     "data/snapshots",
			Scheme:         "none",
			ExportInterval: duration{5 * time.Minute},
		},
		Archive: ArchiveConfig{
			RetentionDays: 30,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
		},
		Notify: NotifyConfig{
			Events: []string{"arb_high", "slow_batch", "integrity_failure"},
		},
		Mode:     "server",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{
	"server": true,
	"replay": true,
	"verify": true,
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validBackends = map[string]bool{
	"s3":     true,
	"badger": true,
	"none":   true,
}

var validSchemes = map[string]bool{
	"none":      true,
	"hmac":      true,
	"secp256k1": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, replay, verify)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.CacheCapacity < 1 {
		errs = append(errs, "engine: cache_capacity must be >= 1")
	}
	if c.Engine.DefaultTTL.Duration <= 0 {
		errs = append(errs, "engine: default_ttl must be > 0")
	}
	if c.Engine.SlowBatchThreshold.Duration < 0 {
		errs = append(errs, "engine: slow_batch_threshold must be >= 0")
	}
	if c.Engine.LatencyWindow < 1 {
		errs = append(errs, "engine: latency_window must be >= 1")
	}
	if c.Engine.TraverseWidth < 1 {
		errs = append(errs, "engine: traverse_width must be >= 1")
	}
	if strings.TrimSpace(c.Engine.IDKey) == "" {
		errs = append(errs, "engine: id_key must not be empty")
	}

	// Market
	if c.Market.Stake <= 0 {
		errs = append(errs, "market: stake must be > 0")
	}
	if c.Market.EdgeThreshold <= 0 || c.Market.EdgeThreshold >= 1 {
		errs = append(errs, "market: edge_threshold must be in (0, 1)")
	}

	// Supabase
	if c.Supabase.Enabled {
		if strings.TrimSpace(c.Supabase.DSN) == "" {
			if c.Supabase.Host == "" {
				errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
			}
			if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
				errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
			}
			if c.Supabase.Database == "" {
				errs = append(errs, "supabase: database must not be empty")
			}
		}
		if c.Supabase.PoolMaxConns < 1 {
			errs = append(errs, "supabase: pool_max_conns must be >= 1")
		}
		if c.Supabase.PoolMinConns < 0 || c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
			errs = append(errs, "supabase: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// Snapshot
	backend := strings.ToLower(c.Snapshot.Backend)
	if !validBackends[backend] {
		errs = append(errs, fmt.Sprintf("snapshot: unknown backend %q (valid: s3, badger, none)", c.Snapshot.Backend))
	}
	if backend == "badger" && c.Snapshot.BadgerPath == "" {
		errs = append(errs, "snapshot: badger_path must not be empty for the badger backend")
	}
	if backend == "s3" || c.Archive.Enabled {
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty")
		}
	}
	switch scheme := strings.ToLower(c.Snapshot.Scheme); {
	case !validSchemes[scheme]:
		errs = append(errs, fmt.Sprintf("snapshot: unknown scheme %q (valid: none, hmac, secp256k1)", c.Snapshot.Scheme))
	case scheme == "hmac" && c.Snapshot.Passphrase == "":
		errs = append(errs, "snapshot: passphrase is required for the hmac scheme")
	case scheme == "secp256k1" && c.Snapshot.PrivateKey == "" && c.Snapshot.EncryptedKeyPath == "" && c.Snapshot.VerifyAddress == "":
		errs = append(errs, "snapshot: private_key, encrypted_key_path or verify_address is required for the secp256k1 scheme")
	}
	if c.Snapshot.EncryptedKeyPath != "" && c.Snapshot.KeyPassword == "" {
		errs = append(errs, "snapshot: key_password is required when encrypted_key_path is set")
	}
	if c.Snapshot.ExportInterval.Duration < 0 {
		errs = append(errs, "snapshot: export_interval must be >= 0")
	}

	// Archive
	if c.Archive.Enabled {
		if !c.Supabase.Enabled {
			errs = append(errs, "archive: requires supabase.enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Feed
	for _, u := range c.Feed.WSURLs {
		if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
			errs = append(errs, fmt.Sprintf("feed: ws_urls entry %q must start with ws:// or wss://", u))
		}
	}

	// Server
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
