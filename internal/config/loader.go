package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// envPrefix namespaces every override variable.
const envPrefix = "PROPENGINE_"

// Load merges the TOML file at path over the defaults, loads a .env file if
// one exists and applies PROPENGINE_* overrides. An empty path skips the
// file. The result is not validated; call Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config: unknown keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides overwrites fields whose PROPENGINE_* variable is set and
// non-empty. Secrets are meant to arrive this way rather than in the file.
func applyEnvOverrides(cfg *Config) {
	// ── Engine ──
	setInt(&cfg.Engine.CacheCapacity, "ENGINE_CACHE_CAPACITY")
	setDuration(&cfg.Engine.DefaultTTL, "ENGINE_DEFAULT_TTL")
	setDuration(&cfg.Engine.SlowBatchThreshold, "ENGINE_SLOW_BATCH_THRESHOLD")
	setInt(&cfg.Engine.LatencyWindow, "ENGINE_LATENCY_WINDOW")
	setInt(&cfg.Engine.TraverseWidth, "ENGINE_TRAVERSE_WIDTH")
	setStr(&cfg.Engine.IDKey, "ENGINE_ID_KEY")

	// ── Market ──
	setFloat64(&cfg.Market.Stake, "MARKET_STAKE")
	setFloat64(&cfg.Market.EdgeThreshold, "MARKET_EDGE_THRESHOLD")

	// ── Supabase ──
	setBool(&cfg.Supabase.Enabled, "SUPABASE_ENABLED")
	setStr(&cfg.Supabase.DSN, "SUPABASE_DSN")
	setStr(&cfg.Supabase.Host, "SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "REDIS_ADDR")
	setStr(&cfg.Redis.Password, "REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "S3_ENDPOINT")
	setStr(&cfg.S3.Region, "S3_REGION")
	setStr(&cfg.S3.Bucket, "S3_BUCKET")
	setStr(&cfg.S3.Prefix, "S3_PREFIX")
	setStr(&cfg.S3.AccessKey, "S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "S3_FORCE_PATH_STYLE")

	// ── Snapshot ──
	setStr(&cfg.Snapshot.Backend, "SNAPSHOT_BACKEND")
	setStr(&cfg.Snapshot.BadgerPath, "SNAPSHOT_BADGER_PATH")
	setStr(&cfg.Snapshot.Scheme, "SNAPSHOT_SCHEME")
	setStr(&cfg.Snapshot.Passphrase, "SNAPSHOT_PASSPHRASE")
	setStr(&cfg.Snapshot.Salt, "SNAPSHOT_SALT")
	setStr(&cfg.Snapshot.PrivateKey, "SNAPSHOT_PRIVATE_KEY")
	setStr(&cfg.Snapshot.EncryptedKeyPath, "SNAPSHOT_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Snapshot.KeyPassword, "SNAPSHOT_KEY_PASSWORD")
	setStr(&cfg.Snapshot.VerifyAddress, "SNAPSHOT_VERIFY_ADDRESS")
	setDuration(&cfg.Snapshot.ExportInterval, "SNAPSHOT_EXPORT_INTERVAL")
	setBool(&cfg.Snapshot.RestoreOnStart, "SNAPSHOT_RESTORE_ON_START")
	setStringSlice(&cfg.Snapshot.Exchanges, "SNAPSHOT_EXCHANGES")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "ARCHIVE_INTERVAL")

	// ── Feed ──
	setStringSlice(&cfg.Feed.WSURLs, "FEED_WS_URLS")
	setStringSlice(&cfg.Feed.Symbols, "FEED_SYMBOLS")

	// ── Server ──
	setInt(&cfg.Server.Port, "SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "SERVER_CORS_ORIGINS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MODE")
	setStr(&cfg.LogLevel, "LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty; unparsable values are ignored.
// ---------------------------------------------------------------------------

func lookup(key string) (string, bool) {
	v := os.Getenv(envPrefix + key)
	return v, v != ""
}

func setStr(dst *string, key string) {
	if v, ok := lookup(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := lookup(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v, ok := lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v, ok := lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v, ok := lookup(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v, ok := lookup(key)
	if !ok {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
