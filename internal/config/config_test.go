package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTOML(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 30*time.Second, cfg.Engine.DefaultTTL.Duration)
	assert.Equal(t, "badger", cfg.Snapshot.Backend)
}

func TestLoad_FileAndEnv(t *testing.T) {
	p := writeTOML(t, `
mode = "replay"

[engine]
cache_capacity = 500
default_ttl = "2s"
slow_batch_threshold = "10ms"

[market]
stake = 5000.0

[snapshot]
scheme = "hmac"
passphrase = "from-file"
`)
	t.Setenv("PROPENGINE_SNAPSHOT_PASSPHRASE", "from-env")
	t.Setenv("PROPENGINE_SERVER_CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("PROPENGINE_ENGINE_TRAVERSE_WIDTH", "not-a-number")

	cfg, err := Load(p)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "replay", cfg.Mode)
	assert.Equal(t, 500, cfg.Engine.CacheCapacity)
	assert.Equal(t, 2*time.Second, cfg.Engine.DefaultTTL.Duration)
	assert.Equal(t, 10*time.Millisecond, cfg.Engine.SlowBatchThreshold.Duration)
	assert.Equal(t, 1024, cfg.Engine.LatencyWindow, "unset keys keep defaults")
	assert.Equal(t, 8, cfg.Engine.TraverseWidth, "unparsable override is ignored")
	assert.Equal(t, 5000.0, cfg.Market.Stake)
	assert.Equal(t, "from-env", cfg.Snapshot.Passphrase)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.Server.CORSOrigins)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeTOML(t, "[engine]\ncache_capacty = 5\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.cache_capacty")

	_, err = Load(writeTOML(t, "[engine]\ndefault_ttl = \"soon\"\n"))
	assert.Error(t, err)
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("PROPENGINE_MODE", "verify")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "verify", cfg.Mode)
}

func TestValidate_CollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "trade"
	cfg.Engine.CacheCapacity = 0
	cfg.Market.EdgeThreshold = 1.5
	cfg.Snapshot.Scheme = "hmac"
	cfg.Snapshot.Backend = "s3"
	cfg.S3.Bucket = ""
	cfg.Archive.Enabled = true
	cfg.Feed.WSURLs = []string{"http://adapter:9000"}

	err := cfg.Validate()
	require.Error(t, err)
	for _, want := range []string{
		`unknown mode "trade"`,
		"engine: cache_capacity",
		"market: edge_threshold",
		"passphrase is required",
		"s3: bucket",
		"archive: requires supabase.enabled",
		`feed: ws_urls entry "http://adapter:9000"`,
	} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_Secp256k1(t *testing.T) {
	cfg := Defaults()
	cfg.Snapshot.Scheme = "secp256k1"
	assert.Error(t, cfg.Validate())

	cfg.Snapshot.VerifyAddress = "0x71562b71999873DB5b286dF957af199Ec94617F7"
	assert.NoError(t, cfg.Validate())

	cfg.Snapshot.EncryptedKeyPath = "key.json"
	assert.Error(t, cfg.Validate())
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Supabase.Password = "pw"
	cfg.Snapshot.Passphrase = "secret"
	cfg.Notify.TelegramToken = "tok"

	out := RedactedConfig(&cfg)
	assert.Equal(t, "***", out.Supabase.Password)
	assert.Equal(t, "***", out.Snapshot.Passphrase)
	assert.Equal(t, "***", out.Notify.TelegramToken)
	assert.Empty(t, out.S3.SecretKey)
	assert.Equal(t, "secret", cfg.Snapshot.Passphrase)

	out.Server.CORSOrigins[0] = "changed"
	assert.NotEqual(t, "changed", cfg.Server.CORSOrigins[0])
}
