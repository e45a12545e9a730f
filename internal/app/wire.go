package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/propengine/internal/blob/s3"
	"github.com/alanyoungcy/propengine/internal/cache/redis"
	"github.com/alanyoungcy/propengine/internal/config"
	"github.com/alanyoungcy/propengine/internal/crypto"
	"github.com/alanyoungcy/propengine/internal/domain"
	"github.com/alanyoungcy/propengine/internal/engine"
	"github.com/alanyoungcy/propengine/internal/market"
	"github.com/alanyoungcy/propengine/internal/notify"
	"github.com/alanyoungcy/propengine/internal/server/handler"
	"github.com/alanyoungcy/propengine/internal/server/ws"
	"github.com/alanyoungcy/propengine/internal/service"
	"github.com/alanyoungcy/propengine/internal/snapshot"
	"github.com/alanyoungcy/propengine/internal/storage/badger"
	"github.com/alanyoungcy/propengine/internal/store/postgres"
)

// Dependencies bundles the external adapters the modes need. Interface
// fields are left nil when the backing service is disabled, so callers can
// test them directly.
type Dependencies struct {
	// Stores
	Summaries *postgres.SummaryStore
	Audit     domain.AuditStore

	// Caches and messaging
	Cache domain.HierarchyCache
	Bus   domain.EventBus
	Locks domain.LockManager

	// Snapshot storage and signing
	Blobs    domain.BlobStore
	Signer   crypto.Signer
	Verifier crypto.Verifier
	Exporter *snapshot.Exporter
	Loader   *snapshot.Loader

	// Summary archive (S3 + Postgres only)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Health checks keyed by component name.
	Checks map[string]handler.Checker
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(what string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", what, err)
	}

	deps := &Dependencies{Checks: make(map[string]handler.Checker)}

	// --- PostgreSQL ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		pool := pgClient.Pool()
		deps.Summaries = postgres.NewSummaryStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Checks["postgres"] = pgClient.Health
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewHierarchyCache(redisClient)
		deps.Bus = redis.NewEventBus(redisClient)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Checks["redis"] = redisClient.Ping
	}

	// --- S3 blob storage ---
	backend := strings.ToLower(cfg.Snapshot.Backend)
	var s3Store *s3blob.Store
	if backend == "s3" || cfg.Archive.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail("s3", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		s3Store = s3blob.NewStore(s3Client)
		deps.Checks["s3"] = s3Client.Health
	}

	// Archiver: only when we also have Postgres (summaries with ListBefore).
	if cfg.Archive.Enabled && s3Store != nil && deps.Summaries != nil {
		deps.Archiver = s3blob.NewArchiver(s3Store, deps.Summaries, deps.Audit)
	}

	// --- Snapshot backend ---
	switch backend {
	case "s3":
		deps.Blobs = s3Store
	case "badger":
		bcfg := badger.DefaultConfig(cfg.Snapshot.BadgerPath)
		bcfg.Logger = logger
		store, err := badger.NewStore(bcfg)
		if err != nil {
			return fail("badger", err)
		}
		closers = append(closers, func() { _ = store.Close() })
		deps.Blobs = store
	}

	signer, verifier, err := buildSigning(cfg.Snapshot)
	if err != nil {
		return fail("snapshot signing", err)
	}
	deps.Signer, deps.Verifier = signer, verifier
	if deps.Blobs != nil {
		deps.Exporter = snapshot.NewExporter(deps.Blobs, signer, logger)
		deps.Loader = snapshot.NewLoader(deps.Blobs, verifier, logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}

// buildSigning picks the snapshot signer and verifier for the configured
// scheme. With secp256k1 and only verify_address set, exports are unsigned
// but loads still demand a valid signature.
func buildSigning(cfg config.SnapshotConfig) (crypto.Signer, crypto.Verifier, error) {
	scheme, err := crypto.NormalizeScheme(cfg.Scheme)
	if err != nil {
		return nil, nil, err
	}

	switch scheme {
	case crypto.SchemeHMAC:
		s, err := crypto.NewHMACSigner(cfg.Passphrase, cfg.Salt)
		if err != nil {
			return nil, nil, err
		}
		return s, s, nil

	case crypto.SchemeSecp256k1:
		var signer crypto.Signer
		var verifier crypto.Verifier
		if cfg.PrivateKey != "" || cfg.EncryptedKeyPath != "" {
			key, err := crypto.LoadKey(crypto.KeyConfig{
				RawPrivateKey:    cfg.PrivateKey,
				EncryptedKeyPath: cfg.EncryptedKeyPath,
				KeyPassword:      cfg.KeyPassword,
			})
			if err != nil {
				return nil, nil, err
			}
			s, err := crypto.NewECDSASigner(key)
			if err != nil {
				return nil, nil, err
			}
			signer, verifier = s, s.Verifier()
		}
		if cfg.VerifyAddress != "" {
			v, err := crypto.NewECDSAVerifier(cfg.VerifyAddress)
			if err != nil {
				return nil, nil, err
			}
			verifier = v
		}
		if verifier == nil {
			return nil, nil, fmt.Errorf("secp256k1 needs a private key or verify_address")
		}
		return signer, verifier, nil
	}
	return nil, nil, nil
}

// serviceConfig maps the engine and market sections onto the service config.
func serviceConfig(cfg *config.Config) service.Config {
	return service.Config{
		Engine: engineConfig(cfg.Engine),
		Market: market.Config{
			Stake:         cfg.Market.Stake,
			EdgeThreshold: cfg.Market.EdgeThreshold,
		},
	}
}

func engineConfig(cfg config.EngineConfig) engine.Config {
	return engine.Config{
		CacheCapacity:      cfg.CacheCapacity,
		DefaultTTL:         cfg.DefaultTTL.Duration,
		SlowBatchThreshold: cfg.SlowBatchThreshold.Duration,
		LatencyWindow:      cfg.LatencyWindow,
		TraverseWidth:      cfg.TraverseWidth,
		IDKey:              cfg.IDKey,
	}
}

// newService builds the hierarchy service over deps. The hub only receives
// local broadcasts when there is no bus; otherwise it follows the bus and a
// direct broadcast would deliver every event twice.
func newService(cfg *config.Config, deps *Dependencies, hub *ws.Hub, logger *slog.Logger) *service.HierarchyService {
	sd := service.Deps{
		Cache:    deps.Cache,
		Audit:    deps.Audit,
		Bus:      deps.Bus,
		Notifier: deps.Notifier,
		Exporter: deps.Exporter,
		Loader:   deps.Loader,
		Locks:    deps.Locks,
	}
	if deps.Summaries != nil {
		sd.Summaries = deps.Summaries
	}
	if hub != nil && deps.Bus == nil {
		sd.Broadcaster = hub
	}
	return service.NewHierarchyService(serviceConfig(cfg), sd, logger)
}
