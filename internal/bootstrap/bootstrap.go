// Package bootstrap wires configuration, storage and the application layer
// into a ready-to-use container shared by the server, worker and CLI.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/alem-hub/engagement-core/config"
	"github.com/alem-hub/engagement-core/internal/application/command"
	"github.com/alem-hub/engagement-core/internal/application/query"
	"github.com/alem-hub/engagement-core/internal/domain/attention"
	"github.com/alem-hub/engagement-core/internal/domain/catalog"
	"github.com/alem-hub/engagement-core/internal/domain/leasepool"
	"github.com/alem-hub/engagement-core/internal/domain/progress"
	"github.com/alem-hub/engagement-core/internal/domain/reconstruct"
	"github.com/alem-hub/engagement-core/internal/domain/viewing"
	"github.com/alem-hub/engagement-core/internal/infrastructure/external/catalogapi"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/postgres"
	"github.com/alem-hub/engagement-core/internal/infrastructure/persistence/redis"
	"github.com/alem-hub/engagement-core/internal/infrastructure/service"
	"github.com/alem-hub/engagement-core/internal/interface/http/handlers"
	"github.com/alem-hub/engagement-core/pkg/logger"
	"github.com/alem-hub/engagement-core/pkg/timeutil"
)

// Storage backends.
const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"
)

// Container holds the wired application.
type Container struct {
	Config *config.Config
	Logger *logger.Logger
	Clock  timeutil.Clock

	// DB is nil with memory storage; Cache is nil when Redis is disabled
	// or unreachable.
	DB    *postgres.Connection
	Cache *redis.Cache

	Sessions    viewing.Repository
	Progress    progress.Repository
	Completions progress.CompletionSource
	Catalog     *service.CatalogAdapter
	Presence    *service.PresenceAdapter

	// CatalogAPI is set when the catalog is read from the catalog service.
	CatalogAPI *catalogapi.Client

	// Leases is nil when leasing is disabled.
	Leases leasepool.Pool

	SessionManager *command.SessionManager
	Aggregator     *command.ProgressAggregator
	Repair         *command.RepairSessionsHandler

	Minutes       *query.ReconstructMinutesHandler
	ProgressQuery *query.GetProgressHandler
	Stats         *query.GetStatsHandler

	closers []func()
}

// Options tweak construction.
type Options struct {
	// SkipMigrations disables AutoMigrate, for commands that manage the
	// schema themselves.
	SkipMigrations bool

	Clock timeutil.Clock
}

// New connects storage and builds the application layer.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger, opts Options) (*Container, error) {
	if log == nil {
		log = logger.Nop()
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.SystemClock{}
	}
	c := &Container{Config: cfg, Logger: log, Clock: opts.Clock}

	// ─────────────────────────────────────────────────────────────────────────
	// 1. STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	var catalogSource catalog.Catalog
	switch cfg.App.Storage {
	case StoragePostgres:
		log.Info("connecting to database")
		conn, err := postgres.NewConnection(ctx, postgresConfig(cfg.Database))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		c.DB = conn
		c.closers = append(c.closers, conn.Close)

		if cfg.Database.AutoMigrate && !opts.SkipMigrations {
			applied, err := postgres.NewMigrator(conn).Migrate(ctx)
			if err != nil {
				c.Close()
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			log.Info("database schema is up to date", logger.Int("applied", applied))
		}

		progressRepo := postgres.NewProgressRepository(conn)
		c.Sessions = postgres.NewSessionRepository(conn)
		c.Progress = progressRepo
		c.Completions = progressRepo
		catalogSource = postgres.NewCatalogRepository(conn)

	case StorageMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		progressRepo := memory.NewProgressRepository()
		c.Sessions = memory.NewSessionRepository()
		c.Progress = progressRepo
		c.Completions = progressRepo
		catalogSource = memory.NewCatalog()

	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.App.Storage)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. REDIS (optional)
	// ─────────────────────────────────────────────────────────────────────────
	var tracker viewing.PresenceTracker
	var catalogCache service.CatalogCache
	if !cfg.Redis.Disabled {
		cache, err := redis.NewCache(ctx, redisConfig(cfg.Redis))
		if err != nil {
			log.Warn("redis unavailable, presence is process-local and catalog is uncached", logger.Err(err))
		} else {
			c.Cache = cache
			c.closers = append(c.closers, func() { _ = cache.Close() })
			tracker = redis.NewSessionPresence(cache, 0)
			catalogCache = redis.NewCatalogCache(cache, cfg.Redis.CatalogTTL)
		}
	}
	if tracker == nil {
		tracker = memory.NewPresence()
	}

	if cfg.Catalog.URL != "" {
		client, err := catalogapi.NewClient(catalogAPIConfig(cfg.Catalog, log))
		if err != nil {
			c.Close()
			return nil, err
		}
		log.Info("reading catalog from service", logger.String("url", cfg.Catalog.URL))
		c.CatalogAPI = client
		catalogSource = client
	}
	c.Catalog = service.NewCatalogAdapter(catalogSource, catalogCache, log)
	c.Presence = service.NewPresenceAdapter(tracker, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. LEASE POOL
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Lease.Enabled {
		pool, err := c.leasePool(ctx)
		if err != nil {
			c.Close()
			return nil, err
		}
		c.Leases = pool
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 4. APPLICATION LAYER
	// ─────────────────────────────────────────────────────────────────────────
	params := ReconstructParams(cfg)
	managerConfig := SessionManagerConfig(cfg)

	c.Aggregator = command.NewProgressAggregator(c.Progress, c.Catalog, log)
	c.SessionManager = command.NewSessionManager(command.SessionManagerDeps{
		Sessions:   c.Sessions,
		Progress:   c.Progress,
		Catalog:    c.Catalog,
		Leases:     c.Leases,
		Presence:   c.Presence,
		Aggregator: c.Aggregator,
		Clock:      c.Clock,
		Logger:     log,
	}, managerConfig)
	c.Repair = command.NewRepairSessionsHandler(c.Sessions, c.Catalog, params, managerConfig.Weights, c.Clock, log)

	c.Minutes = query.NewReconstructMinutesHandler(c.Sessions, c.Catalog, c.Completions, params, log)
	c.ProgressQuery = query.NewGetProgressHandler(c.Progress, c.Catalog, log)
	c.Stats = query.NewGetStatsHandler(c.Presence, c.Leases, c.Clock, cfg.Session.PresenceWindow)

	return c, nil
}

// leasePool builds the configured pool and seeds it from LEASE_KEYS.
func (c *Container) leasePool(ctx context.Context) (leasepool.Pool, error) {
	specs, err := c.Config.Lease.ParseKeys()
	if err != nil {
		return nil, err
	}
	keys := make([]leasepool.Key, len(specs))
	for i, spec := range specs {
		keys[i] = leasepool.Key{
			ID:        leasepool.KeyID(spec.Label),
			Label:     spec.Label,
			MaxLeases: spec.MaxLeases,
			IsEnabled: true,
		}
	}

	if c.DB == nil {
		if len(keys) == 0 {
			c.Logger.Warn("lease pool has no keys, every session uses the storage fallback")
		}
		return memory.NewLeasePool(keys...), nil
	}

	pool := postgres.NewLeasePool(c.DB)
	if len(keys) > 0 {
		if err := pool.Seed(ctx, keys); err != nil {
			return nil, fmt.Errorf("failed to seed lease pool: %w", err)
		}
		c.Logger.Info("lease pool seeded", logger.Int("keys", len(keys)))
	}
	return pool, nil
}

// HealthChecker builds the checks for /health and /ready. The database is
// critical; Redis and the catalog only degrade the service.
func (c *Container) HealthChecker() *handlers.CompositeHealthChecker {
	checker := handlers.NewCompositeHealthChecker(c.Config.App.Version)
	if c.DB != nil {
		checker.AddCheck("database", handlers.NewPingCheck(c.DB))
	}
	if c.Cache != nil {
		checker.AddOptionalCheck("redis", handlers.NewPingCheck(c.Cache))
		checker.AddOptionalCheck("presence", handlers.NewBreakerCheck(c.Presence.Breaker()))
		checker.AddOptionalCheck("catalog_cache", handlers.NewBreakerCheck(c.Catalog.CacheBreaker()))
	}
	if c.CatalogAPI != nil {
		checker.AddOptionalCheck("catalog_api", handlers.NewPingCheck(c.CatalogAPI))
	}
	checker.AddOptionalCheck("catalog", handlers.NewBreakerCheck(c.Catalog.Breaker()))
	return checker
}

// Close releases connections in reverse order of creation.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

// ══════════════════════════════════════════════════════════════════════════════
// CONFIG MAPPING
// ══════════════════════════════════════════════════════════════════════════════

// NewLogger builds the zap-backed logger from the observability settings.
func NewLogger(cfg *config.Config) *logger.Logger {
	opts := logger.DefaultOptions()
	opts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	opts.Format = cfg.Observability.LogFormat
	opts.AddCaller = cfg.App.Debug
	return logger.New(opts).With(
		logger.String("service", cfg.App.Name),
		logger.String("version", cfg.App.Version),
	)
}

func catalogAPIConfig(cfg config.CatalogConfig, log *logger.Logger) catalogapi.ClientConfig {
	cc := catalogapi.DefaultClientConfig(cfg.URL)
	cc.APIKey = cfg.APIKey
	cc.Logger = log
	if cfg.Timeout > 0 {
		cc.Timeout = cfg.Timeout
	}
	cc.RateLimit = cfg.RateLimit
	if cfg.RateBurst > 0 {
		cc.Burst = cfg.RateBurst
	}
	if cfg.PageSize > 0 {
		cc.PerPage = cfg.PageSize
	}
	return cc
}

// SessionManagerConfig maps the session and scoring settings.
func SessionManagerConfig(cfg *config.Config) command.SessionManagerConfig {
	mc := command.DefaultSessionManagerConfig()
	mc.Limits = viewing.Limits{
		HeartbeatInterval: cfg.Session.HeartbeatInterval,
		Tolerance:         cfg.Session.Tolerance,
	}
	mc.Weights = Weights(cfg)
	mc.Reconstruct = ReconstructParams(cfg)
	mc.StaleThreshold = cfg.Session.StaleThreshold
	mc.ReapConcurrency = cfg.Session.ReapConcurrency
	return mc
}

// Weights overlays the configured scoring constants on the defaults. The
// tier tables are not configurable.
func Weights(cfg *config.Config) attention.Weights {
	w := attention.DefaultWeights()
	w.WindowFactor = cfg.Scoring.WindowFactor
	w.SkipPenalty = cfg.Scoring.SkipPenalty
	w.SuspiciousBelow = cfg.Scoring.SuspiciousBelow
	w.SuspiciousSkips = cfg.Scoring.SuspiciousSkips
	w.GrossOverrunRatio = cfg.Scoring.GrossOverrunRatio
	return w
}

// ReconstructParams maps the reconstruction settings.
func ReconstructParams(cfg *config.Config) reconstruct.Params {
	return reconstruct.Params{
		PlausibilityBound:  cfg.Reconstruct.PlausibilityBound,
		EngagementDiscount: cfg.Reconstruct.EngagementDiscount,
		RepairSlack:        cfg.Reconstruct.RepairSlack,
		RepairCap:          cfg.Reconstruct.RepairCap,
	}
}

func postgresConfig(db config.DatabaseConfig) postgres.Config {
	pc := postgres.DefaultConfig(db.URL)
	if db.MaxOpenConns > 0 {
		pc.MaxConns = int32(db.MaxOpenConns)
	}
	if db.MaxIdleConns > 0 {
		pc.MinConns = int32(min(db.MaxIdleConns, db.MaxOpenConns))
	}
	if db.ConnMaxLifetime > 0 {
		pc.MaxConnLifetime = db.ConnMaxLifetime
	}
	if db.ConnMaxIdleTime > 0 {
		pc.MaxConnIdleTime = db.ConnMaxIdleTime
	}
	return pc
}

func redisConfig(rc config.RedisConfig) redis.Config {
	out := redis.DefaultConfig()
	out.URL = rc.URL
	out.Host = rc.Host
	out.Port = rc.Port
	out.Password = rc.Password
	out.DB = rc.DB
	if rc.PoolSize > 0 {
		out.PoolSize = rc.PoolSize
	}
	if rc.MinIdleConns > 0 {
		out.MinIdleConns = rc.MinIdleConns
	}
	if rc.DialTimeout > 0 {
		out.DialTimeout = rc.DialTimeout
	}
	if rc.ReadTimeout > 0 {
		out.ReadTimeout = rc.ReadTimeout
	}
	if rc.WriteTimeout > 0 {
		out.WriteTimeout = rc.WriteTimeout
	}
	return out
}

// ShutdownContext returns a context bounded by the configured shutdown
// timeout.
func ShutdownContext(cfg *config.Config) (context.Context, context.CancelFunc) {
	timeout := cfg.App.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), timeout)
}
