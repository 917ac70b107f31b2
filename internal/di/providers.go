package di

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/wire"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/autumn-ma/django-culture/internal/app"
	"github.com/autumn-ma/django-culture/internal/config"
	"github.com/autumn-ma/django-culture/internal/database"
	"github.com/autumn-ma/django-culture/internal/http/handler"
	"github.com/autumn-ma/django-culture/internal/http/middleware"
	"github.com/autumn-ma/django-culture/internal/http/router"
	"github.com/autumn-ma/django-culture/internal/observability"
	"github.com/autumn-ma/django-culture/internal/repository"
	"github.com/autumn-ma/django-culture/internal/security"
	"github.com/autumn-ma/django-culture/internal/service"
)

var ConfigSet = wire.NewSet(config.Load)

var ObservabilitySet = wire.NewSet(observability.NewLogger)

var RuntimeInfraSet = wire.NewSet(provideOpenDB, provideRedisClient)

var RepositorySet = wire.NewSet(
	repository.NewFeatureFlagRepository,
	repository.NewOverrideRepository,
	repository.NewAuditLogRepository,
	repository.NewUserRepository,
)

var SecuritySet = wire.NewSet(provideJWTManager)

var ServiceSet = wire.NewSet(
	provideEvaluationCacheStore,
	provideRolloutEvaluator,
	provideFlagService,
	service.NewFlagAdminService,
	provideFlagArchiver,
	provideIdempotencyStore,
)

var HTTPSet = wire.NewSet(
	handler.NewFlagEvalHandler,
	handler.NewFlagAdminHandler,
	provideAuthHandler,
	handler.NewHealthHandler,
	provideRateLimiter,
	provideIdempotencyMiddleware,
	provideRouterDependencies,
	router.New,
	provideHTTPServer,
)

var AppSet = wire.NewSet(provideRuntime, app.New)

// AppProviderSet is the full graph behind InitializeApp.
var AppProviderSet = wire.NewSet(
	ConfigSet,
	ObservabilitySet,
	RuntimeInfraSet,
	RepositorySet,
	SecuritySet,
	ServiceSet,
	HTTPSet,
	AppSet,
)

func provideRuntime(cfg *config.Config, logger *slog.Logger) (*observability.Runtime, error) {
	return observability.InitRuntime(context.Background(), cfg, logger)
}

func provideOpenDB(cfg *config.Config) (*gorm.DB, error) {
	db, err := database.Open(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// provideRedisClient returns nil when no Redis address is configured; the
// dependent providers fall back to in-process implementations.
func provideRedisClient(cfg *config.Config) redis.UniversalClient {
	if cfg.RedisAddr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	client.AddHook(observability.NewKeyspaceMetricsHook())
	return client
}

func provideJWTManager(cfg *config.Config) *security.JWTManager {
	return security.NewJWTManager(cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTAccessSecret, cfg.JWTRefreshSecret)
}

// provideEvaluationCacheStore picks the cache backend: FLAG_CACHE_TTL=0
// disables evaluation caching outright, and without Redis the store is
// per-process memory.
func provideEvaluationCacheStore(cfg *config.Config, client redis.UniversalClient) service.EvaluationCacheStore {
	if cfg.FlagCacheTTL == 0 {
		return service.NewNoopEvaluationCacheStore()
	}
	if client == nil {
		return service.NewInMemoryEvaluationCacheStore()
	}
	return service.NewRedisEvaluationCacheStore(client, cfg.FlagCachePrefix)
}

func provideRolloutEvaluator() *service.RolloutEvaluator {
	return service.NewRolloutEvaluator()
}

func provideFlagService(
	flags repository.FeatureFlagRepository,
	overrides repository.OverrideRepository,
	audit repository.AuditLogRepository,
	cache service.EvaluationCacheStore,
	evaluator *service.RolloutEvaluator,
	logger *slog.Logger,
	cfg *config.Config,
) *service.FlagService {
	return service.NewFlagService(flags, overrides, audit, cache, evaluator, logger, cfg.FlagCacheTTL)
}

func provideFlagArchiver(
	cfg *config.Config,
	flags repository.FeatureFlagRepository,
	overrides repository.OverrideRepository,
	audit repository.AuditLogRepository,
	logger *slog.Logger,
) service.FlagArchiver {
	if !cfg.ArchiveEnabled {
		return nil
	}
	archiver, err := service.NewMinIOFlagArchiver(
		cfg.ArchiveEndpoint, cfg.ArchiveAccessKey, cfg.ArchiveSecretKey, cfg.ArchiveBucket,
		cfg.ArchiveUseSSL, flags, overrides, audit,
	)
	if err != nil {
		logger.Warn("snapshot archiver unavailable", "error", err)
		return nil
	}
	return archiver
}

func provideIdempotencyStore(client redis.UniversalClient) service.IdempotencyStore {
	if client == nil {
		return service.NewMemoryIdempotencyStore()
	}
	return service.NewRedisIdempotencyStore(client, "idem")
}

func provideRateLimiter(client redis.UniversalClient) middleware.Limiter {
	if client == nil {
		return middleware.NewLocalFixedWindowLimiter()
	}
	return middleware.NewRedisFixedWindowLimiter(client, "ratelimit")
}

func provideIdempotencyMiddleware(store service.IdempotencyStore, cfg *config.Config, logger *slog.Logger) *middleware.Idempotency {
	return middleware.NewIdempotency(store, "flag-admin", cfg.IdempotencyTTL, logger)
}

func provideAuthHandler(users repository.UserRepository, jwtMgr *security.JWTManager, cfg *config.Config, logger *slog.Logger) *handler.AuthHandler {
	return handler.NewAuthHandler(users, jwtMgr, cfg.JWTAccessTTL, cfg.JWTRefreshTTL, logger)
}

func provideRouterDependencies(
	eval *handler.FlagEvalHandler,
	admin *handler.FlagAdminHandler,
	auth *handler.AuthHandler,
	health *handler.HealthHandler,
	jwtMgr *security.JWTManager,
	limiter middleware.Limiter,
	idem *middleware.Idempotency,
	cfg *config.Config,
) router.Dependencies {
	return router.Dependencies{
		Eval:              eval,
		Admin:             admin,
		Auth:              auth,
		Health:            health,
		JWTManager:        jwtMgr,
		RateLimiter:       limiter,
		Idempotency:       idem,
		EvalRateLimitRPM:  cfg.EvalRateLimitPerMin,
		AdminRateLimitRPM: cfg.AdminRateLimitPerMin,
	}
}

func provideHTTPServer(cfg *config.Config, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           h,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// MigrationRunner runs schema migration and seeding without starting the
// HTTP server.
type MigrationRunner struct {
	db *gorm.DB
}

func NewMigrationRunner(db *gorm.DB) *MigrationRunner {
	return &MigrationRunner{db: db}
}

func (m *MigrationRunner) Run() error {
	if err := database.Migrate(m.db); err != nil {
		return err
	}
	_, err := database.SeedSync(m.db)
	return err
}
