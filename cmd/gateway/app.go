package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"api_gateway/internal/audit"
	"api_gateway/internal/auth"
	"api_gateway/internal/config"
	"api_gateway/internal/events"
	"api_gateway/internal/gate"
	"api_gateway/internal/httpapi"
	"api_gateway/internal/logging"
	"api_gateway/internal/metering"
	"api_gateway/internal/metrics"
	"api_gateway/internal/pipeline"
	"api_gateway/internal/queue"
	"api_gateway/internal/scheduler"
	"api_gateway/internal/storage"
	"api_gateway/internal/utils"

	"github.com/gin-gonic/gin"
)

// app owns every long-lived component of the gateway process.
type app struct {
	router *gin.Engine

	db          *storage.DB
	redis       *storage.RedisClient
	evictions   *storage.CredentialEvictions
	tracker     *gate.LastUsedTracker
	auditQueue  queue.Queue
	auditWorker *audit.Worker
	redisUsage  *metering.RedisCounter
	emitter     events.Emitter
	scheduler   *scheduler.Scheduler
	logger      *utils.Logger
}

// buildApp wires storage, gates, metering, audit and the HTTP layer.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{logger: utils.NewLogger("gateway")}

	db, err := storage.NewDB(storage.DBConfig{
		DSN:                 cfg.Database.URL,
		MaxOpenConns:        cfg.Database.MaxOpenConns,
		MaxIdleConns:        cfg.Database.MaxIdleConns,
		ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     cfg.Database.ConnMaxIdleTime,
		CredentialCacheSize: cfg.Cache.CredentialCacheSize,
		CredentialCacheTTL:  cfg.Cache.CredentialCacheTTL,
		TierCacheSize:       cfg.Cache.TierCacheSize,
		TierCacheTTL:        cfg.Cache.TierCacheTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	a.db = db

	if err := db.Migrate(ctx); err != nil {
		a.close(ctx)
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	if cfg.Redis.Enabled {
		redisCfg := storage.DefaultRedisConfig()
		redisCfg.Address = cfg.Redis.Address
		redisCfg.Password = cfg.Redis.Password
		redisCfg.DB = cfg.Redis.DB
		redisCfg.PoolSize = cfg.Redis.PoolSize
		redisCfg.MinIdleConns = cfg.Redis.MinIdleConns
		redisCfg.DialTimeout = cfg.Redis.DialTimeout
		redisCfg.ReadTimeout = cfg.Redis.ReadTimeout
		redisCfg.WriteTimeout = cfg.Redis.WriteTimeout

		a.redis, err = storage.NewRedisClient(redisCfg)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to initialize Redis: %w", err)
		}

		// Revocations on any replica evict the credential cache on all of them.
		a.evictions = storage.NewCredentialEvictions(a.redis.Client(), db)
		if err := a.evictions.Start(context.Background()); err != nil {
			a.close(ctx)
			return nil, err
		}
	}

	m := metrics.New()

	// Repositories
	credentials := storage.NewCredentialRepository(db)
	accounts := storage.NewAccountRepository(db)
	tiers := storage.NewTierRepository(db)
	subscriptions := storage.NewSubscriptionRepository(db)
	usageRepo := storage.NewUsageRepository(db)
	auditRepo := storage.NewAuditLogRepository(db)

	// Lifecycle events
	a.emitter, err = a.buildEmitter(cfg)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	// Usage counter
	var counter metering.Counter = metering.NewPostgresCounter(usageRepo)
	if cfg.Usage.Backend == config.UsageBackendRedis {
		a.redisUsage = metering.NewRedisCounter(a.redis.Client(), usageRepo, cfg.Usage.KeyTTL, cfg.Usage.SyncInterval)
		a.redisUsage.Start(context.Background())
		counter = a.redisUsage
	}

	var deduper metering.Deduper
	dedupeCache := metering.NewCacheDeduper(cfg.Usage.DedupeCache, cfg.Usage.DedupeWindow)
	if a.redis != nil {
		deduper = metering.NewRedisDeduper(a.redis.Client(), cfg.Usage.DedupeWindow)
	} else {
		deduper = dedupeCache
	}
	usage := metering.NewService(counter, deduper, a.emitter, cfg.Usage.WarningPercent)

	// Audit log
	auditCfg := queue.DefaultConfig(cfg.Audit.QueueName)
	auditCfg.BatchSize = cfg.Audit.BatchSize
	auditCfg.BatchTimeout = cfg.Audit.BatchTimeout
	auditCfg.MaxRetries = cfg.Audit.MaxRetries
	auditCfg.RetryBackoff = cfg.Audit.RetryBackoff

	var auditDLQ queue.DeadLetterQueue
	if a.redis != nil {
		rq, err := queue.NewRedisQueue(a.redis.Client(), auditCfg)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to create audit queue: %w", err)
		}
		a.auditQueue = rq
		auditDLQ, err = queue.NewRedisDeadLetterQueue(a.redis.Client(), auditCfg)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to create audit DLQ: %w", err)
		}
	} else {
		a.auditQueue = queue.NewMemoryQueue(auditCfg)
		auditDLQ = queue.NewMemoryDeadLetterQueue()
	}
	a.auditWorker = audit.NewWorker(a.auditQueue, auditDLQ, auditRepo, auditCfg, m)
	a.auditWorker.Start(context.Background())
	recorder := audit.NewQueueRecorder(a.auditQueue, auditRepo, cfg.Audit.EnqueueTimeout, m)

	// Gates and pipeline
	hasher := auth.NewSecretHasher(cfg.Auth)
	a.tracker = gate.NewLastUsedTracker(credentials, cfg.Usage.TouchBuffer)
	a.tracker.Start(context.Background())

	subscriptionGate := gate.NewSubscriptionGate(subscriptions, tiers)
	validator := pipeline.NewValidator(pipeline.Gates{
		Credential:   gate.NewCredentialGate(credentials, hasher),
		Account:      gate.NewAccountGate(accounts),
		Subscription: subscriptionGate,
		Quota:        gate.NewQuotaGate(usage),
	}, cfg.Gates, recorder, m)
	validator.TrackLastUsed(a.tracker)

	// Maintenance jobs
	var archiver audit.Archiver
	if cfg.Archive.Enabled {
		s3Writer, err := logging.NewS3Writer(ctx, cfg.Archive)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("failed to initialize audit archive: %w", err)
		}
		archiver = s3Writer
	}
	sweeper := audit.NewRetentionSweeper(auditRepo, archiver, cfg.Audit.RetentionDays, cfg.Audit.SweepBatchSize)

	a.scheduler = scheduler.New(30 * time.Minute)
	jobs := []struct {
		name, spec string
		fn         scheduler.JobFunc
	}{
		{"audit-retention", cfg.Audit.RetentionSchedule, scheduler.AuditRetentionJob(sweeper)},
		{"subscription-expiry", cfg.Scheduler.SubscriptionExpirySchedule, scheduler.SubscriptionExpiryJob(subscriptions, time.Now)},
		{"cache-cleanup", cfg.Scheduler.CacheCleanupSchedule, scheduler.CacheCleanupJob(map[string]func() int{
			"db": func() int {
				creds, tierEntries := db.CleanupExpiredCacheEntries()
				return creds + tierEntries
			},
			"dedupe": dedupeCache.Cleanup,
		})},
	}
	for _, job := range jobs {
		if err := a.scheduler.AddJob(job.name, job.spec, job.fn); err != nil {
			a.close(ctx)
			return nil, err
		}
	}
	a.scheduler.Start()

	// HTTP
	deps := &httpapi.Dependencies{
		Validator:     validator,
		Sessions:      auth.NewSessionTokens(cfg.JWTSecret, 0),
		Usage:         usage,
		Credentials:   credentials,
		Issuer:        auth.NewIssuer(credentials, hasher),
		Subscriptions: subscriptions,
		Tiers:         tiers,
		Entitlements:  subscriptionGate,
		Metrics:       m,
		Health:        a.health,
	}
	if cfg.UpstreamURL != "" {
		deps.Upstream, err = url.Parse(cfg.UpstreamURL)
		if err != nil {
			a.close(ctx)
			return nil, fmt.Errorf("invalid UPSTREAM_URL: %w", err)
		}
	} else {
		a.logger.Warn("UPSTREAM_URL not set, /proxy is disabled")
	}
	a.router = httpapi.NewRouter(deps)

	return a, nil
}

func (a *app) buildEmitter(cfg *config.Config) (events.Emitter, error) {
	var emitters events.MultiEmitter
	if len(cfg.Events.KafkaBrokers) > 0 {
		emitters = append(emitters, events.NewKafkaEmitter(cfg.Events.KafkaBrokers, cfg.Events.KafkaTopic))
	}
	if a.redis != nil {
		q, err := queue.NewRedisQueue(a.redis.Client(), queue.DefaultConfig(cfg.Events.QueueName))
		if err != nil {
			return nil, fmt.Errorf("failed to create events queue: %w", err)
		}
		emitters = append(emitters, events.NewQueueEmitter(q))
	}

	switch len(emitters) {
	case 0:
		return events.NewNoopEmitter(), nil
	case 1:
		return emitters[0], nil
	default:
		return emitters, nil
	}
}

func (a *app) health(ctx context.Context) error {
	if err := a.db.Health(ctx); err != nil {
		return err
	}
	if a.redis != nil {
		return a.redis.Health(ctx)
	}
	return nil
}

// close stops background work in dependency order and releases connections.
func (a *app) close(ctx context.Context) {
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			a.logger.Warn("Scheduler did not stop cleanly", "error", err)
		}
	}
	if a.tracker != nil {
		a.tracker.Stop()
	}
	if a.auditWorker != nil {
		// Stop accepting entries, then let the worker drain what is buffered.
		_ = a.auditQueue.Close()
		_ = a.auditWorker.Stop()
	}
	if a.redisUsage != nil {
		if err := a.redisUsage.Shutdown(ctx); err != nil {
			a.logger.Error("Failed to sync usage on shutdown", "error", err)
		}
	}
	if a.emitter != nil {
		if err := a.emitter.Close(); err != nil {
			a.logger.Warn("Failed to close event emitter", "error", err)
		}
	}
	if a.evictions != nil {
		a.evictions.Stop()
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
