package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Usage counter backends.
const (
	UsageBackendPostgres = "postgres"
	UsageBackendRedis    = "redis"
)

// Secret hash algorithms.
const (
	HashAlgorithmSHA256   = "sha256"
	HashAlgorithmArgon2id = "argon2id"
)

// Config holds configuration for the gateway.
type Config struct {
	HTTPPort    string
	UpstreamURL string
	JWTSecret   []byte
	Log         LogConfig
	Database    DatabaseConfig
	Cache       CacheConfig
	Redis       RedisConfig
	Gates       GateConfig
	Auth        AuthConfig
	Usage       UsageConfig
	Audit       AuditConfig
	Archive     ArchiveConfig
	Events      EventsConfig
	Scheduler   SchedulerConfig
}

// LogConfig controls the process-wide zap logger.
type LogConfig struct {
	Level  string
	Format string // "json" or "console"
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// CacheConfig holds cache settings
type CacheConfig struct {
	CredentialCacheSize int
	CredentialCacheTTL  time.Duration
	TierCacheSize       int
	TierCacheTTL        time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Enabled      bool
	Address      string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// GateConfig holds the independent timeout of every storage-backed gate.
type GateConfig struct {
	CredentialTimeout   time.Duration
	AccountTimeout      time.Duration
	SubscriptionTimeout time.Duration
	QuotaTimeout        time.Duration
}

// AuthConfig holds credential hashing settings.
type AuthConfig struct {
	HashAlgorithm string
	Pepper        []byte // optional HMAC key for sha256 digests
}

// UsageConfig holds usage counter settings.
type UsageConfig struct {
	Backend        string
	SyncInterval   time.Duration // redis -> postgres mirror interval
	KeyTTL         time.Duration // lifetime of a monthly redis hash
	WarningPercent int
	DedupeWindow   time.Duration
	DedupeCache    int
	TouchBuffer    int // pending lastUsedAt updates
}

// AuditConfig holds audit log queue and retention settings.
type AuditConfig struct {
	QueueName         string
	BatchSize         int
	BatchTimeout      time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
	EnqueueTimeout    time.Duration
	RetentionDays     int
	RetentionSchedule string
	SweepBatchSize    int
}

// ArchiveConfig holds the S3 destination for swept audit entries.
type ArchiveConfig struct {
	Enabled  bool
	S3Bucket string
	S3Region string
	S3Prefix string
	Endpoint string // optional, for S3-compatible stores such as MinIO
	PodName  string
}

// EventsConfig selects where lifecycle events are published.
type EventsConfig struct {
	KafkaBrokers []string
	KafkaTopic   string
	QueueName    string
}

// SchedulerConfig holds cron specs for periodic maintenance jobs.
type SchedulerConfig struct {
	SubscriptionExpirySchedule string
	CacheCleanupSchedule       string
}

func getEnvInt(key string, defaultValue int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(val)
	if err != nil {
		return defaultValue
	}

	return duration
}

func getEnvString(key string, defaultValue string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	return val
}

func getEnvBool(key string, defaultValue bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultValue
	}
	return b
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Load reads configuration from environment variables. A .env file in the
// working directory is loaded first when present; real environment wins.
func Load() (*Config, error) {
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	cfg := &Config{
		HTTPPort:    getEnvString("HTTP_PORT", "8080"),
		UpstreamURL: getEnvString("UPSTREAM_URL", ""),
		JWTSecret:   []byte(getEnvString("JWT_SECRET", "supersecretkey")),
		Log: LogConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "console"),
		},
		Database: DatabaseConfig{
			URL:             dbURL,
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
			ConnMaxIdleTime: getEnvDuration("DB_CONN_MAX_IDLE_TIME", 1*time.Minute),
		},
		Cache: CacheConfig{
			CredentialCacheSize: getEnvInt("CACHE_CREDENTIAL_SIZE", 1000),
			CredentialCacheTTL:  getEnvDuration("CACHE_CREDENTIAL_TTL", 30*time.Second),
			TierCacheSize:       getEnvInt("CACHE_TIER_SIZE", 100),
			TierCacheTTL:        getEnvDuration("CACHE_TIER_TTL", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:      getEnvBool("REDIS_ENABLED", false),
			Address:      getEnvString("REDIS_ADDRESS", "localhost:6379"),
			Password:     getEnvString("REDIS_PASSWORD", ""),
			DB:           getEnvInt("REDIS_DB", 0),
			PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
			MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
			DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Gates: GateConfig{
			CredentialTimeout:   getEnvDuration("GATE_CREDENTIAL_TIMEOUT", 500*time.Millisecond),
			AccountTimeout:      getEnvDuration("GATE_ACCOUNT_TIMEOUT", 500*time.Millisecond),
			SubscriptionTimeout: getEnvDuration("GATE_SUBSCRIPTION_TIMEOUT", 500*time.Millisecond),
			QuotaTimeout:        getEnvDuration("GATE_QUOTA_TIMEOUT", 500*time.Millisecond),
		},
		Auth: AuthConfig{
			HashAlgorithm: strings.ToLower(getEnvString("SECRET_HASH_ALGORITHM", HashAlgorithmSHA256)),
			Pepper:        []byte(getEnvString("SECRET_HASH_PEPPER", "")),
		},
		Usage: UsageConfig{
			Backend:        strings.ToLower(getEnvString("USAGE_BACKEND", UsageBackendPostgres)),
			SyncInterval:   getEnvDuration("USAGE_SYNC_INTERVAL", 1*time.Minute),
			KeyTTL:         getEnvDuration("USAGE_KEY_TTL", 62*24*time.Hour),
			WarningPercent: getEnvInt("QUOTA_WARNING_PERCENT", 80),
			DedupeWindow:   getEnvDuration("USAGE_DEDUPE_WINDOW", 24*time.Hour),
			DedupeCache:    getEnvInt("USAGE_DEDUPE_CACHE_SIZE", 10000),
			TouchBuffer:    getEnvInt("CREDENTIAL_TOUCH_BUFFER", 1024),
		},
		Audit: AuditConfig{
			QueueName:         getEnvString("AUDIT_QUEUE_NAME", "audit-log"),
			BatchSize:         getEnvInt("AUDIT_QUEUE_BATCH_SIZE", 100),
			BatchTimeout:      getEnvDuration("AUDIT_QUEUE_BATCH_TIMEOUT", 5*time.Second),
			MaxRetries:        getEnvInt("AUDIT_QUEUE_MAX_RETRIES", 3),
			RetryBackoff:      getEnvDuration("AUDIT_QUEUE_RETRY_BACKOFF", 1*time.Second),
			EnqueueTimeout:    getEnvDuration("AUDIT_ENQUEUE_TIMEOUT", 100*time.Millisecond),
			RetentionDays:     getEnvInt("AUDIT_RETENTION_DAYS", 90),
			RetentionSchedule: getEnvString("AUDIT_RETENTION_SCHEDULE", "@daily"),
			SweepBatchSize:    getEnvInt("AUDIT_SWEEP_BATCH_SIZE", 5000),
		},
		Archive: ArchiveConfig{
			Enabled:  getEnvString("AUDIT_ARCHIVE_BUCKET", "") != "",
			S3Bucket: getEnvString("AUDIT_ARCHIVE_BUCKET", ""),
			S3Region: getEnvString("AUDIT_ARCHIVE_REGION", "us-east-1"),
			S3Prefix: getEnvString("AUDIT_ARCHIVE_PREFIX", "audit/"),
			Endpoint: getEnvString("AUDIT_ARCHIVE_ENDPOINT", ""),
			PodName:  getEnvString("POD_NAME", "gateway-0"),
		},
		Events: EventsConfig{
			KafkaBrokers: getEnvList("KAFKA_BROKERS"),
			KafkaTopic:   getEnvString("KAFKA_EVENTS_TOPIC", "gateway.lifecycle"),
			QueueName:    getEnvString("EVENTS_QUEUE_NAME", "lifecycle-events"),
		},
		Scheduler: SchedulerConfig{
			SubscriptionExpirySchedule: getEnvString("SUBSCRIPTION_EXPIRY_SCHEDULE", "@every 15m"),
			CacheCleanupSchedule:       getEnvString("CACHE_CLEANUP_SCHEDULE", "@every 5m"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Usage.Backend {
	case UsageBackendPostgres:
	case UsageBackendRedis:
		if !c.Redis.Enabled {
			return fmt.Errorf("USAGE_BACKEND=redis requires REDIS_ENABLED=true")
		}
	default:
		return fmt.Errorf("unsupported USAGE_BACKEND: %s", c.Usage.Backend)
	}

	switch c.Auth.HashAlgorithm {
	case HashAlgorithmSHA256, HashAlgorithmArgon2id:
	default:
		return fmt.Errorf("unsupported SECRET_HASH_ALGORITHM: %s", c.Auth.HashAlgorithm)
	}

	if c.Usage.WarningPercent <= 0 || c.Usage.WarningPercent >= 100 {
		return fmt.Errorf("QUOTA_WARNING_PERCENT must be between 1 and 99")
	}
	if c.Audit.RetentionDays <= 0 {
		return fmt.Errorf("AUDIT_RETENTION_DAYS must be positive")
	}
	return nil
}
