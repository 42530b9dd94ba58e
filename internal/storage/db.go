package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// DB wraps the database connection and provides health checks
type DB struct {
	conn *sqlx.DB

	// Cache for frequently accessed data
	credentialCache *LRUCache
	tierCache       *LRUCache

	// Optional cross-replica eviction of revoked credentials
	evictions *CredentialEvictions
}

// DBConfig holds database configuration
type DBConfig struct {
	DSN string

	// Pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration

	// Cache settings. Without CredentialEvictions, the credential TTL bounds
	// how long a revocation made on another replica may go unnoticed here.
	CredentialCacheSize int
	CredentialCacheTTL  time.Duration
	TierCacheSize       int
	TierCacheTTL        time.Duration
}

// DefaultDBConfig returns default database configuration
func DefaultDBConfig() DBConfig {
	return DBConfig{
		DSN: "host=localhost port=5432 dbname=gateway user=postgres sslmode=disable",

		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,

		CredentialCacheSize: 1000,
		CredentialCacheTTL:  30 * time.Second,
		TierCacheSize:       100,
		TierCacheTTL:        5 * time.Minute,
	}
}

// NewDB creates a new database connection with caching
func NewDB(cfg DBConfig) (*DB, error) {
	conn, err := sqlx.Connect("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	conn.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return NewDBWithConn(conn, cfg), nil
}

// NewDBWithConn wraps an already opened connection (e.g. sqlmock in tests).
func NewDBWithConn(conn *sqlx.DB, cfg DBConfig) *DB {
	return &DB{
		conn:            conn,
		credentialCache: NewLRUCache(cfg.CredentialCacheSize, cfg.CredentialCacheTTL),
		tierCache:       NewLRUCache(cfg.TierCacheSize, cfg.TierCacheTTL),
	}
}

// Close closes the database connection and clears caches
func (db *DB) Close() error {
	db.credentialCache.Clear()
	db.tierCache.Clear()
	return db.conn.Close()
}

// Ping checks if the database is reachable
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Health returns the health status of the database
func (db *DB) Health(ctx context.Context) error {
	if err := db.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	var result int
	err := db.conn.GetContext(ctx, &result, "SELECT 1")
	if err != nil {
		return fmt.Errorf("health check query failed: %w", err)
	}

	return nil
}

// Stats returns database statistics
type DBStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration

	CredentialCacheStats CacheStats
	TierCacheStats       CacheStats
}

// GetStats returns current database and cache statistics
func (db *DB) GetStats() DBStats {
	stats := db.conn.Stats()

	return DBStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,

		CredentialCacheStats: db.credentialCache.GetStats(),
		TierCacheStats:       db.tierCache.GetStats(),
	}
}

// BeginTx starts a new transaction
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return db.conn.BeginTxx(ctx, opts)
}

// Conn returns the underlying sqlx connection
func (db *DB) Conn() *sqlx.DB {
	return db.conn
}

// CleanupExpiredCacheEntries removes expired entries from all caches
func (db *DB) CleanupExpiredCacheEntries() (credentialRemoved, tierRemoved int) {
	credentialRemoved = db.credentialCache.CleanupExpired()
	tierRemoved = db.tierCache.CleanupExpired()
	return
}

// Repository factory methods

func (db *DB) NewCredentialRepository() *CredentialRepository {
	return NewCredentialRepository(db)
}

func (db *DB) NewAccountRepository() *AccountRepository {
	return NewAccountRepository(db)
}

func (db *DB) NewTierRepository() *TierRepository {
	return NewTierRepository(db)
}

func (db *DB) NewSubscriptionRepository() *SubscriptionRepository {
	return NewSubscriptionRepository(db)
}

func (db *DB) NewUsageRepository() *UsageRepository {
	return NewUsageRepository(db)
}

func (db *DB) NewAuditLogRepository() *AuditLogRepository {
	return NewAuditLogRepository(db)
}
