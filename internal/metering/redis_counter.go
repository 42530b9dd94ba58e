package metering

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"api_gateway/internal/models"
	"api_gateway/internal/storage"
	"api_gateway/internal/utils"
)

const usageKeyPrefix = "usage:"

// Hash fields of a monthly usage key.
const (
	fieldTotal   = "total"
	fieldSuccess = "success"
	fieldFailed  = "failed"
	fieldRTSum   = "rt_sum"
	fieldRTMin   = "rt_min"
	fieldRTMax   = "rt_max"
	fieldOwner   = "owner"
	fieldLastAt  = "last_at"
)

// incrementScript adds one call to a monthly hash. When seed values are
// passed (ARGV[6..11]) they are applied with HSETNX first, so a key rebuilt
// from Postgres never overwrites counts another replica already added.
var incrementScript = redis.NewScript(`
	local key = KEYS[1]
	local rt = tonumber(ARGV[1])
	local ok = tonumber(ARGV[2])
	local at = tonumber(ARGV[3])
	local owner = ARGV[4]
	local ttl = tonumber(ARGV[5])

	if #ARGV > 5 then
		redis.call('HSETNX', key, 'total', ARGV[6])
		redis.call('HSETNX', key, 'success', ARGV[7])
		redis.call('HSETNX', key, 'failed', ARGV[8])
		redis.call('HSETNX', key, 'rt_sum', ARGV[9])
		if ARGV[10] ~= '' then redis.call('HSETNX', key, 'rt_min', ARGV[10]) end
		if ARGV[11] ~= '' then redis.call('HSETNX', key, 'rt_max', ARGV[11]) end
	end

	local total = redis.call('HINCRBY', key, 'total', 1)
	if ok == 1 then
		redis.call('HINCRBY', key, 'success', 1)
	else
		redis.call('HINCRBY', key, 'failed', 1)
	end
	redis.call('HINCRBY', key, 'rt_sum', rt)

	local mn = tonumber(redis.call('HGET', key, 'rt_min'))
	if not mn or rt < mn then redis.call('HSET', key, 'rt_min', rt) end
	local mx = tonumber(redis.call('HGET', key, 'rt_max'))
	if not mx or rt > mx then redis.call('HSET', key, 'rt_max', rt) end
	local last = tonumber(redis.call('HGET', key, 'last_at'))
	if not last or at > last then redis.call('HSET', key, 'last_at', at) end

	redis.call('HSET', key, 'owner', owner)
	redis.call('EXPIRE', key, ttl)
	return total
`)

// RedisCounter keeps the hot monthly counters in Redis hashes shared by all
// replicas and mirrors them into Postgres on an interval.
type RedisCounter struct {
	redis    *redis.Client
	store    UsageStore
	keyTTL   time.Duration
	syncFreq time.Duration
	logger   *utils.Logger

	startOnce   sync.Once
	stopOnce    sync.Once
	stopChan    chan struct{}
	stoppedChan chan struct{}
}

// NewRedisCounter creates the counter. Call Start to run the sync worker.
func NewRedisCounter(client *redis.Client, store UsageStore, keyTTL, syncFrequency time.Duration) *RedisCounter {
	if keyTTL <= 0 {
		keyTTL = 62 * 24 * time.Hour
	}
	if syncFrequency <= 0 {
		syncFrequency = time.Minute
	}
	return &RedisCounter{
		redis:       client,
		store:       store,
		keyTTL:      keyTTL,
		syncFreq:    syncFrequency,
		logger:      utils.NewLogger("usage-redis"),
		stopChan:    make(chan struct{}),
		stoppedChan: make(chan struct{}),
	}
}

// usageKey returns usage:<credential>:<yyyy>:<mm>
func usageKey(credentialID uuid.UUID, period models.UsagePeriod) string {
	return fmt.Sprintf("%s%s:%04d:%02d", usageKeyPrefix, credentialID, period.Year, period.Month)
}

func parseUsageKey(key string) (uuid.UUID, models.UsagePeriod, error) {
	parts := strings.Split(strings.TrimPrefix(key, usageKeyPrefix), ":")
	if len(parts) != 3 {
		return uuid.Nil, models.UsagePeriod{}, fmt.Errorf("invalid usage key %q", key)
	}
	id, err := uuid.Parse(parts[0])
	if err != nil {
		return uuid.Nil, models.UsagePeriod{}, fmt.Errorf("invalid credential id in %q: %w", key, err)
	}
	year, err1 := strconv.Atoi(parts[1])
	month, err2 := strconv.Atoi(parts[2])
	period := models.UsagePeriod{Year: year, Month: month}
	if err1 != nil || err2 != nil || !period.IsValid() {
		return uuid.Nil, models.UsagePeriod{}, fmt.Errorf("invalid period in %q", key)
	}
	return id, period, nil
}

// CurrentUsage reads the Redis total, falling back to Postgres when the
// hash does not exist (first call of the month or Redis was flushed).
func (c *RedisCounter) CurrentUsage(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (int64, error) {
	total, err := c.redis.HGet(ctx, usageKey(credentialID, period), fieldTotal).Int64()
	if errors.Is(err, redis.Nil) {
		if c.store == nil {
			return 0, nil
		}
		return c.store.GetTotal(ctx, credentialID, period)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return total, nil
}

// Increment atomically adds one call and returns the new total
func (c *RedisCounter) Increment(ctx context.Context, inc storage.UsageIncrement) (int64, error) {
	key := usageKey(inc.CredentialID, inc.Period)

	ok := 0
	if inc.Success {
		ok = 1
	}
	args := []interface{}{inc.ResponseTimeMs, ok, inc.At.UnixMilli(), inc.OwnerID.String(), int64(c.keyTTL / time.Second)}

	seed, err := c.seedArgs(ctx, key, inc)
	if err != nil {
		return 0, err
	}
	args = append(args, seed...)

	total, err := incrementScript.Run(ctx, c.redis, []string{key}, args...).Int64()
	if err != nil {
		return 0, fmt.Errorf("failed to increment usage: %w", err)
	}
	return total, nil
}

// seedArgs loads the durable record when the hash is missing so the count
// continues from Postgres instead of restarting at zero.
func (c *RedisCounter) seedArgs(ctx context.Context, key string, inc storage.UsageIncrement) ([]interface{}, error) {
	if c.store == nil {
		return nil, nil
	}
	exists, err := c.redis.Exists(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to check usage key: %w", err)
	}
	if exists > 0 {
		return nil, nil
	}

	rec, err := c.store.Get(ctx, inc.CredentialID, inc.Period)
	if errors.Is(err, storage.ErrUsageRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load usage seed: %w", err)
	}

	optional := func(v *int64) string {
		if v == nil {
			return ""
		}
		return strconv.FormatInt(*v, 10)
	}
	return []interface{}{
		rec.TotalRequests, rec.SuccessfulRequests, rec.FailedRequests, rec.TotalResponseTimeMs,
		optional(rec.MinResponseTimeMs), optional(rec.MaxResponseTimeMs),
	}, nil
}

// Stats returns the counters of a period
func (c *RedisCounter) Stats(ctx context.Context, credentialID uuid.UUID, period models.UsagePeriod) (*models.UsageRecord, error) {
	fields, err := c.redis.HGetAll(ctx, usageKey(credentialID, period)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read usage stats: %w", err)
	}
	if len(fields) == 0 {
		if c.store == nil {
			return nil, storage.ErrUsageRecordNotFound
		}
		return c.store.Get(ctx, credentialID, period)
	}
	return recordFromHash(credentialID, period, fields)
}

func recordFromHash(credentialID uuid.UUID, period models.UsagePeriod, fields map[string]string) (*models.UsageRecord, error) {
	rec := &models.UsageRecord{
		CredentialID: credentialID,
		Year:         period.Year,
		Month:        period.Month,
	}

	var err error
	num := func(name string) int64 {
		v, ok := fields[name]
		if !ok || err != nil {
			return 0
		}
		n, perr := strconv.ParseInt(v, 10, 64)
		if perr != nil {
			err = fmt.Errorf("invalid %s value %q: %w", name, v, perr)
		}
		return n
	}

	rec.TotalRequests = num(fieldTotal)
	rec.SuccessfulRequests = num(fieldSuccess)
	rec.FailedRequests = num(fieldFailed)
	rec.TotalResponseTimeMs = num(fieldRTSum)
	if _, ok := fields[fieldRTMin]; ok {
		rec.MinResponseTimeMs = utils.Int64Ptr(num(fieldRTMin))
	}
	if _, ok := fields[fieldRTMax]; ok {
		rec.MaxResponseTimeMs = utils.Int64Ptr(num(fieldRTMax))
	}
	if _, ok := fields[fieldLastAt]; ok {
		rec.LastRequestAt = utils.TimePtr(time.UnixMilli(num(fieldLastAt)).UTC())
	}
	if err != nil {
		return nil, err
	}

	if owner, ok := fields[fieldOwner]; ok {
		id, perr := uuid.Parse(owner)
		if perr != nil {
			return nil, fmt.Errorf("invalid owner value %q: %w", owner, perr)
		}
		rec.OwnerID = id
	}
	return rec, nil
}

// Start runs the background sync worker
func (c *RedisCounter) Start(ctx context.Context) {
	if c.store == nil {
		return
	}
	c.startOnce.Do(func() { go c.syncWorker(ctx) })
}

// syncWorker periodically syncs Redis data to PostgreSQL
func (c *RedisCounter) syncWorker(ctx context.Context) {
	defer close(c.stoppedChan)

	ticker := time.NewTicker(c.syncFreq)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			syncCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			if err := c.SyncToDatabase(syncCtx); err != nil {
				c.logger.Error("Failed to sync usage counters", "error", err)
			}
			cancel()
		case <-c.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// SyncToDatabase mirrors every usage hash into usage_records
func (c *RedisCounter) SyncToDatabase(ctx context.Context) error {
	if c.store == nil {
		return nil
	}

	var cursor uint64
	synced, failed := 0, 0

	for {
		keys, nextCursor, err := c.redis.Scan(ctx, cursor, usageKeyPrefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys: %w", err)
		}

		for _, key := range keys {
			if err := c.syncKey(ctx, key); err != nil {
				failed++
				c.logger.Warn("Failed to sync usage key", "key", key, "error", err)
				continue
			}
			synced++
		}

		cursor = nextCursor
		if cursor == 0 {
			break
		}
	}

	c.logger.Debug("Usage sync complete", "synced", synced, "failed", failed)
	return nil
}

func (c *RedisCounter) syncKey(ctx context.Context, key string) error {
	credentialID, period, err := parseUsageKey(key)
	if err != nil {
		return err
	}

	fields, err := c.redis.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read hash: %w", err)
	}
	if len(fields) == 0 {
		return nil // expired between SCAN and HGETALL
	}

	rec, err := recordFromHash(credentialID, period, fields)
	if err != nil {
		return err
	}
	if rec.OwnerID == uuid.Nil {
		return fmt.Errorf("usage key %q has no owner", key)
	}
	return c.store.UpsertSnapshot(ctx, rec)
}

// Shutdown stops the worker and runs a final sync
func (c *RedisCounter) Shutdown(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopChan) })
	// A worker that was never started can no longer be started.
	c.startOnce.Do(func() { close(c.stoppedChan) })

	select {
	case <-c.stoppedChan:
	case <-ctx.Done():
		return ctx.Err()
	}
	return c.SyncToDatabase(ctx)
}
