package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"api_gateway/internal/utils"
)

// CredentialEvictionChannel carries the public keys of revoked credentials.
const CredentialEvictionChannel = "gateway:credential-evictions"

// CredentialEvictions broadcasts credential cache evictions between replicas
// sharing one Redis. A revocation on any replica drops the cached entry on
// every subscribed replica instead of waiting for the TTL.
type CredentialEvictions struct {
	client *redis.Client
	db     *DB
	logger *utils.Logger

	mu      sync.Mutex
	pubsub  *redis.PubSub
	stopped chan struct{}
}

// NewCredentialEvictions creates the broadcaster and registers it with db so
// that Revoke publishes through it. Call Start to receive evictions.
func NewCredentialEvictions(client *redis.Client, db *DB) *CredentialEvictions {
	e := &CredentialEvictions{
		client: client,
		db:     db,
		logger: utils.NewLogger("credential-evictions"),
	}
	db.evictions = e
	return e
}

// Publish asks every subscribed replica to drop publicKey from its cache.
func (e *CredentialEvictions) Publish(ctx context.Context, publicKey string) error {
	if err := e.client.Publish(ctx, CredentialEvictionChannel, publicKey).Err(); err != nil {
		return fmt.Errorf("failed to publish credential eviction: %w", err)
	}
	return nil
}

// Start subscribes and evicts in the background until Stop is called.
func (e *CredentialEvictions) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.pubsub != nil {
		return nil
	}

	sub := e.client.Subscribe(ctx, CredentialEvictionChannel)
	// Wait for the subscription confirmation so no publish is missed after
	// Start returns.
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("failed to subscribe to credential evictions: %w", err)
	}

	e.pubsub = sub
	e.stopped = make(chan struct{})
	go e.run(sub.Channel(), e.stopped)

	e.logger.Info("Credential eviction subscriber started", "channel", CredentialEvictionChannel)
	return nil
}

func (e *CredentialEvictions) run(messages <-chan *redis.Message, stopped chan struct{}) {
	defer close(stopped)
	for msg := range messages {
		e.db.credentialCache.Delete(credentialCacheKey(msg.Payload))
		e.logger.Debug("Evicted cached credential", "public_key", msg.Payload)
	}
}

// Stop unsubscribes and waits for the receive loop to exit.
func (e *CredentialEvictions) Stop() {
	e.mu.Lock()
	sub, stopped := e.pubsub, e.stopped
	e.pubsub = nil
	e.mu.Unlock()

	if sub == nil {
		return
	}
	if err := sub.Close(); err != nil {
		e.logger.Warn("Failed to close eviction subscription", "error", err)
	}
	<-stopped
}

// evictCredential drops the local entry and tells the other replicas to do
// the same. A failed publish leaves them on the TTL.
func (db *DB) evictCredential(ctx context.Context, publicKey string) {
	db.credentialCache.Delete(credentialCacheKey(publicKey))
	if db.evictions == nil {
		return
	}
	if err := db.evictions.Publish(ctx, publicKey); err != nil {
		db.evictions.logger.Warn("Credential eviction not broadcast", "public_key", publicKey, "error", err)
	}
}
