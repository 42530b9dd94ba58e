package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"api_gateway/internal/audit"
	"api_gateway/internal/auth"
	"api_gateway/internal/config"
	"api_gateway/internal/queue"
	"api_gateway/internal/storage"

	"github.com/google/uuid"
)

func main() {
	ownerFlag := flag.String("owner", "", "account id that will own the key")
	nameFlag := flag.String("name", "", "display name for the key")
	expiresFlag := flag.String("expires", "", "optional expiry, RFC3339")
	approveFlag := flag.String("approve", "", "approve a pending subscription by id instead of issuing a key")
	dlqListFlag := flag.Bool("audit-dlq-list", false, "list dead-lettered audit entries and the audit queue length")
	dlqRetryFlag := flag.String("audit-dlq-retry", "", "move a dead-lettered audit entry back onto the audit queue")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fail("Failed to load configuration: %v", err)
	}

	db, err := storage.NewDB(storage.DBConfig{
		DSN:                 cfg.Database.URL,
		MaxOpenConns:        2,
		MaxIdleConns:        1,
		ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:     cfg.Database.ConnMaxIdleTime,
		CredentialCacheSize: 10, // Minimal cache for a one-shot tool
		CredentialCacheTTL:  time.Minute,
		TierCacheSize:       10,
		TierCacheTTL:        time.Minute,
	})
	if err != nil {
		fail("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if *approveFlag != "" {
		approve(ctx, db, *approveFlag)
		return
	}
	if *dlqListFlag || *dlqRetryFlag != "" {
		auditDeadLetters(ctx, cfg, db, *dlqListFlag, *dlqRetryFlag)
		return
	}

	ownerID, err := uuid.Parse(*ownerFlag)
	if err != nil {
		fail("-owner must be a valid account id")
	}
	if *nameFlag == "" {
		fail("-name is required")
	}

	var expiresAt *time.Time
	if *expiresFlag != "" {
		t, err := time.Parse(time.RFC3339, *expiresFlag)
		if err != nil {
			fail("-expires must be RFC3339: %v", err)
		}
		expiresAt = &t
	}

	issuer := auth.NewIssuer(storage.NewCredentialRepository(db), auth.NewSecretHasher(cfg.Auth))
	cred, secret, err := issuer.IssueCredential(ctx, ownerID, *nameFlag, expiresAt)
	if err != nil {
		fail("Failed to issue key: %v", err)
	}

	fmt.Println("Key issued")
	fmt.Printf("  ID:         %s\n", cred.ID)
	fmt.Printf("  Public key: %s\n", cred.PublicKey)
	fmt.Printf("  Secret:     %s\n", secret)
	fmt.Println()
	fmt.Println("The secret is shown only once. Store it now.")
}

func approve(ctx context.Context, db *storage.DB, rawID string) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		fail("-approve must be a valid subscription id")
	}

	sub, err := storage.NewSubscriptionRepository(db).Approve(ctx, id, time.Now().UTC(), nil)
	if err != nil {
		fail("Failed to approve subscription: %v", err)
	}

	fmt.Printf("Subscription %s approved (status %s, starts %s)\n", sub.ID, sub.Status, sub.StartDate.Format(time.RFC3339))
}

// auditDeadLetters inspects or replays the shared Redis audit DLQ. The running
// gateway's worker picks replayed entries up from the queue.
func auditDeadLetters(ctx context.Context, cfg *config.Config, db *storage.DB, list bool, retryID string) {
	if !cfg.Redis.Enabled {
		fail("the audit dead-letter queue is only shared across processes with REDIS_ENABLED=true")
	}

	redisCfg := storage.DefaultRedisConfig()
	redisCfg.Address = cfg.Redis.Address
	redisCfg.Password = cfg.Redis.Password
	redisCfg.DB = cfg.Redis.DB
	rc, err := storage.NewRedisClient(redisCfg)
	if err != nil {
		fail("Failed to connect to Redis: %v", err)
	}
	defer rc.Close()

	queueCfg := queue.DefaultConfig(cfg.Audit.QueueName)
	q, err := queue.NewRedisQueue(rc.Client(), queueCfg)
	if err != nil {
		fail("Failed to open audit queue: %v", err)
	}
	dlq, err := queue.NewRedisDeadLetterQueue(rc.Client(), queueCfg)
	if err != nil {
		fail("Failed to open audit dead-letter queue: %v", err)
	}
	worker := audit.NewWorker(q, dlq, storage.NewAuditLogRepository(db), queueCfg, nil)

	if retryID != "" {
		if err := worker.RetryDeadLetterItem(ctx, retryID); err != nil {
			if errors.Is(err, queue.ErrItemNotFound) {
				fail("No dead-lettered audit entry with id %s", retryID)
			}
			fail("Failed to replay audit entry: %v", err)
		}
		fmt.Printf("Audit entry %s moved back to the queue\n", retryID)
	}
	if !list {
		return
	}

	length, err := worker.GetQueueLength(ctx)
	if err != nil {
		fail("Failed to read audit queue length: %v", err)
	}
	items, err := worker.GetDeadLetterItems(ctx, 100)
	if err != nil {
		fail("Failed to list dead-lettered audit entries: %v", err)
	}

	fmt.Printf("Audit queue length: %d\n", length)
	fmt.Printf("Dead-lettered entries: %d\n", len(items))
	for _, item := range items {
		fmt.Printf("  %s  %s  retries=%d  %s\n", item.ID, item.Timestamp.Format(time.RFC3339), item.Retries, item.Error)
	}
}

func fail(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "ERROR: "+format+"\n", args...)
	os.Exit(1)
}
