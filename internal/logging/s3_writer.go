package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"api_gateway/internal/config"
	"api_gateway/internal/models"
	"api_gateway/internal/utils"
)

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Writer archives batches of audit entries to S3 as JSON Lines files
type S3Writer struct {
	client  objectPutter
	bucket  string
	prefix  string
	podName string
	logger  *utils.Logger
	now     func() time.Time
}

// NewS3Writer creates a writer using the default AWS credential chain
func NewS3Writer(ctx context.Context, cfg config.ArchiveConfig) (*S3Writer, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	})

	return NewS3WriterWithClient(client, cfg.S3Bucket, cfg.S3Prefix, cfg.PodName), nil
}

// NewS3WriterWithClient creates a writer on an existing client
func NewS3WriterWithClient(client objectPutter, bucket, prefix, podName string) *S3Writer {
	return &S3Writer{
		client:  client,
		bucket:  bucket,
		prefix:  prefix,
		podName: podName,
		logger:  utils.NewLogger("s3-writer"),
		now:     time.Now,
	}
}

// WriteBatch uploads entries as one JSON Lines object and returns its key.
// Any encoding failure aborts the upload so the caller does not delete
// entries that were never archived.
func (w *S3Writer) WriteBatch(ctx context.Context, entries []*models.AuditLogEntry) (string, error) {
	if len(entries) == 0 {
		return "", nil
	}

	// Format: audit/2026/04/30/gateway-0-20260430-031500-123456789.jsonl
	now := w.now().UTC()
	key := fmt.Sprintf("%s%04d/%02d/%02d/%s-%s-%09d.jsonl",
		w.prefix,
		now.Year(),
		now.Month(),
		now.Day(),
		w.podName,
		now.Format("20060102-150405"),
		now.Nanosecond(),
	)

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			return "", fmt.Errorf("failed to encode audit entry %s: %w", entry.ID, err)
		}
	}

	_, err := w.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("application/x-ndjson"),
	})
	if err != nil {
		return "", fmt.Errorf("failed to upload to S3: %w", err)
	}

	w.logger.Info("Archived audit entries to S3", "key", key, "count", len(entries), "bytes", buf.Len())
	return key, nil
}
