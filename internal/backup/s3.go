package backup

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/geoinsight/backend/internal/config"
)

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Replicator copies finished system backup archives to S3-compatible
// storage. Replication is best effort: a failed upload never fails the
// backup that produced the archive.
type Replicator struct {
	client s3Client
	bucket string
	logger *slog.Logger
}

// NewReplicator returns nil when the configuration is incomplete;
// a nil Replicator is a no-op.
func NewReplicator(cfg config.S3, logger *slog.Logger) *Replicator {
	if cfg.Bucket == "" || cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil
	}
	return &Replicator{
		client: newS3Client(cfg),
		bucket: cfg.Bucket,
		logger: logger,
	}
}

func newS3Client(cfg config.S3) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// Replicate uploads the archive under backups/<backupId>.zip.
func (r *Replicator) Replicate(ctx context.Context, archivePath, backupID string) error {
	if r == nil {
		return nil
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat archive: %w", err)
	}

	key := path.Join("backups", backupID+".zip")
	_, err = r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
	})
	if err != nil {
		return fmt.Errorf("upload to s3: %w", err)
	}
	return nil
}
