package services

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"

	"github.com/slotter-org/roomchat-backend/internal/config"
	"github.com/slotter-org/roomchat-backend/internal/logger"
)

// BucketService stores public objects (avatars, room transcripts).
type BucketService interface {
	UploadFile(ctx context.Context, bucketKey, contentType string, r io.Reader) error
	GetPublicURL(bucketKey string) string
	Close() error
}

type gcsBucketService struct {
	log        *logger.Logger
	client     *storage.Client
	bucketName string
	baseURL    string
}

func NewBucketService(ctx context.Context, cfg config.StorageConfig, log *logger.Logger) (BucketService, error) {
	serviceLog := log.With("service", "BucketService", "bucket", cfg.Bucket)
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("GCS_BUCKET is empty")
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	serviceLog.Info("Storage client ready :)")
	return &gcsBucketService{
		log:        serviceLog,
		client:     client,
		bucketName: cfg.Bucket,
		baseURL:    strings.TrimRight(cfg.PublicBaseURL, "/"),
	}, nil
}

func (bs *gcsBucketService) UploadFile(ctx context.Context, bucketKey, contentType string, r io.Reader) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	w := bs.client.Bucket(bs.bucketName).Object(bucketKey).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=300"
	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		bs.log.Warn("Failed writing object", "key", bucketKey, "error", err)
		return fmt.Errorf("failed to write object %s: %w", bucketKey, err)
	}
	if err := w.Close(); err != nil {
		bs.log.Warn("Failed finalizing object", "key", bucketKey, "error", err)
		return fmt.Errorf("failed to finalize object %s: %w", bucketKey, err)
	}
	bs.log.Debug("Uploaded object", "key", bucketKey)
	return nil
}

func (bs *gcsBucketService) GetPublicURL(bucketKey string) string {
	return fmt.Sprintf("%s/%s/%s", bs.baseURL, bs.bucketName, bucketKey)
}

func (bs *gcsBucketService) Close() error {
	return bs.client.Close()
}
