package minio

import (
	"Patronage/internal/api/config"
	"context"
	"fmt"
	log "log/slog"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

var (
	// Client 全局 MinIO 客户端实例
	Client *minio.Client
	// Bucket 附件存储桶
	Bucket string
)

// Init 初始化 MinIO 客户端，并确认附件存储桶存在
func Init() error {
	cfg := config.Cfg.MinIO

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize minio client: %w", err)
	}

	exists, err := client.BucketExists(context.Background(), cfg.Bucket)
	if err != nil {
		return fmt.Errorf("failed to connect to minio server: %w", err)
	}
	if !exists {
		return fmt.Errorf("minio bucket %q does not exist", cfg.Bucket)
	}

	Client = client
	Bucket = cfg.Bucket
	log.Info("MinIO connected", "endpoint", cfg.Endpoint, "bucket", cfg.Bucket)
	return nil
}
