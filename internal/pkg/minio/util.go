package minio

import (
	"Patronage/internal/api/config"
	"context"
	"fmt"

	"github.com/minio/minio-go/v7"
)

// MediaExists 确认附件对象已上传
func MediaExists(ctx context.Context, objectName string) (bool, error) {
	if Client == nil {
		return false, fmt.Errorf("minio client is not initialized")
	}
	_, err := Client.StatObject(ctx, Bucket, objectName, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat object: %w", err)
	}
	return true, nil
}

// GetPublicURL 获取文件的公共访问URL
func GetPublicURL(objectName string) string {
	cfg := config.Cfg.MinIO

	protocol := "http"
	if cfg.UseSSL {
		protocol = "https"
	}

	return fmt.Sprintf("%s://%s/%s/%s", protocol, cfg.Endpoint, cfg.Bucket, objectName)
}
