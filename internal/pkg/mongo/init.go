package mongo

import (
	"Patronage/internal/api/config"
	"Patronage/internal/pkg/logger"
	"context"
	"fmt"
	log "log/slog"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
)

// clientOptions 私信副本写入需多数派确认后才视为已写入，读取走主节点以便读到自己的写入
func clientOptions(cfg config.MongoConfig) *options.ClientOptions {
	opts := options.Client().
		ApplyURI(cfg.URL).
		SetMonitor(logger.NewMongoMonitor()).
		SetWriteConcern(writeconcern.Majority()).
		SetReadPreference(readpref.Primary()).
		SetRetryWrites(true)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.TimeoutMs > 0 {
		timeout := time.Duration(cfg.TimeoutMs) * time.Millisecond
		opts.SetTimeout(timeout).
			SetServerSelectionTimeout(timeout)
	}
	return opts
}

// InitMongo 建立连接并返回消息库引用
func InitMongo(cfg config.MongoConfig) (*mongo.Database, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, clientOptions(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to connect mongo: %w", err)
	}

	if err = client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo primary unreachable: %w", err)
	}

	db := client.Database(cfg.Database)

	log.Info("MongoDB initialized successfully", "db", cfg.Database, "max_pool", cfg.MaxPoolSize)
	return db, nil
}
