package redis

import (
	"Patronage/internal/api/config"
	"Patronage/internal/pkg/logger"
	"context"
	"fmt"
	log "log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/redis/go-redis/v9/maintnotifications"
)

var Rdb *redis.Client

func newOptions(cfg config.RedisConfig) *redis.Options {
	return &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,

		// 指针、脏集合与分布式锁的读写跟随调用方的 ctx 超时
		ContextTimeoutEnabled: true,
		DialTimeout:           3 * time.Second,

		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	}
}

// InitRedis 初始化指针通知、脏会话集合使用的 Redis 连接
func InitRedis(cfg config.RedisConfig) error {
	rdb := redis.NewClient(newOptions(cfg))
	rdb.AddHook(logger.NewRedisLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return fmt.Errorf("redis %s unreachable: %w", cfg.Addr, err)
	}

	Rdb = rdb
	log.Info("Redis initialized successfully", "addr", cfg.Addr, "db", cfg.DB)
	return nil
}
