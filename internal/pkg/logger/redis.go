package logger

import (
	"context"
	"errors"
	"fmt"
	log "log/slog"
	"net"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const slowRedisCommand = 100 * time.Millisecond

type RedisLoggerHook struct{}

func NewRedisLogger() *RedisLoggerHook {
	return &RedisLoggerHook{}
}

// DialHook 记录建立连接失败
func (s *RedisLoggerHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		start := time.Now()
		conn, err := next(ctx, network, addr)
		if err != nil {
			log.ErrorContext(ctx, "Redis Dial Error",
				log.String("addr", addr),
				log.Duration("latency", time.Since(start)),
				log.Any("err", err),
			)
		}
		return conn, err
	}
}

// commandArgs 隐藏凭据；发布的通知体只记录频道
func commandArgs(cmd redis.Cmder) []any {
	args := cmd.Args()
	switch cmd.Name() {
	case "auth", "hello":
		return []any{log.String("args", "[PROTECTED]")}
	case "publish":
		if len(args) >= 2 {
			return []any{log.String("channel", fmt.Sprint(args[1]))}
		}
	}
	return []any{log.String("args", fmt.Sprint(args))}
}

// expectedRedisError 读空键、抢锁失败、订阅关闭都属于正常流程
func expectedRedisError(ctx context.Context, cmd redis.Cmder, err error) bool {
	if errors.Is(err, redis.Nil) || errors.Is(err, redis.ErrClosed) {
		return true
	}
	if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return true
	}
	return cmd.Name() == "client" && strings.Contains(err.Error(), "setinfo")
}

// ProcessHook 记录单条命令的错误与慢查询
func (s *RedisLoggerHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		elapsed := time.Since(start)

		if err != nil && expectedRedisError(ctx, cmd, err) {
			return err
		}
		if err == nil && elapsed <= slowRedisCommand {
			return nil
		}

		fields := append([]any{
			log.String("command", cmd.Name()),
			log.Duration("latency", elapsed),
		}, commandArgs(cmd)...)
		if err != nil {
			log.ErrorContext(ctx, "Redis Error", append(fields, log.Any("err", err))...)
		} else {
			log.WarnContext(ctx, "Redis Slow", fields...)
		}
		return err
	}
}

// ProcessPipelineHook 记录管道命令的错误与慢查询
func (s *RedisLoggerHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		elapsed := time.Since(start)

		names := make([]string, 0, len(cmds))
		for _, c := range cmds {
			names = append(names, c.Name())
		}
		fields := []any{
			log.Int("cmd_count", len(cmds)),
			log.String("commands", strings.Join(names, ",")),
			log.Duration("latency", elapsed),
		}

		switch {
		case err != nil && !errors.Is(err, redis.Nil):
			log.ErrorContext(ctx, "Redis Pipeline Error", append(fields, log.Any("err", err))...)
		case elapsed > slowRedisCommand:
			log.WarnContext(ctx, "Redis Pipeline Slow", fields...)
		}
		return err
	}
}
