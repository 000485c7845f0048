package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const lockRetryInterval = 200 * time.Millisecond

// 只删除自己持有的锁
var unlockScript = redis.NewScript(`
if redis.call('get', KEYS[1]) == ARGV[1] then
	return redis.call('del', KEYS[1])
end
return 0`)

// Locker 基于 SetNX 的互斥锁，value 用于保证只释放自己持有的锁
type Locker struct {
	// Retries 抢锁失败后的重试次数
	Retries int
}

func (s Locker) Acquire(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	for i := 0; ; i++ {
		ok, err := Rdb.SetNX(ctx, key, value, ttl).Result()
		if err != nil || ok {
			return ok, err
		}
		if i >= s.Retries {
			return false, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}

func (s Locker) Release(ctx context.Context, key, value string) {
	_ = unlockScript.Run(ctx, Rdb, []string{key}, value).Err()
}
