package redis

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// 把上一轮遗留的成员并回待处理集合，再整体移入处理中集合
var claimScript = redis.NewScript(`
redis.call('sunionstore', KEYS[1], KEYS[1], KEYS[2])
if redis.call('exists', KEYS[1]) == 0 then
	return {}
end
redis.call('rename', KEYS[1], KEYS[2])
return redis.call('smembers', KEYS[2])`)

// DirtySet 待重算集合：写入方 Mark，定时任务 Claim 后逐个处理，最后 Release
type DirtySet struct {
	key string
}

func NewDirtySet(key string) *DirtySet {
	return &DirtySet{key: key}
}

func (s *DirtySet) processingKey() string {
	return s.key + ":processing"
}

// Mark 标记成员待处理
func (s *DirtySet) Mark(ctx context.Context, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return Rdb.SAdd(ctx, s.key, args...).Err()
}

// Claim 取走当前全部待处理成员，期间新增的成员留到下一轮
func (s *DirtySet) Claim(ctx context.Context) ([]string, error) {
	members, err := claimScript.Run(ctx, Rdb, []string{s.key, s.processingKey()}).StringSlice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	return members, err
}

// Release 本轮处理结束
func (s *DirtySet) Release(ctx context.Context) error {
	return Rdb.Del(ctx, s.processingKey()).Err()
}
