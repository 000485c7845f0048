package chat

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// forkSeparator 分叉会话 ID 的字符串形式中, 会话对标识与分叉时间的分隔符
const forkSeparator = "~"

var ErrInvalidThreadID = errors.New("invalid thread id")

// ThreadID 消息日志标识
// ForkedAt 为 0 表示规范会话 Canonical(PairKey), 否则为 Forked(PairKey, ForkedAt 毫秒时间戳)
type ThreadID struct {
	PairKey  string
	ForkedAt int64
}

// PairKey 生成单聊唯一的会话对标识 (小 uid 在前)
func PairKey(a, b uint64) string {
	if a > b {
		a, b = b, a
	}
	return fmt.Sprintf("%d_%d", a, b)
}

// ParsePairKey 解析会话对标识，只接受 PairKey 生成的规范形式
func ParsePairKey(key string) (uint64, uint64, error) {
	low, high, found := strings.Cut(key, "_")
	if !found {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidThreadID, key)
	}
	u1, err1 := strconv.ParseUint(low, 10, 64)
	u2, err2 := strconv.ParseUint(high, 10, 64)
	if err1 != nil || err2 != nil || u1 == 0 || u1 >= u2 || PairKey(u1, u2) != key {
		return 0, 0, fmt.Errorf("%w: %s", ErrInvalidThreadID, key)
	}
	return u1, u2, nil
}

// PeerOf 从会话对标识中取出对方 uid
func PeerOf(key string, self uint64) (uint64, error) {
	u1, u2, err := ParsePairKey(key)
	if err != nil {
		return 0, err
	}
	switch self {
	case u1:
		return u2, nil
	case u2:
		return u1, nil
	}
	return 0, fmt.Errorf("%w: %d not in %s", ErrInvalidThreadID, self, key)
}

// Canonical 两个用户之间的规范会话
func Canonical(a, b uint64) ThreadID {
	return ThreadID{PairKey: PairKey(a, b)}
}

// Forked 在 at 时刻为会话对分叉出的新会话
func Forked(pairKey string, at time.Time) ThreadID {
	return ThreadID{PairKey: pairKey, ForkedAt: at.UnixMilli()}
}

func (t ThreadID) IsZero() bool {
	return t.PairKey == ""
}

func (t ThreadID) IsForked() bool {
	return t.ForkedAt != 0
}

func (t ThreadID) String() string {
	if !t.IsForked() {
		return t.PairKey
	}
	return t.PairKey + forkSeparator + strconv.FormatInt(t.ForkedAt, 10)
}

// Users 返回会话双方 uid (小的在前)
func (t ThreadID) Users() (uint64, uint64, error) {
	return ParsePairKey(t.PairKey)
}

// ParseThreadID 解析 String 的输出
func ParseThreadID(s string) (ThreadID, error) {
	key, fork, found := strings.Cut(s, forkSeparator)
	if _, _, err := ParsePairKey(key); err != nil {
		return ThreadID{}, err
	}
	if !found {
		return ThreadID{PairKey: key}, nil
	}
	at, err := strconv.ParseInt(fork, 10, 64)
	if err != nil || at <= 0 {
		return ThreadID{}, fmt.Errorf("%w: %s", ErrInvalidThreadID, s)
	}
	return ThreadID{PairKey: key, ForkedAt: at}, nil
}
