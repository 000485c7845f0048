package redis

import (
	"context"

	"github.com/redis/go-redis/v9"
)

// Feed 会话变更通知总线
type Feed interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channels ...string) Subscription
}

// Subscription 单个会话视图持有的订阅，可动态增减频道
type Subscription interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel() <-chan *redis.Message
	Close() error
}

type pubSubFeed struct {
	rdb *redis.Client
}

// NewFeed 基于 Redis Pub/Sub 的通知总线
func NewFeed(rdb *redis.Client) Feed {
	return &pubSubFeed{rdb: rdb}
}

func (s *pubSubFeed) Publish(ctx context.Context, channel string, payload []byte) error {
	return s.rdb.Publish(ctx, channel, payload).Err()
}

func (s *pubSubFeed) Subscribe(ctx context.Context, channels ...string) Subscription {
	ps := s.rdb.Subscribe(ctx, channels...)
	return &pubSubSubscription{ps: ps, ch: ps.Channel()}
}

type pubSubSubscription struct {
	ps *redis.PubSub
	ch <-chan *redis.Message
}

func (s *pubSubSubscription) Subscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return s.ps.Subscribe(ctx, channels...)
}

func (s *pubSubSubscription) Unsubscribe(ctx context.Context, channels ...string) error {
	if len(channels) == 0 {
		return nil
	}
	return s.ps.Unsubscribe(ctx, channels...)
}

func (s *pubSubSubscription) Channel() <-chan *redis.Message {
	return s.ch
}

func (s *pubSubSubscription) Close() error {
	return s.ps.Close()
}
