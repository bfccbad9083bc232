package events

import (
	"context"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroker adapts a go-redis client to the Broker interface.
type RedisBroker struct {
	client *redis.Client
}

func NewRedisBroker(client *redis.Client) *RedisBroker {
	return &RedisBroker{client: client}
}

func (b *RedisBroker) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBroker) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	return b.client.Publish(ctx, channel, payload).Result()
}

func (b *RedisBroker) HistoryAdd(ctx context.Context, key string, score float64, payload []byte) error {
	return b.client.ZAdd(ctx, key, redis.Z{Score: score, Member: string(payload)}).Err()
}

func (b *RedisBroker) HistoryTrim(ctx context.Context, key string, keep int64) error {
	// Keep the newest entries: drop everything below rank -(keep).
	return b.client.ZRemRangeByRank(ctx, key, 0, -(keep + 1)).Err()
}

func (b *RedisBroker) HistoryRange(ctx context.Context, key string, limit int64) ([]string, error) {
	return b.client.ZRevRange(ctx, key, 0, limit-1).Result()
}

func (b *RedisBroker) Subscribe(ctx context.Context, channels ...string) Subscription {
	return newRedisSubscription(ctx, b.client.Subscribe(ctx, channels...))
}

type redisSubscription struct {
	ps   *redis.PubSub
	out  chan Message
	once sync.Once
}

func newRedisSubscription(ctx context.Context, ps *redis.PubSub) *redisSubscription {
	s := &redisSubscription{ps: ps, out: make(chan Message, 64)}
	go s.pump(ctx)
	return s
}

// pump relays broker messages until the subscription closes.
func (s *redisSubscription) pump(ctx context.Context) {
	defer close(s.out)
	ch := s.ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			select {
			case s.out <- Message{Channel: msg.Channel, Payload: msg.Payload}:
			case <-ctx.Done():
				return
			}
		}
	}
}

func (s *redisSubscription) Channel() <-chan Message {
	return s.out
}

func (s *redisSubscription) Add(ctx context.Context, channels ...string) error {
	return s.ps.Subscribe(ctx, channels...)
}

func (s *redisSubscription) Remove(ctx context.Context, channels ...string) error {
	return s.ps.Unsubscribe(ctx, channels...)
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() { err = s.ps.Close() })
	return err
}
