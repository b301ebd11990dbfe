package redo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// redisAdapter 基于 Redis PUBSUB 实现 Transport；PUBLISH 返回的接收者数量用于发现无人监听的 lane。

type redisAdapter struct {
	rdb    *redis.Client
	strict bool
	logger Logger
}

func newRedisAdapter(cfg QueueConfig, logger Logger) (Transport, error) {
	opts := &redis.Options{
		Addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.USock != "" {
		opts.Network = "unix"
		opts.Addr = cfg.USock
	}
	return &redisAdapter{rdb: redis.NewClient(opts), strict: cfg.Strict, logger: logger}, nil
}

func (r *redisAdapter) Publish(ctx context.Context, channel string, payload []byte) error {
	n, err := r.rdb.Publish(ctx, channel, payload).Result()
	if err != nil {
		return fmt.Errorf("redis publish (channel=%s): %w", channel, err)
	}
	if n == 0 {
		return dropped(ctx, r.logger, r.strict, channel)
	}
	return nil
}

func (r *redisAdapter) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	ps := r.rdb.Subscribe(ctx, channel)
	// 等待订阅确认，保证返回后发布的消息可达
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe (channel=%s): %w", channel, err)
	}
	return &redisSub{ps: ps, channel: channel}, nil
}

func (r *redisAdapter) Close(ctx context.Context) error { return r.rdb.Close() }

type redisSub struct {
	ps      *redis.PubSub
	channel string
}

func (s *redisSub) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	msg, err := s.ps.ReceiveTimeout(ctx, timeout)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		if isTimeout(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis receive (channel=%s): %w", s.channel, err)
	}
	if m, ok := msg.(*redis.Message); ok {
		return []byte(m.Payload), true, nil
	}
	// subscribe/unsubscribe 确认与 pong 属于控制消息
	return nil, false, nil
}

func (s *redisSub) Close(ctx context.Context) error {
	uerr := s.ps.Unsubscribe(ctx, s.channel)
	return errors.Join(uerr, s.ps.Close())
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
