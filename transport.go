package redo

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Transport 统一的发布订阅接口：非持久化、至少一次，频道无订阅者时消息直接丢弃。
type Transport interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (Subscription, error)
	Close(ctx context.Context) error
}

// Subscription 单个频道的订阅，由一个监听循环独占。
type Subscription interface {
	// Receive 最多等待 timeout；无消息时 ok=false。err 非空表示传输层故障。
	Receive(ctx context.Context, timeout time.Duration) (payload []byte, ok bool, err error)
	// Close 先退订再释放连接。
	Close(ctx context.Context) error
}

// TransportFactory 按队列配置创建传输，Registry 每个队列名只调用一次。
type TransportFactory func(name string, cfg QueueConfig, logger Logger) (Transport, error)

func newTransport(name string, cfg QueueConfig, logger Logger) (Transport, error) {
	switch cfg.Provider {
	case ProviderRedis:
		return newRedisAdapter(cfg, logger)
	case ProviderRabbitMQ:
		return newRabbitMQAdapter(cfg, logger)
	case ProviderMemory:
		return newMemoryTransport(cfg, logger), nil
	}
	return nil, fmt.Errorf("queue %s: unsupported provider %q", name, cfg.Provider)
}

// dropped 处理 broker 报告无订阅者的发布：Strict 时报错，否则仅告警。
func dropped(ctx context.Context, logger Logger, strict bool, channel string) error {
	if strict {
		return fmt.Errorf("%w: %s", ErrNoListener, channel)
	}
	logger.Error(ctx, "no listener, task dropped", "channel", channel)
	return nil
}

// ---- memory 实现：进程内 broker，语义与 Redis PUBSUB 一致 ----

const memoryBuffer = 1024

type memoryTransport struct {
	strict bool
	logger Logger

	mu     sync.Mutex
	subs   map[string]map[*memorySub]struct{}
	closed bool
}

func newMemoryTransport(cfg QueueConfig, logger Logger) *memoryTransport {
	return &memoryTransport{strict: cfg.Strict, logger: logger, subs: map[string]map[*memorySub]struct{}{}}
}

func (m *memoryTransport) Publish(ctx context.Context, channel string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	subs := m.subs[channel]
	if len(subs) == 0 {
		return dropped(ctx, m.logger, m.strict, channel)
	}
	for s := range subs {
		select {
		case s.ch <- append([]byte(nil), payload...):
		default:
			m.logger.Error(ctx, "subscriber buffer full, task dropped", "channel", channel)
		}
	}
	return nil
}

func (m *memoryTransport) Subscribe(ctx context.Context, channel string) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	s := &memorySub{t: m, channel: channel, ch: make(chan []byte, memoryBuffer), done: make(chan struct{})}
	if m.subs[channel] == nil {
		m.subs[channel] = map[*memorySub]struct{}{}
	}
	m.subs[channel][s] = struct{}{}
	return s, nil
}

func (m *memoryTransport) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subs {
		for s := range subs {
			s.stop()
		}
	}
	m.subs = nil
	return nil
}

func (m *memoryTransport) unsubscribe(s *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.subs[s.channel], s)
	s.stop()
}

type memorySub struct {
	t       *memoryTransport
	channel string
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
}

func (s *memorySub) stop() { s.once.Do(func() { close(s.done) }) }

func (s *memorySub) Receive(ctx context.Context, timeout time.Duration) ([]byte, bool, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case <-s.done:
		return nil, false, ErrClosed
	case p := <-s.ch:
		return p, true, nil
	case <-t.C:
		return nil, false, nil
	}
}

func (s *memorySub) Close(ctx context.Context) error {
	s.t.unsubscribe(s)
	return nil
}
