package redo

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Registry 管理按队列名区分的 Queue 单例（每个队列名一个独立的传输连接）。
// 连接在首次访问时创建，创建过程加锁，并发首次访问只会建立一个连接。
type Registry struct {
	cfg       Config
	logger    Logger
	factory   TransportFactory
	functions *Functions

	mu     sync.Mutex
	queues map[string]*Queue
}

// Option 允许注入替换默认行为（如 Logger、传输工厂）。
type Option func(*Registry)

// WithLogger 注入自定义日志实现。
func WithLogger(l Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTransportFactory 替换按 Provider 创建传输的默认工厂。
func WithTransportFactory(f TransportFactory) Option {
	return func(r *Registry) {
		if f != nil {
			r.factory = f
		}
	}
}

// WithFunctions 指定消费端解析函数使用的注册表，默认 DefaultFunctions。
func WithFunctions(f *Functions) Option {
	return func(r *Registry) {
		if f != nil {
			r.functions = f
		}
	}
}

// NewRegistry 创建 Registry；不会立即建立任何连接。
func NewRegistry(cfg Config, opts ...Option) *Registry {
	cfg = cfg.withDefaults()
	r := &Registry{
		cfg:       cfg,
		logger:    newDefaultLogger(cfg.Logger),
		factory:   newTransport,
		functions: DefaultFunctions,
		queues:    map[string]*Queue{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config 返回生效的配置（含默认值）。
func (r *Registry) Config() Config { return r.cfg }

// Logger 返回 Registry 使用的日志实现。
func (r *Registry) Logger() Logger { return r.logger }

// Queue 返回 name 对应的单例；name 未配置时返回 ErrUnknownQueue 且不建立连接。
func (r *Registry) Queue(name string) (*Queue, error) {
	qc, ok := r.cfg.Queues[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownQueue, name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.queues == nil {
		return nil, ErrClosed
	}
	if q, ok := r.queues[name]; ok {
		return q, nil
	}
	t, err := r.factory(name, qc, r.logger)
	if err != nil {
		return nil, fmt.Errorf("init queue %s: %w", name, err)
	}
	q := &Queue{
		name:      name,
		cfg:       qc,
		poll:      r.cfg.Poll,
		transport: t,
		router:    NewRouter(qc.Threads),
		functions: r.functions,
		logger:    r.logger,
	}
	r.queues[name] = q
	return q, nil
}

// GetInstance 返回 name 队列绑定到 lane 的视图，lane 必须在 [1, Threads] 内。
func (r *Registry) GetInstance(name string, lane int) (*Lane, error) {
	q, err := r.Queue(name)
	if err != nil {
		return nil, err
	}
	return q.Lane(lane)
}

// Close 释放全部连接；之后 Registry 不可再用。
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for name, q := range r.queues {
		if err := q.transport.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close queue %s: %w", name, err))
		}
	}
	r.queues = nil
	return errors.Join(errs...)
}

// ---- 进程级默认 Registry ----

var (
	defaultMu       sync.Mutex
	defaultRegistry *Registry
)

// Configure 安装进程级默认 Registry 并关闭被替换的旧 Registry。
// 未通过 On 绑定的 Deferred 在下一次 Delay 时即使用新配置。
func Configure(cfg Config, opts ...Option) *Registry {
	r := NewRegistry(cfg, opts...)
	defaultMu.Lock()
	old := defaultRegistry
	defaultRegistry = r
	defaultMu.Unlock()
	if old != nil {
		if err := old.Close(context.Background()); err != nil {
			old.logger.Error(context.Background(), "close replaced registry", "error", err)
		}
	}
	return r
}

// Default 返回进程级 Registry；未调用 Configure 时使用 DefaultConfig 懒创建。
func Default() *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultRegistry == nil {
		defaultRegistry = NewRegistry(DefaultConfig())
	}
	return defaultRegistry
}

// GetInstance 等价于 Default().GetInstance。
func GetInstance(name string, lane int) (*Lane, error) {
	return Default().GetInstance(name, lane)
}
