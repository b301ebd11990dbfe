package redo

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"
)

// Queue 为具名逻辑队列的进程级单例，独占传输连接与轮询游标，可被任意多个调用方并发使用。
type Queue struct {
	name      string
	cfg       QueueConfig
	poll      time.Duration
	transport Transport
	router    *Router
	functions *Functions
	logger    Logger
}

func (q *Queue) Name() string { return q.name }

// Lanes 返回配置的 lane 数量。
func (q *Queue) Lanes() int { return q.router.Lanes() }

// Lane 返回绑定到第 n 个 lane 的视图。
func (q *Queue) Lane(n int) (*Lane, error) {
	if n < 1 || n > q.Lanes() {
		return nil, fmt.Errorf("%w: %d not in [1, %d] for queue %s", ErrInvalidLane, n, q.Lanes(), q.name)
	}
	return &Lane{Queue: q, number: n}, nil
}

// Schedule 序列化并发布到下一个轮询 lane，不等待任何确认；返回原描述便于链式调用。
func (q *Queue) Schedule(ctx context.Context, d TaskDescriptor) (TaskDescriptor, error) {
	payload, err := d.Marshal()
	if err != nil {
		return d, fmt.Errorf("encode task %s: %w", d.Func, err)
	}
	channel := Channel(q.name, q.router.Next())
	if err := q.transport.Publish(ctx, channel, payload); err != nil {
		return d, fmt.Errorf("schedule %s: %w", d.Func, err)
	}
	q.logger.Debug(ctx, "task scheduled", "channel", channel, "task", d.String())
	return d, nil
}

// Lane 是 (队列名, lane 编号) 的绑定；消费只在该 lane 的频道上进行。
type Lane struct {
	*Queue
	number int
}

func (l *Lane) Number() int { return l.number }

// Channel 返回 "<name>:<lane>"。
func (l *Lane) Channel() string { return Channel(l.name, l.number) }

// Delivery 为消费序列中的一项：可执行任务，或单条消息的解码/解析错误（*TaskError）。
type Delivery struct {
	Task *Task
	Err  error
}

// Consume 订阅本 lane 并返回 Consumer；调用方必须 Close。
func (l *Lane) Consume(ctx context.Context) (*Consumer, error) {
	sub, err := l.transport.Subscribe(ctx, l.Channel())
	if err != nil {
		return nil, err
	}
	return &Consumer{lane: l, sub: sub}, nil
}

// Tasks 以惰性序列形式消费：每次 range 重新订阅，循环结束（含 break、ctx 取消、传输错误）时退订。
// 传输层错误作为最后一项的 error 返回并终止序列；单条消息错误在 Delivery.Err 中，序列继续。
func (l *Lane) Tasks(ctx context.Context) iter.Seq2[Delivery, error] {
	return func(yield func(Delivery, error) bool) {
		c, err := l.Consume(ctx)
		if err != nil {
			yield(Delivery{}, err)
			return
		}
		defer c.Close(context.Background())
		for {
			d, err := c.Next(ctx)
			if err != nil {
				if ctx.Err() == nil {
					yield(Delivery{}, err)
				}
				return
			}
			if !yield(d, nil) {
				return
			}
		}
	}
}

// Consumer 独占一个订阅，不可并发使用。
type Consumer struct {
	lane *Lane
	sub  Subscription

	once     sync.Once
	closeErr error
}

// Next 阻塞直到收到一条非控制消息、ctx 结束或传输故障。
// 空闲时以 poll 为上限等待，期间可响应取消。传输故障时先退订再返回错误。
func (c *Consumer) Next(ctx context.Context) (Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Delivery{}, err
		}
		payload, ok, err := c.sub.Receive(ctx, c.lane.poll)
		if err != nil {
			if ctx.Err() != nil {
				return Delivery{}, ctx.Err()
			}
			cerr := c.Close(context.Background())
			return Delivery{}, errors.Join(err, cerr)
		}
		if !ok {
			continue
		}
		d, err := UnmarshalTask(payload)
		if err != nil {
			return Delivery{Err: err}, nil
		}
		t, err := c.lane.functions.load(d)
		if err != nil {
			return Delivery{Err: err}, nil
		}
		return Delivery{Task: t}, nil
	}
}

// Close 退订；可重复调用。
func (c *Consumer) Close(ctx context.Context) error {
	c.once.Do(func() { c.closeErr = c.sub.Close(ctx) })
	return c.closeErr
}
