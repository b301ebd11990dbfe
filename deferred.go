package redo

import (
	"context"
	"fmt"
)

// Binder 由 Define 返回，将函数绑定为某个队列上的延迟任务。
type Binder struct {
	queue    string
	registry *Registry
}

// Define 返回绑定到 queue 的 Binder；queue 为空时使用 "default"。
func Define(queue string) Binder {
	if queue == "" {
		queue = DefaultQueue
	}
	return Binder{queue: queue}
}

// On 指定使用的 Registry。未指定时 Deferred 在每次入队时经 Default() 解析队列，
// 因此包级变量可以在 Configure 之前绑定。
func (b Binder) On(r *Registry) Binder {
	b.registry = r
	return b
}

// Bind 以标识 id（如 "github.com/acme/mail.Send"）注册 fn 并返回其 Deferred。
// 指定了 Registry 时队列单例在此解析，未配置的队列名立即报错；
// 否则注册到 DefaultFunctions，队列在 Delay 时才解析。
// 注册表中登记的是 Deferred 本身，消费端解析时解包到 fn。
func (b Binder) Bind(id string, fn Func) (*Deferred, error) {
	if fn == nil {
		return nil, fmt.Errorf("bind %s: nil func", id)
	}
	fid, err := ParseFuncID(id)
	if err != nil {
		return nil, err
	}
	d := &Deferred{id: fid, fn: fn, queueName: b.queue, registry: b.registry}
	funcs := DefaultFunctions
	if b.registry != nil {
		if _, err := b.registry.Queue(b.queue); err != nil {
			return nil, err
		}
		funcs = b.registry.functions
	}
	if err := funcs.registerDeferred(d); err != nil {
		return nil, err
	}
	return d, nil
}

// MustBind 同 Bind，失败时 panic；用于包级变量初始化。
func (b Binder) MustBind(id string, fn Func) *Deferred {
	d, err := b.Bind(id, fn)
	if err != nil {
		panic(err)
	}
	return d
}

// Deferred 替代原函数对外暴露：调用 Delay 时入队而非执行。
type Deferred struct {
	id        FuncID
	fn        Func
	queueName string
	registry  *Registry
}

func (d *Deferred) ID() FuncID { return d.id }

// QueueName 返回绑定的队列名。
func (d *Deferred) QueueName() string { return d.queueName }

// Queue 返回当前生效的队列单例；未通过 On 指定 Registry 时取 Default()。
func (d *Deferred) Queue() (*Queue, error) {
	r := d.registry
	if r == nil {
		r = Default()
	}
	return r.Queue(d.queueName)
}

// Delay 以位置参数入队，返回 d 本身；调用方拿不到执行结果。
func (d *Deferred) Delay(ctx context.Context, args ...any) (*Deferred, error) {
	return d.DelayKw(ctx, nil, args...)
}

// DelayKw 同 Delay，附带关键字参数。
func (d *Deferred) DelayKw(ctx context.Context, kwargs map[string]any, args ...any) (*Deferred, error) {
	td, err := NewTaskDescriptor(d.id, args, kwargs)
	if err != nil {
		return d, err
	}
	q, err := d.Queue()
	if err != nil {
		return d, err
	}
	if _, err := q.Schedule(ctx, td); err != nil {
		return d, err
	}
	return d, nil
}

// Call 绕过队列同步执行函数本体，参数经过与线上相同的 JSON 编码。
func (d *Deferred) Call(ctx context.Context, args ...any) (any, error) {
	return d.CallKw(ctx, nil, args...)
}

// CallKw 同 Call，附带关键字参数。
func (d *Deferred) CallKw(ctx context.Context, kwargs map[string]any, args ...any) (any, error) {
	td, err := NewTaskDescriptor(d.id, args, kwargs)
	if err != nil {
		return nil, err
	}
	return d.fn(ctx, td.Args)
}
