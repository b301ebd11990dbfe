package redo

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Reporter 接收监听循环的逐条结果。三类回调互斥，且都不影响循环继续。
type Reporter interface {
	// Rejected 消息无法解码或函数无法解析。
	Rejected(ctx context.Context, lane *Lane, err error)
	// Succeeded 任务正常返回。
	Succeeded(ctx context.Context, lane *Lane, t *Task, result any)
	// Failed 任务返回错误或 panic；err 匹配 ErrTaskExecution。
	Failed(ctx context.Context, lane *Lane, t *Task, err error)
}

// logReporter 为默认 Reporter，写入 Logger。
type logReporter struct{ logger Logger }

func (r logReporter) Rejected(ctx context.Context, lane *Lane, err error) {
	r.logger.Error(ctx, "task rejected", "channel", lane.Channel(), "error", err.Error())
}
func (r logReporter) Succeeded(ctx context.Context, lane *Lane, t *Task, result any) {
	r.logger.Info(ctx, "task done", "channel", lane.Channel(), "task", t.Func.String(), "result", fmt.Sprint(result))
}
func (r logReporter) Failed(ctx context.Context, lane *Lane, t *Task, err error) {
	r.logger.Error(ctx, "task failed", "channel", lane.Channel(), "task", t.Func.String(), "error", err.Error())
}

// ListenOption 配置监听循环。
type ListenOption func(*listenOpts)

type listenOpts struct {
	reporter Reporter
	mws      []Middleware
}

// WithReporter 替换默认的日志 Reporter。
func WithReporter(r Reporter) ListenOption {
	return func(o *listenOpts) {
		if r != nil {
			o.reporter = r
		}
	}
}

// WithMiddleware 追加任务执行中间件（位于内置 Recover 之内）。
func WithMiddleware(mws ...Middleware) ListenOption {
	return func(o *listenOpts) { o.mws = append(o.mws, mws...) }
}

// Listen 在本 lane 上消费并同步执行任务，直到 ctx 结束（返回 nil）或传输故障（返回错误）。
// 解码/解析/执行失败只影响当前消息。
func (l *Lane) Listen(ctx context.Context, opts ...ListenOption) error {
	o := listenOpts{reporter: logReporter{logger: l.logger}}
	for _, opt := range opts {
		opt(&o)
	}
	handler := chain(runTask, append([]Middleware{Recover(l.logger)}, o.mws...)...)

	c, err := l.Consume(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("listen %s: %w", l.Channel(), err)
	}
	defer c.Close(context.Background())
	l.logger.Info(ctx, "listening", "channel", l.Channel())

	for {
		d, err := c.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("listen %s: %w", l.Channel(), err)
		}
		if d.Err != nil {
			o.reporter.Rejected(ctx, l, d.Err)
			continue
		}
		l.logger.Debug(ctx, "task received", "channel", l.Channel(), "task", d.Task.String())
		res, err := handler(ctx, d.Task)
		if err != nil {
			o.reporter.Failed(ctx, l, d.Task, &TaskError{Kind: ErrTaskExecution, Func: d.Task.Func.String(), Err: err})
			continue
		}
		o.reporter.Succeeded(ctx, l, d.Task, res)
	}
}

// Serve 为队列的每个 lane 启动一个独立的监听循环；任一 lane 传输故障时取消其余 lane 并返回该错误。
func (q *Queue) Serve(ctx context.Context, opts ...ListenOption) error {
	g, gctx := errgroup.WithContext(ctx)
	for n := 1; n <= q.Lanes(); n++ {
		lane, err := q.Lane(n)
		if err != nil {
			return err
		}
		g.Go(func() error { return lane.Listen(gctx, opts...) })
	}
	return g.Wait()
}
